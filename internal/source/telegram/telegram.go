// Package telegram resolves tg:<file_id> references through the Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/listenupapp/audiocache/internal/domain"
	domainerrors "github.com/listenupapp/audiocache/internal/errors"
	"github.com/listenupapp/audiocache/internal/ratelimit"
)

const (
	// DefaultAPIURL is the public Bot API root.
	DefaultAPIURL = "https://api.telegram.org"
	// HandlerName identifies this handler in the resolver registry.
	HandlerName = "telegram"
	// Prefix marks Telegram file references.
	Prefix = "tg:"

	defaultRPS     = 20.0
	defaultBurst   = 5
	defaultTimeout = 20 * time.Second
	limiterKey     = "telegram"
)

// Sentinel errors.
var (
	ErrInvalidFileID = errors.New("telegram: invalid file id")
	ErrAPI           = errors.New("telegram: api error")
)

// Prober reads metadata from a fetchable location.
type Prober interface {
	Probe(ctx context.Context, location string) (domain.SourceMetadata, error)
}

// File is the Bot API File object.
type File struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileSize     int64  `json:"file_size,omitempty"`
	FilePath     string `json:"file_path,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Handler resolves bot file ids to download URLs.
type Handler struct {
	apiURL  string
	token   string
	prober  Prober
	http    *http.Client
	limiter *ratelimit.KeyedRateLimiter
	logger  *slog.Logger
}

// New creates a handler for the bot identified by token.
func New(apiURL, token string, prober Prober, logger *slog.Logger) *Handler {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Handler{
		apiURL:  strings.TrimRight(apiURL, "/"),
		token:   token,
		prober:  prober,
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: ratelimit.New(defaultRPS, defaultBurst),
		logger:  logger,
	}
}

// Close releases resources held by the handler.
func (h *Handler) Close() {
	h.limiter.Stop()
}

// Name implements resolver.SourceHandler.
func (h *Handler) Name() string { return HandlerName }

// Matches implements resolver.SourceHandler.
func (h *Handler) Matches(source string) bool {
	return strings.HasPrefix(source, Prefix)
}

// Fetch returns the download URL of the file.
func (h *Handler) Fetch(ctx context.Context, source string) (string, error) {
	f, err := h.getFile(ctx, source)
	if err != nil {
		return "", err
	}
	return h.downloadURL(f), nil
}

// Metadata probes the downloaded file. The Bot API's file size fills in when
// the probe reports none.
func (h *Handler) Metadata(ctx context.Context, source string) (domain.SourceMetadata, error) {
	f, err := h.getFile(ctx, source)
	if err != nil {
		return domain.SourceMetadata{}, err
	}

	meta, err := h.prober.Probe(ctx, h.downloadURL(f))
	if err != nil {
		return domain.SourceMetadata{}, err
	}
	if meta.Size == nil && f.FileSize > 0 {
		meta.Size = domain.Ptr(f.FileSize)
	}
	return meta, nil
}

func (h *Handler) downloadURL(f *File) string {
	return fmt.Sprintf("%s/file/bot%s/%s", h.apiURL, h.token, f.FilePath)
}

func (h *Handler) getFile(ctx context.Context, source string) (*File, error) {
	fileID := strings.TrimSpace(strings.TrimPrefix(source, Prefix))
	if fileID == "" {
		return nil, domainerrors.Wrap(ErrInvalidFileID, domainerrors.CodeValidation, "telegram reference has no file id")
	}

	if err := h.limiter.Wait(ctx, limiterKey); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/getFile?%s", h.apiURL, h.token, url.Values{"file_id": {fileID}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of errors and logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeTransient, "telegram getFile failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeTransient, "telegram getFile failed")
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return nil, domainerrors.Wrap(fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err),
			domainerrors.CodeTransient, "telegram getFile failed")
	}

	if !api.OK {
		apiErr := fmt.Errorf("%w: %d %s", ErrAPI, api.ErrorCode, api.Description)
		h.logger.Info("telegram getFile rejected",
			slog.Int("error_code", api.ErrorCode),
			slog.String("description", api.Description),
		)
		if api.ErrorCode == http.StatusTooManyRequests || api.ErrorCode >= 500 {
			return nil, domainerrors.Wrap(apiErr, domainerrors.CodeTransient, "telegram getFile failed")
		}
		// 400 "file is too big" and "wrong file_id" cannot succeed on retry.
		return nil, domainerrors.Wrap(apiErr, domainerrors.CodeValidation, "telegram file unavailable")
	}

	var f File
	if err := json.Unmarshal(api.Result, &f); err != nil {
		return nil, domainerrors.Wrap(fmt.Errorf("decode file: %w", err), domainerrors.CodeTransient, "telegram getFile failed")
	}
	if f.FilePath == "" {
		return nil, domainerrors.Wrap(fmt.Errorf("%w: no file_path", ErrAPI), domainerrors.CodeValidation, "telegram file unavailable")
	}
	return &f, nil
}
