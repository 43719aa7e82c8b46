// Package youtube resolves YouTube video references to audio-only stream
// URLs and video metadata through the InnerTube player endpoint.
package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/listenupapp/audiocache/internal/ratelimit"
)

const (
	// DefaultBaseURL is the public InnerTube API root.
	DefaultBaseURL = "https://www.youtube.com/youtubei/v1"

	defaultRPS     = 2.0
	defaultBurst   = 2
	defaultTimeout = 20 * time.Second

	limiterKey = "youtube"

	clientName    = "ANDROID"
	clientVersion = "19.09.37"
	userAgent     = "com.google.android.youtube/19.09.37 (Linux; U; Android 11) gzip"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	RPS     float64
	// CodecFamily is the deployment's output codec family (opus, aac, vorbis,
	// mp3). Streams already in this family are preferred.
	CodecFamily string
}

// Client is a rate-limited InnerTube player client.
type Client struct {
	baseURL string
	family  string
	http    *http.Client
	limiter *ratelimit.KeyedRateLimiter
	logger  *slog.Logger
}

// New creates a client.
func New(opts Options, logger *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.RPS <= 0 {
		opts.RPS = defaultRPS
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		family:  opts.CodecFamily,
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: ratelimit.New(opts.RPS, defaultBurst),
		logger:  logger,
	}
}

// Close releases resources held by the client.
func (c *Client) Close() {
	c.limiter.Stop()
}

type playerRequest struct {
	Context struct {
		Client struct {
			ClientName    string `json:"clientName"`
			ClientVersion string `json:"clientVersion"`
			HL            string `json:"hl"`
		} `json:"client"`
	} `json:"context"`
	VideoID        string `json:"videoId"`
	ContentCheckOK bool   `json:"contentCheckOk"`
	RacyCheckOK    bool   `json:"racyCheckOk"`
}

// Player fetches the player response for a video id.
func (c *Client) Player(ctx context.Context, videoID string) (*PlayerResponse, error) {
	if err := c.limiter.Wait(ctx, limiterKey); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var body playerRequest
	body.Context.Client.ClientName = clientName
	body.Context.Client.ClientVersion = clientVersion
	body.Context.Client.HL = "en"
	body.VideoID = videoID
	body.ContentCheckOK = true
	body.RacyCheckOK = true

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/player", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug("youtube player request", slog.String("video_id", videoID))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapError("player", videoID, fmt.Errorf("%w: %w", ErrUnavailable, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError("player", videoID, fmt.Errorf("%w: read response: %w", ErrUnavailable, err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, wrapError("player", videoID, ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, wrapError("player", videoID, ErrUnavailable)
	default:
		return nil, wrapError("player", videoID, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var player PlayerResponse
	if err := json.Unmarshal(data, &player); err != nil {
		return nil, wrapError("player", videoID, fmt.Errorf("decode response: %w", err))
	}
	return &player, nil
}
