package youtube

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/listenupapp/audiocache/internal/domain"
	domainerrors "github.com/listenupapp/audiocache/internal/errors"
)

// HandlerName identifies this handler in the resolver registry.
const HandlerName = "youtube"

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// VideoID extracts the video id from a yt:<id> reference or a YouTube URL.
func VideoID(source string) (string, bool) {
	if id, ok := strings.CutPrefix(source, "yt:"); ok {
		return id, videoIDPattern.MatchString(id)
	}

	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if u.Path == "/watch" {
			id = u.Query().Get("v")
			break
		}
		for _, prefix := range []string{"/shorts/", "/live/", "/embed/"} {
			if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
				id, _, _ = strings.Cut(rest, "/")
				break
			}
		}
	default:
		return "", false
	}

	return id, videoIDPattern.MatchString(id)
}

// Handler adapts Client to the resolver's SourceHandler contract.
type Handler struct {
	client *Client
	logger *slog.Logger
}

// NewHandler wraps client.
func NewHandler(client *Client, logger *slog.Logger) *Handler {
	return &Handler{client: client, logger: logger}
}

// Name implements resolver.SourceHandler.
func (h *Handler) Name() string { return HandlerName }

// Matches implements resolver.SourceHandler.
func (h *Handler) Matches(source string) bool {
	_, ok := VideoID(source)
	return ok
}

// Fetch returns the URL of the best audio-only stream.
func (h *Handler) Fetch(ctx context.Context, source string) (string, error) {
	player, id, err := h.player(ctx, source)
	if err != nil {
		return "", err
	}

	format, ok := SelectAudio(player.StreamingData.AdaptiveFormats, h.client.family)
	if !ok {
		return "", classify(wrapError("fetch", id, ErrNoAudio))
	}

	h.logger.Debug("selected youtube audio stream",
		slog.String("video_id", id),
		slog.Int("itag", format.Itag),
		slog.String("codecs", format.Codecs()),
		slog.Int("bitrate", format.EffectiveBitrate()),
	)
	return format.URL, nil
}

// Metadata returns the title, channel and length of the video. Live
// broadcasts fail since their duration is not meaningful.
func (h *Handler) Metadata(ctx context.Context, source string) (domain.SourceMetadata, error) {
	player, id, err := h.player(ctx, source)
	if err != nil {
		return domain.SourceMetadata{}, err
	}

	details := player.VideoDetails
	if details.IsLive || (details.IsLiveContent && details.Length() == 0) {
		return domain.SourceMetadata{}, classify(wrapError("metadata", id, ErrLive))
	}

	var meta domain.SourceMetadata
	if title := strings.TrimSpace(details.Title); title != "" {
		meta.Title = domain.Ptr(title)
	}
	if artist := channelArtist(details.Author); artist != "" {
		meta.Artist = domain.Ptr(artist)
	}
	if n := details.Length(); n > 0 {
		meta.Duration = domain.Ptr(n)
	}
	return meta, nil
}

func (h *Handler) player(ctx context.Context, source string) (*PlayerResponse, string, error) {
	id, ok := VideoID(source)
	if !ok {
		return nil, "", classify(wrapError("parse", source, ErrInvalidID))
	}

	player, err := h.client.Player(ctx, id)
	if err != nil {
		return nil, id, classify(err)
	}

	if status := player.PlayabilityStatus.Status; status != "OK" {
		if status == "LIVE_STREAM_OFFLINE" {
			return nil, id, classify(wrapError("player", id, ErrLive))
		}
		h.logger.Info("youtube video not playable",
			slog.String("video_id", id),
			slog.String("status", status),
			slog.String("reason", player.PlayabilityStatus.Reason),
		)
		return nil, id, classify(wrapError("player", id, ErrNotPlayable))
	}
	return player, id, nil
}

// SelectAudio picks the audio-only format to fetch: formats in the target
// codec family first, then the highest bitrate. Formats without a direct URL
// are skipped.
func SelectAudio(formats []Format, family string) (Format, bool) {
	candidates := make([]Format, 0, len(formats))
	for _, f := range formats {
		if f.AudioOnly() && f.URL != "" {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return Format{}, false
	}

	best := slices.MaxFunc(candidates, func(a, b Format) int {
		am, bm := inFamily(a, family), inFamily(b, family)
		if am != bm {
			if am {
				return 1
			}
			return -1
		}
		return a.EffectiveBitrate() - b.EffectiveBitrate()
	})
	return best, true
}

func inFamily(f Format, family string) bool {
	codecs := strings.ToLower(f.Codecs())
	switch family {
	case "":
		return false
	case "aac":
		return strings.HasPrefix(codecs, "mp4a")
	default:
		return strings.HasPrefix(codecs, family)
	}
}

// channelArtist strips the " - Topic" suffix of auto-generated music channels.
func channelArtist(author string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(author), " - Topic"))
}

// classify maps client failures onto the catalog's error taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrLive):
		return domainerrors.Wrap(err, domainerrors.CodeLiveSource, "live streams cannot be cached")
	case errors.Is(err, ErrNoAudio):
		return domainerrors.Wrap(err, domainerrors.CodeNotAudio, "no audio-only stream available")
	case errors.Is(err, ErrInvalidID), errors.Is(err, ErrNotPlayable):
		return domainerrors.Wrap(err, domainerrors.CodeValidation, "video cannot be used")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return domainerrors.Wrap(err, domainerrors.CodeTransient, "youtube lookup failed")
	}
}
