package youtube

import (
	"errors"
	"fmt"
)

// Sentinel errors for player lookups.
var (
	ErrInvalidID   = errors.New("youtube: invalid video reference")
	ErrRateLimited = errors.New("youtube: rate limited by server")
	ErrUnavailable = errors.New("youtube: service unavailable")
	ErrNoAudio     = errors.New("youtube: no audio-only stream")
	ErrLive        = errors.New("youtube: live stream")
	ErrNotPlayable = errors.New("youtube: video not playable")
)

// Error wraps an underlying error with operation context.
type Error struct {
	Op      string
	VideoID string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("youtube %s [%s]: %v", e.Op, e.VideoID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapError(op, videoID string, err error) error {
	return &Error{Op: op, VideoID: videoID, Err: err}
}
