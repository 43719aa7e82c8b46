// Package transcode normalizes and encodes sources into the cache with two
// ffmpeg passes: a loudnorm measurement followed by the normalized encode.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/listenupapp/audiocache/internal/cachedir"
	"github.com/listenupapp/audiocache/internal/config"
	domainerrors "github.com/listenupapp/audiocache/internal/errors"
	"github.com/listenupapp/audiocache/internal/probe"
)

const (
	defaultProcessTimeout = 30 * time.Minute
	stderrTail            = 512
)

// DurationProber measures committed files.
type DurationProber interface {
	Duration(ctx context.Context, path string) (int, error)
}

// Transcoder runs the encode pipeline for one output profile.
type Transcoder struct {
	ffmpegPath string
	layout     *cachedir.Layout
	prober     DurationProber
	cfg        config.TranscodeConfig
	logger     *slog.Logger
}

// New creates a transcoder. An empty cfg.FFmpegPath looks ffmpeg up on PATH.
func New(cfg config.TranscodeConfig, layout *cachedir.Layout, prober DurationProber, logger *slog.Logger) (*Transcoder, error) {
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		path, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
		ffmpegPath = path
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = defaultProcessTimeout
	}

	logger.Info("using ffmpeg",
		slog.String("path", ffmpegPath),
		slog.String("codec", cfg.Codec),
		slog.String("bitrate", cfg.Bitrate),
		slog.String("cache_dir", layout.Dir()),
	)

	return &Transcoder{
		ffmpegPath: ffmpegPath,
		layout:     layout,
		prober:     prober,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Transcode encodes location into the cache file for fingerprint and verifies
// the result lasts expectedDuration seconds within tolerance.
//
// On an integrity failure the committed path is returned together with the
// error; removing it is the caller's decision.
func (t *Transcoder) Transcode(ctx context.Context, location, fingerprint string, expectedDuration int) (string, error) {
	start := time.Now()
	log := t.logger.With(slog.String("fingerprint", fingerprint))

	var measured *Loudness
	m, err := t.Measure(ctx, location)
	switch {
	case err == nil:
		measured = &m
	case errors.Is(err, domainerrors.ErrTransient), ctx.Err() != nil:
		return "", err
	default:
		// Silence or an unparsable report: normalize dynamically instead.
		log.Warn("loudness measurement unusable, using single-pass normalization", slog.Any("error", err))
	}

	tmp := t.layout.TempPath(fingerprint)
	if err := t.encode(ctx, location, tmp, measured); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}

	finalPath := t.layout.Path(fingerprint)
	if err := os.Rename(tmp, finalPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("commit cache file: %w", err)
	}

	if err := t.Verify(ctx, finalPath, expectedDuration); err != nil {
		return finalPath, err
	}

	log.Info("transcode complete",
		slog.String("path", finalPath),
		slog.Int("duration", expectedDuration),
		slog.Duration("elapsed", time.Since(start)),
	)
	return finalPath, nil
}

// Measure runs the loudnorm analysis pass.
func (t *Transcoder) Measure(ctx context.Context, location string) (Loudness, error) {
	args := []string{
		"-hide_banner", "-nostats",
		"-i", location,
		"-vn",
		"-af", measureFilter(t.cfg.LoudnessRange),
		"-f", "null", "-",
	}

	_, stderr, err := t.run(ctx, location, args)
	if err != nil {
		return Loudness{}, err
	}
	return ParseLoudness(stderr)
}

// Verify compares the probed duration of path with expected.
func (t *Transcoder) Verify(ctx context.Context, path string, expected int) error {
	actual, err := t.prober.Duration(ctx, path)
	if err != nil {
		return fmt.Errorf("probe committed file: %w", err)
	}

	diff := actual - expected
	if diff < 0 {
		diff = -diff
	}
	if float64(diff) > t.cfg.DurationTolerance.Seconds() {
		return domainerrors.Integrityf("encoded duration %ds differs from expected %ds", actual, expected).
			WithDetails(map[string]int{"expected": expected, "actual": actual})
	}
	return nil
}

func (t *Transcoder) encode(ctx context.Context, location, out string, measured *Loudness) error {
	args := t.encodeArgs(location, out, measured)

	t.logger.Debug("executing ffmpeg", slog.String("args", probe.RedactOutput(strings.Join(args, " "), location)))

	stdout, _, err := t.run(ctx, location, args)
	if err != nil {
		return err
	}

	// -progress reports progress=end only once the muxer flushed the whole stream.
	if !bytes.Contains(stdout, []byte("progress=end")) {
		return domainerrors.Transientf("ffmpeg exited without reaching end of stream")
	}

	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		return domainerrors.Transientf("ffmpeg produced no output")
	}
	return nil
}

func (t *Transcoder) encodeArgs(location, out string, measured *Loudness) []string {
	return []string{
		"-y",
		"-hide_banner", "-nostats",
		"-loglevel", "error",
		"-progress", "pipe:1",
		"-i", location,
		"-vn",
		"-af", normalizeFilter(t.cfg.LoudnessRange, measured),
		"-c:a", t.cfg.Codec,
		"-b:a", t.cfg.Bitrate,
		"-t", strconv.FormatFloat(t.cfg.MaxDuration.Seconds(), 'f', -1, 64),
		out,
	}
}

// run executes ffmpeg. location is the input among args and is redacted from
// failure output.
func (t *Transcoder) run(ctx context.Context, location string, args []string) (stdout, stderr []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ProcessTimeout)
	defer cancel()

	var outBuf, errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...) //nolint:gosec // ffmpeg path comes from config or exec.LookPath
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil, domainerrors.Transientf("ffmpeg timed out after %s", t.cfg.ProcessTimeout).WithCause(err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		msg := probe.RedactOutput(errBuf.String(), location)
		return nil, nil, domainerrors.Transientf("ffmpeg failed: %s", tail(msg)).WithCause(err)
	}
	return outBuf.Bytes(), errBuf.Bytes(), nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = "..." + s[len(s)-stderrTail:]
	}
	return s
}
