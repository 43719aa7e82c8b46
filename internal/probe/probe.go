// Package probe extracts descriptive metadata from media files and streams
// with ffprobe.
package probe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/listenupapp/audiocache/internal/domain"
	domainerrors "github.com/listenupapp/audiocache/internal/errors"
)

// DefaultTimeout bounds a single ffprobe invocation.
const DefaultTimeout = 2 * time.Minute

// Prober runs ffprobe against local paths or readable URLs.
type Prober struct {
	path    string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a prober. An empty path looks ffprobe up on PATH.
func New(ffprobePath string, timeout time.Duration, logger *slog.Logger) (*Prober, error) {
	if ffprobePath == "" {
		path, err := exec.LookPath("ffprobe")
		if err != nil {
			return nil, fmt.Errorf("ffprobe not found: %w", err)
		}
		ffprobePath = path
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{path: ffprobePath, timeout: timeout, logger: logger}, nil
}

// Path returns the ffprobe binary in use.
func (p *Prober) Path() string {
	return p.path
}

// Probe reads title, artist, duration and size for location.
func (p *Prober) Probe(ctx context.Context, location string) (domain.SourceMetadata, error) {
	out, err := p.run(ctx, location,
		"-v", "error",
		"-show_entries", "format=duration,size:format_tags=title,artist",
		"-of", "default=noprint_wrappers=1",
		location,
	)
	if err != nil {
		return domain.SourceMetadata{}, err
	}

	meta := ParseReport(out)
	p.logger.Debug("probed source",
		slog.String("location", Redact(location)),
		slog.Bool("has_title", meta.Title != nil),
		slog.Bool("has_duration", meta.Duration != nil),
	)
	return meta, nil
}

// Duration returns the rounded duration of the file at path in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (int, error) {
	out, err := p.run(ctx, path,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1",
		path,
	)
	if err != nil {
		return 0, err
	}

	meta := ParseReport(out)
	if meta.Duration == nil {
		return 0, domainerrors.Transientf("ffprobe reported no duration for %s", path)
	}
	return *meta.Duration, nil
}

// run executes ffprobe. location is the input among args; it is redacted
// wherever ffprobe echoes it back in stderr.
func (p *Prober) run(ctx context.Context, location string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.path, args...) //nolint:gosec // ffprobe path comes from config or exec.LookPath
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domainerrors.Transientf("ffprobe timed out after %s", p.timeout).WithCause(err)
		}
		msg := RedactOutput(stderr.String(), location)
		return nil, domainerrors.Transientf("ffprobe failed: %s", strings.TrimSpace(msg)).WithCause(err)
	}
	return stdout.Bytes(), nil
}

// Redact shortens a URL to its scheme and host. Stream URLs carry
// credentials in their paths and queries (bot tokens, signed parameters).
// Anything that is not an absolute URL is returned unchanged.
func Redact(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return location
	}
	return u.Scheme + "://" + u.Host + "/..."
}

// RedactOutput replaces every occurrence of location in out with its
// redacted form.
func RedactOutput(out, location string) string {
	if location == "" {
		return out
	}
	return strings.ReplaceAll(out, location, Redact(location))
}

// ParseReport parses ffprobe's default key=value output.
// Missing, empty, N/A or unparsable values are left nil.
func ParseReport(out []byte) domain.SourceMetadata {
	var meta domain.SourceMetadata

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" || value == "N/A" {
			continue
		}

		switch strings.ToLower(key) {
		case "duration":
			if secs, err := strconv.ParseFloat(value, 64); err == nil && secs >= 0 {
				meta.Duration = domain.Ptr(int(math.Round(secs)))
			}
		case "size":
			if size, err := strconv.ParseInt(value, 10, 64); err == nil {
				meta.Size = domain.Ptr(size)
			}
		case "tag:title":
			if meta.Title == nil {
				meta.Title = domain.Ptr(value)
			}
		case "tag:artist":
			if meta.Artist == nil {
				meta.Artist = domain.Ptr(value)
			}
		}
	}
	return meta
}
