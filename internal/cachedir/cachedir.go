// Package cachedir owns the on-disk cache layout: one file per record at
// <dir>/<fingerprint>.<ext>.
package cachedir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// SweepLockName is the lock file guarding integrity sweeps.
const SweepLockName = ".sweep.lock"

var fingerprintPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ErrLocked is returned when another process holds the sweep lock.
var ErrLocked = errors.New("cache directory is locked by another sweep")

// Layout derives cache paths from fingerprints.
type Layout struct {
	dir string
	ext string
}

// New creates the cache directory if needed and returns its layout.
// ext is the container extension without a dot.
func New(dir, ext string) (*Layout, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Layout{dir: dir, ext: strings.TrimPrefix(ext, ".")}, nil
}

// Dir returns the cache directory.
func (l *Layout) Dir() string { return l.dir }

// Ext returns the container extension.
func (l *Layout) Ext() string { return l.ext }

// Path returns the cache file location for fingerprint.
func (l *Layout) Path(fingerprint string) string {
	return filepath.Join(l.dir, fingerprint+"."+l.ext)
}

// TempPath returns a unique, hidden location in the cache directory for an
// in-progress encode. Renaming it onto Path is atomic on the same filesystem.
func (l *Layout) TempPath(fingerprint string) string {
	return filepath.Join(l.dir, fmt.Sprintf(".%s.%s.part.%s", fingerprint, uuid.NewString(), l.ext))
}

// IsTemp reports whether name is an in-progress encode.
func (l *Layout) IsTemp(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".") && strings.Contains(base, ".part.")
}

// FingerprintOf returns the fingerprint for a committed cache file name.
func (l *Layout) FingerprintOf(name string) (string, bool) {
	base := filepath.Base(name)
	fp, ok := strings.CutSuffix(base, "."+l.ext)
	if !ok || !fingerprintPattern.MatchString(fp) {
		return "", false
	}
	return fp, true
}

// Exists reports whether the cache file for fingerprint is a regular file.
func (l *Layout) Exists(fingerprint string) bool {
	info, err := os.Stat(l.Path(fingerprint))
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes the cache file for fingerprint. A missing file is not an error.
func (l *Layout) Remove(fingerprint string) error {
	if err := os.Remove(l.Path(fingerprint)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}

// RemoveStaleTemps deletes leftover in-progress encodes, typically after a crash.
func (l *Layout) RemoveStaleTemps() (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !l.IsTemp(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// TryLockSweep takes the cross-process sweep lock without blocking. It returns
// ErrLocked when another holder has it. The returned func releases the lock.
func (l *Layout) TryLockSweep() (func() error, error) {
	lock := flock.New(filepath.Join(l.dir, SweepLockName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return lock.Unlock, nil
}
