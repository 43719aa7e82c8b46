package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

// Options configures the watcher.
type Options struct {
	IgnorePatterns []string
	// SettleDelay is how long a path must stay unchanged before its event
	// is emitted. A file that reappears within the delay produces nothing.
	SettleDelay  time.Duration
	IgnoreHidden bool
}

// setDefaults applies default values to unset options.
func (o *Options) setDefaults() {
	if o.SettleDelay == 0 {
		o.SettleDelay = 2 * time.Second
	}

	// Patterns left nil get the defaults and hidden files are skipped;
	// an explicit (even empty) list keeps the caller's IgnoreHidden.
	if o.IgnorePatterns == nil {
		o.IgnorePatterns = []string{"*.part.*", "*.tmp"}
		o.IgnoreHidden = true
	}
}

// shouldIgnore reports whether path's base name is hidden or matches an
// ignore pattern.
func (o *Options) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if o.IgnoreHidden && strings.HasPrefix(base, ".") {
		return true
	}

	for _, pattern := range o.IgnorePatterns {
		matched, err := filepath.Match(pattern, base)
		if err == nil && matched {
			return true
		}
	}
	return false
}
