// Package resolver maps source references to fetchable locations and
// metadata through an ordered list of pluggable handlers.
//
// Handlers are consulted in registration order and the first one whose
// matcher accepts the source wins. Sources no handler claims are treated as
// directly fetchable and are probed as-is.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/listenupapp/audiocache/internal/domain"
)

// SourceHandler owns the protocol quirks of one source family.
type SourceHandler interface {
	Name() string
	Matches(source string) bool
	Fetch(ctx context.Context, source string) (string, error)
	Metadata(ctx context.Context, source string) (domain.SourceMetadata, error)
}

// MetadataProber is the fallback for sources no handler claims.
type MetadataProber interface {
	Probe(ctx context.Context, location string) (domain.SourceMetadata, error)
}

// Matcher decides whether a handler claims a source.
type Matcher func(source string) bool

// Regexp returns a matcher for a regular expression. It panics on an invalid
// expression, as regexp.MustCompile does.
func Regexp(expr string) Matcher {
	re := regexp.MustCompile(expr)
	return re.MatchString
}

// Prefix returns a matcher for sources starting with any of prefixes.
func Prefix(prefixes ...string) Matcher {
	return func(source string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(source, p) {
				return true
			}
		}
		return false
	}
}

// Any matches when at least one of matchers does.
func Any(matchers ...Matcher) Matcher {
	return func(source string) bool {
		for _, m := range matchers {
			if m(source) {
				return true
			}
		}
		return false
	}
}

// FetchFunc resolves a source to a fetchable location.
type FetchFunc func(ctx context.Context, source string) (string, error)

// MetadataFunc resolves a source to metadata.
type MetadataFunc func(ctx context.Context, source string) (domain.SourceMetadata, error)

type funcHandler struct {
	name     string
	match    Matcher
	fetch    FetchFunc
	metadata MetadataFunc
}

// NewHandler builds a SourceHandler from plain functions.
func NewHandler(name string, match Matcher, fetch FetchFunc, metadata MetadataFunc) SourceHandler {
	return &funcHandler{name: name, match: match, fetch: fetch, metadata: metadata}
}

func (h *funcHandler) Name() string               { return h.name }
func (h *funcHandler) Matches(source string) bool { return h.match(source) }

func (h *funcHandler) Fetch(ctx context.Context, source string) (string, error) {
	return h.fetch(ctx, source)
}

func (h *funcHandler) Metadata(ctx context.Context, source string) (domain.SourceMetadata, error) {
	return h.metadata(ctx, source)
}

// Registry holds handlers in registration order.
type Registry struct {
	mu       sync.RWMutex
	handlers []SourceHandler
	fallback MetadataProber
	logger   *slog.Logger
}

// NewRegistry creates an empty registry that probes unclaimed sources with fallback.
func NewRegistry(fallback MetadataProber, logger *slog.Logger) *Registry {
	return &Registry{fallback: fallback, logger: logger}
}

// Register appends h. A handler registered later never sees sources an
// earlier, broader handler already claims.
func (r *Registry) Register(h SourceHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
	r.logger.Info("registered source handler",
		slog.String("handler", h.Name()),
		slog.Int("position", len(r.handlers)),
	)
}

// Handlers returns registered handler names in match order.
func (r *Registry) Handlers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.handlers))
	for i, h := range r.handlers {
		names[i] = h.Name()
	}
	return names
}

// Match returns the first handler claiming source.
func (r *Registry) Match(source string) (SourceHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.handlers {
		if h.Matches(source) {
			return h, true
		}
	}
	return nil, false
}

// ResolveFetchLocation returns a location the transcoder can read. Unclaimed
// sources are returned unchanged.
func (r *Registry) ResolveFetchLocation(ctx context.Context, source string) (string, error) {
	h, ok := r.Match(source)
	if !ok {
		return source, nil
	}
	loc, err := h.Fetch(ctx, source)
	if err != nil {
		return "", fmt.Errorf("%s: resolve fetch location: %w", h.Name(), err)
	}
	return loc, nil
}

// ResolveMetadata returns what is known about source. Unclaimed sources are
// probed directly.
func (r *Registry) ResolveMetadata(ctx context.Context, source string) (domain.SourceMetadata, error) {
	h, ok := r.Match(source)
	if !ok {
		meta, err := r.fallback.Probe(ctx, source)
		if err != nil {
			return domain.SourceMetadata{}, fmt.Errorf("probe source: %w", err)
		}
		return meta, nil
	}
	meta, err := h.Metadata(ctx, source)
	if err != nil {
		return domain.SourceMetadata{}, fmt.Errorf("%s: resolve metadata: %w", h.Name(), err)
	}
	return meta, nil
}
