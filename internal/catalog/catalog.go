// Package catalog owns the audio catalog: deduplicated acquisition of
// sources into the on-disk cache, lookups, deletion and cache repair.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/listenupapp/audiocache/internal/cachedir"
	"github.com/listenupapp/audiocache/internal/domain"
	domainerrors "github.com/listenupapp/audiocache/internal/errors"
	"github.com/listenupapp/audiocache/internal/retry"
	"github.com/listenupapp/audiocache/internal/search"
	"github.com/listenupapp/audiocache/internal/store"
	"github.com/listenupapp/audiocache/internal/workpool"
)

// Resolver turns sources into metadata and fetchable locations.
type Resolver interface {
	ResolveFetchLocation(ctx context.Context, source string) (string, error)
	ResolveMetadata(ctx context.Context, source string) (domain.SourceMetadata, error)
}

// Transcoder writes the normalized cache file for a fingerprint.
type Transcoder interface {
	Transcode(ctx context.Context, location, fingerprint string, expectedDuration int) (string, error)
}

// DurationProber measures a cached file.
type DurationProber interface {
	Duration(ctx context.Context, path string) (int, error)
}

// Index is the full-text index kept in step with the catalog.
type Index interface {
	IndexDocument(doc *search.AudioDocument) error
	IndexDocuments(docs []*search.AudioDocument) error
	DeleteDocument(id string) error
	Search(ctx context.Context, filter domain.SearchFilter) (*search.Result, error)
	Rebuild() error
}

// MetadataCache memoizes resolved metadata per source.
type MetadataCache interface {
	Get(source string) (domain.SourceMetadata, bool)
	Put(source string, meta domain.SourceMetadata)
	Forget(source string)
}

// ReferenceStore is told when a record goes away so it can drop anything
// pointing at it, such as playlist entries.
type ReferenceStore interface {
	RemoveAudioReferences(ctx context.Context, audioID string) error
}

// NoopReferences is a ReferenceStore with nothing to clean up.
type NoopReferences struct{}

// RemoveAudioReferences implements ReferenceStore.
func (NoopReferences) RemoveAudioReferences(context.Context, string) error { return nil }

// Deps wires a Catalog. Index, MetaCache and References are optional.
type Deps struct {
	Store         store.AudioStore
	Resolver      Resolver
	Transcoder    Transcoder
	Prober        DurationProber
	Layout        *cachedir.Layout
	ProbePool     *workpool.Pool
	TranscodePool *workpool.Pool
	Index         Index
	MetaCache     MetadataCache
	References    ReferenceStore
	Logger        *slog.Logger
}

// Options tunes catalog policy.
type Options struct {
	// MaxDuration rejects longer sources. Zero disables the check.
	MaxDuration time.Duration
	// DurationTolerance is the drift a deep sweep accepts.
	DurationTolerance time.Duration
	// Retry wraps queued probing and transcoding.
	Retry retry.Options
	// ReadRetry wraps Get.
	ReadRetry retry.Options
}

// Catalog is the audio catalog service.
type Catalog struct {
	store      store.AudioStore
	resolver   Resolver
	transcoder Transcoder
	prober     DurationProber
	layout     *cachedir.Layout
	probes     *workpool.Pool
	transcodes *workpool.Pool
	index      Index
	metaCache  MetadataCache
	references ReferenceStore
	opts       Options
	logger     *slog.Logger

	flights  singleflight.Group
	sweeping atomic.Bool

	// inflight counts Add acquisitions per fingerprint. Their rows exist
	// before their files, so sweeps leave them alone.
	inflightMu sync.Mutex
	inflight   map[string]int
}

// New creates a catalog.
func New(deps Deps, opts Options) *Catalog {
	refs := deps.References
	if refs == nil {
		refs = NoopReferences{}
	}

	c := &Catalog{
		store:      deps.Store,
		resolver:   deps.Resolver,
		transcoder: deps.Transcoder,
		prober:     deps.Prober,
		layout:     deps.Layout,
		probes:     deps.ProbePool,
		transcodes: deps.TranscodePool,
		index:      deps.Index,
		metaCache:  deps.MetaCache,
		references: refs,
		opts:       opts,
		logger:     deps.Logger,
		inflight:   make(map[string]int),
	}
	c.opts.Retry.Retryable = retryable
	c.opts.ReadRetry.Retryable = func(err error) bool {
		return !errors.Is(err, store.ErrNotFound)
	}
	return c
}

// retryable is false for failures another attempt cannot fix.
func retryable(err error) bool {
	if domainerrors.IsValidation(err) {
		return false
	}
	if errors.Is(err, domainerrors.ErrIntegrity) {
		return false
	}
	return !errors.Is(err, store.ErrNotFound)
}

// beginAcquire marks fingerprint as being acquired by Add. The returned func
// clears the mark.
func (c *Catalog) beginAcquire(fingerprint string) func() {
	c.inflightMu.Lock()
	c.inflight[fingerprint]++
	c.inflightMu.Unlock()

	return func() {
		c.inflightMu.Lock()
		defer c.inflightMu.Unlock()
		if c.inflight[fingerprint]--; c.inflight[fingerprint] <= 0 {
			delete(c.inflight, fingerprint)
		}
	}
}

func (c *Catalog) acquiring(fingerprint string) bool {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	return c.inflight[fingerprint] > 0
}

// Get returns the record with id. Storage unavailability is retried with the
// read budget; an unknown id fails fast with a NOT_FOUND error.
func (c *Catalog) Get(ctx context.Context, id string) (*domain.AudioRecord, error) {
	rec, err := retry.Do(ctx, c.opts.ReadRetry, func(ctx context.Context) (*domain.AudioRecord, error) {
		return c.store.GetAudio(ctx, id)
	}).Unwrap()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainerrors.NotFoundf("audio %s not found", id)
		}
		return nil, domainerrors.Transientf("get audio %s", id).WithCause(err)
	}
	return rec, nil
}

// GetFile returns the cache path of rec if the file is on disk.
func (c *Catalog) GetFile(rec *domain.AudioRecord) (string, bool) {
	if rec == nil || !c.layout.Exists(rec.Fingerprint) {
		return "", false
	}
	return c.layout.Path(rec.Fingerprint), true
}

// Delete removes the record with id along with its cache file. Unknown ids
// are a no-op.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	rec, err := c.store.GetAudio(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get audio: %w", err)
	}
	return c.remove(ctx, rec)
}

// remove drops references, the cache file, the row and the index entry, in
// that order.
func (c *Catalog) remove(ctx context.Context, rec *domain.AudioRecord) error {
	if err := c.references.RemoveAudioReferences(ctx, rec.ID); err != nil {
		return fmt.Errorf("remove references to %s: %w", rec.ID, err)
	}
	if err := c.layout.Remove(rec.Fingerprint); err != nil {
		return err
	}
	if err := c.store.DeleteAudio(ctx, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete audio: %w", err)
	}
	c.unindex(rec.ID)

	c.logger.Info("audio deleted",
		slog.String("audio_id", rec.ID),
		slog.String("fingerprint", rec.Fingerprint),
	)
	return nil
}

// Search yields records matching filter. Free text goes through the search
// index when one is configured; structured filters alone go to the store.
func (c *Catalog) Search(ctx context.Context, filter domain.SearchFilter) iter.Seq2[*domain.AudioRecord, error] {
	return func(yield func(*domain.AudioRecord, error) bool) {
		recs, err := c.search(ctx, filter)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, rec := range recs {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (c *Catalog) search(ctx context.Context, filter domain.SearchFilter) ([]*domain.AudioRecord, error) {
	filter.Normalize()

	if filter.Query == "" || c.index == nil {
		recs, err := c.store.SearchAudio(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("search audio: %w", err)
		}
		return recs, nil
	}

	res, err := c.index.Search(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	recs, err := c.store.GetAudioByIDs(ctx, res.IDs())
	if err != nil {
		return nil, fmt.Errorf("load search hits: %w", err)
	}
	return recs, nil
}

// RebuildIndex repopulates the search index from the store.
func (c *Catalog) RebuildIndex(ctx context.Context) (int, error) {
	if c.index == nil {
		return 0, nil
	}
	if err := c.index.Rebuild(); err != nil {
		return 0, fmt.Errorf("rebuild index: %w", err)
	}

	var docs []*search.AudioDocument
	for rec, err := range c.store.StreamAudio(ctx) {
		if err != nil {
			return 0, fmt.Errorf("stream audio: %w", err)
		}
		docs = append(docs, search.NewAudioDocument(rec))
	}
	if err := c.index.IndexDocuments(docs); err != nil {
		return 0, fmt.Errorf("index documents: %w", err)
	}

	c.logger.Info("search index rebuilt", slog.Int("documents", len(docs)))
	return len(docs), nil
}

// Pools exposes the probe and transcode pools for status reporting.
func (c *Catalog) Pools() (probes, transcodes *workpool.Pool) {
	return c.probes, c.transcodes
}

func (c *Catalog) indexRecord(rec *domain.AudioRecord) {
	if c.index == nil {
		return
	}
	if err := c.index.IndexDocument(search.NewAudioDocument(rec)); err != nil {
		c.logger.Warn("failed to index audio", slog.String("audio_id", rec.ID), slog.Any("error", err))
	}
}

func (c *Catalog) unindex(id string) {
	if c.index == nil {
		return
	}
	if err := c.index.DeleteDocument(id); err != nil {
		c.logger.Warn("failed to unindex audio", slog.String("audio_id", id), slog.Any("error", err))
	}
}
