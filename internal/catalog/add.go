package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/listenupapp/audiocache/internal/domain"
	domainerrors "github.com/listenupapp/audiocache/internal/errors"
	"github.com/listenupapp/audiocache/internal/id"
	"github.com/listenupapp/audiocache/internal/retry"
	"github.com/listenupapp/audiocache/internal/store"
	"github.com/listenupapp/audiocache/internal/workpool"
)

// Add acquires source into the catalog and returns its record.
//
// A source or fingerprint already in the catalog returns the existing record
// without probing or encoding again. hints override resolved metadata field
// by field. Validation failures (NOT_AUDIO, MISSING_TITLE, TOO_LONG,
// LIVE_SOURCE) are returned immediately; everything else is retried with the
// configured budget. A failed transcode leaves no record behind.
//
// Work runs to completion even if ctx is cancelled.
func (c *Catalog) Add(ctx context.Context, sender, source string, hints domain.SourceMetadata) (*domain.AudioRecord, error) {
	ctx = context.WithoutCancel(ctx)

	source = strings.TrimSpace(source)
	if source == "" {
		return nil, domainerrors.Validation("source is required")
	}

	existing, err := c.store.GetAudioBySource(ctx, source)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup source: %w", err)
	}

	resolved, err := c.resolveMetadata(ctx, source)
	if err != nil {
		return nil, err
	}
	meta := resolved.Merge(hints)

	if err := c.validate(meta); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(*meta.Title)
	artist := strings.TrimSpace(meta.ArtistOrEmpty())
	fingerprint := domain.Fingerprint(title, artist, *meta.Duration, meta.Size)

	existing, err = c.store.GetAudioByFingerprint(ctx, fingerprint)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup fingerprint: %w", err)
	}

	v, err, shared := c.flights.Do(fingerprint, func() (any, error) {
		return c.create(ctx, &domain.AudioRecord{
			Title:       title,
			Artist:      artist,
			Duration:    *meta.Duration,
			Sender:      sender,
			Source:      source,
			Fingerprint: fingerprint,
		})
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("joined in-flight add", slog.String("fingerprint", fingerprint))
	}
	return v.(*domain.AudioRecord), nil
}

// validate checks duration before title so a source with neither reads as
// not audio.
func (c *Catalog) validate(meta domain.SourceMetadata) error {
	if !meta.HasDuration() {
		return domainerrors.NotAudio("source has no duration")
	}
	if meta.Title == nil {
		return domainerrors.MissingTitle("source has no title")
	}
	if strings.TrimSpace(*meta.Title) == "" {
		return domainerrors.MissingTitle("title is empty")
	}
	if limit := c.opts.MaxDuration; limit > 0 && time.Duration(*meta.Duration)*time.Second > limit {
		return domainerrors.TooLongf("duration %ds exceeds maximum of %s", *meta.Duration, limit).
			WithDetails(map[string]any{"duration": *meta.Duration, "max_seconds": int(limit.Seconds())})
	}
	return nil
}

// resolveMetadata resolves on the probe pool with retries, consulting the
// metadata cache first.
func (c *Catalog) resolveMetadata(ctx context.Context, source string) (domain.SourceMetadata, error) {
	if c.metaCache != nil {
		if meta, ok := c.metaCache.Get(source); ok {
			return meta, nil
		}
	}

	meta, err := retry.Do(ctx, c.opts.Retry, func(ctx context.Context) (domain.SourceMetadata, error) {
		return workpool.Run(ctx, c.probes, func(ctx context.Context) (domain.SourceMetadata, error) {
			return c.resolver.ResolveMetadata(ctx, source)
		})
	}).Unwrap()
	if err != nil {
		c.logger.Warn("metadata resolution failed", slog.String("source", source), slog.Any("error", err))
		return domain.SourceMetadata{}, fmt.Errorf("resolve metadata: %w", err)
	}

	if c.metaCache != nil {
		c.metaCache.Put(source, meta)
	}
	return meta, nil
}

// create inserts rec and transcodes it, rolling the insert back on failure.
// If another writer holds the fingerprint or source, its record is returned.
func (c *Catalog) create(ctx context.Context, rec *domain.AudioRecord) (*domain.AudioRecord, error) {
	audioID, err := id.NewAudioID()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	rec.ID = audioID
	rec.CreatedAt = time.Now().UTC()

	// Held until the file is committed or the row rolled back.
	done := c.beginAcquire(rec.Fingerprint)
	defer done()

	winner, inserted, err := c.store.InsertAudioIfAbsent(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("insert audio: %w", err)
	}
	if !inserted {
		c.logger.Info("lost insert race, using existing record",
			slog.String("audio_id", winner.ID),
			slog.String("fingerprint", rec.Fingerprint),
		)
		return winner, nil
	}

	if err := c.acquire(ctx, rec); err != nil {
		c.rollback(ctx, rec)
		return nil, err
	}

	c.indexRecord(rec)
	c.logger.Info("audio added",
		slog.String("audio_id", rec.ID),
		slog.String("title", rec.Title),
		slog.Int("duration", rec.Duration),
		slog.String("sender", rec.Sender),
	)
	return rec, nil
}

// acquire resolves the fetch location and transcodes on the transcode pool,
// retrying both together so each attempt gets a fresh location.
func (c *Catalog) acquire(ctx context.Context, rec *domain.AudioRecord) error {
	_, err := retry.Do(ctx, c.opts.Retry, func(ctx context.Context) (string, error) {
		location, err := c.resolver.ResolveFetchLocation(ctx, rec.Source)
		if err != nil {
			return "", err
		}
		return workpool.Run(ctx, c.transcodes, func(ctx context.Context) (string, error) {
			return c.transcoder.Transcode(ctx, location, rec.Fingerprint, rec.Duration)
		})
	}).Unwrap()
	if err != nil {
		return fmt.Errorf("transcode %s: %w", rec.ID, err)
	}
	return nil
}

// rollback removes a record whose acquisition failed. The row goes before the
// file so the cache watcher has nothing to repair.
func (c *Catalog) rollback(ctx context.Context, rec *domain.AudioRecord) {
	if err := c.store.DeleteAudio(ctx, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		c.logger.Error("rollback: delete audio failed", slog.String("audio_id", rec.ID), slog.Any("error", err))
	}
	if err := c.layout.Remove(rec.Fingerprint); err != nil {
		c.logger.Error("rollback: remove cache file failed", slog.String("audio_id", rec.ID), slog.Any("error", err))
	}
	c.logger.Warn("audio add rolled back", slog.String("audio_id", rec.ID), slog.String("source", rec.Source))
}
