package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/listenupapp/audiocache/internal/cachedir"
	"github.com/listenupapp/audiocache/internal/domain"
	"github.com/listenupapp/audiocache/internal/store"
	"github.com/listenupapp/audiocache/internal/workpool"
)

// ErrSweepRunning is returned when another sweep holds the cache directory.
var ErrSweepRunning = errors.New("cache sweep already running")

// Outcome is what a sweep did with one record.
type Outcome string

const (
	OutcomeHealthy  Outcome = "healthy"
	OutcomeRepaired Outcome = "repaired"
	OutcomeDeleted  Outcome = "deleted"
	OutcomeFailed   Outcome = "failed"
	// OutcomePending marks a record whose first encode is still running.
	OutcomePending Outcome = "pending"
)

// SweepReport summarizes one CheckCache run.
type SweepReport struct {
	Deep      bool          `json:"deep"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
	Checked   int           `json:"checked"`
	Healthy   int           `json:"healthy"`
	Repaired  int           `json:"repaired"`
	Deleted   int           `json:"deleted"`
	Failed    int           `json:"failed"`
	Pending   int           `json:"pending"`
}

func (r *SweepReport) count(o Outcome) {
	r.Checked++
	switch o {
	case OutcomeHealthy:
		r.Healthy++
	case OutcomeRepaired:
		r.Repaired++
	case OutcomeDeleted:
		r.Deleted++
	case OutcomeFailed:
		r.Failed++
	case OutcomePending:
		r.Pending++
	}
}

// CheckCache verifies every record has its cache file and, when deep is set,
// that the file's duration matches the record. Missing or mismatched files
// are re-acquired from the record's source; records that cannot be
// re-acquired are deleted. Each record is handled independently.
func (c *Catalog) CheckCache(ctx context.Context, deep bool) (SweepReport, error) {
	report := SweepReport{Deep: deep, StartedAt: time.Now()}

	if !c.sweeping.CompareAndSwap(false, true) {
		return report, ErrSweepRunning
	}
	defer c.sweeping.Store(false)

	unlock, err := c.layout.TryLockSweep()
	if errors.Is(err, cachedir.ErrLocked) {
		return report, ErrSweepRunning
	}
	if err != nil {
		return report, err
	}
	defer func() {
		if err := unlock(); err != nil {
			c.logger.Warn("failed to release sweep lock", slog.Any("error", err))
		}
	}()

	// Collect first so repairs don't write under an open cursor.
	var recs []*domain.AudioRecord
	for rec, err := range c.store.StreamAudio(ctx) {
		if err != nil {
			return report, fmt.Errorf("list audio: %w", err)
		}
		recs = append(recs, rec)
	}

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			report.Elapsed = time.Since(report.StartedAt)
			return report, err
		}
		report.count(c.checkRecord(ctx, rec, deep))
	}

	report.Elapsed = time.Since(report.StartedAt)
	c.logger.Info("cache sweep finished",
		slog.Bool("deep", deep),
		slog.Int("checked", report.Checked),
		slog.Int("healthy", report.Healthy),
		slog.Int("repaired", report.Repaired),
		slog.Int("deleted", report.Deleted),
		slog.Int("failed", report.Failed),
		slog.Int("pending", report.Pending),
		slog.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// RepairFingerprint re-acquires the record owning fingerprint if its cache
// file is missing. Unknown fingerprints are ignored, and so are fingerprints
// an Add is still encoding.
func (c *Catalog) RepairFingerprint(ctx context.Context, fingerprint string) (Outcome, error) {
	if c.acquiring(fingerprint) {
		return OutcomePending, nil
	}
	rec, err := c.store.GetAudioByFingerprint(ctx, fingerprint)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeHealthy, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("lookup fingerprint: %w", err)
	}
	if c.layout.Exists(fingerprint) {
		return OutcomeHealthy, nil
	}
	return c.repair(ctx, rec), nil
}

func (c *Catalog) checkRecord(ctx context.Context, rec *domain.AudioRecord, deep bool) Outcome {
	if c.acquiring(rec.Fingerprint) {
		return OutcomePending
	}
	if !c.layout.Exists(rec.Fingerprint) {
		c.logger.Warn("cache file missing", slog.String("audio_id", rec.ID), slog.String("fingerprint", rec.Fingerprint))
		return c.repair(ctx, rec)
	}
	if !deep {
		return OutcomeHealthy
	}

	path := c.layout.Path(rec.Fingerprint)
	actual, err := workpool.Run(ctx, c.probes, func(ctx context.Context) (int, error) {
		return c.prober.Duration(ctx, path)
	})
	if err != nil {
		c.logger.Warn("cache file unreadable", slog.String("audio_id", rec.ID), slog.Any("error", err))
		return c.repair(ctx, rec)
	}

	drift := time.Duration(abs(actual-rec.Duration)) * time.Second
	if drift > c.opts.DurationTolerance {
		c.logger.Warn("cache file duration mismatch",
			slog.String("audio_id", rec.ID),
			slog.Int("recorded", rec.Duration),
			slog.Int("actual", actual),
		)
		return c.repair(ctx, rec)
	}
	return OutcomeHealthy
}

// repair re-acquires rec, or deletes it when it has no source or the
// re-acquisition fails. Concurrent repairs of one fingerprint collapse.
func (c *Catalog) repair(ctx context.Context, rec *domain.AudioRecord) Outcome {
	v, _, _ := c.flights.Do("repair:"+rec.Fingerprint, func() (any, error) {
		// The sweep works from a snapshot; an Add may have started on this
		// fingerprint or rolled its row back since.
		if c.acquiring(rec.Fingerprint) {
			return OutcomePending, nil
		}
		if _, err := c.store.GetAudio(ctx, rec.ID); errors.Is(err, store.ErrNotFound) {
			return OutcomeDeleted, nil
		}

		if !rec.HasSource() {
			c.logger.Warn("record has no source, deleting", slog.String("audio_id", rec.ID))
			return c.drop(ctx, rec), nil
		}

		if err := c.acquire(ctx, rec); err != nil {
			c.logger.Error("re-acquisition failed, deleting record",
				slog.String("audio_id", rec.ID),
				slog.String("source", rec.Source),
				slog.Any("error", err),
			)
			return c.drop(ctx, rec), nil
		}

		c.logger.Info("cache file repaired", slog.String("audio_id", rec.ID), slog.String("fingerprint", rec.Fingerprint))
		return OutcomeRepaired, nil
	})
	return v.(Outcome)
}

func (c *Catalog) drop(ctx context.Context, rec *domain.AudioRecord) Outcome {
	if err := c.remove(ctx, rec); err != nil {
		c.logger.Error("failed to delete unrecoverable record", slog.String("audio_id", rec.ID), slog.Any("error", err))
		return OutcomeFailed
	}
	return OutcomeDeleted
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
