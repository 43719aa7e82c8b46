package providers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samber/do/v2"

	"github.com/listenupapp/audiocache/internal/cachedir"
	"github.com/listenupapp/audiocache/internal/catalog"
	"github.com/listenupapp/audiocache/internal/config"
	"github.com/listenupapp/audiocache/internal/logger"
	"github.com/listenupapp/audiocache/internal/watcher"
)

const metaCacheGCInterval = 30 * time.Minute

// SweepJob runs the periodic cache integrity sweep.
type SweepJob struct {
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (j *SweepJob) Shutdown() error {
	j.cancel()
	return nil
}

// ProvideSweepJob provides the periodic cache sweep. A zero interval leaves
// only the optional startup run.
func ProvideSweepJob(i do.Injector) (*SweepJob, error) {
	cfg := do.MustInvoke[*config.Config](i)
	cat := do.MustInvoke[*catalog.Catalog](i)
	log := do.MustInvoke[*logger.Logger](i)

	ctx, cancel := context.WithCancel(context.Background())

	sweep := func() {
		report, err := cat.CheckCache(ctx, cfg.Sweep.Deep)
		switch {
		case errors.Is(err, catalog.ErrSweepRunning):
			log.Info("Cache sweep skipped, another sweep holds the lock")
		case err != nil:
			log.Warn("Cache sweep failed", "error", err)
		default:
			log.Info("Cache sweep completed",
				"deep", report.Deep,
				"checked", report.Checked,
				"repaired", report.Repaired,
				"deleted", report.Deleted,
				"failed", report.Failed,
				"elapsed", report.Elapsed,
			)
		}
	}

	go func() {
		if cfg.Sweep.OnStart {
			sweep()
		}
		if cfg.Sweep.Interval <= 0 {
			return
		}

		ticker := time.NewTicker(cfg.Sweep.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sweep()
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("Cache sweep job started",
		"interval", cfg.Sweep.Interval,
		"deep", cfg.Sweep.Deep,
		"on_start", cfg.Sweep.OnStart,
	)

	return &SweepJob{cancel: cancel}, nil
}

// CacheWatcherHandle wraps the cache directory watcher. Watcher is nil when
// watching is disabled.
type CacheWatcherHandle struct {
	*watcher.Watcher
	cancel  context.CancelFunc
	repairs *cacheRepairs
}

// Shutdown implements do.Shutdownable. It waits for running repairs so the
// store outlives them.
func (h *CacheWatcherHandle) Shutdown() error {
	if h.Watcher == nil {
		return nil
	}
	h.cancel()
	err := h.Watcher.Stop()
	h.repairs.wait()
	return err
}

// cacheRepairer is the catalog call the cache watcher drives.
type cacheRepairer interface {
	RepairFingerprint(ctx context.Context, fingerprint string) (catalog.Outcome, error)
}

// cacheRepairs runs one repair per removed cache file, each on its own
// goroutine. The transcode pool bounds how many encode at once.
type cacheRepairs struct {
	layout   *cachedir.Layout
	repairer cacheRepairer
	log      *logger.Logger
	wg       sync.WaitGroup
}

// handle starts a repair for a removed cache file and reports whether it did.
func (r *cacheRepairs) handle(ctx context.Context, event watcher.Event) bool {
	if event.Type != watcher.EventRemoved {
		return false
	}
	fp, ok := r.layout.FingerprintOf(event.Path)
	if !ok {
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		outcome, err := r.repairer.RepairFingerprint(ctx, fp)
		if err != nil {
			r.log.Warn("Failed to repair removed cache file", "fingerprint", fp, "error", err)
			return
		}
		r.log.Info("Cache file removed externally", "fingerprint", fp, "outcome", outcome)
	}()
	return true
}

func (r *cacheRepairs) wait() {
	r.wg.Wait()
}

// ProvideCacheWatcher watches the cache directory and repairs records whose
// file disappears outside the catalog.
func ProvideCacheWatcher(i do.Injector) (*CacheWatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	layout := do.MustInvoke[*cachedir.Layout](i)
	cat := do.MustInvoke[*catalog.Catalog](i)

	if !cfg.Sweep.Watch {
		log.Info("Cache watcher disabled by configuration")
		return &CacheWatcherHandle{}, nil
	}

	w, err := watcher.New(log.Component("watcher"), watcher.Options{IgnoreHidden: true})
	if err != nil {
		return nil, err
	}
	if err := w.Watch(layout.Dir()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	repairs := &cacheRepairs{layout: layout, repairer: cat, log: log}

	go func() {
		if err := w.Start(ctx); err != nil {
			log.Error("Cache watcher error", "error", err)
		}
	}()

	go func() {
		for {
			select {
			case event, ok := <-w.Events():
				if !ok {
					return
				}
				repairs.handle(ctx, event)
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				log.Warn("Cache watcher error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("Cache watcher started", "dir", layout.Dir())

	return &CacheWatcherHandle{Watcher: w, cancel: cancel, repairs: repairs}, nil
}

// MetaCacheGCJob periodically reclaims metadata cache space.
type MetaCacheGCJob struct {
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (j *MetaCacheGCJob) Shutdown() error {
	j.cancel()
	return nil
}

// ProvideMetaCacheGCJob provides the metadata cache GC job.
func ProvideMetaCacheGCJob(i do.Injector) (*MetaCacheGCJob, error) {
	metaHandle := do.MustInvoke[*MetaCacheHandle](i)

	ctx, cancel := context.WithCancel(context.Background())
	if metaHandle.Cache == nil {
		return &MetaCacheGCJob{cancel: cancel}, nil
	}

	go func() {
		ticker := time.NewTicker(metaCacheGCInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metaHandle.RunGC()
			case <-ctx.Done():
				return
			}
		}
	}()

	return &MetaCacheGCJob{cancel: cancel}, nil
}
