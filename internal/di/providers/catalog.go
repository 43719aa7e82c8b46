package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/audiocache/internal/cachedir"
	"github.com/listenupapp/audiocache/internal/catalog"
	"github.com/listenupapp/audiocache/internal/config"
	"github.com/listenupapp/audiocache/internal/logger"
	"github.com/listenupapp/audiocache/internal/probe"
	"github.com/listenupapp/audiocache/internal/retry"
	"github.com/listenupapp/audiocache/internal/transcode"
)

// ProvideCatalog provides the audio catalog.
func ProvideCatalog(i do.Injector) (*catalog.Catalog, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sources := do.MustInvoke[*SourceRegistryHandle](i)
	transcoder := do.MustInvoke[*transcode.Transcoder](i)
	prober := do.MustInvoke[*probe.Prober](i)
	layout := do.MustInvoke[*cachedir.Layout](i)
	pools := do.MustInvoke[*Pools](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	metaHandle := do.MustInvoke[*MetaCacheHandle](i)

	deps := catalog.Deps{
		Store:         storeHandle.Store,
		Resolver:      sources.Registry,
		Transcoder:    transcoder,
		Prober:        prober,
		Layout:        layout,
		ProbePool:     pools.Probe,
		TranscodePool: pools.Transcode,
		Index:         indexHandle.SearchIndex,
		Logger:        log.Component("catalog"),
	}
	if metaHandle.Cache != nil {
		deps.MetaCache = metaHandle.Cache
	}

	cat := catalog.New(deps, catalog.Options{
		MaxDuration:       cfg.Transcode.MaxDuration,
		DurationTolerance: cfg.Transcode.DurationTolerance,
		Retry: retry.Options{
			Attempts: cfg.Retry.Attempts,
			Delay:    cfg.Retry.Delay,
			Grow:     cfg.Retry.Grow,
		},
		ReadRetry: retry.Options{
			Attempts: cfg.Retry.ReadAttempts,
			Delay:    cfg.Retry.ReadDelay,
		},
	})

	return cat, nil
}
