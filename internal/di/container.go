// Package di provides dependency injection configuration for the audio cache service.
package di

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/audiocache/internal/cachedir"
	"github.com/listenupapp/audiocache/internal/catalog"
	"github.com/listenupapp/audiocache/internal/config"
	"github.com/listenupapp/audiocache/internal/di/providers"
	"github.com/listenupapp/audiocache/internal/logger"
	"github.com/listenupapp/audiocache/internal/probe"
	"github.com/listenupapp/audiocache/internal/transcode"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideMetaCache)
	do.Provide(injector, providers.ProvideCacheLayout)
	do.Provide(injector, providers.ProvideSearchIndex)

	// External tools and sources
	do.Provide(injector, providers.ProvideProber)
	do.Provide(injector, providers.ProvideTranscoder)
	do.Provide(injector, providers.ProvidePools)
	do.Provide(injector, providers.ProvideSourceRegistry)

	// Catalog
	do.Provide(injector, providers.ProvideCatalog)

	// Workers
	do.Provide(injector, providers.ProvideSweepJob)
	do.Provide(injector, providers.ProvideCacheWatcher)
	do.Provide(injector, providers.ProvideMetaCacheGCJob)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and returns once the server is listening.
// This triggers lazy initialization of every provider.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)

	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*providers.MetaCacheHandle](injector)
	_ = do.MustInvoke[*cachedir.Layout](injector)
	_ = do.MustInvoke[*providers.SearchIndexHandle](injector)

	if _, err := do.Invoke[*probe.Prober](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*transcode.Transcoder](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*providers.Pools](injector)
	_ = do.MustInvoke[*providers.SourceRegistryHandle](injector)

	_ = do.MustInvoke[*catalog.Catalog](injector)

	// Workers
	_ = do.MustInvoke[*providers.SweepJob](injector)
	_ = do.MustInvoke[*providers.CacheWatcherHandle](injector)
	_ = do.MustInvoke[*providers.MetaCacheGCJob](injector)

	// Server
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	providers.TriggerSearchReindexIfNeeded(injector)

	return nil
}
