package providers

import (
	"os"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/listenupapp/audiocache/internal/config"
	"github.com/listenupapp/audiocache/internal/logger"
	"github.com/listenupapp/audiocache/internal/metacache"
	"github.com/listenupapp/audiocache/internal/store/sqlite"
)

const (
	catalogDBName = "catalog.db"
	metaCacheDir  = "metacache"
)

// StoreHandle wraps the catalog store with shutdown capability.
type StoreHandle struct {
	*sqlite.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the SQLite catalog store.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(cfg.Storage.DataPath, catalogDBName)
	db, err := sqlite.Open(dbPath, log.Component("store"))
	if err != nil {
		return nil, err
	}

	return &StoreHandle{Store: db}, nil
}

// MetaCacheHandle wraps the resolved-metadata cache. Cache is nil when the
// TTL is zero, which disables caching.
type MetaCacheHandle struct {
	*metacache.Cache
}

// Shutdown implements do.Shutdownable.
func (h *MetaCacheHandle) Shutdown() error {
	return h.Close()
}

// ProvideMetaCache provides the badger-backed metadata cache.
func ProvideMetaCache(i do.Injector) (*MetaCacheHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Storage.MetadataCacheTTL <= 0 {
		log.Info("Metadata cache disabled")
		return &MetaCacheHandle{}, nil
	}

	path := filepath.Join(cfg.Storage.DataPath, metaCacheDir)
	cache, err := metacache.Open(path, cfg.Storage.MetadataCacheTTL, log.Component("metacache"))
	if err != nil {
		return nil, err
	}

	log.Info("Metadata cache opened", "path", path, "ttl", cfg.Storage.MetadataCacheTTL, "entries", cache.Len())

	return &MetaCacheHandle{Cache: cache}, nil
}
