// Package metacache memoizes resolved source metadata in Badger so repeated
// submissions of the same source skip the network and ffprobe.
package metacache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/audiocache/internal/domain"
)

const keyPrefix = "meta:"

// Cache is a TTL-bounded source → SourceMetadata map. A nil *Cache is valid
// and caches nothing.
type Cache struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// Open opens the cache at path. An empty path keeps entries in memory.
func Open(path string, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	opts.CompactL0OnClose = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open metadata cache: %w", err)
	}

	return &Cache{db: db, ttl: ttl, logger: logger}, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns the cached metadata for source, if present and unexpired.
func (c *Cache) Get(source string) (domain.SourceMetadata, bool) {
	var meta domain.SourceMetadata
	if c == nil || c.ttl <= 0 {
		return meta, false
	}

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(source))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("metadata cache read failed", "source", source, "error", err)
		}
		return domain.SourceMetadata{}, false
	}
	return meta, true
}

// Put stores meta for source. Failures are logged and otherwise ignored;
// the cache is an optimization only.
func (c *Cache) Put(source string, meta domain.SourceMetadata) {
	if c == nil || c.ttl <= 0 {
		return
	}

	data, err := json.Marshal(meta)
	if err != nil {
		c.logger.Warn("metadata cache encode failed", "source", source, "error", err)
		return
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key(source), data).WithTTL(c.ttl))
	})
	if err != nil {
		c.logger.Warn("metadata cache write failed", "source", source, "error", err)
	}
}

// Forget drops the entry for source.
func (c *Cache) Forget(source string) {
	if c == nil {
		return
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(source))
	})
	if err != nil {
		c.logger.Warn("metadata cache delete failed", "source", source, "error", err)
	}
}

// Len counts live entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	_ = c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n
}

// RunGC reclaims value log space. Meant to be called periodically.
func (c *Cache) RunGC() {
	if c == nil {
		return
	}
	for c.db.RunValueLogGC(0.5) == nil {
	}
}

func key(source string) []byte {
	return []byte(keyPrefix + source)
}
