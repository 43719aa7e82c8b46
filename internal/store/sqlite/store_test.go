package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/audiocache/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	s := newTestStore(t)

	var journalMode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var name string
	require.NoError(t, s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='audio'").Scan(&name))

	require.NoError(t, s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_audio_source'").Scan(&name))
	assert.NoError(t, s.Ping())
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	s, err := Open(path, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, logger.Discard())
	require.NoError(t, err, "schema is idempotent")
	assert.NoError(t, s.Close())
}
