package cachedir

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fp = "0123456789abcdef0123456789abcdef"

func newLayout(t *testing.T) *Layout {
	t.Helper()
	l, err := New(filepath.Join(t.TempDir(), "cache"), ".ogg")
	require.NoError(t, err)
	return l
}

func TestLayout_Paths(t *testing.T) {
	l := newLayout(t)

	assert.Equal(t, "ogg", l.Ext())
	assert.Equal(t, filepath.Join(l.Dir(), fp+".ogg"), l.Path(fp))

	tmp := l.TempPath(fp)
	assert.Equal(t, l.Dir(), filepath.Dir(tmp))
	assert.True(t, strings.HasPrefix(filepath.Base(tmp), "."+fp+"."))
	assert.True(t, strings.HasSuffix(tmp, ".ogg"))
	assert.True(t, l.IsTemp(tmp))
	assert.NotEqual(t, tmp, l.TempPath(fp))
}

func TestLayout_FingerprintOf(t *testing.T) {
	l := newLayout(t)

	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{fp + ".ogg", fp, true},
		{"/some/dir/" + fp + ".ogg", fp, true},
		{fp + ".mp3", "", false},
		{"short.ogg", "", false},
		{"." + fp + ".abc.part.ogg", "", false},
		{SweepLockName, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := l.FingerprintOf(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLayout_ExistsAndRemove(t *testing.T) {
	l := newLayout(t)

	assert.False(t, l.Exists(fp))
	require.NoError(t, os.WriteFile(l.Path(fp), []byte("x"), 0o600))
	assert.True(t, l.Exists(fp))

	require.NoError(t, l.Remove(fp))
	assert.False(t, l.Exists(fp))
	assert.NoError(t, l.Remove(fp), "removing a missing file is a no-op")
}

func TestLayout_RemoveStaleTemps(t *testing.T) {
	l := newLayout(t)

	require.NoError(t, os.WriteFile(l.TempPath(fp), []byte("partial"), 0o600))
	require.NoError(t, os.WriteFile(l.Path(fp), []byte("done"), 0o600))

	n, err := l.RemoveStaleTemps()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, l.Exists(fp))
}

func TestLayout_SweepLock(t *testing.T) {
	l := newLayout(t)

	unlock, err := l.TryLockSweep()
	require.NoError(t, err)

	_, err = l.TryLockSweep()
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock())

	unlock, err = l.TryLockSweep()
	require.NoError(t, err)
	assert.NoError(t, unlock())
}
