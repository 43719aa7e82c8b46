package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/audiocache/internal/domain"
	domainerrors "github.com/listenupapp/audiocache/internal/errors"
	"github.com/listenupapp/audiocache/internal/logger"
	"github.com/listenupapp/audiocache/internal/probe"
)

type recordingProber struct {
	location string
	meta     domain.SourceMetadata
	err      error
}

func (p *recordingProber) Probe(_ context.Context, location string) (domain.SourceMetadata, error) {
	p.location = location
	return p.meta, p.err
}

func newTestHandler(t *testing.T, prober Prober, fn http.HandlerFunc) (*Handler, string) {
	t.Helper()
	server := httptest.NewServer(fn)
	t.Cleanup(server.Close)

	h := New(server.URL, "123:secret", prober, logger.Discard())
	h.http = server.Client()
	t.Cleanup(h.Close)
	return h, server.URL
}

func okFile(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/bot123:secret/getFile" || r.URL.Query().Get("file_id") != "AgAD-42" {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte(`{"ok":true,"result":{"file_id":"AgAD-42","file_unique_id":"u1","file_size":4096,"file_path":"music/file_7.mp3"}}`))
}

func TestHandler_Matches(t *testing.T) {
	h := New("", "t", &recordingProber{}, logger.Discard())
	defer h.Close()

	assert.True(t, h.Matches("tg:AgAD-42"))
	assert.False(t, h.Matches("yt:dQw4w9WgXcQ"))
	assert.False(t, h.Matches("https://t.me/c/1"))
	assert.Equal(t, HandlerName, h.Name())
}

func TestHandler_Fetch(t *testing.T) {
	h, base := newTestHandler(t, &recordingProber{}, okFile)

	loc, err := h.Fetch(context.Background(), "tg:AgAD-42")
	require.NoError(t, err)
	assert.Equal(t, base+"/file/bot123:secret/music/file_7.mp3", loc)
}

func TestHandler_MetadataProbesDownloadURL(t *testing.T) {
	prober := &recordingProber{meta: domain.SourceMetadata{Title: domain.Ptr("Voice"), Duration: domain.Ptr(8)}}
	h, base := newTestHandler(t, prober, okFile)

	meta, err := h.Metadata(context.Background(), "tg:AgAD-42")
	require.NoError(t, err)

	assert.Equal(t, base+"/file/bot123:secret/music/file_7.mp3", prober.location)
	assert.Equal(t, "Voice", meta.TitleOrEmpty())
	require.NotNil(t, meta.Size)
	assert.Equal(t, int64(4096), *meta.Size)
}

func TestHandler_ProbedSizeWins(t *testing.T) {
	prober := &recordingProber{meta: domain.SourceMetadata{Size: domain.Ptr(int64(10))}}
	h, _ := newTestHandler(t, prober, okFile)

	meta, err := h.Metadata(context.Background(), "tg:AgAD-42")
	require.NoError(t, err)
	assert.Equal(t, int64(10), *meta.Size)
}

func TestHandler_ProbeErrorPropagates(t *testing.T) {
	boom := errors.New("probe failed")
	h, _ := newTestHandler(t, &recordingProber{err: boom}, okFile)

	_, err := h.Metadata(context.Background(), "tg:AgAD-42")
	assert.ErrorIs(t, err, boom)
}

func TestHandler_APIErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode domainerrors.Code
	}{
		{"wrong file id", `{"ok":false,"error_code":400,"description":"Bad Request: invalid file_id"}`, domainerrors.CodeValidation},
		{"too big", `{"ok":false,"error_code":400,"description":"Bad Request: file is too big"}`, domainerrors.CodeValidation},
		{"flood wait", `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 3"}`, domainerrors.CodeTransient},
		{"server", `{"ok":false,"error_code":502,"description":"Bad Gateway"}`, domainerrors.CodeTransient},
		{"not json", `<html>`, domainerrors.CodeTransient},
		{"no path", `{"ok":true,"result":{"file_id":"AgAD-42"}}`, domainerrors.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, &recordingProber{}, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := h.Fetch(context.Background(), "tg:AgAD-42")
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domainerrors.CodeOf(err))
			assert.NotContains(t, err.Error(), "secret")
		})
	}
}

func TestHandler_EmptyFileID(t *testing.T) {
	h := New("", "t", &recordingProber{}, logger.Discard())
	defer h.Close()

	_, err := h.Fetch(context.Background(), "tg:")
	assert.ErrorIs(t, err, ErrInvalidFileID)
	assert.True(t, domainerrors.IsValidation(err))
}

func TestHandler_ProbeFailureHidesToken(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a POSIX shell")
	}
	bin := filepath.Join(t.TempDir(), "ffprobe")
	script := "#!/bin/sh\nfor a; do last=$a; done\necho \"$last: Server returned 404 Not Found\" >&2\nexit 1\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755)) //nolint:gosec // test stub must be executable

	prober, err := probe.New(bin, time.Second, logger.Discard())
	require.NoError(t, err)
	h, _ := newTestHandler(t, prober, okFile)

	_, err = h.Metadata(context.Background(), "tg:AgAD-42")
	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrTransient)
	assert.NotContains(t, err.Error(), "123:secret")
	assert.Contains(t, err.Error(), "Server returned 404 Not Found")
}
