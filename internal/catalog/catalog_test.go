package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/audiocache/internal/cachedir"
	"github.com/listenupapp/audiocache/internal/domain"
	domainerrors "github.com/listenupapp/audiocache/internal/errors"
	"github.com/listenupapp/audiocache/internal/logger"
	"github.com/listenupapp/audiocache/internal/metacache"
	"github.com/listenupapp/audiocache/internal/retry"
	"github.com/listenupapp/audiocache/internal/search"
	"github.com/listenupapp/audiocache/internal/store"
	"github.com/listenupapp/audiocache/internal/store/sqlite"
	"github.com/listenupapp/audiocache/internal/workpool"
)

// fakeResolver serves canned metadata and counts calls per source.
type fakeResolver struct {
	mu       sync.Mutex
	meta     map[string]domain.SourceMetadata
	metaErrs []error // returned in order before meta is consulted
	fetchErr error
	calls    map[string]int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{meta: map[string]domain.SourceMetadata{}, calls: map[string]int{}}
}

func (r *fakeResolver) ResolveFetchLocation(_ context.Context, source string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchErr != nil {
		return "", r.fetchErr
	}
	return "fetch:" + source, nil
}

func (r *fakeResolver) ResolveMetadata(_ context.Context, source string) (domain.SourceMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[source]++
	if len(r.metaErrs) > 0 {
		err := r.metaErrs[0]
		r.metaErrs = r.metaErrs[1:]
		return domain.SourceMetadata{}, err
	}
	return r.meta[source], nil
}

func (r *fakeResolver) metaCalls(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[source]
}

// fakeTranscoder writes a placeholder cache file and records concurrency.
type fakeTranscoder struct {
	layout  *cachedir.Layout
	delay   time.Duration
	err     error // returned after writing the file when set
	calls   atomic.Int32
	running atomic.Int32
	peak    atomic.Int32
}

func (f *fakeTranscoder) Transcode(_ context.Context, location, fingerprint string, _ int) (string, error) {
	f.calls.Add(1)
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil && !errors.Is(f.err, domainerrors.ErrIntegrity) {
		return "", f.err
	}

	path := f.layout.Path(fingerprint)
	if err := os.WriteFile(path, []byte(location), 0o600); err != nil {
		return "", err
	}
	return path, f.err
}

// fakeProber reports a fixed duration per cache path.
type fakeProber struct {
	mu        sync.Mutex
	durations map[string]int
}

func (p *fakeProber) Duration(_ context.Context, path string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.durations[path]
	if !ok {
		return 0, domainerrors.Transientf("no duration for %s", path)
	}
	return d, nil
}

type recordingRefs struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func (r *recordingRefs) RemoveAudioReferences(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.removed = append(r.removed, id)
	return nil
}

type harness struct {
	catalog    *Catalog
	store      *sqlite.Store
	layout     *cachedir.Layout
	resolver   *fakeResolver
	transcoder *fakeTranscoder
	prober     *fakeProber
	refs       *recordingRefs
	meta       *metacache.Cache
}

func newHarness(t *testing.T, transcodeWorkers int) *harness {
	t.Helper()
	dir := t.TempDir()

	st, err := sqlite.Open(filepath.Join(dir, "catalog.db"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	layout, err := cachedir.New(filepath.Join(dir, "cache"), "ogg")
	require.NoError(t, err)

	index, err := search.NewSearchIndex(search.Options{Logger: logger.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	meta, err := metacache.Open("", time.Hour, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	h := &harness{
		store:      st,
		layout:     layout,
		resolver:   newFakeResolver(),
		transcoder: &fakeTranscoder{layout: layout},
		prober:     &fakeProber{durations: map[string]int{}},
		refs:       &recordingRefs{},
		meta:       meta,
	}

	h.catalog = New(Deps{
		Store:         st,
		Resolver:      h.resolver,
		Transcoder:    h.transcoder,
		Prober:        h.prober,
		Layout:        layout,
		ProbePool:     workpool.New("probe", 2),
		TranscodePool: workpool.New("transcode", transcodeWorkers),
		Index:         index,
		MetaCache:     meta,
		References:    h.refs,
		Logger:        logger.Discard(),
	}, Options{
		MaxDuration:       time.Hour,
		DurationTolerance: 2 * time.Second,
		Retry:             retry.Options{Attempts: 3, Delay: time.Millisecond},
		ReadRetry:         retry.Options{Attempts: 3, Delay: time.Millisecond},
	})
	return h
}

func hints(title, artist string, duration int, size int64) domain.SourceMetadata {
	return domain.SourceMetadata{
		Title:    domain.Ptr(title),
		Artist:   domain.Ptr(artist),
		Duration: domain.Ptr(duration),
		Size:     domain.Ptr(size),
	}
}

func TestAdd_CreatesRecordAndFile(t *testing.T) {
	h := newHarness(t, 1)
	h.resolver.meta["https://example.com/a.mp3"] = domain.SourceMetadata{
		Title:    domain.Ptr(" Song "),
		Artist:   domain.Ptr("Band"),
		Duration: domain.Ptr(200),
	}

	rec, err := h.catalog.Add(context.Background(), "alice", "https://example.com/a.mp3", domain.SourceMetadata{})
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "Song", rec.Title)
	assert.Equal(t, "Band", rec.Artist)
	assert.Equal(t, 200, rec.Duration)
	assert.Equal(t, "alice", rec.Sender)
	assert.Equal(t, domain.Fingerprint("Song", "Band", 200, nil), rec.Fingerprint)

	path, ok := h.catalog.GetFile(rec)
	require.True(t, ok)
	assert.Equal(t, h.layout.Path(rec.Fingerprint), path)

	got, err := h.catalog.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestAdd_IdempotentBySource(t *testing.T) {
	h := newHarness(t, 1)
	src := "https://example.com/a.mp3"
	h.resolver.meta[src] = hints("Song", "", 100, 0)

	first, err := h.catalog.Add(context.Background(), "alice", src, domain.SourceMetadata{})
	require.NoError(t, err)
	second, err := h.catalog.Add(context.Background(), "bob", src, domain.SourceMetadata{})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "alice", second.Sender)
	assert.Equal(t, int32(1), h.transcoder.calls.Load())
	assert.Equal(t, 1, h.resolver.metaCalls(src))
}

func TestAdd_IdempotentByFingerprint(t *testing.T) {
	h := newHarness(t, 1)
	meta := hints("T", "A", 100, 5000)

	first, err := h.catalog.Add(context.Background(), "s1", "sourceA", meta)
	require.NoError(t, err)
	second, err := h.catalog.Add(context.Background(), "s2", "sourceB", meta)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, "sourceA", second.Source)
	assert.Equal(t, int32(1), h.transcoder.calls.Load())
}

func TestAdd_ConcurrentSameFingerprintTranscodesOnce(t *testing.T) {
	h := newHarness(t, 4)
	h.transcoder.delay = 50 * time.Millisecond
	meta := hints("T", "A", 100, 5000)

	const n = 6
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := h.catalog.Add(context.Background(), "s", "source-"+string(rune('a'+i)), meta)
			if assert.NoError(t, err) {
				ids[i] = rec.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, int32(1), h.transcoder.calls.Load())

	count, err := h.store.CountAudio(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAdd_ValidationOrdering(t *testing.T) {
	tests := []struct {
		name     string
		resolved domain.SourceMetadata
		hints    domain.SourceMetadata
		want     *domainerrors.Error
	}{
		{
			name:     "zero duration hint with title is not audio",
			resolved: domain.SourceMetadata{},
			hints:    domain.SourceMetadata{Title: domain.Ptr("Has Title"), Duration: domain.Ptr(0)},
			want:     domainerrors.ErrNotAudio,
		},
		{
			name:     "no duration and no title is not audio",
			resolved: domain.SourceMetadata{Size: domain.Ptr[int64](10)},
			want:     domainerrors.ErrNotAudio,
		},
		{
			name:     "duration without title is missing title",
			resolved: domain.SourceMetadata{Duration: domain.Ptr(30)},
			want:     domainerrors.ErrMissingTitle,
		},
		{
			name:     "blank title is missing title",
			resolved: domain.SourceMetadata{Duration: domain.Ptr(30)},
			hints:    domain.SourceMetadata{Title: domain.Ptr("   ")},
			want:     domainerrors.ErrMissingTitle,
		},
		{
			name:     "over max length",
			resolved: hints("Long", "", 3601, 0),
			want:     domainerrors.ErrTooLong,
		},
		{
			name:     "hint pushes over max length",
			resolved: hints("Long", "", 60, 0),
			hints:    domain.SourceMetadata{Duration: domain.Ptr(7200)},
			want:     domainerrors.ErrTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1)
			h.resolver.meta["src"] = tt.resolved

			_, err := h.catalog.Add(context.Background(), "s", "src", tt.hints)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, domainerrors.IsValidation(err))
			assert.Equal(t, int32(0), h.transcoder.calls.Load())

			count, err := h.store.CountAudio(context.Background())
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestAdd_MaxLengthBoundaryAccepted(t *testing.T) {
	h := newHarness(t, 1)
	h.resolver.meta["src"] = hints("Exactly an hour", "", 3600, 0)

	_, err := h.catalog.Add(context.Background(), "s", "src", domain.SourceMetadata{})
	assert.NoError(t, err)
}

func TestAdd_MissingTitlePromptFlow(t *testing.T) {
	h := newHarness(t, 1)
	h.resolver.meta["src"] = domain.SourceMetadata{Duration: domain.Ptr(90)}

	_, err := h.catalog.Add(context.Background(), "s", "src", domain.SourceMetadata{})
	require.ErrorIs(t, err, domainerrors.ErrMissingTitle)

	rec, err := h.catalog.Add(context.Background(), "s", "src", domain.SourceMetadata{Title: domain.Ptr("Given")})
	require.NoError(t, err)
	assert.Equal(t, "Given", rec.Title)
	assert.Equal(t, 90, rec.Duration)

	// The second attempt reused the memoized metadata.
	assert.Equal(t, 1, h.resolver.metaCalls("src"))
}

func TestAdd_ValidationFromResolverNotRetried(t *testing.T) {
	h := newHarness(t, 1)
	h.resolver.metaErrs = []error{domainerrors.LiveSource("live stream")}

	_, err := h.catalog.Add(context.Background(), "s", "yt:live", domain.SourceMetadata{})
	require.ErrorIs(t, err, domainerrors.ErrLiveSource)
	assert.Equal(t, 1, h.resolver.metaCalls("yt:live"))
}

func TestAdd_TransientResolutionRetried(t *testing.T) {
	h := newHarness(t, 1)
	h.resolver.metaErrs = []error{domainerrors.Transientf("ffprobe failed")}
	h.resolver.meta["src"] = hints("Song", "", 50, 0)

	rec, err := h.catalog.Add(context.Background(), "s", "src", domain.SourceMetadata{})
	require.NoError(t, err)
	assert.Equal(t, "Song", rec.Title)
	assert.Equal(t, 2, h.resolver.metaCalls("src"))
}

func TestAdd_ResolutionExhausted(t *testing.T) {
	h := newHarness(t, 1)
	fail := domainerrors.Transientf("ffprobe failed")
	h.resolver.metaErrs = []error{fail, fail, fail}

	_, err := h.catalog.Add(context.Background(), "s", "src", domain.SourceMetadata{})
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, domainerrors.CodeTransient, domainerrors.CodeOf(err))
	assert.Equal(t, 3, h.resolver.metaCalls("src"))
}

func TestAdd_RollbackOnTranscodeFailure(t *testing.T) {
	h := newHarness(t, 1)
	h.resolver.meta["src"] = hints("Song", "A", 100, 0)
	h.transcoder.err = domainerrors.Transientf("ffmpeg failed")

	_, err := h.catalog.Add(context.Background(), "s", "src", domain.SourceMetadata{})
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, int32(3), h.transcoder.calls.Load())

	fp := domain.Fingerprint("Song", "A", 100, nil)
	_, err = h.store.GetAudioByFingerprint(context.Background(), fp)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.store.GetAudioBySource(context.Background(), "src")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, h.layout.Exists(fp))

	// A later attempt starts clean.
	h.transcoder.err = nil
	rec, err := h.catalog.Add(context.Background(), "s", "src", domain.SourceMetadata{})
	require.NoError(t, err)
	assert.True(t, h.layout.Exists(rec.Fingerprint))
}

func TestAdd_IntegrityFailureRollsBackWithoutRetry(t *testing.T) {
	h := newHarness(t, 1)
	h.resolver.meta["src"] = hints("Song", "", 100, 0)
	h.transcoder.err = domainerrors.Integrityf("duration mismatch")

	_, err := h.catalog.Add(context.Background(), "s", "src", domain.SourceMetadata{})
	require.ErrorIs(t, err, domainerrors.ErrIntegrity)
	assert.NotErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, int32(1), h.transcoder.calls.Load())

	fp := domain.Fingerprint("Song", "", 100, nil)
	assert.False(t, h.layout.Exists(fp), "committed file removed")
	count, err := h.store.CountAudio(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAdd_CancelledCallerDoesNotStopWork(t *testing.T) {
	h := newHarness(t, 1)
	h.resolver.meta["src"] = hints("Song", "", 100, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := h.catalog.Add(ctx, "s", "src", domain.SourceMetadata{})
	require.NoError(t, err)
	assert.True(t, h.layout.Exists(rec.Fingerprint))
}

func TestAdd_EmptySource(t *testing.T) {
	h := newHarness(t, 1)

	_, err := h.catalog.Add(context.Background(), "s", "  ", hints("T", "", 10, 0))
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestAdd_BoundedConcurrency(t *testing.T) {
	const workers = 2
	h := newHarness(t, workers)
	h.transcoder.delay = 20 * time.Millisecond

	const n = 8
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			title := "Song " + string(rune('A'+i))
			_, err := h.catalog.Add(context.Background(), "s", "src-"+title, hints(title, "", 100, 0))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(n), h.transcoder.calls.Load())
	assert.LessOrEqual(t, h.transcoder.peak.Load(), int32(workers))
}

func TestGet_NotFound(t *testing.T) {
	h := newHarness(t, 1)

	_, err := h.catalog.Get(context.Background(), "aud-missing")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestGetFile_MissingFile(t *testing.T) {
	h := newHarness(t, 1)
	h.resolver.meta["src"] = hints("Song", "", 100, 0)

	rec, err := h.catalog.Add(context.Background(), "s", "src", domain.SourceMetadata{})
	require.NoError(t, err)
	require.NoError(t, os.Remove(h.layout.Path(rec.Fingerprint)))

	_, ok := h.catalog.GetFile(rec)
	assert.False(t, ok)
	_, ok = h.catalog.GetFile(nil)
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	h := newHarness(t, 1)
	h.resolver.meta["src"] = hints("Song", "", 100, 0)
	ctx := context.Background()

	rec, err := h.catalog.Add(ctx, "s", "src", domain.SourceMetadata{})
	require.NoError(t, err)

	require.NoError(t, h.catalog.Delete(ctx, rec.ID))

	assert.Equal(t, []string{rec.ID}, h.refs.removed)
	assert.False(t, h.layout.Exists(rec.Fingerprint))
	_, err = h.catalog.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	var found []*domain.AudioRecord
	for r, err := range h.catalog.Search(ctx, domain.SearchFilter{Query: "song"}) {
		require.NoError(t, err)
		found = append(found, r)
	}
	assert.Empty(t, found)

	// Unknown ids are a no-op.
	assert.NoError(t, h.catalog.Delete(ctx, rec.ID))
	assert.Len(t, h.refs.removed, 1)
}

func TestDelete_ReferenceFailureKeepsRecord(t *testing.T) {
	h := newHarness(t, 1)
	h.resolver.meta["src"] = hints("Song", "", 100, 0)
	ctx := context.Background()

	rec, err := h.catalog.Add(ctx, "s", "src", domain.SourceMetadata{})
	require.NoError(t, err)

	h.refs.err = errors.New("playlist store down")
	require.Error(t, h.catalog.Delete(ctx, rec.ID))

	_, err = h.catalog.Get(ctx, rec.ID)
	assert.NoError(t, err)
	assert.True(t, h.layout.Exists(rec.Fingerprint))
}

func collect(t *testing.T, c *Catalog, filter domain.SearchFilter) []string {
	t.Helper()
	var titles []string
	for rec, err := range c.Search(context.Background(), filter) {
		require.NoError(t, err)
		titles = append(titles, rec.Title)
	}
	return titles
}

func TestSearch(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	_, err := h.catalog.Add(ctx, "alice", "s1", hints("Morning Meditation", "Calm", 600, 0))
	require.NoError(t, err)
	_, err = h.catalog.Add(ctx, "bob", "s2", hints("Evening Meditation", "Calm", 1200, 0))
	require.NoError(t, err)
	_, err = h.catalog.Add(ctx, "alice", "s3", hints("Rain Sounds", "", 60, 0))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"Morning Meditation", "Evening Meditation"},
		collect(t, h.catalog, domain.SearchFilter{Query: "meditation"}))
	assert.Equal(t, []string{"Evening Meditation"},
		collect(t, h.catalog, domain.SearchFilter{Query: "meditation", Sender: "bob"}))
	assert.ElementsMatch(t, []string{"Morning Meditation", "Rain Sounds"},
		collect(t, h.catalog, domain.SearchFilter{Sender: "alice"}))
	assert.Len(t, collect(t, h.catalog, domain.SearchFilter{}), 3)
}

func TestSearch_StopsEarly(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	for _, title := range []string{"One", "Two", "Three"} {
		_, err := h.catalog.Add(ctx, "s", "src-"+title, hints(title, "", 10, 0))
		require.NoError(t, err)
	}

	seen := 0
	for _, err := range h.catalog.Search(ctx, domain.SearchFilter{}) {
		require.NoError(t, err)
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestRebuildIndex(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	_, err := h.catalog.Add(ctx, "s", "s1", hints("First", "", 10, 0))
	require.NoError(t, err)
	_, err = h.catalog.Add(ctx, "s", "s2", hints("Second", "", 10, 0))
	require.NoError(t, err)

	n, err := h.catalog.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"Second"}, collect(t, h.catalog, domain.SearchFilter{Query: "second"}))
}
