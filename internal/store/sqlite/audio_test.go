package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/audiocache/internal/domain"
	"github.com/listenupapp/audiocache/internal/store"
)

func newRecord(id, title, source string) *domain.AudioRecord {
	return &domain.AudioRecord{
		ID:          id,
		Title:       title,
		Artist:      "Artist",
		Duration:    100,
		Sender:      "user-1",
		Source:      source,
		Fingerprint: domain.Fingerprint(title, "Artist", 100, nil),
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
}

func insert(t *testing.T, s *Store, rec *domain.AudioRecord) {
	t.Helper()
	_, inserted, err := s.InsertAudioIfAbsent(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestInsertAudioIfAbsent_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := newRecord("aud-1", "Song", "yt:aaaaaaaaaaa")

	got, inserted, err := s.InsertAudioIfAbsent(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Same(t, rec, got)

	loaded, err := s.GetAudio(ctx, "aud-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Title, loaded.Title)
	assert.Equal(t, rec.Fingerprint, loaded.Fingerprint)
	assert.True(t, rec.CreatedAt.Equal(loaded.CreatedAt))

	bySource, err := s.GetAudioBySource(ctx, "yt:aaaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, "aud-1", bySource.ID)

	byFP, err := s.GetAudioByFingerprint(ctx, rec.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, "aud-1", byFP.ID)
}

func TestInsertAudioIfAbsent_Conflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insert(t, s, newRecord("aud-1", "Song", "src-a"))

	t.Run("same fingerprint different source", func(t *testing.T) {
		got, inserted, err := s.InsertAudioIfAbsent(ctx, newRecord("aud-2", "Song", "src-b"))
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.Equal(t, "aud-1", got.ID)
	})

	t.Run("same source different fingerprint", func(t *testing.T) {
		got, inserted, err := s.InsertAudioIfAbsent(ctx, newRecord("aud-3", "Other", "src-a"))
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.Equal(t, "aud-1", got.ID)
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, _, err := s.InsertAudioIfAbsent(ctx, newRecord("aud-1", "Fresh", "src-c"))
		assert.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	n, err := s.CountAudio(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertAudioIfAbsent_EmptySourcesDoNotCollide(t *testing.T) {
	s := newTestStore(t)
	insert(t, s, newRecord("aud-1", "One", ""))
	insert(t, s, newRecord("aud-2", "Two", ""))

	_, err := s.GetAudioBySource(context.Background(), "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsertAudioIfAbsent_ConcurrentSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		returned = map[string]bool{}
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := newRecord(fmt.Sprintf("aud-%d", i), "Race", fmt.Sprintf("src-%d", i))
			got, inserted, err := s.InsertAudioIfAbsent(ctx, rec)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if inserted {
				winners++
			}
			returned[got.ID] = true
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Len(t, returned, 1, "every caller sees the winning record")
}

func TestInsertAudio_RejectsNonPositiveDuration(t *testing.T) {
	s := newTestStore(t)
	rec := newRecord("aud-1", "Zero", "")
	rec.Duration = 0

	_, _, err := s.InsertAudioIfAbsent(context.Background(), rec)
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestGetAudio_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAudio(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteAudio(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insert(t, s, newRecord("aud-1", "Song", "src"))

	require.NoError(t, s.DeleteAudio(ctx, "aud-1"))
	assert.ErrorIs(t, s.DeleteAudio(ctx, "aud-1"), store.ErrNotFound)

	// The source is free again.
	insert(t, s, newRecord("aud-2", "Song", "src"))
}

func TestGetAudioByIDs_PreservesOrder(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		insert(t, s, newRecord(id, "T-"+id, ""))
	}

	got, err := s.GetAudioByIDs(context.Background(), []string{"c", "missing", "a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	none, err := s.GetAudioByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearchAudio(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	records := []*domain.AudioRecord{
		{ID: "1", Title: "Blue Monday", Artist: "New Order", Duration: 444, Sender: "alice", Fingerprint: "f1", CreatedAt: base},
		{ID: "2", Title: "Blue (Da Ba Dee)", Artist: "Eiffel 65", Duration: 220, Sender: "bob", Fingerprint: "f2", CreatedAt: base.Add(time.Second)},
		{ID: "3", Title: "Ceremony", Artist: "New Order", Duration: 270, Sender: "alice", Fingerprint: "f3", CreatedAt: base.Add(2 * time.Second)},
		{ID: "4", Title: "100%_Pure", Artist: "Someone", Duration: 60, Sender: "bob", Fingerprint: "f4", CreatedAt: base.Add(3 * time.Second)},
	}
	for _, r := range records {
		insert(t, s, r)
	}

	ids := func(recs []*domain.AudioRecord) []string {
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.ID
		}
		return out
	}

	tests := []struct {
		name   string
		filter domain.SearchFilter
		want   []string
	}{
		{"all newest first", domain.SearchFilter{}, []string{"4", "3", "2", "1"}},
		{"query matches title case-insensitively", domain.SearchFilter{Query: "blue"}, []string{"2", "1"}},
		{"query matches artist", domain.SearchFilter{Query: "new order"}, []string{"3", "1"}},
		{"like wildcards are literal", domain.SearchFilter{Query: "%_"}, []string{"4"}},
		{"sender", domain.SearchFilter{Sender: "bob"}, []string{"4", "2"}},
		{"artist exact", domain.SearchFilter{Artist: "new order"}, []string{"3", "1"}},
		{"duration bounds", domain.SearchFilter{MinDuration: 200, MaxDuration: 300}, []string{"3", "2"}},
		{"limit and offset", domain.SearchFilter{Limit: 2, Offset: 1}, []string{"3", "2"}},
		{"combined", domain.SearchFilter{Query: "blue", Sender: "alice"}, []string{"1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.SearchAudio(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestStreamAudio(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"b", "a", "c"} {
		insert(t, s, newRecord(id, "T-"+id, ""))
	}

	var got []string
	for rec, err := range s.StreamAudio(context.Background()) {
		require.NoError(t, err)
		got = append(got, rec.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)

	// Early break is honored.
	count := 0
	for range s.StreamAudio(context.Background()) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}
