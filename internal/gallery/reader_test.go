package gallery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facesync/internal/feed"
	"facesync/internal/models"
	"facesync/internal/repository"
	"facesync/internal/session"
)

type memoryStore struct {
	mu      sync.Mutex
	records []models.ImageRecord
	err     error
	during  func()
}

func (s *memoryStore) ListByUser(_ context.Context, userID string, opts repository.ListOptions) ([]models.ImageRecord, error) {
	s.mu.Lock()
	during := s.during
	s.mu.Unlock()
	if during != nil {
		during()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	var out []models.ImageRecord
	for _, r := range s.records {
		if r.UserID != userID {
			continue
		}
		if opts.After != nil && !opts.After.After(r) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *memoryStore) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func seed(userID string, n int) []models.ImageRecord {
	base := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	out := make([]models.ImageRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.ImageRecord{
			ID:         fmt.Sprintf("%s-%02d", userID, i),
			UserID:     userID,
			ImageURL:   fmt.Sprintf("https://x/%s/%d.jpg", userID, i),
			Kind:       models.ImageKindOriginal,
			UploadedAt: base.Add(time.Duration(i/2) * time.Minute),
		})
	}
	return out
}

type fixture struct {
	sess   *session.Session
	store  *memoryStore
	hub    *feed.Hub
	reader *Reader
}

func newFixture(t *testing.T, userID string, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		sess:  session.New(userID),
		store: &memoryStore{},
		hub:   feed.NewHub(),
	}
	f.reader = NewReader(f.sess, f.store, f.hub, opts, zerolog.Nop())
	t.Cleanup(f.reader.Close)
	return f
}

func TestOpenWithoutRecordsPagesEmpty(t *testing.T) {
	f := newFixture(t, "u1", Options{})
	v, err := f.reader.Open(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, StateLoading, v.State())

	page, err := v.Page(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, page)
	assert.Empty(t, page)
	assert.Equal(t, StateReady, v.State())
	assert.Equal(t, 1, f.hub.Subscribers("u1"))
}

func TestOpenRequiresSignedInIdentity(t *testing.T) {
	f := newFixture(t, "u1", Options{})

	_, err := f.reader.Open(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrAuth)

	_, err = f.reader.Open(context.Background(), "u2")
	assert.ErrorIs(t, err, models.ErrAuth)
	assert.Zero(t, f.hub.Subscribers("u2"))
}

func TestPageOrderIsStable(t *testing.T) {
	f := newFixture(t, "u1", Options{})
	f.store.records = seed("u1", 9)

	split, err := f.reader.Open(context.Background(), "u1")
	require.NoError(t, err)
	first, err := split.Page(context.Background(), 4)
	require.NoError(t, err)
	second, err := split.Page(context.Background(), 5)
	require.NoError(t, err)

	whole, err := f.reader.Open(context.Background(), "u1")
	require.NoError(t, err)
	all, err := whole.Page(context.Background(), 9)
	require.NoError(t, err)

	assert.Equal(t, ids(all), append(ids(first), ids(second)...))
	assert.Equal(t, ids(all), ids(split.Records()))

	rest, err := split.Page(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Len(t, split.Records(), 9)
}

func TestPageClampsLimit(t *testing.T) {
	f := newFixture(t, "u1", Options{DefaultPageSize: 2, MaxPageSize: 3})
	f.store.records = seed("u1", 10)

	v, err := f.reader.Open(context.Background(), "u1")
	require.NoError(t, err)

	page, err := v.Page(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	page, err = v.Page(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, page, 3)
}

func TestScopeIsolation(t *testing.T) {
	f := newFixture(t, "u2", Options{})
	f.store.records = append(seed("u1", 3), seed("u2", 2)...)

	v, err := f.reader.Open(context.Background(), "u2")
	require.NoError(t, err)
	page, err := v.Page(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	for _, r := range page {
		assert.Equal(t, "u2", r.UserID)
	}

	foreign := rec("foreign")
	foreign.UserID = "u1"
	marker := rec("marker")
	marker.UserID = "u2"
	require.NoError(t, f.hub.Publish(context.Background(), "u1", []models.ImageRecord{rec("other-scope")}))
	require.NoError(t, f.hub.Publish(context.Background(), "u2", []models.ImageRecord{foreign}))
	require.NoError(t, f.hub.Publish(context.Background(), "u2", []models.ImageRecord{marker}))

	require.Eventually(t, func() bool { return len(v.Records()) == 3 }, time.Second, 5*time.Millisecond)
	for _, r := range v.Records() {
		assert.Equal(t, "u2", r.UserID)
	}
}

func TestLiveUpdatesMergeWithoutDuplicates(t *testing.T) {
	f := newFixture(t, "u1", Options{})
	f.store.records = seed("u1", 4)

	v, err := f.reader.Open(context.Background(), "u1")
	require.NoError(t, err)
	_, err = v.Page(context.Background(), 2)
	require.NoError(t, err)
	held := v.Records()
	require.Len(t, held, 2)

	fresh := rec("u1-fresh")
	snapshot := []models.ImageRecord{held[1], fresh}
	require.NoError(t, f.hub.Publish(context.Background(), "u1", snapshot))
	require.Eventually(t, func() bool { return len(v.Records()) == 3 }, time.Second, 5*time.Millisecond)
	once := v.Records()
	assert.Equal(t, []string{held[0].ID, held[1].ID, fresh.ID}, ids(once))

	// replaying the snapshot changes nothing; the marker proves it was applied
	marker := rec("u1-marker")
	require.NoError(t, f.hub.Publish(context.Background(), "u1", snapshot))
	require.NoError(t, f.hub.Publish(context.Background(), "u1", []models.ImageRecord{marker}))
	require.Eventually(t, func() bool { return len(v.Records()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, append(ids(once), marker.ID), ids(v.Records()))

	// paging past records already delivered live keeps one row per id
	_, err = v.Page(context.Background(), 10)
	require.NoError(t, err)
	seen := map[string]int{}
	for _, r := range v.Records() {
		seen[r.ID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
	assert.Len(t, seen, 6)
}

func TestIdentityChangeUnbindsView(t *testing.T) {
	f := newFixture(t, "u1", Options{})
	f.store.records = append(seed("u1", 3), seed("u2", 1)...)

	v, err := f.reader.Open(context.Background(), "u1")
	require.NoError(t, err)
	_, err = v.Page(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, StateReady, v.State())

	f.sess.SignIn("u2")

	assert.Equal(t, StateUnbound, v.State())
	assert.Empty(t, v.Records())
	assert.Zero(t, f.hub.Subscribers("u1"))
	assert.Zero(t, f.reader.Views())
	_, err = v.Page(context.Background(), 10)
	assert.ErrorIs(t, err, ErrViewUnbound)

	_, err = f.reader.Open(context.Background(), "u1")
	assert.ErrorIs(t, err, models.ErrAuth)

	fresh, err := f.reader.Open(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, StateLoading, fresh.State())
	assert.Empty(t, fresh.Records())
	page, err := fresh.Page(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2-00"}, ids(page))
}

func TestFetchFailureKeepsRecords(t *testing.T) {
	f := newFixture(t, "u1", Options{})
	f.store.records = seed("u1", 4)

	v, err := f.reader.Open(context.Background(), "u1")
	require.NoError(t, err)
	_, err = v.Page(context.Background(), 2)
	require.NoError(t, err)

	f.store.fail(errors.New("connection refused"))
	_, err = v.Page(context.Background(), 2)
	assert.ErrorIs(t, err, models.ErrRead)
	assert.Len(t, v.Records(), 2)
	assert.Equal(t, StateReady, v.State())

	f.store.fail(nil)
	page, err := v.Page(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Len(t, v.Records(), 4)
}

func TestInitialFetchFailureStaysLoading(t *testing.T) {
	f := newFixture(t, "u1", Options{})
	f.store.fail(errors.New("timeout"))

	v, err := f.reader.Open(context.Background(), "u1")
	require.NoError(t, err)
	_, err = v.Page(context.Background(), 2)
	assert.ErrorIs(t, err, models.ErrRead)
	assert.Equal(t, StateLoading, v.State())
}

func TestLateFetchResultIsDiscarded(t *testing.T) {
	f := newFixture(t, "u1", Options{})
	f.store.records = seed("u1", 3)
	f.store.during = func() { f.sess.SignOut() }

	v, err := f.reader.Open(context.Background(), "u1")
	require.NoError(t, err)

	_, err = v.Page(context.Background(), 10)
	assert.ErrorIs(t, err, ErrViewUnbound)
	assert.Empty(t, v.Records())
	assert.Equal(t, StateUnbound, v.State())
}

func TestCloseTearsDownSubscription(t *testing.T) {
	f := newFixture(t, "u1", Options{})
	v, err := f.reader.Open(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 1, f.hub.Subscribers("u1"))

	require.NoError(t, v.Close())
	require.NoError(t, v.Close())
	assert.Zero(t, f.hub.Subscribers("u1"))
	assert.Equal(t, StateUnbound, v.State())
}

func TestRegistryClosesIdleViews(t *testing.T) {
	registry := NewRegistry()
	f := newFixture(t, "u1", Options{Registry: registry})

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	f.reader.now = func() time.Time { return now }

	idle, err := f.reader.Open(context.Background(), "u1")
	require.NoError(t, err)
	now = now.Add(10 * time.Minute)
	busy, err := f.reader.Open(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 2, registry.Len())

	closed := registry.CloseIdle(now.Add(-5 * time.Minute))
	assert.Equal(t, 1, closed)
	assert.Equal(t, StateUnbound, idle.State())
	assert.Equal(t, StateLoading, busy.State())
	assert.Equal(t, 1, registry.Len())
	assert.Equal(t, 1, f.hub.Subscribers("u1"))
}

func TestRegistryCloseAll(t *testing.T) {
	registry := NewRegistry()
	f := newFixture(t, "u1", Options{Registry: registry})

	a, err := f.reader.Open(context.Background(), "u1")
	require.NoError(t, err)
	b, err := f.reader.Open(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, 2, registry.CloseAll())
	assert.Equal(t, StateUnbound, a.State())
	assert.Equal(t, StateUnbound, b.State())
	assert.Zero(t, registry.Len())
	assert.Zero(t, f.hub.Subscribers("u1"))
	assert.Zero(t, registry.CloseAll())
}
