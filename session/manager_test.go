package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/cursorbridge/storage"
)

type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("sess-%d", n)
	}
}

func newTestManager(t *testing.T, store storage.Store) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return NewManager(store, WithClock(clock.Now), WithIDGenerator(sequentialIDs())), clock
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m, clock := newTestManager(t, store)

	s, err := m.CreateSession(ctx, Options{Cwd: "/repo"})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", s.ID)
	assert.Equal(t, ModeDefault, s.Mode)
	assert.Equal(t, clock.Now(), s.CreatedAt)

	got, err := m.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	rec, err := store.Load(ctx, s.ID)
	require.NoError(t, err, "session is persisted on create")
	assert.Equal(t, "/repo", rec.Cwd)
	assert.Equal(t, "default", rec.Mode)
}

func TestCreateWithUUIDs(t *testing.T) {
	m := NewManager(storage.NewMemoryStore())
	a, err := m.CreateSession(context.Background(), Options{})
	require.NoError(t, err)
	b, err := m.CreateSession(context.Background(), Options{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, a.ID, 36)
}

func TestCreateRejectsInvalidMode(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemoryStore())
	_, err := m.CreateSession(context.Background(), Options{Mode: "yolo"})
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestUnknownSession(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, storage.NewMemoryStore())

	_, err := m.GetSession("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.UpdateSession(ctx, "missing", Patch{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.DeleteSession(ctx, "missing"), ErrSessionNotFound)
	assert.ErrorIs(t, m.MarkCancelled("missing"), ErrSessionNotFound)
	_, err = m.SetResumeID("missing", "x")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, m.IsCancelled("missing"))
	assert.False(t, m.CanResume("missing"))
}

func TestUpdateSession(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m, clock := newTestManager(t, store)
	s, err := m.CreateSession(ctx, Options{})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	plan := ModePlan
	cwd := "/elsewhere"
	updated, err := m.UpdateSession(ctx, s.ID, Patch{Mode: &plan, Cwd: &cwd})
	require.NoError(t, err)
	assert.Equal(t, ModePlan, updated.Mode)
	assert.Equal(t, "/elsewhere", updated.Cwd)
	assert.Equal(t, s.CreatedAt, updated.CreatedAt)
	assert.Equal(t, clock.Now(), updated.LastActivity)

	rec, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "plan", rec.Mode)

	clock.Advance(time.Minute)
	touched, err := m.UpdateSession(ctx, s.ID, Patch{})
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), touched.LastActivity, "empty patch still refreshes activity")
}

func TestUpdateRejectsInvalidMode(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, storage.NewMemoryStore())
	s, err := m.CreateSession(ctx, Options{})
	require.NoError(t, err)

	bad := Mode("turbo")
	_, err = m.UpdateSession(ctx, s.ID, Patch{Mode: &bad})
	assert.ErrorIs(t, err, ErrInvalidMode)

	got, err := m.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, ModeDefault, got.Mode)
}

type failingStore struct {
	*storage.MemoryStore
	failSave bool
}

func (f *failingStore) Save(ctx context.Context, r *storage.Record) error {
	if f.failSave {
		return errors.New("disk full")
	}
	return f.MemoryStore.Save(ctx, r)
}

func TestUpdateKeepsMemoryOnStorageFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: storage.NewMemoryStore()}
	m, _ := newTestManager(t, store)
	s, err := m.CreateSession(ctx, Options{})
	require.NoError(t, err)

	store.failSave = true
	plan := ModePlan
	_, err = m.UpdateSession(ctx, s.ID, Patch{Mode: &plan})
	require.Error(t, err)

	got, err := m.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, ModeDefault, got.Mode)
}

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m, _ := newTestManager(t, store)
	s, err := m.CreateSession(ctx, Options{})
	require.NoError(t, err)

	require.NoError(t, m.DeleteSession(ctx, s.ID))
	_, err = m.GetSession(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Load(ctx, s.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCancellationFlag(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemoryStore())
	s, err := m.CreateSession(context.Background(), Options{})
	require.NoError(t, err)

	assert.False(t, m.IsCancelled(s.ID))
	require.NoError(t, m.MarkCancelled(s.ID))
	assert.True(t, m.IsCancelled(s.ID))
	require.NoError(t, m.ClearCancelled(s.ID))
	assert.False(t, m.IsCancelled(s.ID))
}

func TestResumeIDFirstWriteWins(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemoryStore())
	s, err := m.CreateSession(context.Background(), Options{})
	require.NoError(t, err)

	assert.False(t, m.CanResume(s.ID))

	set, err := m.SetResumeID(s.ID, "")
	require.NoError(t, err)
	assert.False(t, set, "empty token is ignored")

	set, err = m.SetResumeID(s.ID, "first")
	require.NoError(t, err)
	assert.True(t, set)

	set, err = m.SetResumeID(s.ID, "second")
	require.NoError(t, err)
	assert.False(t, set)

	assert.Equal(t, "first", m.ResumeID(s.ID))
	assert.True(t, m.CanResume(s.ID))
}

func TestInitializeResetsCancelled(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, &storage.Record{
		ID: "persisted", Mode: "plan", ResumeID: "tok", Cancelled: true,
		CreatedAt: now, LastActivity: now,
	}))
	require.NoError(t, store.Save(ctx, &storage.Record{
		ID: "weird-mode", Mode: "unknown", CreatedAt: now, LastActivity: now,
	}))

	m, _ := newTestManager(t, store)
	require.NoError(t, m.Initialize(ctx))

	got, err := m.GetSession("persisted")
	require.NoError(t, err)
	assert.False(t, got.Cancelled)
	assert.Equal(t, ModePlan, got.Mode)
	assert.Equal(t, "tok", got.ResumeID)
	assert.True(t, m.CanResume("persisted"))

	weird, err := m.GetSession("weird-mode")
	require.NoError(t, err)
	assert.Equal(t, ModeDefault, weird.Mode)
}

func TestCleanupStale(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m, clock := newTestManager(t, store)

	old, err := m.CreateSession(ctx, Options{})
	require.NoError(t, err)
	clock.Advance(10 * 24 * time.Hour)
	fresh, err := m.CreateSession(ctx, Options{})
	require.NoError(t, err)

	// A record only in storage, never loaded.
	require.NoError(t, store.Save(ctx, &storage.Record{ID: "orphan", Mode: "default", LastActivity: clock.Now().Add(-30 * 24 * time.Hour)}))

	removed, err := m.CleanupStale(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan", old.ID}, removed)

	_, err = m.GetSession(old.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.GetSession(fresh.ID)
	assert.NoError(t, err)
	_, err = store.Load(ctx, old.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t, storage.NewMemoryStore())

	a, _ := m.CreateSession(ctx, Options{})
	clock.Advance(time.Second)
	b, _ := m.CreateSession(ctx, Options{})
	clock.Advance(time.Second)
	_, err := m.UpdateSession(ctx, a.ID, Patch{})
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
}

func TestConcurrentSessionsDoNotInterfere(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemoryStore())

	const n = 16
	ids := make([]string, n)
	for i := range ids {
		s, err := m.CreateSession(ctx, Options{})
		require.NoError(t, err)
		ids[i] = s.ID
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = m.UpdateSession(ctx, id, Patch{})
				_ = m.MarkCancelled(id)
			}
			_, _ = m.SetResumeID(id, fmt.Sprintf("tok-%d", i))
		}(i, id)
	}
	wg.Wait()

	for i, id := range ids {
		assert.True(t, m.IsCancelled(id))
		assert.Equal(t, fmt.Sprintf("tok-%d", i), m.ResumeID(id))
	}
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDefault, mode)

	mode, err = ParseMode("plan")
	require.NoError(t, err)
	assert.Equal(t, ModePlan, mode)

	_, err = ParseMode("ask")
	assert.ErrorIs(t, err, ErrInvalidMode)
}
