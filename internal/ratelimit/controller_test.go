package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a single-process MarkerStore for exercising the controller.
type fakeStore struct {
	mu       sync.Mutex
	blocks   map[string]time.Time
	attempts map[string]map[string]time.Time

	listErr  error
	addErr   error
	blockErr error
	swept    []time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		blocks:   map[string]time.Time{},
		attempts: map[string]map[string]time.Time{},
	}
}

func (s *fakeStore) BlockedUntil(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.blocks[key]
	return until, ok, nil
}

func (s *fakeStore) CreateBlock(_ context.Context, key string, until time.Time, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blockErr != nil {
		return false, s.blockErr
	}
	if _, ok := s.blocks[key]; ok {
		return false, nil
	}
	s.blocks[key] = until
	return true, nil
}

func (s *fakeStore) DeleteBlock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, key)
	return nil
}

func (s *fakeStore) ListAttempts(_ context.Context, key string) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []Attempt
	for name, at := range s.attempts[key] {
		out = append(out, Attempt{Name: name, At: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeStore) AddAttempt(_ context.Context, key string, a Attempt, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return s.addErr
	}
	if s.attempts[key] == nil {
		s.attempts[key] = map[string]time.Time{}
	}
	s.attempts[key][a.Name] = a.At
	return nil
}

func (s *fakeStore) DeleteAttempts(_ context.Context, key string, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		delete(s.attempts[key], n)
	}
	return nil
}

func (s *fakeStore) ClearAttempts(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, key)
	return nil
}

func (s *fakeStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swept = append(s.swept, cutoff)
	removed := 0
	for _, m := range s.attempts {
		for name, at := range m {
			if at.Before(cutoff) {
				delete(m, name)
				removed++
			}
		}
	}
	return removed, nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) attemptCount(identifier string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts[MarkerKey(identifier)])
}

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestController(store MarkerStore, clock *testClock, opts ...Option) *Controller {
	base := []Option{WithClock(clock.Now), WithRandom(func() float64 { return 1 })}
	return NewController(store, append(base, opts...)...)
}

func TestCheckOrBlock_Boundary(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	c := newTestController(store, clock)
	rule := Rule{Allowed: 5, Window: 60 * time.Second, Block: 5 * time.Minute}

	for i := 1; i <= 5; i++ {
		d, err := c.CheckOrBlock(ctx, "203.0.113.7:pageview", rule)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, i, d.Count)
		clock.Advance(time.Second)
	}

	d, err := c.CheckOrBlock(ctx, "203.0.113.7:pageview", rule)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.Blocked)
	assert.Equal(t, rule.Block, d.RetryAfter)
	assert.Equal(t, 0, store.attemptCount("203.0.113.7:pageview"), "block clears attempt markers")

	clock.Advance(2 * time.Minute)
	d, err = c.CheckOrBlock(ctx, "203.0.113.7:pageview", rule)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.False(t, d.Blocked)
	assert.Equal(t, 3*time.Minute, d.RetryAfter)

	clock.Advance(3*time.Minute + time.Second)
	d, err = c.CheckOrBlock(ctx, "203.0.113.7:pageview", rule)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
}

func TestCheckOrBlock_IdentifiersAreIndependent(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	c := newTestController(newFakeStore(), clock)
	rule := Rule{Allowed: 1, Window: time.Minute, Block: time.Minute}

	d, _ := c.CheckOrBlock(ctx, "a:pageview", rule)
	assert.True(t, d.Allowed)
	d, _ = c.CheckOrBlock(ctx, "a:pageview", rule)
	assert.False(t, d.Allowed)

	d, _ = c.CheckOrBlock(ctx, "a:redirect", rule)
	assert.True(t, d.Allowed)
	d, _ = c.CheckOrBlock(ctx, "b:pageview", rule)
	assert.True(t, d.Allowed)
}

func TestCheckOrBlock_StaleMarkersSlideOut(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	c := newTestController(store, clock)
	rule := Rule{Allowed: 3, Window: time.Minute, Block: time.Hour}

	for i := 0; i < 3; i++ {
		d, err := c.CheckOrBlock(ctx, "k", rule)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	clock.Advance(61 * time.Second)
	d, err := c.CheckOrBlock(ctx, "k", rule)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
	assert.Equal(t, 1, store.attemptCount("k"), "stale markers are deleted during the scan")
}

func TestCheckOrBlock_ReadFailureFailsOpen(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("disk on fire")
	c := newTestController(store, &testClock{t: time.Unix(1_700_000_000, 0)})

	d, err := c.CheckOrBlock(context.Background(), "k", Rule{Allowed: 1, Window: time.Minute, Block: time.Minute})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckOrBlock_WriteFailureFailsClosed(t *testing.T) {
	store := newFakeStore()
	store.addErr = errors.New("read-only filesystem")
	c := newTestController(store, &testClock{t: time.Unix(1_700_000_000, 0)})

	d, err := c.CheckOrBlock(context.Background(), "k", Rule{Allowed: 5, Window: time.Minute, Block: time.Minute})
	assert.ErrorIs(t, err, ErrAdmissionUnavailable)
	assert.False(t, d.Allowed)
}

func TestCheckOrBlock_BlockWriteFailureStillRejects(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	c := newTestController(store, clock)
	rule := Rule{Allowed: 1, Window: time.Minute, Block: time.Minute}

	_, err := c.CheckOrBlock(ctx, "k", rule)
	require.NoError(t, err)

	store.blockErr = errors.New("no space left")
	d, err := c.CheckOrBlock(ctx, "k", rule)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.False(t, d.Blocked)
}

type countingRecorder struct{ n int }

func (r *countingRecorder) MarkersSwept(n int) { r.n += n }

func TestCheckOrBlock_ProbabilisticSweep(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	rec := &countingRecorder{}

	old := Attempt{Name: "1.old", At: clock.t.Add(-48 * time.Hour)}
	require.NoError(t, store.AddAttempt(ctx, MarkerKey("idle"), old, time.Minute))

	never := newTestController(store, clock)
	_, err := never.CheckOrBlock(ctx, "k", Rule{Allowed: 5, Window: time.Minute, Block: time.Minute})
	require.NoError(t, err)
	assert.Empty(t, store.swept)

	always := newTestController(store, clock,
		WithRandom(func() float64 { return 0 }),
		WithSweep(0.01, 24*time.Hour),
		WithSweepRecorder(rec))
	_, err = always.CheckOrBlock(ctx, "k", Rule{Allowed: 5, Window: time.Minute, Block: time.Minute})
	require.NoError(t, err)

	require.Len(t, store.swept, 1)
	assert.Equal(t, clock.t.Add(-24*time.Hour), store.swept[0])
	assert.Equal(t, 1, rec.n)
	assert.Equal(t, 0, store.attemptCount("idle"))
}

func TestMarkerKey(t *testing.T) {
	k := MarkerKey("203.0.113.7:pageview")
	assert.Len(t, k, 64)
	assert.Equal(t, k, MarkerKey("203.0.113.7:pageview"))
	assert.NotEqual(t, k, MarkerKey("203.0.113.8:pageview"))
	assert.NotContains(t, k, "203")
}

func TestAttemptNames(t *testing.T) {
	at := time.Unix(1_700_000_000, 123456789)
	a := NewAttempt(at)
	b := NewAttempt(at)
	assert.NotEqual(t, a.Name, b.Name)

	parsed, ok := ParseAttemptName(a.Name)
	require.True(t, ok)
	assert.True(t, at.Equal(parsed))

	for _, bad := range []string{"", "abc", "x.y", "-5.y"} {
		_, ok := ParseAttemptName(bad)
		assert.False(t, ok, bad)
	}
}

func TestDecision_RetryAfterSeconds(t *testing.T) {
	assert.Equal(t, int64(0), Decision{}.RetryAfterSeconds())
	assert.Equal(t, int64(900), Decision{RetryAfter: 15 * time.Minute}.RetryAfterSeconds())
	assert.Equal(t, int64(2), Decision{RetryAfter: 1500 * time.Millisecond}.RetryAfterSeconds())
}
