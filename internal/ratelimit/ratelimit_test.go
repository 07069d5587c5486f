package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter := New(NewMemoryStore(), DefaultMax, DefaultWindow)
	limiter.Clock = clock.Now
	return limiter, clock
}

func TestAdmitWithinQuota(t *testing.T) {
	limiter, clock := newTestLimiter(t)
	ctx := context.Background()
	windowEnd := clock.Now().Add(DefaultWindow)

	for i := 1; i <= DefaultMax; i++ {
		decision, err := limiter.Admit(ctx, "203.0.113.7")
		require.NoError(t, err)
		require.True(t, decision.Allowed, "request %d should be admitted", i)
		require.Equal(t, DefaultMax, decision.Limit)
		require.Equal(t, DefaultMax-i, decision.Remaining)
		require.Equal(t, windowEnd, decision.ResetAt)
		clock.Advance(time.Second)
	}
}

func TestAdmitRejectsSixthRequest(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < DefaultMax; i++ {
		decision, err := limiter.Admit(ctx, "203.0.113.7")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := limiter.Admit(ctx, "203.0.113.7")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, 0, decision.Remaining)
}

func TestAdmitKeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < DefaultMax+2; i++ {
		_, err := limiter.Admit(ctx, "198.51.100.1")
		require.NoError(t, err)
	}

	decision, err := limiter.Admit(ctx, "198.51.100.2")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestAdmitResetsAfterWindow(t *testing.T) {
	limiter, clock := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < DefaultMax; i++ {
		_, err := limiter.Admit(ctx, "203.0.113.7")
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	decision, err := limiter.Admit(ctx, "203.0.113.7")
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	// Window opened at t0; t0+10m is the first instant of the next window.
	clock.Advance(DefaultWindow - 5*time.Minute)

	for i := 0; i < DefaultMax; i++ {
		decision, err = limiter.Admit(ctx, "203.0.113.7")
		require.NoError(t, err)
		require.True(t, decision.Allowed, "request %d after reset should be admitted", i+1)
	}
}

func TestAdmitFixedWindowNotSliding(t *testing.T) {
	limiter, clock := newTestLimiter(t)
	ctx := context.Background()

	_, err := limiter.Admit(ctx, "k")
	require.NoError(t, err)

	clock.Advance(DefaultWindow - time.Second)
	for i := 0; i < DefaultMax-1; i++ {
		decision, err := limiter.Admit(ctx, "k")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := limiter.Admit(ctx, "k")
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	clock.Advance(time.Second)
	decision, err = limiter.Admit(ctx, "k")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, DefaultMax-1, decision.Remaining)
}

func TestAdmitConcurrentAtQuotaBoundary(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Admit(ctx, "203.0.113.7")
			if err == nil && decision.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(DefaultMax), admitted.Load())
}

// stallingStore blocks reads of one key until release is closed.
type stallingStore struct {
	*MemoryStore
	key     string
	entered chan struct{}
	release chan struct{}
}

func (s *stallingStore) GetRateLimit(ctx context.Context, key string) (*State, error) {
	if key == s.key {
		close(s.entered)
		<-s.release
	}
	return s.MemoryStore.GetRateLimit(ctx, key)
}

func TestAdmitSlowKeyDoesNotBlockOthers(t *testing.T) {
	store := &stallingStore{
		MemoryStore: NewMemoryStore(),
		key:         "198.51.100.1",
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	limiter := New(store, DefaultMax, DefaultWindow)
	ctx := context.Background()

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		_, _ = limiter.Admit(ctx, store.key)
	}()
	<-store.entered

	fastDone := make(chan Decision, 1)
	go func() {
		decision, _ := limiter.Admit(ctx, "198.51.100.2")
		fastDone <- decision
	}()

	select {
	case decision := <-fastDone:
		require.True(t, decision.Allowed)
	case <-time.After(2 * time.Second):
		close(store.release)
		t.Fatal("admission for an unrelated key waited on a stalled key")
	}

	close(store.release)
	<-slowDone

	limiter.keysMu.Lock()
	defer limiter.keysMu.Unlock()
	require.Empty(t, limiter.keys)
}

type failingStore struct{}

func (failingStore) GetRateLimit(context.Context, string) (*State, error) {
	return nil, errors.New("store down")
}

func (failingStore) UpdateRateLimit(context.Context, string, *State) error {
	return errors.New("store down")
}

func TestAdmitFailsOpenOnStoreError(t *testing.T) {
	limiter := New(failingStore{}, 1, time.Minute)

	decision, err := limiter.Admit(context.Background(), "k")
	require.Error(t, err)
	require.True(t, decision.Allowed)
}

func TestNilLimiterAdmits(t *testing.T) {
	var limiter *Limiter
	decision, err := limiter.Admit(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestSweepDropsExpiredWindows(t *testing.T) {
	limiter, clock := newTestLimiter(t)
	store := limiter.Store.(*MemoryStore)
	ctx := context.Background()

	_, err := limiter.Admit(ctx, "old")
	require.NoError(t, err)
	clock.Advance(DefaultWindow / 2)
	_, err = limiter.Admit(ctx, "new")
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	clock.Advance(DefaultWindow / 2)
	removed, err := limiter.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
	require.Equal(t, 1, store.Len())
}

func TestLimitsFallBackToDefaults(t *testing.T) {
	limiter := New(nil, 0, 0)
	limit, window := limiter.limits()
	require.Equal(t, DefaultMax, limit)
	require.Equal(t, DefaultWindow, window)
}
