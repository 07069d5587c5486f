// Package ratelimit implements the fixed-window admission counter shared by
// every gate route.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultWindow is the length of one counting window per caller.
	DefaultWindow = 10 * time.Minute
	// DefaultMax is the number of requests admitted per caller per window.
	DefaultMax = 5
)

// State captures the counter for a single caller identity.
type State struct {
	RequestCount int
	WindowStart  time.Time
}

// Store stores rate limit state.
type Store interface {
	GetRateLimit(ctx context.Context, key string) (*State, error)
	UpdateRateLimit(ctx context.Context, key string, state *State) error
}

// Pruner is implemented by stores that can drop windows which already ended.
type Pruner interface {
	PruneRateLimits(ctx context.Context, windowEndedBefore time.Time, window time.Duration) (int64, error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter enforces a per-caller fixed window.
//
// The window for a caller opens on its first request and closes Window later;
// the next request after that opens a fresh window. Every attempt counts,
// including rejected ones.
type Limiter struct {
	Store  Store
	Max    int
	Window time.Duration
	Clock  func() time.Time

	// sweepMu is held shared by Admit and exclusively by Sweep.
	sweepMu sync.RWMutex
	keysMu  sync.Mutex
	keys    map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// New returns a limiter backed by store. Non-positive max or window fall back
// to the defaults.
func New(store Store, max int, window time.Duration) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{
		Store:  store,
		Max:    max,
		Window: window,
	}
}

// Admit records an attempt for key and reports whether it is within quota.
//
// The read-modify-write of a key's state happens under that key's lock, so two
// concurrent attempts at the quota boundary can never both be admitted while
// other keys proceed in parallel.
// Store failures fail open: the attempt is admitted and the error returned
// for logging.
func (l *Limiter) Admit(ctx context.Context, key string) (Decision, error) {
	limit, window := l.limits()
	if l == nil || l.Store == nil {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}

	key = strings.TrimSpace(key)

	l.sweepMu.RLock()
	defer l.sweepMu.RUnlock()
	unlock := l.lockKey(key)
	defer unlock()

	now := l.now()
	open := Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now.Add(window)}

	state, err := l.Store.GetRateLimit(ctx, key)
	if err != nil {
		return open, err
	}
	if state == nil || !now.Before(state.WindowStart.Add(window)) {
		state = &State{WindowStart: now}
	}

	state.RequestCount++
	if err := l.Store.UpdateRateLimit(ctx, key, state); err != nil {
		return open, err
	}

	remaining := limit - state.RequestCount
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   state.RequestCount <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   state.WindowStart.Add(window),
	}, nil
}

// Sweep drops state whose window has already ended. It is a no-op when the
// store cannot prune.
func (l *Limiter) Sweep(ctx context.Context) (int64, error) {
	if l == nil || l.Store == nil {
		return 0, nil
	}
	pruner, ok := l.Store.(Pruner)
	if !ok {
		return 0, nil
	}

	_, window := l.limits()

	l.sweepMu.Lock()
	defer l.sweepMu.Unlock()

	return pruner.PruneRateLimits(ctx, l.now(), window)
}

// lockKey acquires the lock for key and returns its release. Entries are
// dropped once no caller holds or waits on them.
func (l *Limiter) lockKey(key string) func() {
	l.keysMu.Lock()
	if l.keys == nil {
		l.keys = make(map[string]*keyLock)
	}
	kl, ok := l.keys[key]
	if !ok {
		kl = &keyLock{}
		l.keys[key] = kl
	}
	kl.refs++
	l.keysMu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()

		l.keysMu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.keys, key)
		}
		l.keysMu.Unlock()
	}
}

func (l *Limiter) limits() (int, time.Duration) {
	limit, window := DefaultMax, DefaultWindow
	if l == nil {
		return limit, window
	}
	if l.Max > 0 {
		limit = l.Max
	}
	if l.Window > 0 {
		window = l.Window
	}
	return limit, window
}

// Now returns the limiter's current time.
func (l *Limiter) Now() time.Time {
	return l.now()
}

func (l *Limiter) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}
