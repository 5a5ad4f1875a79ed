package security

import (
	"sync"
	"time"

	"github.com/go-chi/httprate"
)

// RateStore is the counter backend for per-webhook rate limiting. The
// httprate local counter satisfies it; tests substitute an in-memory fake.
type RateStore interface {
	Increment(key string, currentWindow time.Time) error
	Get(key string, currentWindow, previousWindow time.Time) (int, int, error)
}

// RateGate enforces a fixed 60-second window limit per key. The counter
// store and the clock are injected; increment-and-check runs under a single
// lock so concurrent bursts cannot slip past the limit.
type RateGate struct {
	mu     sync.Mutex
	store  RateStore
	window time.Duration
	now    func() time.Time
}

// NewRateGate creates a rate gate over the given store. A nil store gets an
// httprate local counter; a nil clock gets time.Now.
func NewRateGate(store RateStore, clock func() time.Time) *RateGate {
	if store == nil {
		store = httprate.NewLocalLimitCounter(time.Minute)
	}
	if clock == nil {
		clock = time.Now
	}
	return &RateGate{
		store:  store,
		window: time.Minute,
		now:    clock,
	}
}

// Allow records one request against the key and reports whether it fits
// inside the limit for the current window. The count is incremented even
// when the request is later denied on auth, so failed calls still consume
// quota.
func (g *RateGate) Allow(key string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	currentWindow := now.Truncate(g.window)
	previousWindow := currentWindow.Add(-g.window)

	count, _, err := g.store.Get(key, currentWindow, previousWindow)
	if err != nil {
		return false, err
	}
	if count >= limit {
		return false, nil
	}
	if err := g.store.Increment(key, currentWindow); err != nil {
		return false, err
	}
	return true, nil
}
