package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterStore is the injectable per-key limiter map: an explicit store with
// get/set/delete/sweep instead of package-level mutable state.
type limiterStore interface {
	get(key string) (*rate.Limiter, bool)
	set(key string, lim *rate.Limiter)
	delete(key string)
	sweep(maxIdle time.Duration) int
}

type storeEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type mapStore struct {
	mu      sync.Mutex
	entries map[string]*storeEntry
}

func newMapStore() *mapStore {
	return &mapStore{entries: make(map[string]*storeEntry)}
}

func (s *mapStore) get(key string) (*rate.Limiter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	e.lastSeen = time.Now()
	return e.lim, true
}

func (s *mapStore) set(key string, lim *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &storeEntry{lim: lim, lastSeen: time.Now()}
}

func (s *mapStore) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *mapStore) sweep(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	n := 0
	for k, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// MemoryLimiter is the single-process fallback: a token bucket per
// (identity, bucket) key, refilled at limit/window. Used when no Redis is
// configured; it cannot coordinate across replicas.
type MemoryLimiter struct {
	buckets Buckets
	store   limiterStore
}

func NewMemoryLimiter(buckets Buckets) *MemoryLimiter {
	return &MemoryLimiter{buckets: buckets, store: newMapStore()}
}

func (l *MemoryLimiter) Name() string { return "memory" }

func (l *MemoryLimiter) limiterFor(key string, bk Bucket) *rate.Limiter {
	if lim, ok := l.store.get(key); ok {
		return lim
	}
	rps := float64(bk.Limit) / bk.Window.Seconds()
	lim := rate.NewLimiter(rate.Limit(rps), bk.Limit)
	l.store.set(key, lim)
	return lim
}

func (l *MemoryLimiter) Allow(ctx context.Context, identity, bucket string) (Decision, error) {
	bk := l.buckets.get(bucket)
	lim := l.limiterFor(bucket+":"+identity, bk)

	// interval until one token refills; used for the retry hint
	interval := bk.Window / time.Duration(bk.Limit)
	if interval <= 0 {
		interval = time.Second
	}
	if !lim.Allow() {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: interval,
			Reset:      time.Now().Add(interval),
		}, nil
	}
	remaining := int(lim.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, Reset: time.Now().Add(interval)}, nil
}

// Sweep drops limiters idle longer than maxIdle; call it periodically from
// whoever owns the limiter.
func (l *MemoryLimiter) Sweep(maxIdle time.Duration) int {
	return l.store.sweep(maxIdle)
}
