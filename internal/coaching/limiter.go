package coaching

import (
	"strings"
	"sync"
	"time"
)

// LimiterStore is the shared state behind the rate limiter. The contract is
// an atomic check-and-set with TTL: Acquire records an emission for key and
// returns true only when no emission newer than ttl exists. In a
// multi-instance deployment this is backed by an external atomic TTL store;
// the in-process implementation below serves a single instance.
type LimiterStore interface {
	Acquire(key string, now time.Time, ttl time.Duration) bool
	ReleasePrefix(prefix string)
}

// MemoryStore is an in-process LimiterStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]time.Time)}
}

// Acquire performs the check-and-set under one lock so two near-simultaneous
// frames cannot both pass the gate.
func (m *MemoryStore) Acquire(key string, now time.Time, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.entries[key]; ok && now.Sub(last) < ttl {
		return false
	}
	m.entries[key] = now
	return true
}

// ReleasePrefix drops all entries for a finalized session.
func (m *MemoryStore) ReleasePrefix(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
}

// RateLimiter enforces at most one nudge per (session, user) per cooldown
// window. Denied attempts are dropped silently; that is the contract, not a
// bug, to avoid nudge spam.
type RateLimiter struct {
	store    LimiterStore
	cooldown time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a limiter over the given store. now is injectable
// for tests; nil means time.Now.
func NewRateLimiter(store LimiterStore, cooldown time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{store: store, cooldown: cooldown, now: now}
}

// Allow reports whether a nudge for (session, user) may be emitted now and,
// when true, records the emission.
func (r *RateLimiter) Allow(sessionID, userID string) bool {
	return r.store.Acquire(key(sessionID, userID), r.now(), r.cooldown)
}

// ReleaseSession drops all rate-limit entries for a finalized session.
func (r *RateLimiter) ReleaseSession(sessionID string) {
	r.store.ReleasePrefix(sessionID + "|")
}

func key(sessionID, userID string) string {
	return sessionID + "|" + userID
}
