package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// QuotaWindow is the minimum gap between the last two rate-limit stops that
// suggests a daily quota rather than a per-minute limit.
const QuotaWindow = 60 * time.Second

// QuotaStore persists the stop history so it outlives a single process.
type QuotaStore interface {
	LoadRateLimitStops(ctx context.Context) ([]time.Time, bool, error)
	SaveRateLimitStops(ctx context.Context, stops []time.Time, signalled bool) error
}

// Monitor tracks rate-limit stops and raises a one-shot advisory when the
// pattern looks like an exhausted daily quota.
//
// Without a store the history lives as long as the Monitor. With one, it is
// loaded on first use and saved on every change.
type Monitor struct {
	now         func() time.Time
	onExhausted func()

	mu        sync.Mutex
	store     QuotaStore
	loaded    bool
	hits      []time.Time
	signalled bool
}

// NewMonitor returns a Monitor. A nil now uses time.Now; onExhausted may be nil.
func NewMonitor(now func() time.Time, onExhausted func()) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{now: now, onExhausted: onExhausted}
}

// Persist backs the monitor with store. The stored history replaces the
// in-memory one on next use.
func (m *Monitor) Persist(store QuotaStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = store
	m.loaded = false
}

// RateLimited records a stop and reports whether the advisory fired on this call.
func (m *Monitor) RateLimited(ctx context.Context) bool {
	m.mu.Lock()
	m.load(ctx)
	m.hits = append(m.hits, m.now())
	fire := false
	if n := len(m.hits); n >= 2 && !m.signalled {
		if m.hits[n-1].Sub(m.hits[n-2]) > QuotaWindow {
			m.signalled = true
			fire = true
		}
	}
	m.save(ctx)
	cb := m.onExhausted
	m.mu.Unlock()

	if fire && cb != nil {
		cb()
	}
	return fire
}

// Success clears the history and re-arms the advisory.
func (m *Monitor) Success(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.load(ctx)
	if len(m.hits) == 0 && !m.signalled {
		return
	}
	m.hits = nil
	m.signalled = false
	m.save(ctx)
}

// Forget drops the in-memory history after the backing store was wiped.
func (m *Monitor) Forget() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits = nil
	m.signalled = false
	m.loaded = true
}

// Exhausted reports whether the advisory has fired since the last Success.
func (m *Monitor) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signalled
}

// Hits returns the number of recorded stops.
func (m *Monitor) Hits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hits)
}

// load must be called with mu held.
func (m *Monitor) load(ctx context.Context) {
	if m.store == nil || m.loaded {
		return
	}
	m.loaded = true
	hits, signalled, err := m.store.LoadRateLimitStops(ctx)
	if err != nil {
		zap.L().Warn("monitor: load rate limit stops", zap.Error(err))
		return
	}
	m.hits = hits
	m.signalled = signalled
}

// save must be called with mu held.
func (m *Monitor) save(ctx context.Context) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveRateLimitStops(ctx, m.hits, m.signalled); err != nil {
		zap.L().Warn("monitor: save rate limit stops", zap.Error(err))
	}
}
