// Package cache holds the in-memory caches placed in front of the snapshot
// store, and a manager that periodically evicts expired entries.
package cache

import (
	"context"
	"sync"
	"time"

	applog "octopus/internal/log"
)

// Cache defines a generic keyed cache
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Delete(key K)
	Purge()
	Size() int
}

// Cleaner is implemented by caches that support expiry sweeps
type Cleaner interface {
	CleanExpired() int
}

// Manager runs periodic cleanup of the registered caches
type Manager struct {
	mu       sync.Mutex
	caches   []Cleaner
	interval time.Duration
	logger   *applog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewManager creates a cache manager sweeping at the given interval.
// Non-positive intervals default to one minute.
func NewManager(interval time.Duration) *Manager {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Manager{
		interval: interval,
		logger:   applog.Nop(),
	}
}

// SetLogger replaces the manager's logger.
func (m *Manager) SetLogger(logger *applog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Register adds a cache to the manager
func (m *Manager) Register(c Cleaner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, c)
}

// Start begins periodic cleanup until ctx is cancelled or Stop is called.
// Calling Start twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		return
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.run(ctx, m.stopCh, m.doneCh)
}

func (m *Manager) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("Evicted expired cache entries", "count", n)
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep cleans every registered cache once and returns the evicted count.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	caches := append([]Cleaner(nil), m.caches...)
	m.mu.Unlock()

	total := 0
	for _, c := range caches {
		total += c.CleanExpired()
	}
	return total
}

// Stop gracefully stops the cleanup routine
func (m *Manager) Stop() {
	m.mu.Lock()
	stop, done := m.stopCh, m.doneCh
	m.stopCh, m.doneCh = nil, nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}
