package rate

import (
	"sync"
	"time"
)

type Limiter interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration)
}

// MemoryLimiter is a fixed-window counter keyed by caller-supplied strings.
// Expired windows are pruned lazily on the next Allow that touches them.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count   int
	resetAt time.Time
	window  time.Duration
}

func NewMemory() *MemoryLimiter {
	return &MemoryLimiter{buckets: make(map[string]*bucket)}
}

func (m *MemoryLimiter) Allow(key string, limit int, window time.Duration) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.buckets[key]
	if !ok || now.After(b.resetAt) || b.window != window {
		b = &bucket{resetAt: now.Add(window), window: window}
		m.buckets[key] = b
	}

	if b.count >= limit {
		return false, time.Until(b.resetAt)
	}

	b.count++
	return true, time.Until(b.resetAt)
}
