package rate

import (
	"context"
	"sync"
	"time"
)

// Config defines rate limiting for one outbound destination.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	Cooldown          time.Duration // default pause after the destination throttles us
}

// Limiter is a token bucket that can be paused when the remote side asks us to back off.
type Limiter struct {
	mu       sync.Mutex
	tokens   float64
	last     time.Time
	rate     float64
	burst    float64
	cooldown time.Duration
	until    time.Time
	now      func() time.Time
}

// New creates a new limiter.
func New(cfg Config) *Limiter {
	return newLimiter(cfg, time.Now)
}

func newLimiter(cfg Config, now func() time.Time) *Limiter {
	return &Limiter{
		tokens:   float64(cfg.Burst),
		last:     now(),
		rate:     cfg.RequestsPerSecond,
		burst:    float64(cfg.Burst),
		cooldown: cfg.Cooldown,
		now:      now,
	}
}

// Allow takes a token if one is available and the limiter is not paused.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	l.last = now
	if l.tokens > l.burst {
		l.tokens = l.burst
	}

	if now.Before(l.until) {
		return false
	}
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Pause blocks the limiter for d, or for the configured cooldown when d <= 0.
func (l *Limiter) Pause(d time.Duration) {
	if d <= 0 {
		d = l.cooldown
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if until := l.now().Add(d); until.After(l.until) {
		l.until = until
	}
}

// Wait blocks until a token becomes available or context is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Manager holds one limiter per destination key.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Config
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
	}
}

func (m *Manager) GetLimiter(key string) *Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[key]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	lim := New(m.defaults)
	m.limiters[key] = lim
	return lim
}

// Wait ensures rate limit compliance for a given key.
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.GetLimiter(key).Wait(ctx)
}

// Pause backs off a destination after it throttled us.
func (m *Manager) Pause(key string, d time.Duration) {
	m.GetLimiter(key).Pause(d)
}
