package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Limiter is a per-key sliding window counter.
//
// Check is read-only. Increment records one attempt at the current instant.
// A Check immediately followed by an Increment is not atomic as a pair; a
// racing caller may be over-admitted by one, but no increment is ever lost.
type Limiter interface {
	Check(ctx context.Context, key string) (bool, error)
	Increment(ctx context.Context, key string) error
	TimeUntilReset(ctx context.Context, key string) (time.Duration, error)
	Reset(ctx context.Context, key string) error
	Cleanup(ctx context.Context) error
}

// RateLimitConfig defines sliding window limits
type RateLimitConfig struct {
	// MaxAttempts is the number of attempts allowed inside the window
	MaxAttempts int
	// Window is the trailing interval attempts are counted over
	Window time.Duration
}

// ConnectionAttemptConfig returns the limits applied to inbound connection attempts
func ConnectionAttemptConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MaxAttempts: 10,
		Window:      15 * time.Minute,
	}
}

// DefaultEventConfig returns the limits applied to events without a dedicated policy
func DefaultEventConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MaxAttempts: 60,
		Window:      time.Minute,
	}
}

// SlidingWindowLimiter is an in-process Limiter. Each key holds the ordered
// timestamps of its attempts; stamps older than the window are purged lazily
// on access.
type SlidingWindowLimiter struct {
	config  *RateLimitConfig
	windows map[string]*window
	mu      sync.RWMutex
	now     func() time.Time
}

type window struct {
	stamps []time.Time
	mu     sync.Mutex
	// dead is set under mu once the window has been removed from the map
	dead bool
}

// purge drops stamps at or before cutoff. Caller holds w.mu.
func (w *window) purge(cutoff time.Time) {
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// NewSlidingWindowLimiter creates a new in-memory limiter
func NewSlidingWindowLimiter(config *RateLimitConfig) *SlidingWindowLimiter {
	if config == nil {
		config = DefaultEventConfig()
	}

	return &SlidingWindowLimiter{
		config:  config,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (l *SlidingWindowLimiter) SetClock(now func() time.Time) {
	l.now = now
}

// Config returns the limiter configuration
func (l *SlidingWindowLimiter) Config() RateLimitConfig {
	return *l.config
}

func (l *SlidingWindowLimiter) lookup(key string) *window {
	l.mu.RLock()
	w := l.windows[key]
	l.mu.RUnlock()
	return w
}

// Check reports whether key is under its limit. It never records an attempt.
func (l *SlidingWindowLimiter) Check(_ context.Context, key string) (bool, error) {
	w := l.lookup(key)
	if w == nil {
		return true, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.purge(l.now().Add(-l.config.Window))
	return len(w.stamps) < l.config.MaxAttempts, nil
}

// Increment records one attempt for key
func (l *SlidingWindowLimiter) Increment(_ context.Context, key string) error {
	for {
		l.mu.Lock()
		w, exists := l.windows[key]
		if !exists {
			w = &window{}
			l.windows[key] = w
		}
		l.mu.Unlock()

		if l.record(w) {
			return nil
		}
	}
}

// record appends one stamp to w. It reports false when a concurrent Sweep or
// Reset removed w, in which case the caller must look the key up again.
func (l *SlidingWindowLimiter) record(w *window) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dead {
		return false
	}
	now := l.now()
	w.purge(now.Add(-l.config.Window))
	w.stamps = append(w.stamps, now)
	return true
}

// Count returns the number of attempts currently inside the window for key
func (l *SlidingWindowLimiter) Count(key string) int {
	w := l.lookup(key)
	if w == nil {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.purge(l.now().Add(-l.config.Window))
	return len(w.stamps)
}

// TimeUntilReset returns how long until the oldest counted attempt leaves the
// window. Zero when nothing is counted.
func (l *SlidingWindowLimiter) TimeUntilReset(_ context.Context, key string) (time.Duration, error) {
	w := l.lookup(key)
	if w == nil {
		return 0, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	w.purge(now.Add(-l.config.Window))
	if len(w.stamps) == 0 {
		return 0, nil
	}

	remaining := w.stamps[0].Add(l.config.Window).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset forgets all attempts for key (admin purposes)
func (l *SlidingWindowLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.windows[key]; ok {
		w.mu.Lock()
		w.dead = true
		w.mu.Unlock()
		delete(l.windows, key)
	}
	return nil
}

// Cleanup releases every tracked key. Called at process shutdown.
func (l *SlidingWindowLimiter) Cleanup(_ context.Context) error {
	l.mu.Lock()
	l.windows = make(map[string]*window)
	l.mu.Unlock()
	return nil
}

// Tracked returns the number of keys currently held in memory
func (l *SlidingWindowLimiter) Tracked() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}

// Sweep removes keys with no attempts inside the window and returns how many
// were dropped. It only bounds memory; correctness does not depend on it.
func (l *SlidingWindowLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.config.Window)
	dropped := 0
	for key, w := range l.windows {
		w.mu.Lock()
		w.purge(cutoff)
		if len(w.stamps) == 0 {
			w.dead = true
			delete(l.windows, key)
			dropped++
		}
		w.mu.Unlock()
	}
	return dropped
}

// ClientIP returns the network address a request originated from. Forwarding
// headers are honoured only when trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// Left-most entry is the original client
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			return strings.TrimSpace(first)
		}

		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return realIP
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
