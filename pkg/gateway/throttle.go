package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/socketgate/pkg/audit"
	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/middleware"
	"github.com/platinummonkey/socketgate/pkg/observability"
)

// NoticeTypeRateLimit is the notice type sent for a throttled event
const NoticeTypeRateLimit = "rate_limit"

// Notice is sent to the client when one of its messages is discarded
type Notice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Event   string `json:"event"`
	// RetryAfter is in milliseconds
	RetryAfter int64 `json:"retryAfter"`
}

// LimiterFactory builds the limiter backing one event policy. name is the
// event, or "" for the default policy.
type LimiterFactory func(name string, cfg *middleware.RateLimitConfig) middleware.Limiter

// MemoryLimiters is the default LimiterFactory
func MemoryLimiters(_ string, cfg *middleware.RateLimitConfig) middleware.Limiter {
	return middleware.NewSlidingWindowLimiter(cfg)
}

type policyLimiter struct {
	cfg     middleware.RateLimitConfig
	limiter middleware.Limiter
}

// EventThrottle limits messages per (identity, event). Every event policy
// owns its own limiter so their keys never collide.
type EventThrottle struct {
	factory LimiterFactory
	trail   *audit.Trail
	metrics *observability.Metrics

	mu       sync.RWMutex
	def      *policyLimiter
	policies map[string]*policyLimiter
}

// NewEventThrottle creates a throttle. def applies to events without a
// policy; a nil def uses middleware.DefaultEventConfig. factory may be nil.
func NewEventThrottle(def *middleware.RateLimitConfig, policies map[string]*middleware.RateLimitConfig, factory LimiterFactory, trail *audit.Trail, metrics *observability.Metrics) *EventThrottle {
	if factory == nil {
		factory = MemoryLimiters
	}
	t := &EventThrottle{factory: factory, trail: trail, metrics: metrics}
	t.SetPolicies(def, policies)
	return t
}

// SetPolicies replaces the policy set. Limiters whose configuration did not
// change keep their counters.
func (t *EventThrottle) SetPolicies(def *middleware.RateLimitConfig, policies map[string]*middleware.RateLimitConfig) {
	if def == nil {
		def = middleware.DefaultEventConfig()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.def = t.reuse(t.def, "", def)
	next := make(map[string]*policyLimiter, len(policies))
	for event, cfg := range policies {
		if cfg == nil {
			continue
		}
		next[event] = t.reuse(t.policies[event], event, cfg)
	}
	t.policies = next
}

func (t *EventThrottle) reuse(prev *policyLimiter, name string, cfg *middleware.RateLimitConfig) *policyLimiter {
	if prev != nil && prev.cfg == *cfg {
		return prev
	}
	c := *cfg
	return &policyLimiter{cfg: c, limiter: t.factory(name, &c)}
}

func (t *EventThrottle) lookup(event string) *policyLimiter {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.policies[event]; ok {
		return p
	}
	return t.def
}

// Policy returns the limits applied to event
func (t *EventThrottle) Policy(event string) middleware.RateLimitConfig {
	return t.lookup(event).cfg
}

// Reset forgets the counted messages of event for subject
func (t *EventThrottle) Reset(ctx context.Context, subject, event string) error {
	return t.lookup(event).limiter.Reset(ctx, subject+":"+event)
}

// Allow counts one message of event for conn. When the policy is exhausted
// the message must be discarded: a Notice for the client and an
// EVENT_RATE_LIMITED error are returned, and nothing is counted.
func (t *EventThrottle) Allow(ctx context.Context, conn *Conn, event string) (*Notice, error) {
	subject := conn.UserID()
	if subject == "" {
		return nil, auth.NewError(auth.CodeSessionInvalidated, auth.ReasonDeactivated, errors.New("connection not authenticated"))
	}

	p := t.lookup(event)
	key := subject + ":" + event

	allowed, err := p.limiter.Check(ctx, key)
	if err != nil {
		return nil, auth.NewError(auth.CodeInternal, "", fmt.Errorf("event rate check: %w", err))
	}
	if allowed {
		if err := p.limiter.Increment(ctx, key); err != nil {
			return nil, auth.NewError(auth.CodeInternal, "", fmt.Errorf("event rate increment: %w", err))
		}
		return nil, nil
	}

	wait, err := p.limiter.TimeUntilReset(ctx, key)
	if err != nil || wait <= 0 {
		wait = p.cfg.Window
	}

	t.metrics.ObserveRateLimitTrip("event")
	t.trail.Record(ctx, audit.Decision{
		ConnectionID: conn.ID,
		SubjectID:    &subject,
		Kind:         audit.KindRateLimitTrip,
		Stage:        "event",
		Policy:       event,
		Resource:     key,
		Outcome:      audit.OutcomeFailed,
		Reason:       string(auth.CodeEventRateLimited),
	})

	notice := &Notice{
		Type:       NoticeTypeRateLimit,
		Message:    fmt.Sprintf("Too many %s requests, retry in %ds", event, int64((wait+time.Second-1)/time.Second)),
		Event:      event,
		RetryAfter: wait.Milliseconds(),
	}
	return notice, auth.NewError(auth.CodeEventRateLimited, "", fmt.Errorf("%s over %d per %s", key, p.cfg.MaxAttempts, p.cfg.Window))
}

// sweeper is implemented by in-memory limiters
type sweeper interface {
	Sweep() int
	Tracked() int
}

// Sweep drops idle keys from in-memory limiters and publishes the key count
func (t *EventThrottle) Sweep() int {
	dropped, tracked := 0, 0
	for _, p := range t.all() {
		if s, ok := p.limiter.(sweeper); ok {
			dropped += s.Sweep()
			tracked += s.Tracked()
		}
	}
	t.metrics.SetLimiterTrackedKeys("event", tracked)
	return dropped
}

// Cleanup releases the keys of in-process limiters. Shared limiters keep
// their counters for other replicas.
func (t *EventThrottle) Cleanup(ctx context.Context) error {
	var errs []error
	for _, p := range t.all() {
		if err := releaseLocal(ctx, p.limiter); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func releaseLocal(ctx context.Context, l middleware.Limiter) error {
	if _, ok := l.(sweeper); !ok {
		return nil
	}
	return l.Cleanup(ctx)
}

func (t *EventThrottle) all() []*policyLimiter {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*policyLimiter, 0, len(t.policies)+1)
	out = append(out, t.def)
	for _, p := range t.policies {
		out = append(out, p)
	}
	return out
}
