package gateway

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/socketgate/pkg/audit"
	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/middleware"
	"github.com/platinummonkey/socketgate/pkg/observability"
	"github.com/platinummonkey/socketgate/pkg/rbac"
)

// Options configures a Gateway. Verifier, Users and ConnectionLimiter are
// required.
type Options struct {
	Verifier  *auth.TokenVerifier
	Users     auth.UserDirectory
	Resources auth.ResourceStore

	// ConnectionLimiter counts attempts per remote address
	ConnectionLimiter middleware.Limiter
	// PenalizeUnknownUser counts a USER_NOT_FOUND outcome against the
	// connection limiter like an invalid credential
	PenalizeUnknownUser bool

	// Throttle limits events; nil uses DefaultEventConfig for every event
	Throttle *EventThrottle
	// Guard re-validates sessions; nil builds one on Users
	Guard *SessionGuard

	// ConnectChain runs once after authentication; nil admits every
	// authenticated connection
	ConnectChain *rbac.Chain
	// Policies guard individual events
	Policies rbac.Policies
	// SensitiveEvents are re-validated by the session guard before running
	SensitiveEvents map[string]bool

	Trail   *audit.Trail
	Metrics *observability.Metrics
	Logger  *observability.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

// Gateway is the per-process admission and event pipeline. It is safe for
// concurrent use by any number of connections.
type Gateway struct {
	authn     *Authenticator
	limiter   middleware.Limiter
	throttle  *EventThrottle
	guard     *SessionGuard
	connect   *rbac.Chain
	policies  rbac.Policies
	sensitive map[string]bool
	metrics   *observability.Metrics
	logger    *observability.Logger
}

// Event is one inbound message as the gateway sees it
type Event struct {
	Name  string
	Scope rbac.Scope
}

// New builds a Gateway from opts
func New(opts Options) (*Gateway, error) {
	if opts.Verifier == nil {
		return nil, errors.New("gateway: token verifier is required")
	}
	if opts.Users == nil {
		return nil, errors.New("gateway: user directory is required")
	}
	if opts.ConnectionLimiter == nil {
		return nil, errors.New("gateway: connection limiter is required")
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger.WithField("component", "gateway")

	if opts.Throttle == nil {
		opts.Throttle = NewEventThrottle(nil, nil, nil, opts.Trail, opts.Metrics)
	}
	if opts.Guard == nil {
		opts.Guard = NewSessionGuard(opts.Users, opts.Trail, opts.Metrics, opts.Logger)
		opts.Guard.SetClock(opts.Now)
	}

	return &Gateway{
		authn: &Authenticator{
			verifier:            opts.Verifier,
			users:               opts.Users,
			limiter:             opts.ConnectionLimiter,
			trail:               opts.Trail,
			metrics:             opts.Metrics,
			logger:              logger,
			penalizeUnknownUser: opts.PenalizeUnknownUser,
			now:                 opts.Now,
		},
		limiter:   opts.ConnectionLimiter,
		throttle:  opts.Throttle,
		guard:     opts.Guard,
		connect:   opts.ConnectChain,
		policies:  opts.Policies,
		sensitive: opts.SensitiveEvents,
		metrics:   opts.Metrics,
		logger:    logger,
	}, nil
}

// Guard returns the session guard, for periodic watches
func (g *Gateway) Guard() *SessionGuard { return g.guard }

// Throttle returns the event throttle, for policy reloads
func (g *Gateway) Throttle() *EventThrottle { return g.throttle }

// Authenticate runs only the authentication state machine
func (g *Gateway) Authenticate(ctx context.Context, conn *Conn) error {
	return g.authn.Authenticate(ctx, conn)
}

// Admit authenticates conn and evaluates the connect chain against its
// attributes. Any error means the connection must be refused.
func (g *Gateway) Admit(ctx context.Context, conn *Conn) error {
	ctx, span := observability.Tracer().Start(ctx, "gateway.Admit",
		trace.WithAttributes(attribute.String("conn.id", conn.ID)))
	defer span.End()

	if err := g.authn.Authenticate(ctx, conn); err != nil {
		span.SetStatus(codes.Error, string(auth.CodeOf(err)))
		return err
	}
	if g.connect == nil {
		return nil
	}
	if err := g.connect.Evaluate(ctx, conn.request(rbac.Scope{})); err != nil {
		span.SetStatus(codes.Error, string(auth.CodeOf(err)))
		return err
	}
	return nil
}

// HandleEvent decides whether one inbound message may be processed. A
// non-nil Notice means the message was throttled and must be discarded with
// the notice sent back. A per-event AUTHORIZATION_DENIED keeps the connection
// open; SESSION_INVALIDATED does not.
func (g *Gateway) HandleEvent(ctx context.Context, conn *Conn, ev Event) (notice *Notice, err error) {
	ctx, span := observability.Tracer().Start(ctx, "gateway.HandleEvent", trace.WithAttributes(
		attribute.String("conn.id", conn.ID),
		attribute.String("event", ev.Name),
	))
	defer func() {
		outcome := "handled"
		switch code := auth.CodeOf(err); {
		case err == nil:
		case code == auth.CodeEventRateLimited:
			outcome = "throttled"
		case code == auth.CodeAuthorizationDenied:
			outcome = "denied"
		case code == auth.CodeSessionInvalidated:
			outcome = "invalidated"
		default:
			outcome = "error"
		}
		g.metrics.ObserveEvent(ev.Name, outcome)
		if err != nil {
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}()

	if !conn.Authenticated() {
		return nil, auth.NewError(auth.CodeSessionInvalidated, auth.ReasonDeactivated, errors.New("connection not authenticated"))
	}

	if notice, err = g.throttle.Allow(ctx, conn, ev.Name); err != nil {
		return notice, err
	}

	if g.sensitive[ev.Name] {
		if err = g.guard.Validate(ctx, conn); err != nil {
			return nil, err
		}
	}

	if chain, ok := g.policies.Lookup(ev.Name); ok {
		if err = chain.Evaluate(ctx, conn.request(ev.Scope)); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// ResetConnectionAttempts clears the connection-attempt count of a remote
// address
func (g *Gateway) ResetConnectionAttempts(ctx context.Context, addr string) error {
	return g.limiter.Reset(ctx, RateKey(addr))
}

// ConnectionRetryAfter reports whether addr may attempt a connection now and,
// if not, how long until it may
func (g *Gateway) ConnectionRetryAfter(ctx context.Context, addr string) (bool, time.Duration, error) {
	key := RateKey(addr)
	allowed, err := g.limiter.Check(ctx, key)
	if err != nil || allowed {
		return allowed, 0, err
	}
	wait, err := g.limiter.TimeUntilReset(ctx, key)
	return false, wait, err
}

// Sweep bounds limiter memory and refreshes the tracked-key gauges
func (g *Gateway) Sweep() {
	if s, ok := g.limiter.(sweeper); ok {
		s.Sweep()
		g.metrics.SetLimiterTrackedKeys("connection", s.Tracked())
	}
	g.throttle.Sweep()
}

// Close releases in-process limiter state. Called once at process shutdown.
func (g *Gateway) Close(ctx context.Context) error {
	return errors.Join(releaseLocal(ctx, g.limiter), g.throttle.Cleanup(ctx))
}
