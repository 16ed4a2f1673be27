package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/socketgate/pkg/audit"
	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/observability"
)

// SessionGuard re-validates an authenticated connection against the
// directory. The Identity snapshot is never trusted for session state.
type SessionGuard struct {
	users   auth.UserDirectory
	trail   *audit.Trail
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// NewSessionGuard creates a guard. trail, metrics and logger may be nil.
func NewSessionGuard(users auth.UserDirectory, trail *audit.Trail, metrics *observability.Metrics, logger *observability.Logger) *SessionGuard {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &SessionGuard{
		users:   users,
		trail:   trail,
		metrics: metrics,
		logger:  logger.WithField("component", "session_guard"),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (g *SessionGuard) SetClock(now func() time.Time) {
	g.now = now
}

// Validate returns nil while the session is still good. An invalid session
// yields SESSION_INVALIDATED with the reason; the caller must close the
// connection. A directory failure yields INTERNAL and is not audited as an
// invalidation.
func (g *SessionGuard) Validate(ctx context.Context, conn *Conn) error {
	ident := conn.Identity()
	if ident == nil {
		return auth.NewError(auth.CodeSessionInvalidated, auth.ReasonDeactivated, errors.New("connection not authenticated"))
	}

	rec, err := g.users.FindUser(ctx, ident.ID, auth.SessionFields...)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, auth.ErrNotFound):
		return g.invalidate(ctx, conn, ident.ID, auth.ReasonDeactivated, "account no longer exists")
	default:
		return auth.NewError(auth.CodeInternal, "", fmt.Errorf("session lookup: %w", err))
	}

	switch {
	case !rec.Active:
		return g.invalidate(ctx, conn, ident.ID, auth.ReasonDeactivated, "account deactivated")
	case rec.LastLogout != nil && rec.LastLogout.After(ident.LoginTime):
		return g.invalidate(ctx, conn, ident.ID, auth.ReasonLoggedOutElsewhere, "logged out after this connection authenticated")
	case rec.SessionExpires != nil && rec.SessionExpires.Before(g.now()):
		return g.invalidate(ctx, conn, ident.ID, auth.ReasonSessionExpired, "session expired")
	}

	g.trail.Record(ctx, audit.Decision{
		ConnectionID: conn.ID,
		SubjectID:    &ident.ID,
		Kind:         audit.KindSessionValid,
		Outcome:      audit.OutcomeSuccess,
	})
	return nil
}

func (g *SessionGuard) invalidate(ctx context.Context, conn *Conn, subject string, reason auth.Reason, detail string) error {
	g.metrics.ObserveSessionInvalidation(string(reason))
	g.trail.Record(ctx, audit.Decision{
		ConnectionID: conn.ID,
		SubjectID:    &subject,
		Kind:         audit.KindSessionInvalidated,
		Outcome:      audit.OutcomeFailed,
		Reason:       string(reason),
	})
	return auth.NewError(auth.CodeSessionInvalidated, reason, errors.New(detail))
}

// Watch validates conn every interval until ctx is done or the session is
// invalidated, in which case onInvalid is called once with the error.
// Directory failures are logged and retried on the next tick.
func (g *SessionGuard) Watch(ctx context.Context, conn *Conn, interval time.Duration, onInvalid func(error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := g.Validate(ctx, conn)
			if err == nil || ctx.Err() != nil {
				continue
			}
			if auth.CodeOf(err) != auth.CodeSessionInvalidated {
				observability.FromContext(conn.Context(observability.WithLogger(ctx, g.logger))).
					WithError(err).Warn("Session check failed, will retry")
				continue
			}
			onInvalid(err)
			return
		}
	}
}
