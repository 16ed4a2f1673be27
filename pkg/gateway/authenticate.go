package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/socketgate/pkg/audit"
	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/middleware"
	"github.com/platinummonkey/socketgate/pkg/observability"
)

// State is a step of the authentication state machine
type State string

const (
	StateUnauthenticated     State = "unauthenticated"
	StateCredentialExtracted State = "credential_extracted"
	StateRateChecked         State = "rate_checked"
	StateClaimsVerified      State = "claims_verified"
	StateUserResolved        State = "user_resolved"
	StateAuthenticated       State = "authenticated"
	StateRejected            State = "rejected"
)

// Authenticator runs the authentication state machine for one connection at a
// time. It holds no per-connection state and is safe for concurrent use.
type Authenticator struct {
	verifier            *auth.TokenVerifier
	users               auth.UserDirectory
	limiter             middleware.Limiter
	trail               *audit.Trail
	metrics             *observability.Metrics
	logger              *observability.Logger
	penalizeUnknownUser bool
	now                 func() time.Time
}

// RateKey is the connection-attempt limiter key for a remote address
func RateKey(addr string) string {
	return "ip:" + addr
}

// attempt tracks one pass through the state machine
type attempt struct {
	a     *Authenticator
	conn  *Conn
	state State
	subj  *string
}

// advance records a successful transition
func (at *attempt) advance(ctx context.Context, next State, resource string) {
	at.a.trail.Record(ctx, audit.Decision{
		ConnectionID:  at.conn.ID,
		SubjectID:     at.subj,
		Kind:          audit.KindAuthnSuccess,
		Stage:         string(next),
		Resource:      resource,
		Outcome:       audit.OutcomeSuccess,
		AdminInterest: next == StateAuthenticated,
	})
	at.state = next
}

// reject records the terminal failure and builds the returned error
func (at *attempt) reject(ctx context.Context, kind audit.Kind, code auth.Code, reason auth.Reason, cause error) error {
	d := audit.Decision{
		ConnectionID:  at.conn.ID,
		SubjectID:     at.subj,
		Kind:          kind,
		Stage:         string(at.state),
		Resource:      RateKey(at.conn.RemoteAddr),
		Outcome:       audit.OutcomeFailed,
		Reason:        string(code),
		AdminInterest: true,
	}
	if reason != "" {
		d.Reason += ":" + string(reason)
	}
	at.a.trail.Record(ctx, d)
	at.state = StateRejected
	return auth.NewError(code, reason, cause)
}

func (at *attempt) penalize(ctx context.Context, key string) {
	if err := at.a.limiter.Increment(ctx, key); err != nil {
		at.a.logger.WithError(err).WithField("key", key).Warn("Failed to record connection attempt")
	}
}

// Authenticate moves conn from Unauthenticated to Authenticated or Rejected.
// Each transition is audited once. If ctx ends mid-way the attempt is
// abandoned and ctx.Err() returned with nothing further audited.
func (a *Authenticator) Authenticate(ctx context.Context, conn *Conn) (err error) {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "gateway.Authenticate", trace.WithAttributes(
		attribute.String("conn.id", conn.ID),
		attribute.String("net.peer.addr", conn.RemoteAddr),
	))
	defer func() {
		code := auth.CodeOf(err)
		if err != nil && code == "" {
			code = "CANCELLED"
		}
		a.metrics.ObserveAuth(string(code), time.Since(start))
		if err != nil {
			span.SetStatus(codes.Error, string(code))
		}
		span.End()
	}()

	at := &attempt{a: a, conn: conn, state: StateUnauthenticated}
	if err := ctx.Err(); err != nil {
		return err
	}

	// 1. Credential
	cred, ok := auth.ExtractCredential(conn.Handshake)
	if !ok {
		return at.reject(ctx, audit.KindAuthnFailure, auth.CodeNoCredential, "", errors.New("no credential presented"))
	}
	at.advance(ctx, StateCredentialExtracted, string(cred.Source))

	// 2. Connection-attempt limiter, before any verification work
	key := RateKey(conn.RemoteAddr)
	allowed, err := a.limiter.Check(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return at.reject(ctx, audit.KindAuthnFailure, auth.CodeInternal, "", fmt.Errorf("rate check: %w", err))
	}
	if !allowed {
		a.metrics.ObserveRateLimitTrip("connection")
		return at.reject(ctx, audit.KindRateLimitTrip, auth.CodeRateLimited, "", fmt.Errorf("too many attempts from %s", key))
	}
	at.advance(ctx, StateRateChecked, key)

	// 3. Claims
	if err := ctx.Err(); err != nil {
		return err
	}
	claims, err := a.verifier.Verify(cred.Value)
	if err != nil {
		var verr *auth.VerifyError
		if !errors.As(err, &verr) {
			verr = &auth.VerifyError{Kind: auth.VerifyUnknown, Err: err}
		}
		if verr.Penalize() {
			at.penalize(ctx, key)
		}
		switch verr.Kind {
		case auth.VerifyExpired:
			return at.reject(ctx, audit.KindAuthnFailure, auth.CodeExpiredCredential, auth.ReasonExpired, err)
		case auth.VerifyMalformed:
			return at.reject(ctx, audit.KindAuthnFailure, auth.CodeInvalidCredential, auth.ReasonMalformed, err)
		default:
			return at.reject(ctx, audit.KindAuthnFailure, auth.CodeInvalidCredential, auth.ReasonUnknown, err)
		}
	}
	subject := claims.Subject
	at.subj = &subject
	at.advance(ctx, StateClaimsVerified, "")

	// 4. Subject
	rec, err := a.users.FindUser(ctx, subject, auth.IdentityFields...)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, auth.ErrNotFound) {
			if a.penalizeUnknownUser {
				at.penalize(ctx, key)
			}
			return at.reject(ctx, audit.KindAuthnFailure, auth.CodeUserNotFound, "", err)
		}
		return at.reject(ctx, audit.KindAuthnFailure, auth.CodeInternal, "", fmt.Errorf("resolve user: %w", err))
	}
	at.advance(ctx, StateUserResolved, "")

	// 5. Active account
	if !rec.Active {
		return at.reject(ctx, audit.KindAuthnFailure, auth.CodeAccountDeactivated, auth.ReasonDeactivated, errors.New("account inactive"))
	}

	// 6. Identity
	if rec.ID == "" {
		rec.ID = subject
	}
	conn.attach(auth.NewIdentity(rec, a.now()))
	at.advance(ctx, StateAuthenticated, string(rec.Role))
	span.SetAttributes(attribute.String("user.id", subject))
	return nil
}
