package rbac

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/socketgate/pkg/audit"
	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/observability"
)

// Request is one authorization question about a connection's identity
type Request struct {
	ConnectionID string
	Identity     *auth.Identity
	Scope        Scope
}

// kindIdentity stages the denial of a request that carries no identity
const kindIdentity CheckKind = "identity"

// Chain is an ordered list of checks that stops at the first denial
type Chain struct {
	name    string
	checks  []Check
	trail   *audit.Trail
	metrics *observability.Metrics
}

// NewChain creates a named chain. trail and metrics may be nil.
func NewChain(name string, trail *audit.Trail, metrics *observability.Metrics, checks ...Check) *Chain {
	return &Chain{name: name, checks: checks, trail: trail, metrics: metrics}
}

// Name is the policy name recorded with each decision
func (c *Chain) Name() string { return c.name }

// Len returns the number of checks
func (c *Chain) Len() int { return len(c.checks) }

// Evaluate runs the checks in order. Each evaluated check is audited once;
// checks after the first denial are not evaluated. A check that errors is a
// denial with reason CHECK_FAILED. If ctx ends, evaluation is abandoned and
// the context error returned with nothing further audited.
func (c *Chain) Evaluate(ctx context.Context, req Request) error {
	if req.Identity == nil {
		c.record(ctx, req, kindIdentity, deny(auth.ReasonCheckFailed, ""))
		return auth.NewError(auth.CodeAuthorizationDenied, auth.ReasonCheckFailed, errors.New("no identity"))
	}

	ctx, span := observability.Tracer().Start(ctx, "rbac.Chain.Evaluate", trace.WithAttributes(
		attribute.String("policy", c.name),
		attribute.Int("checks", len(c.checks)),
	))
	defer span.End()

	for _, check := range c.checks {
		if err := ctx.Err(); err != nil {
			return err
		}

		dec, err := check.Evaluate(ctx, req.Identity, req.Scope)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			dec = deny(auth.ReasonCheckFailed, dec.Target)
		}

		c.record(ctx, req, check.Kind(), dec)

		if !dec.Allowed {
			cause := err
			if cause == nil {
				cause = fmt.Errorf("%s check denied", check.Kind())
			}
			span.SetStatus(codes.Error, string(dec.Reason))
			span.SetAttributes(attribute.String("denied_by", string(check.Kind())))
			return auth.NewError(auth.CodeAuthorizationDenied, dec.Reason, cause)
		}
	}
	return nil
}

func (c *Chain) record(ctx context.Context, req Request, kind CheckKind, dec Decision) {
	c.metrics.ObserveAuthz(string(kind), dec.Allowed, string(dec.Reason))

	d := audit.Decision{
		ConnectionID: req.ConnectionID,
		Kind:         audit.KindAuthzGrant,
		Stage:        string(kind),
		Policy:       c.name,
		Resource:     dec.Target,
		Outcome:      audit.OutcomeSuccess,
		Reason:       string(dec.Reason),
	}
	if req.Identity != nil {
		subject := req.Identity.ID
		d.SubjectID = &subject
	}
	if !dec.Allowed {
		d.Kind = audit.KindAuthzDeny
		d.Outcome = audit.OutcomeFailed
	}
	c.trail.Record(ctx, d)
}

// Authorize evaluates a single check on its own, with the same auditing as a
// chain of one
func Authorize(ctx context.Context, trail *audit.Trail, metrics *observability.Metrics, req Request, check Check) error {
	return NewChain(string(check.Kind()), trail, metrics, check).Evaluate(ctx, req)
}

// Policies maps an event name to the chain guarding it
type Policies map[string]*Chain

// Lookup returns the chain for event, if one is configured
func (p Policies) Lookup(event string) (*Chain, bool) {
	c, ok := p[event]
	return c, ok && c != nil
}
