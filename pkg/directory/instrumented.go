package directory

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/observability"
)

// Store is a user directory that also resolves cases
type Store interface {
	auth.UserDirectory
	auth.ResourceStore
}

// Instrumented records latency and spans around another Store
type Instrumented struct {
	next    Store
	metrics *observability.Metrics
}

// Instrument wraps next. metrics may be nil.
func Instrument(next Store, metrics *observability.Metrics) *Instrumented {
	return &Instrumented{next: next, metrics: metrics}
}

// FindUser delegates and observes the lookup
func (i *Instrumented) FindUser(ctx context.Context, id string, fields ...auth.Field) (*auth.UserRecord, error) {
	ctx, span := observability.Tracer().Start(ctx, "directory.FindUser",
		trace.WithAttributes(attribute.Int("fields", len(fields))))
	defer span.End()

	start := time.Now()
	rec, err := i.next.FindUser(ctx, id, fields...)
	i.observe("find_user", start, err, span)
	return rec, err
}

// FindResource delegates and observes the lookup
func (i *Instrumented) FindResource(ctx context.Context, id string) (*auth.Resource, error) {
	ctx, span := observability.Tracer().Start(ctx, "directory.FindResource")
	defer span.End()

	start := time.Now()
	res, err := i.next.FindResource(ctx, id)
	i.observe("find_resource", start, err, span)
	return res, err
}

func (i *Instrumented) observe(op string, start time.Time, err error, span trace.Span) {
	// A missing record is an answer, not a failure
	if errors.Is(err, auth.ErrNotFound) {
		err = nil
	}
	if err != nil {
		span.RecordError(err)
	}
	i.metrics.ObserveDirectoryLookup(op, time.Since(start), err)
}
