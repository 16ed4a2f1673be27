package audit

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/platinummonkey/socketgate/pkg/observability"
)

// Sink stores decisions
type Sink interface {
	Write(ctx context.Context, d Decision) error
	Close() error
}

// Publisher delivers monitoring events to administrative observers
type Publisher interface {
	Publish(ctx context.Context, event MonitorEvent) error
}

// Store is a Sink that can be queried
type Store interface {
	Sink
	Search(ctx context.Context, filter Filter) ([]Decision, error)
}

// LogSink writes each decision as a structured log line
type LogSink struct {
	logger *observability.Logger
}

// NewLogSink creates a sink on the given logger
func NewLogSink(logger *observability.Logger) *LogSink {
	return &LogSink{logger: logger.WithField("component", "audit")}
}

// Write logs the decision. Failures are logged at warn level.
func (s *LogSink) Write(ctx context.Context, d Decision) error {
	entry := s.logger.WithFields(map[string]interface{}{
		"audit_id":      d.ID,
		"conn_id":       d.ConnectionID,
		"kind":          string(d.Kind),
		"outcome":       string(d.Outcome),
		"decision_time": d.Timestamp,
	})
	if d.SubjectID != nil {
		entry = entry.WithField("user_id", *d.SubjectID)
	}
	if d.Stage != "" {
		entry = entry.WithField("stage", d.Stage)
	}
	if d.Policy != "" {
		entry = entry.WithField("policy", d.Policy)
	}
	if d.Resource != "" {
		entry = entry.WithField("resource", d.Resource)
	}
	if d.Reason != "" {
		entry = entry.WithField("reason", d.Reason)
	}

	if d.Outcome == OutcomeFailed {
		entry.Warn("auth decision")
	} else {
		entry.Info("auth decision")
	}
	return nil
}

// Close is a no-op
func (s *LogSink) Close() error { return nil }

// MemorySink keeps decisions in memory. Used in development mode and tests.
type MemorySink struct {
	mu        sync.RWMutex
	decisions []Decision
}

// NewMemorySink creates an empty memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends the decision
func (s *MemorySink) Write(ctx context.Context, d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	return nil
}

// Decisions returns a copy of everything recorded, oldest first
func (s *MemorySink) Decisions() []Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Decision, len(s.decisions))
	copy(out, s.decisions)
	return out
}

// Len returns the number of recorded decisions
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.decisions)
}

// Reset drops all decisions
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = nil
}

// Search returns matching decisions, newest first
func (s *MemorySink) Search(ctx context.Context, filter Filter) ([]Decision, error) {
	s.mu.RLock()
	var matched []Decision
	for _, d := range s.decisions {
		if filter.Match(d) {
			matched = append(matched, d)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if filter.Offset >= len(matched) {
		return []Decision{}, nil
	}
	matched = matched[filter.Offset:]
	if limit := filter.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Close is a no-op
func (s *MemorySink) Close() error { return nil }

// MultiSink writes to several sinks. A failing sink does not stop the others.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink fans writes out to sinks in order
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write writes to every sink and joins the errors
func (m *MultiSink) Write(ctx context.Context, d Decision) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins the errors
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Store returns the first queryable sink, if any
func (m *MultiSink) Store() (Store, bool) {
	for _, s := range m.sinks {
		if st, ok := s.(Store); ok {
			return st, true
		}
	}
	return nil, false
}
