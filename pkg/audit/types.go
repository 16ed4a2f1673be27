package audit

import (
	"time"
)

// Kind classifies a recorded decision
type Kind string

const (
	KindAuthnSuccess       Kind = "authn.success"
	KindAuthnFailure       Kind = "authn.failure"
	KindAuthzGrant         Kind = "authz.grant"
	KindAuthzDeny          Kind = "authz.deny"
	KindRateLimitTrip      Kind = "ratelimit.trip"
	KindSessionValid       Kind = "session.valid"
	KindSessionInvalidated Kind = "session.invalidated"
)

// Authorization reports whether the kind is an authorization decision. A
// session invalidation revokes access and counts; routine re-validation
// does not.
func (k Kind) Authorization() bool {
	switch k {
	case KindAuthzGrant, KindAuthzDeny, KindSessionInvalidated:
		return true
	}
	return false
}

// Outcome is the result of a decision
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
)

// Decision is one append-only audit record. It is never modified after
// Trail.Record returns.
type Decision struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	ConnectionID string    `json:"connection_id"`
	// SubjectID is nil before the principal is known
	SubjectID *string `json:"subject_id,omitempty"`
	Kind      Kind    `json:"kind"`
	// Stage names the authentication state or authorization check
	Stage    string  `json:"stage,omitempty"`
	Policy   string  `json:"policy,omitempty"`
	Resource string  `json:"resource,omitempty"`
	Outcome  Outcome `json:"outcome"`
	Reason   string  `json:"reason,omitempty"`
	// AdminInterest marks authentication entries worth broadcasting.
	// Authorization entries are always broadcast.
	AdminInterest bool `json:"admin_interest,omitempty"`
}

// Subject returns the subject id or the empty string
func (d Decision) Subject() string {
	if d.SubjectID == nil {
		return ""
	}
	return *d.SubjectID
}

// Action is the monitoring label for the decision, e.g. "authz.deny:department"
func (d Decision) Action() string {
	if d.Stage == "" {
		return string(d.Kind)
	}
	return string(d.Kind) + ":" + d.Stage
}

// Monitor converts the decision to the broadcast payload
func (d Decision) Monitor() MonitorEvent {
	return MonitorEvent{
		Timestamp:    d.Timestamp,
		ConnectionID: d.ConnectionID,
		SubjectID:    d.SubjectID,
		Action:       d.Action(),
		Resource:     d.Resource,
		Outcome:      d.Outcome,
	}
}

// MonitorEvent is published to administrative observers
type MonitorEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	ConnectionID string    `json:"connectionId"`
	SubjectID    *string   `json:"subjectId,omitempty"`
	Action       string    `json:"action"`
	Resource     string    `json:"resource,omitempty"`
	Outcome      Outcome   `json:"outcome"`
}

// Filter selects stored decisions
type Filter struct {
	Since        *time.Time
	Until        *time.Time
	SubjectID    string
	ConnectionID string
	Kinds        []Kind
	Outcome      Outcome
	Limit        int
	Offset       int
}

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
)

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultSearchLimit
	case f.Limit > maxSearchLimit:
		return maxSearchLimit
	default:
		return f.Limit
	}
}

// Match reports whether d satisfies the filter, ignoring paging
func (f Filter) Match(d Decision) bool {
	if f.Since != nil && d.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && d.Timestamp.After(*f.Until) {
		return false
	}
	if f.SubjectID != "" && d.Subject() != f.SubjectID {
		return false
	}
	if f.ConnectionID != "" && d.ConnectionID != f.ConnectionID {
		return false
	}
	if f.Outcome != "" && d.Outcome != f.Outcome {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == d.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ExportFormat is the encoding used by Export
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)
