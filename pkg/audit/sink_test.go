package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/socketgate/pkg/observability"
)

func TestLogSink_Write(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(observability.NewLogger(observability.InfoLevel, &buf))

	require.NoError(t, sink.Write(context.Background(), Decision{
		ID:           "01H",
		ConnectionID: "conn-1",
		SubjectID:    strPtr("u1"),
		Kind:         KindAuthzDeny,
		Stage:        "department",
		Resource:     "cardiology",
		Outcome:      OutcomeFailed,
		Reason:       "DEPARTMENT_MISMATCH",
	}))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "authz.deny", entry["kind"])
	assert.Equal(t, "u1", entry["user_id"])
	assert.Equal(t, "DEPARTMENT_MISMATCH", entry["reason"])
	assert.Equal(t, "audit", entry["component"])
}

func TestMemorySink_Search(t *testing.T) {
	sink := NewMemorySink()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		kind := KindAuthzGrant
		if i%2 == 1 {
			kind = KindAuthzDeny
		}
		require.NoError(t, sink.Write(context.Background(), Decision{
			ID:        string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			SubjectID: strPtr("u1"),
			Kind:      kind,
		}))
	}
	require.NoError(t, sink.Write(context.Background(), Decision{ID: "z", Timestamp: base, Kind: KindAuthnFailure}))

	got, err := sink.Search(context.Background(), Filter{SubjectID: "u1", Kinds: []Kind{KindAuthzGrant}})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "e", got[0].ID, "newest first")

	since := base.Add(2 * time.Minute)
	got, err = sink.Search(context.Background(), Filter{Since: &since, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d", got[0].ID)

	got, err = sink.Search(context.Background(), Filter{Offset: 50})
	require.NoError(t, err)
	assert.Empty(t, got)

	sink.Reset()
	assert.Zero(t, sink.Len())
}

func TestMultiSink(t *testing.T) {
	mem := NewMemorySink()
	multi := NewMultiSink(failingSink{}, mem)

	err := multi.Write(context.Background(), Decision{Kind: KindAuthnSuccess})
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 1, mem.Len(), "later sinks still receive the decision")

	store, ok := multi.Store()
	assert.True(t, ok)
	assert.Same(t, mem, store)

	_, ok = NewMultiSink(failingSink{}).Store()
	assert.False(t, ok)

	closeErr := errors.New("close failed")
	assert.ErrorIs(t, NewMultiSink(closingSink{err: closeErr}, mem).Close(), closeErr)
}

type closingSink struct{ err error }

func (s closingSink) Write(ctx context.Context, d Decision) error { return nil }
func (s closingSink) Close() error                                { return s.err }

func TestDecision_Monitor(t *testing.T) {
	ts := time.Now()
	d := Decision{
		Timestamp:    ts,
		ConnectionID: "c",
		Kind:         KindAuthzDeny,
		Stage:        "resource",
		Resource:     "case-9",
		Outcome:      OutcomeFailed,
	}
	ev := d.Monitor()
	assert.Equal(t, "authz.deny:resource", ev.Action)
	assert.Nil(t, ev.SubjectID)

	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"connectionId":"c"`)
	assert.NotContains(t, string(payload), "subjectId")

	assert.Equal(t, "ratelimit.trip", Decision{Kind: KindRateLimitTrip}.Action())
}
