package gateway

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/socketgate/pkg/audit"
	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/contextkeys"
	"github.com/platinummonkey/socketgate/pkg/directory"
	"github.com/platinummonkey/socketgate/pkg/middleware"
	"github.com/platinummonkey/socketgate/pkg/observability"
	"github.com/platinummonkey/socketgate/pkg/rbac"
)

const testSecret = "test-secret-do-not-use"

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	now      time.Time
	verifier *auth.TokenVerifier
	dir      *directory.MemoryDirectory
	limiter  *middleware.SlidingWindowLimiter
	sink     *audit.MemorySink
	trail    *audit.Trail
	logger   *observability.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: epoch}

	v, err := auth.NewTokenVerifier(testSecret, "socketgate", 0)
	require.NoError(t, err)
	v.SetClock(f.clock)
	f.verifier = v

	f.dir = directory.NewMemoryDirectory()
	f.limiter = middleware.NewSlidingWindowLimiter(middleware.ConnectionAttemptConfig())
	f.limiter.SetClock(f.clock)

	f.logger = observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	f.sink = audit.NewMemorySink()
	f.trail = audit.NewTrail(context.Background(), f.sink, audit.TrailConfig{}, f.logger, nil)
	t.Cleanup(func() { _ = f.trail.Close(context.Background()) })
	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := f.verifier.Issue(subject, subject+"@example.org", auth.RoleRadiologist, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) gateway(t *testing.T, mutate func(*Options)) *Gateway {
	t.Helper()
	opts := Options{
		Verifier:            f.verifier,
		Users:               f.dir,
		Resources:           f.dir,
		ConnectionLimiter:   f.limiter,
		PenalizeUnknownUser: true,
		Trail:               f.trail,
		Logger:              f.logger,
		Now:                 f.clock,
	}
	if mutate != nil {
		mutate(&opts)
	}
	gw, err := New(opts)
	require.NoError(t, err)
	return gw
}

func (f *fixture) putUser(id, dept string, role auth.Role, perms ...string) auth.UserRecord {
	rec := auth.UserRecord{ID: id, Email: id + "@example.org", Name: id, Role: role, Permissions: perms, Active: true}
	if dept != "" {
		rec.Department = &dept
	}
	f.dir.PutUser(rec)
	return rec
}

func connWithToken(addr, token string) *Conn {
	return NewConn(auth.Handshake{
		Query:      url.Values{"token": {token}},
		RemoteAddr: addr,
	})
}

func kinds(decisions []audit.Decision) []audit.Kind {
	out := make([]audit.Kind, len(decisions))
	for i, d := range decisions {
		out[i] = d.Kind
	}
	return out
}

type failingDirectory struct{ err error }

func (d failingDirectory) FindUser(ctx context.Context, id string, fields ...auth.Field) (*auth.UserRecord, error) {
	return nil, d.err
}

func (d failingDirectory) FindResource(ctx context.Context, id string) (*auth.Resource, error) {
	return nil, d.err
}

func TestNew_RequiresCollaborators(t *testing.T) {
	f := newFixture(t)

	_, err := New(Options{Users: f.dir, ConnectionLimiter: f.limiter})
	assert.Error(t, err)
	_, err = New(Options{Verifier: f.verifier, ConnectionLimiter: f.limiter})
	assert.Error(t, err)
	_, err = New(Options{Verifier: f.verifier, Users: f.dir})
	assert.Error(t, err)
}

func TestGateway_AdmitRunsConnectChain(t *testing.T) {
	f := newFixture(t)
	f.putUser("tech-1", "breast-imaging", auth.RoleTechnician, "case:read")
	f.putUser("admin-1", "", auth.RoleAdmin)

	gw := f.gateway(t, func(o *Options) {
		o.ConnectChain = rbac.NewChain("connect", f.trail, nil, rbac.Department())
	})

	t.Run("matching department", func(t *testing.T) {
		conn := connWithToken("198.51.100.1", f.token(t, "tech-1"))
		conn.Attributes.Department = "breast-imaging"
		require.NoError(t, gw.Admit(context.Background(), conn))
		assert.True(t, conn.Authenticated())
	})

	t.Run("missing department", func(t *testing.T) {
		f.sink.Reset()
		conn := connWithToken("198.51.100.1", f.token(t, "tech-1"))
		err := gw.Admit(context.Background(), conn)
		assert.Equal(t, auth.CodeAuthorizationDenied, auth.CodeOf(err))
		assert.Equal(t, auth.ReasonDepartmentNotSpecified, auth.ReasonOf(err))
		assert.Equal(t, auth.MessageAccessDenied, auth.PublicMessageOf(err))

		decisions := f.sink.Decisions()
		require.NotEmpty(t, decisions)
		assert.Equal(t, audit.KindAuthzDeny, decisions[len(decisions)-1].Kind)
	})

	t.Run("admin without department", func(t *testing.T) {
		conn := connWithToken("198.51.100.2", f.token(t, "admin-1"))
		require.NoError(t, gw.Admit(context.Background(), conn))
	})
}

func TestGateway_HandleEvent(t *testing.T) {
	f := newFixture(t)
	f.putUser("rad-1", "breast-imaging", auth.RoleRadiologist, "case:read")
	f.dir.PutResource(auth.Resource{ID: "case-9", AssignedPrincipalID: strPtr("rad-1"), Department: strPtr("neuro"), Status: "open"})
	f.dir.PutResource(auth.Resource{ID: "case-10", Department: strPtr("neuro"), Status: "open"})

	throttle := NewEventThrottle(nil, map[string]*middleware.RateLimitConfig{
		"case:view": {MaxAttempts: 3, Window: time.Minute},
	}, nil, f.trail, nil)

	gw := f.gateway(t, func(o *Options) {
		o.Throttle = throttle
		o.Policies = rbac.Policies{
			"case:view": rbac.NewChain("case:view", f.trail, nil,
				rbac.Permissions(f.dir, auth.PermissionCaseRead),
				rbac.ResourceAccess(f.dir),
			),
		}
		o.SensitiveEvents = map[string]bool{"report:sign": true}
	})

	conn := connWithToken("198.51.100.7", f.token(t, "rad-1"))
	ctx := context.Background()

	t.Run("unauthenticated connection", func(t *testing.T) {
		_, err := gw.HandleEvent(ctx, conn, Event{Name: "ping"})
		assert.Equal(t, auth.CodeSessionInvalidated, auth.CodeOf(err))
	})

	require.NoError(t, gw.Admit(ctx, conn))

	t.Run("assigned case granted despite department", func(t *testing.T) {
		notice, err := gw.HandleEvent(ctx, conn, Event{Name: "case:view", Scope: rbac.Scope{ResourceID: "case-9"}})
		require.NoError(t, err)
		assert.Nil(t, notice)
	})

	t.Run("unrelated case denied", func(t *testing.T) {
		notice, err := gw.HandleEvent(ctx, conn, Event{Name: "case:view", Scope: rbac.Scope{ResourceID: "case-10"}})
		assert.Nil(t, notice)
		assert.Equal(t, auth.CodeAuthorizationDenied, auth.CodeOf(err))
		assert.Equal(t, auth.ReasonResourceAccessDenied, auth.ReasonOf(err))
	})

	t.Run("throttled before authorization", func(t *testing.T) {
		f.sink.Reset()
		gw.HandleEvent(ctx, conn, Event{Name: "case:view", Scope: rbac.Scope{ResourceID: "case-9"}})
		notice, err := gw.HandleEvent(ctx, conn, Event{Name: "case:view", Scope: rbac.Scope{ResourceID: "case-9"}})
		require.NotNil(t, notice)
		assert.Equal(t, auth.CodeEventRateLimited, auth.CodeOf(err))
		assert.Equal(t, "case:view", notice.Event)

		// The throttled message never reached the chain
		assert.Equal(t, []audit.Kind{audit.KindAuthzGrant, audit.KindAuthzGrant, audit.KindRateLimitTrip}, kinds(f.sink.Decisions()))
	})

	t.Run("events without a policy pass", func(t *testing.T) {
		notice, err := gw.HandleEvent(ctx, conn, Event{Name: "ping"})
		assert.NoError(t, err)
		assert.Nil(t, notice)
	})

	t.Run("sensitive event checks the session", func(t *testing.T) {
		_, err := gw.HandleEvent(ctx, conn, Event{Name: "report:sign"})
		require.NoError(t, err)

		f.dir.RecordLogout("rad-1", f.now.Add(time.Minute))
		_, err = gw.HandleEvent(ctx, conn, Event{Name: "report:sign"})
		assert.Equal(t, auth.CodeSessionInvalidated, auth.CodeOf(err))
		assert.Equal(t, auth.ReasonLoggedOutElsewhere, auth.ReasonOf(err))
	})
}

func TestGateway_SweepAndClose(t *testing.T) {
	f := newFixture(t)
	gw := f.gateway(t, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = gw.Admit(ctx, connWithToken("192.0.2.1", "not-a-token"))
	}
	assert.Equal(t, 3, f.limiter.Count(RateKey("192.0.2.1")))

	f.advance(time.Hour)
	gw.Sweep()
	assert.Zero(t, f.limiter.Tracked())

	_ = gw.Admit(ctx, connWithToken("192.0.2.1", "not-a-token"))
	require.NoError(t, gw.Close(ctx))
	assert.Zero(t, f.limiter.Tracked())
}

func TestConn_RequestFillsScope(t *testing.T) {
	conn := NewConn(auth.Handshake{RemoteAddr: "192.0.2.9"})
	assert.NotEmpty(t, conn.ID)
	assert.Equal(t, "192.0.2.9", conn.RemoteAddr)
	assert.Nil(t, conn.Identity())

	conn.Attributes = rbac.Scope{Department: "cardiology"}
	conn.attach(auth.Identity{ID: "u1"})

	req := conn.request(rbac.Scope{ResourceID: "case-1"})
	assert.Equal(t, "cardiology", req.Scope.Department)
	assert.Equal(t, "case-1", req.Scope.ResourceID)
	assert.Equal(t, "u1", req.Identity.ID)

	// Copies do not leak writes back
	req.Identity.ID = "changed"
	assert.Equal(t, "u1", conn.UserID())

	ctx := conn.Context(context.Background())
	assert.Equal(t, conn.ID, contextkeys.GetConnID(ctx))
	assert.Equal(t, "u1", contextkeys.GetUserID(ctx))
}

func strPtr(s string) *string { return &s }

var errDirectoryDown = errors.New("directory down")
