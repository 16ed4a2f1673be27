package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/socketgate/pkg/audit"
	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/directory"
	"github.com/platinummonkey/socketgate/pkg/gateway"
	"github.com/platinummonkey/socketgate/pkg/middleware"
	"github.com/platinummonkey/socketgate/pkg/observability"
	"github.com/platinummonkey/socketgate/pkg/rbac"
)

const testSecret = "test-secret-do-not-use"

type fixture struct {
	verifier *auth.TokenVerifier
	dir      *directory.MemoryDirectory
	sink     *audit.MemorySink
	trail    *audit.Trail
	hub      *Hub
	logger   *observability.Logger
	server   *Server
	ts       *httptest.Server
}

func newFixture(t *testing.T, mutate func(*gateway.Options, *Config)) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{}
	v, err := auth.NewTokenVerifier(testSecret, "socketgate", 0)
	require.NoError(t, err)
	f.verifier = v
	f.dir = directory.NewMemoryDirectory()
	f.logger = observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	f.hub = NewHub(HubConfig{}, f.logger)
	f.sink = audit.NewMemorySink()
	f.trail = audit.NewTrail(ctx, f.sink, audit.TrailConfig{}, f.logger, nil, f.hub)
	t.Cleanup(func() { _ = f.trail.Close(context.Background()) })

	opts := gateway.Options{
		Verifier:            f.verifier,
		Users:               f.dir,
		Resources:           f.dir,
		ConnectionLimiter:   middleware.NewSlidingWindowLimiter(middleware.ConnectionAttemptConfig()),
		PenalizeUnknownUser: true,
		Policies: rbac.Policies{
			"case:view": rbac.NewChain("case:view", f.trail, nil, rbac.Roles(auth.RoleRadiologist, auth.RoleAdmin)),
		},
		SensitiveEvents: map[string]bool{"report:sign": true},
		Trail:           f.trail,
		Logger:          f.logger,
	}
	cfg := Config{}
	if mutate != nil {
		mutate(&opts, &cfg)
	}
	gw, err := gateway.New(opts)
	require.NoError(t, err)

	registry := NewRegistry()
	registry.Register("case:view", func(_ context.Context, _ *gateway.Conn, msg Inbound) (interface{}, error) {
		return map[string]string{"resourceId": msg.Scope().ResourceID}, nil
	})
	registry.Register("report:sign", func(context.Context, *gateway.Conn, Inbound) (interface{}, error) {
		return "signed", nil
	})

	f.server = NewServer(ctx, gw, f.hub, registry, cfg, f.logger, nil)
	f.ts = httptest.NewServer(f.server)
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fixture) putUser(id string, role auth.Role) {
	f.dir.PutUser(auth.UserRecord{ID: id, Email: id + "@example.org", Name: id, Role: role, Active: true})
}

func (f *fixture) token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := f.verifier.Issue(subject, subject+"@example.org", auth.RoleStaff, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) url(token string) string {
	u := "ws" + strings.TrimPrefix(f.ts.URL, "http")
	if token != "" {
		u += "?" + url.Values{"token": {token}}.Encode()
	}
	return u
}

func (f *fixture) dial(t *testing.T, subject string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(f.url(f.token(t, subject)), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msg Inbound) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(msg))
}

func receive(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var out map[string]interface{}
	require.NoError(t, ws.ReadJSON(&out))
	return out
}

func expectPolicyClose(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
		assert.Equal(t, auth.MessageSessionInvalidated, ce.Text)
		return
	}
}

func TestServer_RefusesBeforeUpgrade(t *testing.T) {
	f := newFixture(t, nil)
	f.putUser("rad-1", auth.RoleRadiologist)
	f.putUser("gone", auth.RoleRadiologist)
	f.dir.SetActive("gone", false)

	tests := []struct {
		name    string
		token   string
		status  int
		message string
	}{
		{name: "no credential", status: http.StatusUnauthorized, message: auth.MessageAuthenticationFailed},
		{name: "forged token", token: "not.a.jwt", status: http.StatusUnauthorized, message: auth.MessageAuthenticationFailed},
		{name: "deactivated", token: f.token(t, "gone"), status: http.StatusUnauthorized, message: auth.MessageAuthenticationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(f.url(tt.token), nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.message, body["error"])
		})
	}
}

func TestServer_ConnectChainDenies(t *testing.T) {
	f := newFixture(t, func(opts *gateway.Options, _ *Config) {
		opts.ConnectChain = rbac.NewChain("connect", opts.Trail, nil, rbac.Roles(auth.RoleAdmin))
	})
	f.putUser("rad-1", auth.RoleRadiologist)

	_, resp, err := websocket.DefaultDialer.Dial(f.url(f.token(t, "rad-1")), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_SubprotocolToken(t *testing.T) {
	f := newFixture(t, nil)
	f.putUser("rad-1", auth.RoleRadiologist)

	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol, "bearer." + f.token(t, "rad-1")}}
	ws, resp, err := dialer.Dial(f.url(""), nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer ws.Close()

	assert.Equal(t, Subprotocol, ws.Subprotocol())
	send(t, ws, Inbound{Event: "ping", ID: "1"})
	reply := receive(t, ws)
	assert.Equal(t, TypeResult, reply["type"])
	assert.Equal(t, "1", reply["id"])
}

func TestServer_EventReplies(t *testing.T) {
	f := newFixture(t, nil)
	f.putUser("rad-1", auth.RoleRadiologist)
	f.putUser("desk-1", auth.RoleStaff)

	rad := f.dial(t, "rad-1")
	send(t, rad, Inbound{Event: "case:view", ID: "a", Data: json.RawMessage(`{"resourceId":"c-1"}`)})
	reply := receive(t, rad)
	assert.Equal(t, TypeResult, reply["type"])
	assert.Equal(t, map[string]interface{}{"resourceId": "c-1"}, reply["data"])

	send(t, rad, Inbound{Event: "nope", ID: "b"})
	assert.Equal(t, MessageUnknownEvent, receive(t, rad)["message"])

	require.NoError(t, rad.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, MessageInvalidMessage, receive(t, rad)["message"])

	desk := f.dial(t, "desk-1")
	send(t, desk, Inbound{Event: "case:view", ID: "c"})
	reply = receive(t, desk)
	assert.Equal(t, TypeError, reply["type"])
	assert.Equal(t, auth.MessageAccessDenied, reply["message"])

	// A denial leaves the connection open
	send(t, desk, Inbound{Event: "ping", ID: "d"})
	assert.Equal(t, TypeResult, receive(t, desk)["type"])
}

func TestServer_ThrottledMessageIsDropped(t *testing.T) {
	f := newFixture(t, func(opts *gateway.Options, _ *Config) {
		opts.Throttle = gateway.NewEventThrottle(&middleware.RateLimitConfig{MaxAttempts: 2, Window: time.Minute}, nil, nil, opts.Trail, nil)
	})
	f.putUser("rad-1", auth.RoleRadiologist)
	ws := f.dial(t, "rad-1")

	for i := 0; i < 2; i++ {
		send(t, ws, Inbound{Event: "ping"})
		assert.Equal(t, TypeResult, receive(t, ws)["type"])
	}
	send(t, ws, Inbound{Event: "ping"})
	notice := receive(t, ws)
	assert.Equal(t, gateway.NoticeTypeRateLimit, notice["type"])
	assert.Equal(t, "ping", notice["event"])
	assert.Greater(t, notice["retryAfter"], float64(0))
}

func TestServer_SensitiveEventClosesInvalidSession(t *testing.T) {
	f := newFixture(t, nil)
	f.putUser("rad-1", auth.RoleRadiologist)
	ws := f.dial(t, "rad-1")

	send(t, ws, Inbound{Event: "report:sign", ID: "1"})
	assert.Equal(t, "signed", receive(t, ws)["data"])

	f.dir.RecordLogout("rad-1", time.Now().Add(time.Minute))
	send(t, ws, Inbound{Event: "report:sign", ID: "2"})
	expectPolicyClose(t, ws)
}

func TestServer_GuardClosesDeactivatedUser(t *testing.T) {
	f := newFixture(t, func(_ *gateway.Options, cfg *Config) {
		cfg.GuardInterval = 20 * time.Millisecond
	})
	f.putUser("rad-1", auth.RoleRadiologist)
	ws := f.dial(t, "rad-1")

	f.dir.SetActive("rad-1", false)
	expectPolicyClose(t, ws)

	require.Eventually(t, func() bool { return f.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_AdminReceivesMonitorEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.putUser("admin-1", auth.RoleAdmin)
	f.putUser("rad-1", auth.RoleRadiologist)

	admin := f.dial(t, "admin-1")
	rad := f.dial(t, "rad-1")
	require.Eventually(t, func() bool { return f.hub.Count() == 2 }, time.Second, 10*time.Millisecond)

	send(t, rad, Inbound{Event: "case:view", ID: "1"})
	assert.Equal(t, TypeResult, receive(t, rad)["type"])

	msg := receive(t, admin)
	assert.Equal(t, TypeAdminAudit, msg["type"])
	data, ok := msg["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "rad-1", data["subjectId"])

	// Non-admin connections never see the monitor channel
	send(t, rad, Inbound{Event: "ping", ID: "2"})
	assert.Equal(t, "2", receive(t, rad)["id"])
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	f := newFixture(t, nil)
	f.putUser("rad-1", auth.RoleRadiologist)
	ws := f.dial(t, "rad-1")
	require.Eventually(t, func() bool { return f.hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.server.Shutdown(ctx))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
}

func TestCheckOrigin(t *testing.T) {
	s := NewServer(context.Background(), nil, NewHub(HubConfig{}, nil), nil,
		Config{AllowedOrigins: []string{"https://pacs.example.org", "viewer.example.org"}}, nil, nil)

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://pacs.example.org", true},
		{"https://viewer.example.org", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, s.checkOrigin(r), tt.origin)
	}
}

func TestHandshakeFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?department=neuro", nil)
	r.RemoteAddr = "198.51.100.7:4000"
	r.Header.Set("Sec-WebSocket-Protocol", "socketgate, bearer.abc.def.ghi")
	r.Header.Set("X-Forwarded-For", "203.0.113.9")

	h, scope := HandshakeFromRequest(r, false)
	assert.Equal(t, "abc.def.ghi", h.Auth[auth.TokenField])
	assert.Equal(t, "198.51.100.7", h.RemoteAddr)
	assert.Equal(t, "neuro", scope.Department)

	h, _ = HandshakeFromRequest(r, true)
	assert.Equal(t, "203.0.113.9", h.RemoteAddr)
}
