package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/socketgate/pkg/middleware"
)

func adminRouter(t *testing.T, gw *Gateway, guard mux.MiddlewareFunc) *mux.Router {
	t.Helper()
	router := mux.NewRouter()
	NewAdminHandlers(gw).RegisterRoutes(router, guard)
	return router
}

func TestAdminHandlers_ConnectionReset(t *testing.T) {
	f := newFixture(t)
	gw := f.gateway(t, nil)
	router := adminRouter(t, gw, nil)
	ctx := context.Background()

	addr := "203.0.113.9"
	for i := 0; i < middleware.ConnectionAttemptConfig().MaxAttempts; i++ {
		require.NoError(t, f.limiter.Increment(ctx, RateKey(addr)))
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/limits/connections/"+addr, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var status struct {
		Allowed      bool  `json:"allowed"`
		RetryAfterMs int64 `json:"retryAfterMs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.False(t, status.Allowed)
	assert.Equal(t, (15 * time.Minute).Milliseconds(), status.RetryAfterMs)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/admin/limits/connections/"+addr, nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	allowed, err := f.limiter.Check(ctx, RateKey(addr))
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAdminHandlers_EventLimits(t *testing.T) {
	f := newFixture(t)
	throttle := NewEventThrottle(nil, map[string]*middleware.RateLimitConfig{
		"case:assign": {MaxAttempts: 1, Window: time.Minute},
	}, clockedLimiters(f), f.trail, nil)
	gw := f.gateway(t, func(o *Options) { o.Throttle = throttle })
	router := adminRouter(t, gw, nil)
	ctx := context.Background()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/limits/events/case:assign", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var policy struct {
		MaxAttempts int   `json:"maxAttempts"`
		WindowMs    int64 `json:"windowMs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &policy))
	assert.Equal(t, 1, policy.MaxAttempts)
	assert.Equal(t, int64(60000), policy.WindowMs)

	alice := userConn("alice")
	_, err := throttle.Allow(ctx, alice, "case:assign")
	require.NoError(t, err)
	notice, _ := throttle.Allow(ctx, alice, "case:assign")
	require.NotNil(t, notice)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/admin/limits/events/case:assign/users/alice", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	notice, err = throttle.Allow(ctx, alice, "case:assign")
	assert.NoError(t, err)
	assert.Nil(t, notice)
}

func TestAdminHandlers_Guard(t *testing.T) {
	f := newFixture(t)
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "ACCESS_DENIED", http.StatusForbidden)
		})
	}
	router := adminRouter(t, f.gateway(t, nil), deny)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/admin/limits/connections/203.0.113.9", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
