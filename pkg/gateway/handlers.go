package gateway

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/socketgate/pkg/httputil"
	"github.com/platinummonkey/socketgate/pkg/observability"
)

// AdminHandlers lets administrators inspect and reset rate limits
type AdminHandlers struct {
	gw *Gateway
}

// NewAdminHandlers creates limiter admin handlers for gw
func NewAdminHandlers(gw *Gateway) *AdminHandlers {
	return &AdminHandlers{gw: gw}
}

// RegisterRoutes mounts the limiter API on router behind guard
func (h *AdminHandlers) RegisterRoutes(router *mux.Router, guard mux.MiddlewareFunc) {
	sub := router.PathPrefix("/admin/limits").Subrouter()
	if guard != nil {
		sub.Use(guard)
	}
	sub.HandleFunc("/connections/{address}", h.connectionStatus).Methods(http.MethodGet)
	sub.HandleFunc("/connections/{address}", h.resetConnection).Methods(http.MethodDelete)
	sub.HandleFunc("/events/{event}", h.eventPolicy).Methods(http.MethodGet)
	sub.HandleFunc("/events/{event}/users/{user}", h.resetEvent).Methods(http.MethodDelete)
}

// connectionStatus handles GET /admin/limits/connections/{address}
func (h *AdminHandlers) connectionStatus(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	allowed, wait, err := h.gw.ConnectionRetryAfter(r.Context(), addr)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to read connection limiter")
		httputil.WriteInternalError(w)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"address":      addr,
		"allowed":      allowed,
		"retryAfterMs": wait.Milliseconds(),
	})
}

// resetConnection handles DELETE /admin/limits/connections/{address}
func (h *AdminHandlers) resetConnection(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	logger := observability.FromContext(r.Context()).WithField("address", addr)
	if err := h.gw.ResetConnectionAttempts(r.Context(), addr); err != nil {
		logger.WithError(err).Error("Failed to reset connection limiter")
		httputil.WriteInternalError(w)
		return
	}
	logger.Info("Connection attempts reset")
	w.WriteHeader(http.StatusNoContent)
}

// eventPolicy handles GET /admin/limits/events/{event}
func (h *AdminHandlers) eventPolicy(w http.ResponseWriter, r *http.Request) {
	event := mux.Vars(r)["event"]
	cfg := h.gw.Throttle().Policy(event)
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"event":       event,
		"maxAttempts": cfg.MaxAttempts,
		"windowMs":    cfg.Window.Milliseconds(),
	})
}

// resetEvent handles DELETE /admin/limits/events/{event}/users/{user}
func (h *AdminHandlers) resetEvent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	logger := observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"event":   vars["event"],
		"subject": vars["user"],
	})
	if err := h.gw.Throttle().Reset(r.Context(), vars["user"], vars["event"]); err != nil {
		logger.WithError(err).Error("Failed to reset event limiter")
		httputil.WriteInternalError(w)
		return
	}
	logger.Info("Event limit reset")
	w.WriteHeader(http.StatusNoContent)
}
