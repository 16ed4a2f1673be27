package audit

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/socketgate/pkg/httputil"
	"github.com/platinummonkey/socketgate/pkg/observability"
)

// Handlers serves the stored decision log to administrators
type Handlers struct {
	store Store
}

// NewHandlers creates audit handlers over store
func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes mounts the audit API on router. guard runs before every
// handler and is expected to enforce the audit:read permission.
func (h *Handlers) RegisterRoutes(router *mux.Router, guard mux.MiddlewareFunc) {
	sub := router.PathPrefix("/admin/audit").Subrouter()
	if guard != nil {
		sub.Use(guard)
	}
	sub.HandleFunc("/decisions", h.listDecisions).Methods(http.MethodGet)
	sub.HandleFunc("/export", h.exportDecisions).Methods(http.MethodGet)
}

// listDecisions handles GET /admin/audit/decisions
func (h *Handlers) listDecisions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	decisions, err := h.store.Search(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to search decisions")
		httputil.WriteInternalError(w)
		return
	}

	_ = httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": decisions,
		"count":     len(decisions),
		"limit":     filter.limit(),
		"offset":    filter.Offset,
	})
}

// exportDecisions handles GET /admin/audit/export?format=json|csv|ndjson
func (h *Handlers) exportDecisions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	format := ExportFormat(r.URL.Query().Get("format"))

	decisions, err := h.store.Search(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to search decisions")
		httputil.WriteInternalError(w)
		return
	}
	data, err := Export(decisions, format)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=auth-decisions.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=auth-decisions.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=auth-decisions.json")
	}
	_, _ = w.Write(data)
}

func parseFilter(r *http.Request) (Filter, error) {
	var f Filter
	var err error

	if f.Since, err = httputil.ParseQueryTime(r, "since"); err != nil {
		return f, err
	}
	if f.Until, err = httputil.ParseQueryTime(r, "until"); err != nil {
		return f, err
	}
	if f.Limit, err = httputil.ParseQueryInt(r, "limit", 0); err != nil {
		return f, err
	}
	if f.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return f, err
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := r.URL.Query()
	f.SubjectID = q.Get("subject_id")
	f.ConnectionID = q.Get("connection_id")
	f.Outcome = Outcome(strings.ToUpper(q.Get("outcome")))
	for _, k := range httputil.ParseQueryList(r, "kind") {
		f.Kinds = append(f.Kinds, Kind(k))
	}
	return f, nil
}
