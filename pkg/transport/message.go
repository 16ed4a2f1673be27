package transport

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/platinummonkey/socketgate/pkg/audit"
	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/httputil"
	"github.com/platinummonkey/socketgate/pkg/middleware"
	"github.com/platinummonkey/socketgate/pkg/rbac"
)

// Subprotocol is the application protocol negotiated on upgrade. Browsers
// that cannot set headers pass the credential as a second entry,
// "bearer.<token>", which is never echoed back.
const (
	Subprotocol    = "socketgate"
	bearerProtocol = "bearer."
)

// Reply types
const (
	TypeResult     = "result"
	TypeError      = "error"
	TypeAdminAudit = audit.MonitorChannel
)

// Error messages sent in replies besides the auth public messages
const (
	MessageInvalidMessage = "INVALID_MESSAGE"
	MessageUnknownEvent   = "UNKNOWN_EVENT"
	MessageInternalError  = "INTERNAL_ERROR"
)

// Inbound is one client message
type Inbound struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// scopeFields are the targeting fields any event payload may carry
type scopeFields struct {
	ResourceID string `json:"resourceId"`
	Department string `json:"department"`
}

// Scope extracts the authorization target from the payload
func (m Inbound) Scope() rbac.Scope {
	var f scopeFields
	if len(m.Data) > 0 {
		_ = json.Unmarshal(m.Data, &f)
	}
	return rbac.Scope{ResourceID: f.ResourceID, Department: f.Department}
}

// Reply is sent in answer to an Inbound message
type Reply struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Event   string      `json:"event,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Broadcast wraps a monitor event for admin connections
type Broadcast struct {
	Type string             `json:"type"`
	Data audit.MonitorEvent `json:"data"`
}

// HandshakeFromRequest builds the transport-independent handshake and the
// connection-level scope from an HTTP request
func HandshakeFromRequest(r *http.Request, trustProxy bool) (auth.Handshake, rbac.Scope) {
	h := auth.Handshake{
		Auth:       map[string]string{},
		Query:      r.URL.Query(),
		Header:     r.Header,
		Cookies:    r.Cookies(),
		RemoteAddr: middleware.ClientIP(r, trustProxy),
	}
	for _, proto := range websocketProtocols(r) {
		if token, ok := strings.CutPrefix(proto, bearerProtocol); ok && token != "" {
			h.Auth[auth.TokenField] = token
			break
		}
	}

	scope := rbac.Scope{Department: h.Query.Get("department")}
	return h, scope
}

func websocketProtocols(r *http.Request) []string {
	var out []string
	for _, header := range r.Header.Values("Sec-Websocket-Protocol") {
		for _, p := range strings.Split(header, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// writeRefusal answers a refused upgrade with its status and public message
func writeRefusal(w http.ResponseWriter, err error) {
	message := auth.PublicMessageOf(err)
	switch auth.CodeOf(err) {
	case auth.CodeRateLimited:
		httputil.WriteTooManyRequests(w, message)
	case auth.CodeAuthorizationDenied:
		httputil.WriteForbidden(w, message)
	default:
		httputil.WriteUnauthorized(w, message)
	}
}
