package transport

import (
	"net/http"

	"github.com/platinummonkey/socketgate/pkg/gateway"
	"github.com/platinummonkey/socketgate/pkg/rbac"
)

// Resolver authenticates plain HTTP requests with the same state machine as
// WebSocket admission, for use with rbac.RequireChain
func Resolver(gw *gateway.Gateway, trustProxy bool) rbac.ResolveFunc {
	return func(r *http.Request) (rbac.Request, error) {
		h, scope := HandshakeFromRequest(r, trustProxy)
		conn := gateway.NewConn(h)
		conn.Attributes = scope
		if err := gw.Authenticate(r.Context(), conn); err != nil {
			return rbac.Request{}, err
		}
		return rbac.Request{
			ConnectionID: conn.ID,
			Identity:     conn.Identity(),
			Scope:        scope,
		}, nil
	}
}
