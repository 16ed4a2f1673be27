package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/httputil"
)

// ResolveFunc authenticates an HTTP request into an authorization Request
type ResolveFunc func(r *http.Request) (Request, error)

// RequireChain guards HTTP handlers with a chain. Authentication failures
// answer 401 and denials 403, each with only the public message.
func RequireChain(resolve ResolveFunc, chain *Chain) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, err := resolve(r)
			if err != nil {
				if auth.CodeOf(err) == auth.CodeRateLimited {
					httputil.WriteTooManyRequests(w, auth.PublicMessageOf(err))
					return
				}
				httputil.WriteUnauthorized(w, auth.PublicMessageOf(err))
				return
			}

			if err := chain.Evaluate(r.Context(), req); err != nil {
				httputil.WriteForbidden(w, auth.MessageAccessDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
