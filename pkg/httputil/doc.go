// Package httputil holds the small HTTP helpers shared by the admin API, the
// WebSocket refusal path and the authorization middleware.
//
// Responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteUnauthorized(w, auth.MessageAuthenticationFailed)
//	httputil.WriteTooManyRequests(w, auth.MessageTooManyAttempts)
//
// Query parsing:
//
//	since, err := httputil.ParseQueryTime(r, "since")
//	kinds := httputil.ParseQueryList(r, "kind")
//
// Middleware:
//
//	router.Use(httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	))
package httputil
