// Package auth holds the identity model, bearer token verification, and the
// error taxonomy shared by every gateway stage.
//
// # Overview
//
// A connection presents an opaque bearer credential in its handshake. The
// credential is extracted, verified into Claims, resolved against a
// UserDirectory, and turned into an Identity: an immutable snapshot that
// lives exactly as long as the connection.
//
// # Key Components
//
// Credential extraction, first non-empty source wins:
//
//	cred, ok := auth.ExtractCredential(auth.Handshake{
//		Auth:    map[string]string{"token": t}, // 1. handshake auth payload
//		Query:   r.URL.Query(),                 // 2. ?token=
//		Header:  r.Header,                      // 3. Authorization: Bearer
//		Cookies: r.Cookies(),                   // 4. token cookie
//	})
//
// Token verification (HS256):
//
//	verifier, _ := auth.NewTokenVerifier(secret, "socketgate", 30*time.Second)
//	claims, err := verifier.Verify(cred.Value)
//	// err is *auth.VerifyError with Kind expired, malformed, or unknown
//
// Errors carry their code directly:
//
//	if auth.CodeOf(err) == auth.CodeAccountDeactivated { ... }
//	msg := auth.PublicMessageOf(err) // AUTHENTICATION_FAILED, ACCESS_DENIED, ...
//
// # Related Packages
//
//   - pkg/directory: UserDirectory and ResourceStore implementations
//   - pkg/gateway: the authentication state machine
//   - pkg/rbac: authorization checks over an Identity
package auth
