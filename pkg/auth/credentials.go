package auth

import (
	"net/http"
	"net/url"
	"strings"
)

// CredentialSource records where a credential was found
type CredentialSource string

const (
	SourceAuthPayload CredentialSource = "auth_payload"
	SourceQuery       CredentialSource = "query"
	SourceHeader      CredentialSource = "header"
	SourceCookie      CredentialSource = "cookie"
)

// TokenField is the name used for the credential in the auth payload, the
// query string, and the cookie jar
const TokenField = "token"

// Handshake is the transport-independent view of a connection attempt
type Handshake struct {
	Auth       map[string]string
	Query      url.Values
	Header     http.Header
	Cookies    []*http.Cookie
	RemoteAddr string
}

// Credential is an opaque bearer string and where it came from
type Credential struct {
	Value  string
	Source CredentialSource
}

// ExtractCredential returns the first non-empty credential, trying the auth
// payload, the query string, the Authorization header, then the token cookie.
// ok is false when no source carries one.
func ExtractCredential(h Handshake) (Credential, bool) {
	if v := strings.TrimSpace(h.Auth[TokenField]); v != "" {
		return Credential{Value: v, Source: SourceAuthPayload}, true
	}

	if h.Query != nil {
		if v := strings.TrimSpace(h.Query.Get(TokenField)); v != "" {
			return Credential{Value: v, Source: SourceQuery}, true
		}
	}

	if h.Header != nil {
		if v, ok := bearer(h.Header.Get("Authorization")); ok {
			return Credential{Value: v, Source: SourceHeader}, true
		}
	}

	for _, c := range h.Cookies {
		if c.Name == TokenField && strings.TrimSpace(c.Value) != "" {
			return Credential{Value: strings.TrimSpace(c.Value), Source: SourceCookie}, true
		}
	}

	return Credential{}, false
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
