package auth

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCredential_Precedence(t *testing.T) {
	full := Handshake{
		Auth:    map[string]string{"token": "from-auth"},
		Query:   url.Values{"token": {"from-query"}},
		Header:  http.Header{"Authorization": {"Bearer from-header"}},
		Cookies: []*http.Cookie{{Name: "token", Value: "from-cookie"}},
	}

	tests := []struct {
		name   string
		mutate func(h *Handshake)
		want   Credential
	}{
		{
			name:   "auth payload wins",
			mutate: func(h *Handshake) {},
			want:   Credential{Value: "from-auth", Source: SourceAuthPayload},
		},
		{
			name:   "query when auth payload empty",
			mutate: func(h *Handshake) { h.Auth = map[string]string{"token": ""} },
			want:   Credential{Value: "from-query", Source: SourceQuery},
		},
		{
			name: "header when no query",
			mutate: func(h *Handshake) {
				h.Auth = nil
				h.Query = url.Values{}
			},
			want: Credential{Value: "from-header", Source: SourceHeader},
		},
		{
			name: "cookie last",
			mutate: func(h *Handshake) {
				h.Auth = nil
				h.Query = nil
				h.Header = http.Header{}
			},
			want: Credential{Value: "from-cookie", Source: SourceCookie},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := full
			tt.mutate(&h)
			got, ok := ExtractCredential(h)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractCredential_Absent(t *testing.T) {
	tests := []struct {
		name string
		h    Handshake
	}{
		{name: "empty handshake", h: Handshake{}},
		{name: "non bearer scheme", h: Handshake{Header: http.Header{"Authorization": {"Basic dXNlcjpwYXNz"}}}},
		{name: "empty bearer", h: Handshake{Header: http.Header{"Authorization": {"Bearer   "}}}},
		{name: "other cookie", h: Handshake{Cookies: []*http.Cookie{{Name: "session", Value: "x"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ExtractCredential(tt.h)
			assert.False(t, ok)
		})
	}
}

func TestExtractCredential_BearerCaseInsensitive(t *testing.T) {
	got, ok := ExtractCredential(Handshake{Header: http.Header{"Authorization": {"bearer abc.def.ghi"}}})
	assert.True(t, ok)
	assert.Equal(t, "abc.def.ghi", got.Value)
}
