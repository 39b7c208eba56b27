package network

import (
	"net/http"
	"strings"
)

type staticTokenTransport struct {
	next   http.RoundTripper
	header string
	token  string
}

// NewStaticTokenTransport returns a RoundTripper that injects the configured
// API key header on every request. The header defaults to X-API-Key.
func NewStaticTokenTransport(next http.RoundTripper, header, token string) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	normalizedHeader := strings.TrimSpace(header)
	if normalizedHeader == "" {
		normalizedHeader = "X-API-Key"
	}
	return staticTokenTransport{next: next, header: normalizedHeader, token: strings.TrimSpace(token)}
}

func (t staticTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token == "" {
		return t.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set(t.header, t.token)
	return t.next.RoundTrip(clone)
}
