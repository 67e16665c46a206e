package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// Principal is an authenticated caller, identified by the API key it presented.
type Principal struct {
	APIKey string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p, p != nil
}

// ParseBearer extracts the token from an "Authorization: Bearer <token>" header. The
// scheme is matched case-insensitively.
func ParseBearer(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Credential returns the caller's API key. Browsers cannot set headers on a
// websocket handshake, so live upgrades may pass it as the access_token query
// parameter instead.
func Credential(r *http.Request) (string, bool) {
	if token, ok := ParseBearer(r); ok {
		return token, true
	}
	if r.URL.Path == "/v1/live" {
		if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
			return token, true
		}
	}
	return "", false
}

// Valid reports whether key is one of keys, comparing in constant time.
func Valid(keys map[string]struct{}, key string) bool {
	ok := 0
	for k := range keys {
		ok |= subtle.ConstantTimeCompare([]byte(k), []byte(key))
	}
	return ok == 1
}
