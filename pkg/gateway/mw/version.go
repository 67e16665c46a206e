package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/gateway/apierror"
)

const (
	apiVersionHeader    = "X-Coach-Version"
	supportedAPIVersion = "1"
)

// APIVersion rejects /v1 requests that pin an unsupported protocol version.
// Requests without the header are accepted.
func APIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldValidateAPIVersion(r) {
			next.ServeHTTP(w, r)
			return
		}

		for _, version := range parseHeaderCSVValues(r.Header.Values(apiVersionHeader)) {
			if version != supportedAPIVersion {
				reqID, _ := RequestIDFrom(r.Context())
				apierror.WriteStatus(w, reqID, &core.Error{
					Type:    core.ErrInvalidRequest,
					Message: "unsupported API version",
					Code:    "unsupported_version",
				}, http.StatusBadRequest)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func shouldValidateAPIVersion(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return false
	}
	if IsWebSocketUpgrade(r) {
		return false
	}
	return r.URL.Path == "/v1" || strings.HasPrefix(r.URL.Path, "/v1/")
}

// IsWebSocketUpgrade reports whether r asks for a websocket upgrade.
func IsWebSocketUpgrade(r *http.Request) bool {
	if !headerHasToken(r.Header, "Connection", "upgrade") {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, value := range h.Values(name) {
		for _, part := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

func parseHeaderCSVValues(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			out = append(out, trimmed)
		}
	}
	return out
}
