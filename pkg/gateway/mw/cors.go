package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/callcoach/pkg/gateway/config"
)

const (
	corsAllowedMethods = "GET, POST, DELETE, OPTIONS"
	corsMaxAge         = "600"
)

var (
	corsAllowedHeaders = strings.Join([]string{"Content-Type", "Authorization", "X-Request-ID", apiVersionHeader}, ", ")
	corsExposedHeaders = strings.Join([]string{"X-Request-ID", "Retry-After"}, ", ")
)

// CORS answers preflights and decorates responses for allowlisted origins only. With
// an empty allowlist every preflight is refused.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	listed := func(origin string) bool {
		_, ok := cfg.CORSAllowedOrigins[origin]
		return origin != "" && ok
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		h := w.Header()

		if isPreflight(r) {
			if !listed(origin) {
				http.Error(w, "cors preflight not allowed", http.StatusForbidden)
				return
			}
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if listed(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Expose-Headers", corsExposedHeaders)
		}
		next.ServeHTTP(w, r)
	})
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != ""
}

// AllowedOrigin reports whether a websocket handshake from origin may proceed.
// Requests without an Origin header come from non-browser clients and are allowed.
func AllowedOrigin(cfg config.Config, r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if _, ok := cfg.CORSAllowedOrigins[origin]; ok {
		return true
	}
	return sameHost(origin, r.Host)
}

func sameHost(origin, host string) bool {
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(origin, scheme) {
			return strings.EqualFold(strings.TrimPrefix(origin, scheme), host)
		}
	}
	return false
}
