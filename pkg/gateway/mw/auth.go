package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/gateway/apierror"
	"github.com/vango-go/callcoach/pkg/gateway/auth"
	"github.com/vango-go/callcoach/pkg/gateway/config"
)

// Auth requires a configured API key on /v1 routes. Health checks and /metrics stay open.
// With no keys configured every request passes.
func Auth(cfg config.Config, next http.Handler) http.Handler {
	if len(cfg.APIKeys) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		key, ok := auth.Credential(r)
		if !ok || !auth.Valid(cfg.APIKeys, key) {
			reqID, _ := RequestIDFrom(r.Context())
			w.Header().Set("WWW-Authenticate", `Bearer realm="coach"`)
			apierror.Write(w, reqID, core.NewAuthenticationError("missing or invalid API key"))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{APIKey: key})))
	})
}
