package mw

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/gateway/apierror"
	"github.com/vango-go/callcoach/pkg/gateway/config"
	"github.com/vango-go/callcoach/pkg/gateway/principal"
	"github.com/vango-go/callcoach/pkg/gateway/ratelimit"
)

// RateLimit applies the per-client request budget to /v1 REST routes. Live
// connections are admitted by the live handler instead.
func RateLimit(cfg config.Config, l *ratelimit.Limiter, next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") || r.URL.Path == "/v1/live" {
			next.ServeHTTP(w, r)
			return
		}
		d := l.AcquireRequest(principal.Resolve(r, cfg).Key, time.Now())
		if !d.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
			apierror.Write(w, reqID, core.NewRateLimitError("rate limit exceeded"))
			return
		}
		defer d.Permit.Release()
		next.ServeHTTP(w, r)
	})
}
