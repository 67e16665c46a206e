package principal

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/vango-go/callcoach/pkg/gateway/auth"
	"github.com/vango-go/callcoach/pkg/gateway/config"
	"github.com/vango-go/callcoach/pkg/gateway/ratelimit"
)

type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindIP     Kind = "ip"
	KindAnon   Kind = "anonymous"
)

// Resolved identifies the caller a request is accounted to.
type Resolved struct {
	Kind Kind
	// Raw is the API key or IP. It must not be logged.
	Raw string
	// Key is the bucketed identifier used by the rate limiter.
	Key string
}

var anonymous = Resolved{Kind: KindAnon, Key: "anonymous"}

// Resolve prefers the authenticated API key, then the client address. Proxy headers
// are consulted only when TrustProxyHeaders is set.
func Resolve(r *http.Request, cfg config.Config) Resolved {
	if r == nil {
		return anonymous
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok && strings.TrimSpace(p.APIKey) != "" {
		return Resolved{Kind: KindAPIKey, Raw: p.APIKey, Key: ratelimit.KeyFromAPIKey(p.APIKey)}
	}
	if ip, ok := clientAddr(r, cfg.TrustProxyHeaders); ok {
		return Resolved{Kind: KindIP, Raw: ip.String(), Key: ratelimit.KeyFromIP(ip.String())}
	}
	return anonymous
}

func clientAddr(r *http.Request, trustProxy bool) (netip.Addr, bool) {
	var candidates []string
	if trustProxy {
		first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
		candidates = append(candidates, r.Header.Get("X-Real-IP"), first)
	}
	for _, c := range append(candidates, r.RemoteAddr) {
		if ip, ok := parseAddr(c); ok {
			return ip, true
		}
	}
	return netip.Addr{}, false
}

func parseAddr(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}
