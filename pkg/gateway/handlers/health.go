package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vango-go/callcoach/pkg/coach/session"
	"github.com/vango-go/callcoach/pkg/gateway/config"
	"github.com/vango-go/callcoach/pkg/gateway/lifecycle"
	"github.com/vango-go/callcoach/pkg/gateway/live/tracker"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports 503 while draining so load balancers stop sending new calls.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Registry  *session.Registry
	Conns     *tracker.Tracker
	Now       func() time.Time
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool     `json:"ok"`
		Draining      bool     `json:"draining"`
		Provider      string   `json:"provider"`
		STTProvider   string   `json:"stt_provider,omitempty"`
		Sessions      int      `json:"sessions"`
		Connections   int      `json:"connections"`
		UptimeSeconds int64    `json:"uptime_seconds"`
		Issues        []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)
	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "draining")
	}
	if h.Config.MaxSessions > 0 && h.Registry != nil && h.Registry.Active() >= h.Config.MaxSessions {
		issues = append(issues, "session limit reached")
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	resp := readyResp{
		OK:            len(issues) == 0,
		Draining:      draining,
		Provider:      h.Config.Provider,
		Connections:   h.Conns.Len(),
		UptimeSeconds: int64(h.Lifecycle.Uptime(now()) / time.Second),
		Issues:        issues,
	}
	if h.Config.STTAPIKey() != "" {
		resp.STTProvider = h.Config.STTProvider
	}
	if h.Registry != nil {
		resp.Sessions = h.Registry.Active()
	}

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
