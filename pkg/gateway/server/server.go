package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vango-go/callcoach/pkg/coach/metrics"
	"github.com/vango-go/callcoach/pkg/coach/playbook"
	"github.com/vango-go/callcoach/pkg/coach/record"
	"github.com/vango-go/callcoach/pkg/coach/review"
	"github.com/vango-go/callcoach/pkg/coach/session"
	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/gateway/config"
	"github.com/vango-go/callcoach/pkg/gateway/handlers"
	"github.com/vango-go/callcoach/pkg/gateway/lifecycle"
	"github.com/vango-go/callcoach/pkg/gateway/live/tracker"
	"github.com/vango-go/callcoach/pkg/gateway/mw"
	"github.com/vango-go/callcoach/pkg/gateway/ratelimit"
)

// Dependencies wires a Server. Nil Lifecycle, Conns and Limiter get fresh instances;
// a nil Metrics disables /metrics. Reasoner reviews finished calls when it implements
// core.Analyzer.
type Dependencies struct {
	Config    config.Config
	Logger    *zap.Logger
	Registry  *session.Registry
	Store     record.Store
	Reasoner  core.Reasoner
	Playbook  *playbook.Playbook
	Metrics   *metrics.Metrics
	Lifecycle *lifecycle.Lifecycle
	Conns     *tracker.Tracker
	Limiter   *ratelimit.Limiter
	NewSTT    handlers.STTFactory
}

type Server struct {
	deps Dependencies
	mux  *http.ServeMux
}

func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = lifecycle.New(time.Now())
	}
	if deps.Conns == nil {
		deps.Conns = tracker.New()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(ratelimit.Config{
			RPS:                   deps.Config.LimitRPS,
			Burst:                 deps.Config.LimitBurst,
			MaxConcurrentRequests: deps.Config.LimitMaxConcurrentRequests,
			MaxLivePerClient:      deps.Config.LimitMaxLivePerClient,
		})
	}
	if deps.Playbook == nil {
		deps.Playbook = playbook.Default()
	}
	if deps.Store == nil {
		deps.Store = record.NewMemoryStore()
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	d := s.deps
	s.mux.Handle("/", handlers.NotFoundHandler{})
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{
		Config:    d.Config,
		Lifecycle: d.Lifecycle,
		Registry:  d.Registry,
		Conns:     d.Conns,
	})
	if d.Metrics != nil {
		s.mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	s.mux.Handle("/v1/live", handlers.LiveHandler{
		Config:    d.Config,
		Registry:  d.Registry,
		Logger:    d.Logger,
		Metrics:   d.Metrics,
		Lifecycle: d.Lifecycle,
		Conns:     d.Conns,
		Limiter:   d.Limiter,
		NewSTT:    d.NewSTT,
	})
	s.mux.Handle("GET /v1/sessions/{id}", handlers.SessionsHandler{Registry: d.Registry})

	calls := handlers.CallsHandler{
		Store: d.Store,
		Reviewer: review.New(review.Dependencies{
			Store:    d.Store,
			Reasoner: d.Reasoner,
			Logger:   d.Logger,
			Metrics:  d.Metrics,
			Config:   review.Config{Timeout: 2 * d.Config.ProviderTimeout},
		}),
		Logger: d.Logger,
	}
	s.mux.HandleFunc("GET /v1/calls", calls.List)
	s.mux.HandleFunc("GET /v1/calls/{id}", calls.Get)
	s.mux.HandleFunc("DELETE /v1/calls/{id}", calls.Delete)
	s.mux.HandleFunc("POST /v1/calls/{id}/analyze", calls.Analyze)

	s.mux.Handle("GET /v1/toolkit", handlers.ToolkitHandler{Playbook: d.Playbook})
}

// Lifecycle returns the lifecycle the health and live handlers consult.
func (s *Server) Lifecycle() *lifecycle.Lifecycle { return s.deps.Lifecycle }

// Conns returns the tracker of open live connections.
func (s *Server) Conns() *tracker.Tracker { return s.deps.Conns }

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.APIVersion(h)
	h = mw.RateLimit(s.deps.Config, s.deps.Limiter, h)
	h = mw.Auth(s.deps.Config, h)
	h = mw.CORS(s.deps.Config, h)
	h = mw.Recover(s.deps.Logger, h)
	h = mw.AccessLog(s.deps.Logger, h)
	h = mw.RequestID(h)
	return h
}
