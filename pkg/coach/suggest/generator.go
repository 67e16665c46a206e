// Package suggest produces coaching guidance for a session: single-flight per session,
// bounded provider concurrency, strict payload validation, and deterministic fallback.
package suggest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vango-go/callcoach/pkg/coach/metrics"
	"github.com/vango-go/callcoach/pkg/coach/playbook"
	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
)

// Defaults for Config.
const (
	DefaultProviderTimeout  = 30 * time.Second
	DefaultWorkers          = 8
	DefaultAdmissionTimeout = 250 * time.Millisecond
	maxKeyQuestions         = 5
	maxTalkingPoints        = 6
)

// Target is the session-side contract the generator drives. Implementations guard
// their state with their own lock.
type Target interface {
	ID() string
	// Context is cancelled when the session ends.
	Context() context.Context
	// TryBeginRequest sets the single-flight guard. It reports false when a request
	// is already in flight or the session is no longer active.
	TryBeginRequest() bool
	// GuidanceRequest snapshots the current window, stage, and objectives.
	GuidanceRequest() *types.GuidanceRequest
	// AbortRequest clears the guard without merging anything.
	AbortRequest()
	// CompleteRequest merges g if the session is still active, clears the guard, and
	// then dispatches g if it was merged. It reports whether g was merged.
	CompleteRequest(g *types.Guidance) bool
}

// Config configures a Generator.
type Config struct {
	ProviderTimeout  time.Duration
	Workers          int
	AdmissionTimeout time.Duration
}

// Dependencies wires a Generator.
type Dependencies struct {
	Reasoner core.Reasoner
	Playbook *playbook.Playbook
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
	Config   Config
}

// Generator issues guidance requests.
type Generator struct {
	reasoner core.Reasoner
	pb       *playbook.Playbook
	pool     *Pool
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	wg sync.WaitGroup
}

// New creates a Generator. A nil Reasoner falls back to playbook templates.
func New(deps Dependencies) *Generator {
	cfg := deps.Config
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.AdmissionTimeout < 0 {
		cfg.AdmissionTimeout = 0
	}
	pb := deps.Playbook
	if pb == nil {
		pb = playbook.Default()
	}
	reasoner := deps.Reasoner
	if reasoner == nil {
		reasoner = NewTemplateReasoner(pb)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Generator{
		reasoner: reasoner,
		pb:       pb,
		pool:     NewPool(cfg.Workers, cfg.AdmissionTimeout),
		timeout:  cfg.ProviderTimeout,
		logger:   logger,
		metrics:  deps.Metrics,
		now:      now,
	}
}

// Request triggers guidance generation for t. It never blocks on the provider or on
// worker admission. It reports false when the trigger was dropped because a request
// is already in flight or t is not active.
func (g *Generator) Request(t Target) bool {
	if !t.TryBeginRequest() {
		g.metrics.RecordTriggerDropped("in_flight")
		g.logger.Debug("guidance trigger dropped", zap.String("session_id", t.ID()), zap.String("reason", "in_flight"))
		return false
	}
	req := t.GuidanceRequest()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		err := g.pool.Submit(t.Context(), func() { g.run(t, req) })
		if err == nil {
			return
		}
		t.AbortRequest()
		reason := "cancelled"
		if core.KindOf(err) == core.ErrOverloaded {
			reason = "overloaded"
		}
		g.metrics.RecordTriggerDropped(reason)
		g.logger.Warn("guidance trigger dropped",
			zap.String("session_id", t.ID()),
			zap.String("reason", reason),
			zap.Int("workers", g.pool.Size()),
			zap.Error(err),
		)
	}()
	return true
}

// Wait blocks until all admitted and pending requests have finished or ctx ends.
func (g *Generator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return g.pool.Wait(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Generator) run(t Target, req *types.GuidanceRequest) {
	ctx, cancel := context.WithTimeout(t.Context(), g.timeout)
	defer cancel()

	guidance, cause := g.Generate(ctx, req)
	if !t.CompleteRequest(guidance) {
		g.metrics.RecordStaleResult()
		g.logger.Debug("guidance discarded", zap.String("session_id", t.ID()), zap.Error(core.NewStaleResultError(t.ID())))
		return
	}
	g.metrics.RecordGuidance(string(guidance.Source), string(core.KindOf(cause)))
}

// Generate calls the reasoner under ctx and returns validated guidance. When the call
// fails, times out, or returns an invalid payload it returns fallback guidance along
// with the classified provider error that caused it. The guidance is never nil.
func (g *Generator) Generate(ctx context.Context, req *types.GuidanceRequest) (*types.Guidance, error) {
	start := g.now()
	raw, err := g.reasoner.Reason(ctx, req)
	if err == nil {
		var out *types.Guidance
		out, err = g.fromPayload(req, raw)
		if err == nil {
			g.metrics.RecordProviderCall(g.reasoner.Name(), "ok", g.now().Sub(start))
			return out, nil
		}
	}

	err = core.ClassifyProviderFailure(ctx, g.reasoner.Name(), err)
	g.metrics.RecordProviderCall(g.reasoner.Name(), string(core.KindOf(err)), g.now().Sub(start))
	g.logger.Warn("guidance provider failed; using fallback",
		zap.String("session_id", req.SessionID),
		zap.String("provider", g.reasoner.Name()),
		zap.String("error_type", string(core.KindOf(err))),
		zap.Error(err),
	)
	return g.Fallback(req), err
}

func (g *Generator) fromPayload(req *types.GuidanceRequest, raw []byte) (*types.Guidance, error) {
	p, err := types.DecodeGuidancePayload(raw)
	if err != nil {
		return nil, core.NewMalformedResponseError(err)
	}

	confidence := req.Stage.Confidence
	switch {
	case p.Confidence != nil:
		confidence = *p.Confidence / 100
	case p.StageValidation != nil:
		confidence = p.StageValidation.Confidence / 100
	}

	questions := p.KeyQuestions
	if len(questions) > maxKeyQuestions {
		questions = questions[:maxKeyQuestions]
	}
	points := p.TalkingPoints
	if len(points) > maxTalkingPoints {
		points = points[:maxTalkingPoints]
	}

	out := &types.Guidance{
		Stage:      req.Stage,
		Focus:      *p.Focus,
		Objectives: req.Objectives.Clone(),
		Body: types.GuidanceBody{
			Direction:     p.Direction,
			KeyQuestions:  questions,
			TalkingPoints: points,
			Confidence:    confidence,
		},
		Source:   types.SourceProvider,
		Metadata: g.metadata(req),
	}
	if out.Body.TalkingPoints == nil {
		out.Body.TalkingPoints = []string{}
	}
	if err := out.Validate(g.pb.HasPrompts(req.Stage.Stage)); err != nil {
		return nil, core.NewMalformedResponseError(err)
	}
	return out, nil
}

// Fallback synthesizes guidance from the playbook template of req's stage.
func (g *Generator) Fallback(req *types.GuidanceRequest) *types.Guidance {
	st := req.Stage
	if !st.Stage.Valid() {
		st.Stage = types.StageOpening
	}
	tpl := g.pb.Fallback(st.Stage)

	questions := make([]types.KeyQuestion, len(tpl.KeyQuestions))
	copy(questions, tpl.KeyQuestions)
	points := make([]string, len(tpl.TalkingPoints))
	copy(points, tpl.TalkingPoints)

	out := &types.Guidance{
		Stage:      st,
		Focus:      tpl.Focus,
		Objectives: req.Objectives.Clone(),
		Body: types.GuidanceBody{
			Direction:     tpl.Direction,
			KeyQuestions:  questions,
			TalkingPoints: points,
			Confidence:    0.5,
		},
		Source:   types.SourceFallback,
		Metadata: g.metadata(req),
	}
	if next := nextObjective(req.Objectives); next != "" {
		out.Body.TalkingPoints = append(out.Body.TalkingPoints, "Still open: "+next)
	}
	if err := out.Validate(g.pb.HasPrompts(st.Stage)); err != nil {
		g.logger.Error("fallback guidance failed validation", zap.String("session_id", req.SessionID), zap.Error(err))
	}
	return out
}

func (g *Generator) metadata(req *types.GuidanceRequest) types.GuidanceMetadata {
	return types.GuidanceMetadata{
		SessionID:     req.SessionID,
		GeneratedAt:   g.now(),
		SchemaVersion: types.GuidanceSchemaVersion,
	}
}

func nextObjective(s types.ObjectiveSnapshot) string {
	if len(s.Remaining) == 0 {
		return ""
	}
	return s.Remaining[0].Description
}
