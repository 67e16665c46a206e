// Package review produces the post-call analysis of a finished call and stores it on
// the call's record.
package review

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/vango-go/callcoach/pkg/coach/metrics"
	"github.com/vango-go/callcoach/pkg/coach/record"
	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
)

// DefaultTimeout bounds one analyzer call.
const DefaultTimeout = 60 * time.Second

// Config configures a Reviewer.
type Config struct {
	Timeout time.Duration
}

// Dependencies wires a Reviewer.
type Dependencies struct {
	Store    record.Store
	Reasoner core.Reasoner
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
	Config   Config
}

// Reviewer analyzes stored calls. Reasoners that do not implement core.Analyzer get
// the objective-based static analysis.
type Reviewer struct {
	store    record.Store
	reasoner core.Reasoner
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a Reviewer.
func New(deps Dependencies) *Reviewer {
	timeout := deps.Config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Reviewer{
		store:    deps.Store,
		reasoner: deps.Reasoner,
		timeout:  timeout,
		logger:   logger,
		metrics:  deps.Metrics,
		now:      now,
	}
}

// Analyze reviews the stored call id, saves the analysis on its record, and returns
// it. Analyzer failures fall back to the static analysis; only store errors are
// returned.
func (r *Reviewer) Analyze(ctx context.Context, id string) (*types.Analysis, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	analysis, cause := r.run(ctx, NewRequest(rec))
	analysis.AnalyzedAt = r.now()
	rec.Analysis = analysis
	if err := r.store.Save(ctx, *rec); err != nil {
		return nil, fmt.Errorf("saving analysis for %s: %w", id, err)
	}

	r.metrics.RecordAnalysis(string(analysis.Source), string(core.KindOf(cause)))
	r.logger.Info("call analyzed",
		zap.String("session_id", id),
		zap.String("source", string(analysis.Source)),
		zap.Int("success_score", analysis.SuccessScore),
		zap.String("call_outcome", string(analysis.Outcome)),
	)
	return analysis, nil
}

// run returns the analyzer's review of req, or the static analysis together with the
// classified provider error that caused the fallback.
func (r *Reviewer) run(ctx context.Context, req *types.AnalysisRequest) (*types.Analysis, error) {
	analyzer, ok := r.reasoner.(core.Analyzer)
	if !ok {
		return Static(req), nil
	}
	name := r.reasoner.Name()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := r.now()
	raw, err := analyzer.Analyze(ctx, req)
	if err == nil {
		var p *types.AnalysisPayload
		if p, err = types.DecodeAnalysisPayload(raw); err == nil {
			r.metrics.RecordProviderCall(name, "ok", r.now().Sub(start))
			out := p.Analysis()
			out.Provider = name
			return out, nil
		}
		err = core.NewMalformedResponseError(err)
	}

	err = core.ClassifyProviderFailure(ctx, name, err)
	r.metrics.RecordProviderCall(name, string(core.KindOf(err)), r.now().Sub(start))
	r.logger.Warn("analysis provider failed; using static analysis",
		zap.String("session_id", req.SessionID),
		zap.String("provider", name),
		zap.String("error_type", string(core.KindOf(err))),
		zap.Error(err),
	)
	return Static(req), err
}

// NewRequest builds the analyzer input from a stored record. Only final turns are
// included.
func NewRequest(rec *record.Record) *types.AnalysisRequest {
	turns := make([]types.Turn, 0, len(rec.Turns))
	for _, t := range rec.Turns {
		if t.IsFinal {
			turns = append(turns, t)
		}
	}
	return &types.AnalysisRequest{
		SessionID:     rec.ID(),
		Turns:         turns,
		Duration:      rec.Summary.Duration(),
		FinalStage:    rec.Summary.FinalStage,
		Objectives:    rec.Summary.Objectives.Clone(),
		GuidanceCount: rec.Summary.GuidanceCount,
	}
}

// Static derives an analysis from objective coverage alone. The score is the
// completed share of all objectives on the 0-10 scale.
func Static(req *types.AnalysisRequest) *types.Analysis {
	done, open := req.Objectives.Completed, req.Objectives.Remaining

	worked := make([]string, 0, len(done))
	for _, o := range done {
		worked = append(worked, o.Description)
	}
	if len(worked) == 0 {
		worked = append(worked, "Call was attempted")
	}

	missed := make([]types.MissedOpportunity, 0, len(open))
	for _, o := range open {
		if o.Priority != types.PriorityHigh {
			continue
		}
		missed = append(missed, types.MissedOpportunity{
			Moment:      string(o.Stage) + " stage",
			Opportunity: o.Description,
			WhatToDo:    "Cover this before moving past the " + string(o.Stage) + " stage",
		})
	}

	tips := []string{"Practice active listening", "Ask more discovery questions"}
	if len(open) > 0 {
		tips = append(tips, "Still open at the end of the call: "+open[0].Description)
	}

	score := 5
	if total := len(done) + len(open); total > 0 {
		score = int(math.Round(float64(types.MaxSuccessScore*len(done)) / float64(total)))
	}
	outcome := types.OutcomeNeutral
	switch {
	case score >= 7:
		outcome = types.OutcomePositive
	case score <= 3:
		outcome = types.OutcomeNegative
	}

	return &types.Analysis{
		WhatWorked:          worked,
		MissedOpportunities: missed,
		ImprovementTips:     tips,
		SuccessScore:        score,
		Outcome:             outcome,
		KeyInsights: fmt.Sprintf("Automated review unavailable; %d of %d objectives completed. Review the transcript for detail.",
			len(done), len(done)+len(open)),
		Source: types.SourceFallback,
	}
}
