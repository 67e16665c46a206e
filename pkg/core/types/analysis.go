package types

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the overall read of a finished call.
type Outcome string

const (
	OutcomePositive Outcome = "positive"
	OutcomeNeutral  Outcome = "neutral"
	OutcomeNegative Outcome = "negative"
)

// Valid reports whether o is a declared outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePositive, OutcomeNeutral, OutcomeNegative:
		return true
	default:
		return false
	}
}

// MaxSuccessScore is the top of the success score scale.
const MaxSuccessScore = 10

// MissedOpportunity is a moment the salesperson could have handled better.
type MissedOpportunity struct {
	Moment      string `json:"moment"`
	Opportunity string `json:"opportunity"`
	WhatToDo    string `json:"what_to_do"`
}

// AnalysisRequest is the finished call handed to an analyzer.
type AnalysisRequest struct {
	SessionID     string
	Turns         []Turn
	Duration      time.Duration
	FinalStage    Stage
	Objectives    ObjectiveSnapshot
	GuidanceCount int
}

// Analysis is the post-call review of a finished call.
type Analysis struct {
	WhatWorked          []string            `json:"what_worked"`
	MissedOpportunities []MissedOpportunity `json:"missed_opportunities"`
	ImprovementTips     []string            `json:"improvement_tips"`
	SuccessScore        int                 `json:"success_score"`
	Outcome             Outcome             `json:"call_outcome"`
	KeyInsights         string              `json:"key_insights"`
	Source              GuidanceSource      `json:"source"`
	Provider            string              `json:"provider,omitempty"`
	AnalyzedAt          time.Time           `json:"analyzed_at"`
}

// AnalysisPayload is the JSON document an analyzer returns.
type AnalysisPayload struct {
	WhatWorked          *[]string            `json:"what_worked"`
	MissedOpportunities *[]MissedOpportunity `json:"missed_opportunities"`
	ImprovementTips     *[]string            `json:"improvement_tips"`
	SuccessScore        *float64             `json:"success_score"`
	Outcome             Outcome              `json:"call_outcome,omitempty"`
	KeyInsights         string               `json:"key_insights,omitempty"`
}

// DecodeAnalysisPayload strictly decodes an analyzer payload. The three lists and the
// score are required; the score must be within [0,10] and the outcome, when present,
// must be a declared one.
func DecodeAnalysisPayload(data []byte) (*AnalysisPayload, error) {
	var p AnalysisPayload
	if err := decodeStrict(data, &p); err != nil {
		return nil, err
	}
	switch {
	case p.WhatWorked == nil:
		return nil, strictErr("what_worked", "what_worked is required")
	case p.MissedOpportunities == nil:
		return nil, strictErr("missed_opportunities", "missed_opportunities is required")
	case p.ImprovementTips == nil:
		return nil, strictErr("improvement_tips", "improvement_tips is required")
	case p.SuccessScore == nil:
		return nil, strictErr("success_score", "success_score is required")
	}
	if *p.SuccessScore < 0 || *p.SuccessScore > MaxSuccessScore {
		return nil, strictErr("success_score", fmt.Sprintf("must be within [0,%d]", MaxSuccessScore))
	}
	if p.Outcome != "" && !p.Outcome.Valid() {
		return nil, strictErr("call_outcome", fmt.Sprintf("unknown outcome %q", p.Outcome))
	}
	for i, m := range *p.MissedOpportunities {
		if strings.TrimSpace(m.Opportunity) == "" {
			return nil, strictErr(fmt.Sprintf("missed_opportunities[%d].opportunity", i), "opportunity is required")
		}
	}
	return &p, nil
}

// Analysis converts a decoded payload. A missing outcome is neutral and the score is
// rounded to the nearest whole point.
func (p *AnalysisPayload) Analysis() *Analysis {
	a := &Analysis{
		WhatWorked:          nonBlank(*p.WhatWorked),
		MissedOpportunities: append([]MissedOpportunity{}, (*p.MissedOpportunities)...),
		ImprovementTips:     nonBlank(*p.ImprovementTips),
		SuccessScore:        int(*p.SuccessScore + 0.5),
		Outcome:             p.Outcome,
		KeyInsights:         strings.TrimSpace(p.KeyInsights),
		Source:              SourceProvider,
	}
	if a.Outcome == "" {
		a.Outcome = OutcomeNeutral
	}
	return a
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
