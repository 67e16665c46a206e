package suggest

import (
	"context"
	"encoding/json"

	"github.com/vango-go/callcoach/pkg/coach/playbook"
	"github.com/vango-go/callcoach/pkg/core/types"
)

// TemplateReasoner answers every request with the playbook template of the request's
// stage. It is registered as "static" and serves deployments without a provider key.
type TemplateReasoner struct {
	pb *playbook.Playbook
}

// NewTemplateReasoner returns a reasoner backed by pb.
func NewTemplateReasoner(pb *playbook.Playbook) *TemplateReasoner {
	if pb == nil {
		pb = playbook.Default()
	}
	return &TemplateReasoner{pb: pb}
}

// Name returns "static".
func (r *TemplateReasoner) Name() string { return "static" }

// Reason renders the stage template as a guidance payload.
func (r *TemplateReasoner) Reason(ctx context.Context, req *types.GuidanceRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := req.Stage.Stage
	if !st.Valid() {
		st = types.StageOpening
	}
	tpl := r.pb.Fallback(st)
	confidence := req.Stage.Confidence * 100
	payload := types.GuidancePayload{
		StageValidation: &types.StageValidation{
			CurrentStage: string(st),
			Confidence:   confidence,
			Reasoning:    req.Stage.Rationale,
		},
		Focus:         &tpl.Focus,
		Direction:     tpl.Direction,
		KeyQuestions:  tpl.KeyQuestions,
		TalkingPoints: tpl.TalkingPoints,
		Confidence:    &confidence,
	}
	return json.Marshal(payload)
}
