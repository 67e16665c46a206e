package prompt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vango-go/callcoach/pkg/core/types"
)

func TestRender(t *testing.T) {
	done := time.Unix(1, 0)
	req := &types.GuidanceRequest{
		SessionID: "s1",
		Window: []types.Turn{
			{Speaker: types.SpeakerSalesperson, Text: "Hi, this is Alex"},
			{Speaker: types.SpeakerCustomer, Text: "We're not interested"},
			{Speaker: types.SpeakerUnknown, Text: "hm"},
		},
		Stage: types.StageState{Stage: types.StageObjection, Confidence: 0.23, Rationale: "objection: matched not interested"},
		Objectives: types.ObjectiveSnapshot{
			Completed: []types.ObjectiveStatus{{ID: "rapport", Stage: types.StageOpening, Priority: types.PriorityHigh, Description: "Build rapport", CompletedAt: &done}},
			Remaining: []types.ObjectiveStatus{{ID: "acknowledge", Stage: types.StageObjection, Priority: types.PriorityHigh, Description: "Acknowledge concern"}},
		},
	}

	out := Render(req)
	assert.Contains(t, out, "SALESPERSON: Hi, this is Alex\nCUSTOMER: We're not interested\nSPEAKER: hm\n")
	assert.Contains(t, out, "DETECTED STAGE: objection (confidence 23%")
	assert.Contains(t, out, "- rapport [opening, high]: Build rapport")
	assert.Contains(t, out, "- acknowledge [objection, high]: Acknowledge concern")
}

func TestRender_Empty(t *testing.T) {
	out := Render(&types.GuidanceRequest{Stage: types.StageState{Stage: types.StageOpening}})
	assert.Contains(t, out, "(no conversation yet)")
	assert.Contains(t, out, "- none")
}

func TestRenderAnalysis(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 5, 0, time.UTC)
	out := RenderAnalysis(&types.AnalysisRequest{
		Turns: []types.Turn{
			{Speaker: types.SpeakerSalesperson, Text: "Hi, this is Alex", Timestamp: at},
			{Speaker: types.SpeakerCustomer, Text: "Too expensive", Timestamp: at.Add(time.Minute)},
		},
		Duration:      95 * time.Second,
		FinalStage:    types.StageObjection,
		GuidanceCount: 2,
		Objectives: types.ObjectiveSnapshot{
			Remaining: []types.ObjectiveStatus{{ID: "acknowledge", Stage: types.StageObjection, Priority: types.PriorityHigh, Description: "Acknowledge concern"}},
		},
	})
	assert.Contains(t, out, "CALL DURATION: 95 seconds")
	assert.Contains(t, out, "FINAL STAGE: objection")
	assert.Contains(t, out, "[09:00:05] SALESPERSON: Hi, this is Alex\n[09:01:05] CUSTOMER: Too expensive\n")
	assert.Contains(t, out, "OBJECTIVES COMPLETED:\n- none")
	assert.Contains(t, out, "- acknowledge [objection, high]")
}
