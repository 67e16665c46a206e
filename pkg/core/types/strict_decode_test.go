package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPayload = `{
  "stage_validation": {"current_stage": "objection", "confidence": 82, "reasoning": "customer pushed back"},
  "focus": {"what": "Acknowledge the concern", "why": "they are about to hang up", "urgency": "high"},
  "direction": "Validate, then ask one diagnostic question",
  "key_questions": [{"primary": "What's giving you pause?", "alternatives": ["What would need to change?"], "context": "after acknowledging"}],
  "talking_points": ["7-day free trial"],
  "confidence": 75
}`

func TestDecodeGuidancePayload_Valid(t *testing.T) {
	p, err := DecodeGuidancePayload([]byte(validPayload))
	require.NoError(t, err)
	assert.Equal(t, "Acknowledge the concern", p.Focus.What)
	assert.Equal(t, UrgencyHigh, p.Focus.Urgency)
	require.Len(t, p.KeyQuestions, 1)
	assert.Equal(t, "objection", p.StageValidation.CurrentStage)
	require.NotNil(t, p.Confidence)
	assert.InDelta(t, 75, *p.Confidence, 0.001)
}

func TestDecodeGuidancePayload_CodeFence(t *testing.T) {
	fenced := "```json\n" + validPayload + "\n```"
	p, err := DecodeGuidancePayload([]byte(fenced))
	require.NoError(t, err)
	assert.Equal(t, "Acknowledge the concern", p.Focus.What)
}

func TestDecodeGuidancePayload_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		param string
	}{
		{"empty", ``, ""},
		{"not json", `sure, here is some advice`, ""},
		{"unknown field", `{"focus":{"what":"x","why":"y","urgency":"low"},"direction":"d","mood":"happy"}`, ""},
		{"missing focus", `{"direction":"d"}`, "focus"},
		{"blank what", `{"focus":{"what":" ","why":"y","urgency":"low"},"direction":"d"}`, "focus.what"},
		{"bad urgency", `{"focus":{"what":"x","why":"y","urgency":"panic"},"direction":"d"}`, "focus.urgency"},
		{"missing direction", `{"focus":{"what":"x","why":"y","urgency":"low"}}`, "direction"},
		{"empty primary", `{"focus":{"what":"x","why":"y","urgency":"low"},"direction":"d","key_questions":[{"primary":""}]}`, "key_questions[0].primary"},
		{"bad stage", `{"stage_validation":{"current_stage":"negotiation","confidence":50},"focus":{"what":"x","why":"y","urgency":"low"},"direction":"d"}`, "stage_validation.current_stage"},
		{"confidence range", `{"focus":{"what":"x","why":"y","urgency":"low"},"direction":"d","confidence":140}`, "confidence"},
		{"trailing data", `{"focus":{"what":"x","why":"y","urgency":"low"},"direction":"d"} {}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeGuidancePayload([]byte(tt.body))
			require.Error(t, err)
			var sde *StrictDecodeError
			require.True(t, errors.As(err, &sde))
			assert.Equal(t, tt.param, sde.Param)
		})
	}
}

func validGuidance() *Guidance {
	done := time.Unix(100, 0)
	return &Guidance{
		Stage: StageState{Stage: StageObjection, Confidence: 0.5},
		Focus: Focus{What: "Acknowledge", Why: "pushback", Urgency: UrgencyHigh},
		Objectives: ObjectiveSnapshot{
			Completed: []ObjectiveStatus{{ID: "rapport", CompletedAt: &done}},
			Remaining: []ObjectiveStatus{{ID: "acknowledge"}},
		},
		Body: GuidanceBody{
			Direction:    "Validate and ask",
			KeyQuestions: []KeyQuestion{{Primary: "What's giving you pause?"}},
			Confidence:   0.7,
		},
		Source: SourceProvider,
		Metadata: GuidanceMetadata{
			SessionID:     "s1",
			GeneratedAt:   time.Unix(200, 0),
			SchemaVersion: GuidanceSchemaVersion,
		},
	}
}

func TestGuidanceValidate(t *testing.T) {
	require.NoError(t, validGuidance().Validate(true))

	g := validGuidance()
	g.Body.KeyQuestions = nil
	require.NoError(t, g.Validate(false))
	require.Error(t, g.Validate(true))

	g = validGuidance()
	g.Stage.Stage = "smalltalk"
	g.Focus.Urgency = "whenever"
	g.Metadata.SchemaVersion = "1"
	err := g.Validate(true)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Problems, 3)

	g = validGuidance()
	g.Objectives.Remaining[0].CompletedAt = g.Objectives.Completed[0].CompletedAt
	require.Error(t, g.Validate(true))

	var nilGuidance *Guidance
	require.Error(t, nilGuidance.Validate(false))
}

func TestStageOrdering(t *testing.T) {
	next, ok := StageOpening.Next()
	require.True(t, ok)
	assert.Equal(t, StageDiscovery, next)

	_, ok = StageClose.Next()
	assert.False(t, ok)

	st, err := ParseStage(" Objection ")
	require.NoError(t, err)
	assert.Equal(t, StageObjection, st)

	_, err = ParseStage("negotiation")
	assert.Error(t, err)
}

func TestTranscriptEventTurn(t *testing.T) {
	now := time.Unix(50, 0)
	turn := TranscriptEvent{Text: "hello", Speaker: "Customer", IsFinal: true}.Turn(now)
	assert.Equal(t, SpeakerCustomer, turn.Speaker)
	assert.Equal(t, now, turn.Timestamp)
	assert.Equal(t, "customer", turn.ChannelKey())

	bad := 1.5
	assert.Error(t, TranscriptEvent{Confidence: &bad}.Validate())
	assert.Equal(t, SpeakerUnknown, ParseSpeaker("robot"))
}
