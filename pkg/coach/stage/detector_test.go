package stage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/callcoach/pkg/core/types"
)

func turns(texts ...string) []types.Turn {
	out := make([]types.Turn, len(texts))
	for i, txt := range texts {
		out[i] = types.Turn{Speaker: types.SpeakerUnknown, Text: txt, IsFinal: true, Timestamp: time.Unix(int64(i), 0)}
	}
	return out
}

func TestClassify_EmptyWindow(t *testing.T) {
	d := NewDetector(nil, Options{})
	res := d.Classify(nil, types.StagePitch)
	assert.Equal(t, types.StageOpening, res.Stage)
	assert.Zero(t, res.Confidence)
}

func TestClassify_ObjectionInterruptsOpening(t *testing.T) {
	d := NewDetector(nil, Options{})
	window := []types.Turn{
		{Speaker: types.SpeakerSalesperson, Text: "Hi, this is Alex calling about your phone system", IsFinal: true},
		{Speaker: types.SpeakerCustomer, Text: "We're not interested", IsFinal: true},
	}
	res := d.Classify(window, types.StageOpening)
	require.Equal(t, types.StageObjection, res.Stage)
	assert.Equal(t, 10, res.Scores[types.StageOpening])
	assert.Equal(t, 15, res.Scores[types.StageObjection])
	assert.InDelta(t, 15.0/65.0, res.Confidence, 1e-9)
	assert.Contains(t, res.Rationale, "not interested")
}

func TestClassify_NaturalProgression(t *testing.T) {
	d := NewDetector(nil, Options{})
	res := d.Classify(turns("we offer a solution that helps you"), types.StageDiscovery)
	assert.Equal(t, types.StagePitch, res.Stage)
	assert.Equal(t, 25, res.Scores[types.StagePitch])
}

func TestClassify_TieKeepsPrevious(t *testing.T) {
	d := NewDetector(nil, Options{})
	res := d.Classify(turns("what features"), types.StagePitch)
	assert.Equal(t, types.StagePitch, res.Stage)
	assert.Equal(t, res.Scores[types.StageDiscovery], res.Scores[types.StagePitch])
}

func TestClassify_TieWithoutPreviousUsesCanonicalOrder(t *testing.T) {
	d := NewDetector(nil, Options{})
	res := d.Classify(turns("what features"), types.StageClose)
	assert.Equal(t, types.StageDiscovery, res.Stage)
}

func TestClassify_NoEvidenceHoldsPrevious(t *testing.T) {
	d := NewDetector(nil, Options{})
	res := d.Classify(turns("okay sure", "mm"), types.StagePitch)
	assert.Equal(t, types.StagePitch, res.Stage)
	assert.Zero(t, res.Confidence)
}

func TestClassify_OnlyRecentTurnsCount(t *testing.T) {
	d := NewDetector(nil, Options{WindowTurns: 2})
	res := d.Classify(turns("that's too expensive", "okay", "we offer onboarding"), types.StageDiscovery)
	assert.Equal(t, types.StagePitch, res.Stage)
	assert.Equal(t, 5, res.Scores[types.StageObjection])
}

func TestClassify_IsPure(t *testing.T) {
	d := NewDetector(nil, Options{})
	window := turns("hello, quick question", "what are you currently using", "it's too expensive honestly")
	first := d.Classify(window, types.StageDiscovery)
	for i := 0; i < 20; i++ {
		again := d.Classify(window, types.StageDiscovery)
		require.Equal(t, first.Stage, again.Stage)
		require.Equal(t, first.Confidence, again.Confidence)
		require.Equal(t, first.Rationale, again.Rationale)
	}
	assert.Equal(t, "it's too expensive honestly", window[2].Text)
}

func TestClassify_ConfidenceClamped(t *testing.T) {
	d := NewDetector(nil, Options{WindowTurns: 1})
	res := d.Classify(turns("demo demo demo demo trial schedule meeting"), types.StagePitch)
	assert.Equal(t, types.StageClose, res.Stage)
	assert.Equal(t, 1.0, res.Confidence)
}
