package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
)

type fakeModels struct {
	model    string
	contents []*genai.Content
	cfg      *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
	block    bool
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.cfg = model, contents, cfg
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func testRequest() *types.GuidanceRequest {
	return &types.GuidanceRequest{
		SessionID: "s1",
		Window:    []types.Turn{{Speaker: types.SpeakerCustomer, Text: "too expensive", IsFinal: true}},
		Stage:     types.StageState{Stage: types.StageObjection},
	}
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(context.Background(), " ")
	assert.Error(t, err)
}

func TestReason_Success(t *testing.T) {
	fm := &fakeModels{resp: textResponse(`{"focus":{}}`)}
	p := newWithGenerator(fm, WithModel("gemini-test"), WithMaxTokens(256), WithTemperature(0.1))

	out, err := p.Reason(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"focus":{}}`, string(out))

	assert.Equal(t, "gemini-test", fm.model)
	require.Len(t, fm.contents, 1)
	assert.Contains(t, fm.contents[0].Parts[0].Text, "CUSTOMER: too expensive")
	assert.Equal(t, "application/json", fm.cfg.ResponseMIMEType)
	assert.Equal(t, int32(256), fm.cfg.MaxOutputTokens)
	require.NotNil(t, fm.cfg.Temperature)
	assert.InDelta(t, 0.1, *fm.cfg.Temperature, 1e-6)
	require.NotNil(t, fm.cfg.SystemInstruction)
}

func TestAnalyze(t *testing.T) {
	var _ core.Analyzer = (*Provider)(nil)
	fm := &fakeModels{resp: textResponse(`{"success_score":8}`)}
	p := newWithGenerator(fm, WithMaxTokens(256))

	out, err := p.Analyze(context.Background(), &types.AnalysisRequest{
		Turns:      []types.Turn{{Speaker: types.SpeakerSalesperson, Text: "Thanks for your time", IsFinal: true}},
		FinalStage: types.StageClose,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"success_score":8}`, string(out))
	assert.Equal(t, int32(1500), fm.cfg.MaxOutputTokens)
	require.Len(t, fm.contents, 1)
	assert.Contains(t, fm.contents[0].Parts[0].Text, "FINAL STAGE: close")
	assert.Contains(t, fm.cfg.SystemInstruction.Parts[0].Text, "missed_opportunities")
}

func TestReason_Errors(t *testing.T) {
	p := newWithGenerator(&fakeModels{err: errors.New("503 unavailable")})
	_, err := p.Reason(context.Background(), testRequest())
	assert.Equal(t, core.ErrProvider, core.KindOf(err))

	p = newWithGenerator(&fakeModels{resp: &genai.GenerateContentResponse{}})
	_, err = p.Reason(context.Background(), testRequest())
	assert.Equal(t, core.ErrProviderMalformed, core.KindOf(err))

	p = newWithGenerator(&fakeModels{})
	_, err = p.Reason(context.Background(), testRequest())
	assert.Equal(t, core.ErrProviderMalformed, core.KindOf(err))
}

func TestReason_Timeout(t *testing.T) {
	p := newWithGenerator(&fakeModels{block: true})
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_, err := p.Reason(ctx, testRequest())
	assert.Equal(t, core.ErrProviderTimeout, core.KindOf(err))
}
