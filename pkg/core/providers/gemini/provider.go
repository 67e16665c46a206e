// Package gemini implements a guidance reasoner and post-call analyzer on the Google
// Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/prompt"
	"github.com/vango-go/callcoach/pkg/core/types"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.5-flash"

	// DefaultMaxTokens is the default max output tokens.
	DefaultMaxTokens = 800

	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 0.7

	// analysisMaxTokens is the output floor for post-call reviews, which are longer
	// than live guidance.
	analysisMaxTokens = 1500
)

// contentGenerator is the subset of *genai.Models the reasoner needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Provider implements core.Reasoner with the genai SDK.
type Provider struct {
	models      contentGenerator
	model       string
	maxTokens   int32
	temperature float32
}

// New creates a Gemini reasoner authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newWithGenerator(client.Models, opts...), nil
}

func newWithGenerator(models contentGenerator, opts ...Option) *Provider {
	p := &Provider{
		models:      models,
		model:       DefaultModel,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Reason asks Gemini for a JSON guidance payload.
func (p *Provider) Reason(ctx context.Context, req *types.GuidanceRequest) ([]byte, error) {
	return p.generate(ctx, prompt.System, prompt.Render(req), p.maxTokens)
}

// Analyze asks Gemini for a JSON review of a finished call.
func (p *Provider) Analyze(ctx context.Context, req *types.AnalysisRequest) ([]byte, error) {
	return p.generate(ctx, prompt.AnalysisSystem, prompt.RenderAnalysis(req), max(p.maxTokens, analysisMaxTokens))
}

func (p *Provider) generate(ctx context.Context, system, user string, maxTokens int32) ([]byte, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(user, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(p.temperature),
		MaxOutputTokens:   maxTokens,
		ResponseMIMEType:  "application/json",
	}

	resp, err := p.models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, core.NewProviderTimeoutError(p.Name(), err)
		}
		return nil, core.NewProviderError(p.Name(), err)
	}
	if resp == nil {
		return nil, core.NewMalformedResponseError(errors.New("empty response"))
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		reason := "no candidates"
		if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
			reason = fmt.Sprintf("finish reason %s", resp.Candidates[0].FinishReason)
		}
		return nil, core.NewMalformedResponseError(fmt.Errorf("response has no text content (%s)", reason))
	}
	return []byte(text), nil
}
