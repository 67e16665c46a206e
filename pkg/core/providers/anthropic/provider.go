// Package anthropic implements a guidance reasoner and post-call analyzer on the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"net/http"

	"github.com/vango-go/callcoach/pkg/core/prompt"
	"github.com/vango-go/callcoach/pkg/core/types"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// APIVersion is the required Anthropic API version header.
	APIVersion = "2023-06-01"

	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-sonnet-4-20250514"

	// DefaultMaxTokens is the default max tokens if not specified.
	DefaultMaxTokens = 800

	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 0.7

	analysisMaxTokens = 1500
)

// Provider implements core.Reasoner over the Anthropic Messages API.
type Provider struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// New creates a new Anthropic reasoner.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:      apiKey,
		baseURL:     DefaultBaseURL,
		model:       DefaultModel,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		httpClient:  &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "anthropic"
}

// Reason sends one coaching request and returns the model's text output.
func (p *Provider) Reason(ctx context.Context, req *types.GuidanceRequest) ([]byte, error) {
	return p.complete(ctx, prompt.System, prompt.Render(req), p.maxTokens)
}

// Analyze sends one post-call review request and returns the model's text output.
func (p *Provider) Analyze(ctx context.Context, req *types.AnalysisRequest) ([]byte, error) {
	return p.complete(ctx, prompt.AnalysisSystem, prompt.RenderAnalysis(req), max(p.maxTokens, analysisMaxTokens))
}

func (p *Provider) complete(ctx context.Context, system, user string, maxTokens int) ([]byte, error) {
	anthReq := &messagesRequest{
		Model:       p.model,
		MaxTokens:   maxTokens,
		Temperature: p.temperature,
		System:      system,
		Messages: []message{
			{Role: "user", Content: user},
		},
	}

	respBody, err := p.doRequest(ctx, anthReq)
	if err != nil {
		return nil, err
	}
	return parseResponse(respBody)
}
