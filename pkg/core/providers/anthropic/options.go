package anthropic

import "net/http"

// Option configures the Provider.
type Option func(*Provider)

// WithBaseURL sets the base URL for API requests.
// Default: https://api.anthropic.com
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithHTTPClient sets the HTTP client for API requests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithMaxTokens sets the response token limit.
func WithMaxTokens(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(p *Provider) {
		p.temperature = t
	}
}
