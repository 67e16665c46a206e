package gemini

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the model name.
// Default: gemini-2.5-flash
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithMaxTokens sets the maximum output tokens.
func WithMaxTokens(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxTokens = int32(n)
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(p *Provider) {
		p.temperature = float32(t)
	}
}
