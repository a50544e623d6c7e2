// Package llm provides options pattern for LLM generation parameters.
//
// Defaults come from the model definition in config.yaml; callers (tools,
// the agent loop) override them per request with functional options.
package llm

// GenerateOptions holds parameters for LLM generation.
type GenerateOptions struct {
	// Model is the model identifier sent to the API (e.g. "gpt-4o").
	Model string

	// Temperature controls randomness in responses (0.0 = deterministic).
	Temperature float64

	// MaxTokens limits the response length.
	MaxTokens int

	// Format specifies response format (e.g. "json_object").
	Format string

	// ParallelToolCalls controls whether the model may request several tools at once.
	// nil = provider default.
	ParallelToolCalls *bool
}

// GenerateOption is a functional option for configuring GenerateOptions.
type GenerateOption func(*GenerateOptions)

// WithModel sets the model for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithTemperature sets the temperature for generation.
//
// Translation and summarisation tools pin it low; the agent uses the config default.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithMaxTokens sets the maximum tokens for generation.
func WithMaxTokens(tokens int) GenerateOption {
	return func(o *GenerateOptions) {
		o.MaxTokens = tokens
	}
}

// WithFormat sets the response format for generation.
func WithFormat(format string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Format = format
	}
}

// WithParallelToolCalls allows or forbids several tool calls in one response.
func WithParallelToolCalls(enabled bool) GenerateOption {
	return func(o *GenerateOptions) {
		o.ParallelToolCalls = &enabled
	}
}

// ApplyOptions applies every GenerateOption found in opts on top of defaults.
//
// Non-option values (for example tool definitions) are skipped, so providers
// can pass the raw variadic slice they received.
func ApplyOptions(defaults GenerateOptions, opts ...any) GenerateOptions {
	result := defaults
	for _, opt := range opts {
		if fn, ok := opt.(GenerateOption); ok && fn != nil {
			fn(&result)
		}
	}
	return result
}
