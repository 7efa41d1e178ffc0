package query

import "context"

// GenOptions carries per-request generation parameters. Zero values mean
// "use the provider's default".
type GenOptions struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// Completion is the outcome of one generation call.
type Completion struct {
	Text             string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Embedder maps text into the vector space shared with stored chunks.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator is the capability interface a model provider implements.
// GenerateStream emits answer fragments through the callback as they
// arrive; returning an error from the callback cancels the stream.
type Generator interface {
	Name() string
	DefaultModel() string
	Generate(ctx context.Context, prompt string, opts GenOptions) (*Completion, error)
	GenerateStream(ctx context.Context, prompt string, opts GenOptions, emit func(token string) error) (*Completion, error)
}
