package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"presswise/backend/features/query"
)

const embeddingModel = "gemini-embedding-001"

// Client is the primary provider: embeddings and grounded generation.
type Client struct {
	client       *genai.Client
	defaultModel string
}

func NewClient(ctx context.Context, apiKey, defaultModel string, opts ...option.ClientOption) (*Client, error) {
	opts = append(opts, option.WithAPIKey(apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{client: client, defaultModel: defaultModel}, nil
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) DefaultModel() string { return c.defaultModel }

func (c *Client) Close() error { return c.client.Close() }

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", embeddingModel, "length", len(text))
	em := c.client.EmbeddingModel(embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("empty embedding received")
	}
	return res.Embedding.Values, nil
}

func (c *Client) Generate(ctx context.Context, prompt string, opts query.GenOptions) (*query.Completion, error) {
	model := c.model(opts)
	res, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, err
	}

	completion := &query.Completion{
		Provider: c.Name(),
		Model:    c.modelName(opts),
		Text:     joinParts(res),
	}
	if completion.Text == "" {
		return nil, errors.New("empty completion received")
	}
	if res.UsageMetadata != nil {
		completion.PromptTokens = int(res.UsageMetadata.PromptTokenCount)
		completion.CompletionTokens = int(res.UsageMetadata.CandidatesTokenCount)
	}
	return completion, nil
}

func (c *Client) GenerateStream(ctx context.Context, prompt string, opts query.GenOptions, emit func(token string) error) (*query.Completion, error) {
	model := c.model(opts)
	iter := model.GenerateContentStream(ctx, genai.Text(prompt))

	completion := &query.Completion{
		Provider: c.Name(),
		Model:    c.modelName(opts),
	}

	for {
		res, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("stream: %w", err)
		}

		piece := joinParts(res)
		if piece != "" {
			completion.Text += piece
			if err := emit(piece); err != nil {
				return nil, err
			}
		}
		if res.UsageMetadata != nil {
			completion.PromptTokens = int(res.UsageMetadata.PromptTokenCount)
			completion.CompletionTokens = int(res.UsageMetadata.CandidatesTokenCount)
		}
	}

	if completion.Text == "" {
		return nil, errors.New("empty completion received")
	}
	return completion, nil
}

func (c *Client) model(opts query.GenOptions) *genai.GenerativeModel {
	model := c.client.GenerativeModel(c.modelName(opts))
	if opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		model.SetTemperature(opts.Temperature)
	}
	return model
}

func (c *Client) modelName(opts query.GenOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	return c.defaultModel
}

func joinParts(res *genai.GenerateContentResponse) string {
	var out string
	for _, cand := range res.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				out += string(txt)
			}
		}
	}
	return out
}
