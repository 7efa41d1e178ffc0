package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"presswise/backend/features/query"
)

// Client talks to any OpenAI-compatible chat completions endpoint. It is
// the secondary generation provider used when the primary fails.
type Client struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
}

func NewClient(baseURL, apiKey, defaultModel string, timeout time.Duration) *Client {
	return &Client{
		apiKey:       apiKey,
		baseURL:      baseURL,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return "openai" }

func (c *Client) DefaultModel() string { return c.defaultModel }

// SetBaseURL overrides the endpoint, used by tests.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *Client) Generate(ctx context.Context, prompt string, opts query.GenOptions) (*query.Completion, error) {
	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}

	body, _ := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat completions error: %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("empty completion received")
	}

	return &query.Completion{
		Text:             parsed.Choices[0].Message.Content,
		Provider:         c.Name(),
		Model:            model,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

// GenerateStream satisfies the Generator interface. The fallback provider
// is only reached on the non-streaming path, so the whole completion is
// emitted as a single fragment.
func (c *Client) GenerateStream(ctx context.Context, prompt string, opts query.GenOptions, emit func(token string) error) (*query.Completion, error) {
	completion, err := c.Generate(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	if err := emit(completion.Text); err != nil {
		return nil, err
	}
	return completion, nil
}
