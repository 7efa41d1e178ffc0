package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"presswise/backend/internal/finops"
	"presswise/backend/internal/middleware"
	"presswise/backend/internal/tenant"
)

var (
	ErrEmptyQuestion   = errors.New("question must not be empty")
	ErrAdmissionDenied = errors.New("cost policy denied the operation")
	ErrAllProviders    = errors.New("all providers failed")
	ErrUnknownProvider = errors.New("unknown provider")
)

// RetrievedChunk is one indexed fragment returned by the vector store,
// ranked by similarity to the question.
type RetrievedChunk struct {
	Content    string  `json:"content"`
	Title      string  `json:"title,omitempty"`
	SourceType string  `json:"source_type"`
	SourceID   string  `json:"source_id"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float32 `json:"similarity"`
}

type VectorStore interface {
	Search(ctx context.Context, tn tenant.Tenant, vector []float32, contentType string, limit int, threshold float32) ([]RetrievedChunk, error)
}

type CostPolicy interface {
	Evaluate(ctx context.Context, organizationID string) (finops.State, error)
}

type InteractionRecorder interface {
	Save(ctx context.Context, rec *Interaction) error
}

// Request is one question against a tenant's indexed content.
type Request struct {
	Tenant              tenant.Tenant
	Question            string
	UserID              string
	Provider            string
	Model               string
	MaxChunks           int
	SimilarityThreshold float32
	ContentType         string // page | ai_content | template | all
	MaxTokens           int
	Temperature         float32
}

// Response is the non-streaming answer contract.
type Response struct {
	Answer        string      `json:"answer"`
	Context       ContextInfo `json:"context"`
	Sources       []SourceRef `json:"sources"`
	Metadata      Metadata    `json:"metadata"`
	Usage         Usage       `json:"usage"`
	InteractionID string      `json:"interaction_id"`
}

type ContextInfo struct {
	Chunks            []RetrievedChunk `json:"chunks"`
	TotalChunks       int              `json:"total_chunks"`
	AverageSimilarity float32          `json:"average_similarity"`
}

type SourceRef struct {
	SourceType string  `json:"source_type"`
	SourceID   string  `json:"source_id"`
	Title      string  `json:"title,omitempty"`
	Similarity float32 `json:"similarity"`
}

type Metadata struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	FallbackUsed bool   `json:"fallback_used"`
}

type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Defaults applied when a request omits retrieval parameters.
type Defaults struct {
	MaxChunks           int
	SimilarityThreshold float32
	ProviderTimeout     time.Duration
}

type Service struct {
	embedder Embedder
	store    VectorStore
	primary  Generator
	fallback Generator
	policy   CostPolicy
	recorder InteractionRecorder
	defaults Defaults
}

func NewService(e Embedder, s VectorStore, primary, fallback Generator, policy CostPolicy, rec InteractionRecorder, defaults Defaults) *Service {
	return &Service{
		embedder: e,
		store:    s,
		primary:  primary,
		fallback: fallback,
		policy:   policy,
		recorder: rec,
		defaults: defaults,
	}
}

// Ask answers a question from the tenant's indexed content. The cost policy
// is consulted immediately before the chargeable calls; BLOCKED denies the
// query, THROTTLED lets this foreground path proceed.
func (s *Service) Ask(ctx context.Context, req Request) (*Response, error) {
	prep, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	completion, fallbackUsed, err := s.generate(ctx, prep.prompt, req)
	if err != nil {
		return nil, err
	}

	return s.finish(ctx, req, prep, completion, fallbackUsed)
}

// AskStream answers with incremental fragments pushed through sink. The
// sink's Preamble receives interaction metadata before the first token;
// stream setup failure falls back to the non-streaming path transparently.
func (s *Service) AskStream(ctx context.Context, req Request, sink StreamSink) (*Response, error) {
	prep, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	first, _, err := s.route(req)
	if err != nil {
		return nil, err
	}
	opts := s.genOptions(req)
	interactionID := uuid.New().String()

	streamCtx, cancel := context.WithTimeout(ctx, s.defaults.ProviderTimeout)
	defer cancel()

	started := false
	completion, err := first.GenerateStream(streamCtx, prep.prompt, opts, func(token string) error {
		if !started {
			started = true
			if err := sink.Preamble(StreamMeta{
				InteractionID: interactionID,
				Provider:      first.Name(),
				Model:         optModel(opts, first),
				FallbackUsed:  false,
			}); err != nil {
				return err
			}
		}
		return sink.Token(token)
	})

	if err != nil {
		if started {
			// Tokens already left the building; nothing to fall back to.
			return nil, fmt.Errorf("%w: stream interrupted: %v", ErrAllProviders, err)
		}
		slog.WarnContext(ctx, "stream setup failed, using non-streaming path", "provider", first.Name(), "error", err)

		completion, fallbackUsed, genErr := s.generate(ctx, prep.prompt, req)
		if genErr != nil {
			return nil, genErr
		}
		resp, finErr := s.finishWithID(ctx, req, prep, completion, fallbackUsed, interactionID)
		if finErr != nil {
			return nil, finErr
		}
		if err := sink.Preamble(StreamMeta{
			InteractionID: resp.InteractionID,
			Provider:      resp.Metadata.Provider,
			Model:         resp.Metadata.Model,
			FallbackUsed:  resp.Metadata.FallbackUsed,
		}); err != nil {
			return nil, err
		}
		if err := sink.Token(resp.Answer); err != nil {
			return nil, err
		}
		return resp, nil
	}

	return s.finishWithID(ctx, req, prep, completion, false, interactionID)
}

// StreamSink receives the streaming answer. Preamble is guaranteed to be
// called exactly once, before any Token.
type StreamSink interface {
	Preamble(meta StreamMeta) error
	Token(token string) error
}

type StreamMeta struct {
	InteractionID string
	Provider      string
	Model         string
	FallbackUsed  bool
}

type prepared struct {
	chunks []RetrievedChunk
	prompt string
}

func (s *Service) prepare(ctx context.Context, req Request) (*prepared, error) {
	if err := req.Tenant.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Question) == "" {
		return nil, ErrEmptyQuestion
	}
	if _, _, err := s.route(req); err != nil {
		return nil, err
	}

	state, err := s.policy.Evaluate(ctx, req.Tenant.OrganizationID)
	if err != nil {
		slog.WarnContext(ctx, "cost policy degraded", "state", state, "error", err)
	}
	if state == finops.StateBlocked {
		return nil, fmt.Errorf("%w: organization is blocked", ErrAdmissionDenied)
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.defaults.ProviderTimeout)
	defer cancel()
	vector, err := s.embedder.Embed(embedCtx, req.Question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	maxChunks := req.MaxChunks
	if maxChunks <= 0 {
		maxChunks = s.defaults.MaxChunks
	}
	threshold := req.SimilarityThreshold
	if threshold <= 0 {
		threshold = s.defaults.SimilarityThreshold
	}

	chunks, err := s.store.Search(ctx, req.Tenant, vector, req.ContentType, maxChunks, threshold)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	return &prepared{chunks: chunks, prompt: buildPrompt(req.Question, chunks)}, nil
}

// route picks the generator the request names; the other one serves as the
// single fallback. An empty Provider means the configured primary.
func (s *Service) route(req Request) (Generator, Generator, error) {
	switch req.Provider {
	case "", s.primary.Name():
		return s.primary, s.fallback, nil
	case s.fallback.Name():
		return s.fallback, s.primary, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownProvider, req.Provider)
	}
}

func (s *Service) generate(ctx context.Context, prompt string, req Request) (*Completion, bool, error) {
	first, second, err := s.route(req)
	if err != nil {
		return nil, false, err
	}
	opts := s.genOptions(req)

	firstCtx, cancel := context.WithTimeout(ctx, s.defaults.ProviderTimeout)
	completion, err := first.Generate(firstCtx, prompt, opts)
	cancel()
	if err == nil {
		return completion, false, nil
	}
	slog.WarnContext(ctx, "requested provider failed, trying fallback",
		"provider", first.Name(), "error", err)

	// Model overrides are provider-specific; the fallback uses its default.
	fallbackOpts := opts
	fallbackOpts.Model = ""

	fallbackCtx, cancel := context.WithTimeout(ctx, s.defaults.ProviderTimeout)
	defer cancel()
	completion, ferr := second.Generate(fallbackCtx, prompt, fallbackOpts)
	if ferr != nil {
		slog.ErrorContext(ctx, "fallback provider failed", "provider", second.Name(), "error", ferr)
		return nil, false, fmt.Errorf("%w: primary: %v, fallback: %v", ErrAllProviders, err, ferr)
	}
	return completion, true, nil
}

func (s *Service) finish(ctx context.Context, req Request, prep *prepared, completion *Completion, fallbackUsed bool) (*Response, error) {
	return s.finishWithID(ctx, req, prep, completion, fallbackUsed, uuid.New().String())
}

func (s *Service) finishWithID(ctx context.Context, req Request, prep *prepared, completion *Completion, fallbackUsed bool, interactionID string) (*Response, error) {
	resp := &Response{
		Answer:        completion.Text,
		InteractionID: interactionID,
		Metadata: Metadata{
			Provider:     completion.Provider,
			Model:        completion.Model,
			FallbackUsed: fallbackUsed,
		},
		Usage: Usage{
			PromptTokens:     completion.PromptTokens,
			CompletionTokens: completion.CompletionTokens,
			CostUSD:          estimateCost(completion),
		},
		Context: ContextInfo{
			Chunks:      prep.chunks,
			TotalChunks: len(prep.chunks),
		},
	}

	// No retrieved chunks: the answer may be ungrounded and sources stay
	// empty; never fabricate a citation.
	if len(prep.chunks) > 0 {
		var sum float32
		for _, c := range prep.chunks {
			sum += c.Similarity
			resp.Sources = append(resp.Sources, SourceRef{
				SourceType: c.SourceType,
				SourceID:   c.SourceID,
				Title:      c.Title,
				Similarity: c.Similarity,
			})
		}
		resp.Context.AverageSimilarity = sum / float32(len(prep.chunks))
	}

	rec := &Interaction{
		ID:               interactionID,
		Tenant:           req.Tenant,
		UserID:           req.UserID,
		Question:         req.Question,
		Provider:         completion.Provider,
		Model:            completion.Model,
		FallbackUsed:     fallbackUsed,
		ChunksRetrieved:  len(prep.chunks),
		AvgSimilarity:    float64(resp.Context.AverageSimilarity),
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
		CostUSD:          resp.Usage.CostUSD,
		CorrelationID:    middleware.GetCorrelationID(ctx),
	}
	if err := s.recorder.Save(ctx, rec); err != nil {
		// Accounting must not break the answer path; the spend shows up in
		// the next reconciliation instead.
		slog.ErrorContext(ctx, "failed to persist interaction", "error", err, "interaction_id", interactionID)
	}

	return resp, nil
}

func (s *Service) genOptions(req Request) GenOptions {
	return GenOptions{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

func optModel(opts GenOptions, g Generator) string {
	if opts.Model != "" {
		return opts.Model
	}
	return g.DefaultModel()
}

func buildPrompt(question string, chunks []RetrievedChunk) string {
	var b strings.Builder
	b.WriteString("You are a site assistant. Answer the question using only the context below. ")
	b.WriteString("If the context does not contain the answer, say so instead of guessing.\n\n")

	if len(chunks) > 0 {
		b.WriteString("[Context]\n")
		for i, c := range chunks {
			title := c.Title
			if title == "" {
				title = c.SourceID
			}
			fmt.Fprintf(&b, "[%d: %s]\n%s\n\n", i+1, title, c.Content)
		}
	} else {
		b.WriteString("[Context]\n(no indexed content matched the question)\n\n")
	}

	b.WriteString("[Question]\n")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// Token prices per million, coarse but stable enough for admission control.
var pricePerMTokens = map[string][2]float64{
	"gemini": {0.30, 2.50},
	"openai": {0.15, 0.60},
}

func estimateCost(c *Completion) float64 {
	rates, ok := pricePerMTokens[c.Provider]
	if !ok {
		return 0
	}
	return (float64(c.PromptTokens)*rates[0] + float64(c.CompletionTokens)*rates[1]) / 1e6
}
