package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"presswise/backend/internal/finops"
	"presswise/backend/internal/tenant"
)

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockVectorStore struct {
	mock.Mock
}

func (m *MockVectorStore) Search(ctx context.Context, tn tenant.Tenant, vector []float32, contentType string, limit int, threshold float32) ([]RetrievedChunk, error) {
	args := m.Called(ctx, tn, vector, contentType, limit, threshold)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]RetrievedChunk), args.Error(1)
}

type MockPolicy struct {
	mock.Mock
}

func (m *MockPolicy) Evaluate(ctx context.Context, organizationID string) (finops.State, error) {
	args := m.Called(ctx, organizationID)
	return args.Get(0).(finops.State), args.Error(1)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Save(ctx context.Context, rec *Interaction) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type fakeGenerator struct {
	name         string
	model        string
	completion   *Completion
	err          error
	streamTokens []string
	streamErr    error
	lastOpts     GenOptions
	calls        int
}

func (f *fakeGenerator) Name() string         { return f.name }
func (f *fakeGenerator) DefaultModel() string { return f.model }

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, opts GenOptions) (*Completion, error) {
	f.calls++
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.completion, nil
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, prompt string, opts GenOptions, emit func(string) error) (*Completion, error) {
	f.calls++
	f.lastOpts = opts
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	for _, tok := range f.streamTokens {
		if err := emit(tok); err != nil {
			return nil, err
		}
	}
	return f.completion, nil
}

type recordingSink struct {
	meta      []StreamMeta
	tokens    []string
	metaFirst bool
}

func (s *recordingSink) Preamble(meta StreamMeta) error {
	s.metaFirst = len(s.tokens) == 0
	s.meta = append(s.meta, meta)
	return nil
}

func (s *recordingSink) Token(token string) error {
	s.tokens = append(s.tokens, token)
	return nil
}

var askTenant = tenant.Tenant{OrganizationID: "org-1", SiteID: "site-1"}

func newTestService(embedder *MockEmbedder, store *MockVectorStore, primary, fallback Generator, policy *MockPolicy, rec *MockRecorder) *Service {
	return NewService(embedder, store, primary, fallback, policy, rec, Defaults{
		MaxChunks:           5,
		SimilarityThreshold: 0.65,
		ProviderTimeout:     5 * time.Second,
	})
}

func askDeps() (*MockEmbedder, *MockVectorStore, *MockPolicy, *MockRecorder) {
	embedder := new(MockEmbedder)
	store := new(MockVectorStore)
	policy := new(MockPolicy)
	rec := new(MockRecorder)

	policy.On("Evaluate", mock.Anything, "org-1").Return(finops.StateNormal, nil).Maybe()
	embedder.On("Embed", mock.Anything, "What are your hours?").Return([]float32{0.1, 0.2}, nil).Maybe()
	store.On("Search", mock.Anything, askTenant, []float32{0.1, 0.2}, "", 5, float32(0.65)).
		Return([]RetrievedChunk{
			{Content: "Open 9-5.", Title: "Hours", SourceType: "wp_page", SourceID: "42", Similarity: 0.9},
			{Content: "Closed Sundays.", Title: "Hours", SourceType: "wp_page", SourceID: "42", ChunkIndex: 1, Similarity: 0.8},
		}, nil).Maybe()
	rec.On("Save", mock.Anything, mock.Anything).Return(nil).Maybe()

	return embedder, store, policy, rec
}

func TestAsk_HappyPath(t *testing.T) {
	embedder, store, policy, rec := askDeps()
	primary := &fakeGenerator{name: "gemini", model: "gemini-2.5-flash",
		completion: &Completion{Text: "We are open 9 to 5.", Provider: "gemini", Model: "gemini-2.5-flash", PromptTokens: 100, CompletionTokens: 20}}
	fallback := &fakeGenerator{name: "openai", model: "gpt-4o-mini"}

	svc := newTestService(embedder, store, primary, fallback, policy, rec)
	resp, err := svc.Ask(context.Background(), Request{Tenant: askTenant, Question: "What are your hours?"})

	assert.NoError(t, err)
	assert.Equal(t, "We are open 9 to 5.", resp.Answer)
	assert.Equal(t, "gemini", resp.Metadata.Provider)
	assert.False(t, resp.Metadata.FallbackUsed)
	assert.Equal(t, 2, resp.Context.TotalChunks)
	assert.InDelta(t, 0.85, resp.Context.AverageSimilarity, 0.001)
	assert.Len(t, resp.Sources, 2)
	assert.NotEmpty(t, resp.InteractionID)
	assert.Zero(t, fallback.calls)
	rec.AssertCalled(t, "Save", mock.Anything, mock.MatchedBy(func(r *Interaction) bool {
		return r.Provider == "gemini" && r.ChunksRetrieved == 2 && !r.FallbackUsed
	}))
}

func TestAsk_EmptyQuestion(t *testing.T) {
	embedder, store, policy, rec := askDeps()
	svc := newTestService(embedder, store, &fakeGenerator{}, &fakeGenerator{}, policy, rec)

	_, err := svc.Ask(context.Background(), Request{Tenant: askTenant, Question: "   "})

	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestAsk_BlockedOrganization(t *testing.T) {
	embedder, store, _, rec := askDeps()
	policy := new(MockPolicy)
	policy.On("Evaluate", mock.Anything, "org-1").Return(finops.StateBlocked, nil)

	svc := newTestService(embedder, store, &fakeGenerator{}, &fakeGenerator{}, policy, rec)
	_, err := svc.Ask(context.Background(), Request{Tenant: askTenant, Question: "What are your hours?"})

	assert.ErrorIs(t, err, ErrAdmissionDenied)
	embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestAsk_PolicyErrorProceedsThrottled(t *testing.T) {
	embedder, store, _, rec := askDeps()
	policy := new(MockPolicy)
	policy.On("Evaluate", mock.Anything, "org-1").Return(finops.StateThrottled, errors.New("db down"))
	primary := &fakeGenerator{name: "gemini", model: "gemini-2.5-flash",
		completion: &Completion{Text: "answer", Provider: "gemini", Model: "gemini-2.5-flash"}}

	svc := newTestService(embedder, store, primary, &fakeGenerator{}, policy, rec)
	resp, err := svc.Ask(context.Background(), Request{Tenant: askTenant, Question: "What are your hours?"})

	assert.NoError(t, err)
	assert.Equal(t, "answer", resp.Answer)
}

func TestAsk_RequestedProviderIsCalledFirst(t *testing.T) {
	embedder, store, policy, rec := askDeps()
	primary := &fakeGenerator{name: "gemini", model: "gemini-2.5-flash"}
	fallback := &fakeGenerator{name: "openai", model: "gpt-4o-mini",
		completion: &Completion{Text: "openai answer", Provider: "openai", Model: "gpt-4o-mini"}}

	svc := newTestService(embedder, store, primary, fallback, policy, rec)
	resp, err := svc.Ask(context.Background(), Request{
		Tenant: askTenant, Question: "What are your hours?", Provider: "openai",
	})

	assert.NoError(t, err)
	assert.Equal(t, "openai", resp.Metadata.Provider)
	assert.False(t, resp.Metadata.FallbackUsed)
	assert.Equal(t, 1, fallback.calls)
	assert.Zero(t, primary.calls)
}

func TestAsk_RequestedProviderFailureFallsBackToOther(t *testing.T) {
	embedder, store, policy, rec := askDeps()
	primary := &fakeGenerator{name: "gemini", model: "gemini-2.5-flash",
		completion: &Completion{Text: "gemini answer", Provider: "gemini", Model: "gemini-2.5-flash"}}
	fallback := &fakeGenerator{name: "openai", model: "gpt-4o-mini", err: errors.New("quota exhausted")}

	svc := newTestService(embedder, store, primary, fallback, policy, rec)
	resp, err := svc.Ask(context.Background(), Request{
		Tenant: askTenant, Question: "What are your hours?", Provider: "openai", Model: "gpt-4o",
	})

	assert.NoError(t, err)
	assert.True(t, resp.Metadata.FallbackUsed)
	assert.Equal(t, "gemini", resp.Metadata.Provider)
	assert.Equal(t, "gpt-4o", fallback.lastOpts.Model)
	assert.Empty(t, primary.lastOpts.Model)
}

func TestAsk_UnknownProvider(t *testing.T) {
	embedder, store, policy, rec := askDeps()
	svc := newTestService(embedder, store, &fakeGenerator{name: "gemini"}, &fakeGenerator{name: "openai"}, policy, rec)

	_, err := svc.Ask(context.Background(), Request{
		Tenant: askTenant, Question: "What are your hours?", Provider: "anthropic",
	})

	assert.ErrorIs(t, err, ErrUnknownProvider)
	embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestAskStream_RequestedProviderStreams(t *testing.T) {
	embedder, store, policy, rec := askDeps()
	primary := &fakeGenerator{name: "gemini", model: "gemini-2.5-flash"}
	fallback := &fakeGenerator{name: "openai", model: "gpt-4o-mini",
		streamTokens: []string{"from ", "openai"},
		completion:   &Completion{Text: "from openai", Provider: "openai", Model: "gpt-4o-mini"}}

	svc := newTestService(embedder, store, primary, fallback, policy, rec)
	sink := &recordingSink{}
	_, err := svc.AskStream(context.Background(), Request{
		Tenant: askTenant, Question: "What are your hours?", Provider: "openai",
	}, sink)

	assert.NoError(t, err)
	assert.Equal(t, "openai", sink.meta[0].Provider)
	assert.Equal(t, "gpt-4o-mini", sink.meta[0].Model)
	assert.Equal(t, []string{"from ", "openai"}, sink.tokens)
	assert.Zero(t, primary.calls)
}

func TestAsk_FallbackAfterPrimaryFailure(t *testing.T) {
	embedder, store, policy, rec := askDeps()
	primary := &fakeGenerator{name: "gemini", model: "gemini-2.5-flash", err: errors.New("quota exhausted")}
	fallback := &fakeGenerator{name: "openai", model: "gpt-4o-mini",
		completion: &Completion{Text: "fallback answer", Provider: "openai", Model: "gpt-4o-mini"}}

	svc := newTestService(embedder, store, primary, fallback, policy, rec)
	resp, err := svc.Ask(context.Background(), Request{
		Tenant: askTenant, Question: "What are your hours?", Model: "gemini-2.5-pro",
	})

	assert.NoError(t, err)
	assert.True(t, resp.Metadata.FallbackUsed)
	assert.Equal(t, "openai", resp.Metadata.Provider)
	assert.Equal(t, "gemini-2.5-pro", primary.lastOpts.Model)
	assert.Empty(t, fallback.lastOpts.Model)
}

func TestAsk_AllProvidersFail(t *testing.T) {
	embedder, store, policy, _ := askDeps()
	rec := new(MockRecorder)
	primary := &fakeGenerator{name: "gemini", err: errors.New("down")}
	fallback := &fakeGenerator{name: "openai", err: errors.New("also down")}

	svc := newTestService(embedder, store, primary, fallback, policy, rec)
	_, err := svc.Ask(context.Background(), Request{Tenant: askTenant, Question: "What are your hours?"})

	assert.ErrorIs(t, err, ErrAllProviders)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
	rec.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestAsk_RecorderFailureDoesNotBreakAnswer(t *testing.T) {
	embedder, store, policy, _ := askDeps()
	rec := new(MockRecorder)
	rec.On("Save", mock.Anything, mock.Anything).Return(errors.New("insert failed"))
	primary := &fakeGenerator{name: "gemini", model: "gemini-2.5-flash",
		completion: &Completion{Text: "answer", Provider: "gemini", Model: "gemini-2.5-flash"}}

	svc := newTestService(embedder, store, primary, &fakeGenerator{}, policy, rec)
	resp, err := svc.Ask(context.Background(), Request{Tenant: askTenant, Question: "What are your hours?"})

	assert.NoError(t, err)
	assert.Equal(t, "answer", resp.Answer)
}

func TestAskStream_PreambleBeforeFirstToken(t *testing.T) {
	embedder, store, policy, rec := askDeps()
	primary := &fakeGenerator{name: "gemini", model: "gemini-2.5-flash",
		streamTokens: []string{"We are ", "open 9 to 5."},
		completion:   &Completion{Text: "We are open 9 to 5.", Provider: "gemini", Model: "gemini-2.5-flash"}}

	svc := newTestService(embedder, store, primary, &fakeGenerator{}, policy, rec)
	sink := &recordingSink{}
	resp, err := svc.AskStream(context.Background(), Request{Tenant: askTenant, Question: "What are your hours?"}, sink)

	assert.NoError(t, err)
	assert.True(t, sink.metaFirst)
	assert.Len(t, sink.meta, 1)
	assert.Equal(t, "gemini", sink.meta[0].Provider)
	assert.False(t, sink.meta[0].FallbackUsed)
	assert.Equal(t, []string{"We are ", "open 9 to 5."}, sink.tokens)
	assert.Equal(t, sink.meta[0].InteractionID, resp.InteractionID)
}

func TestAskStream_SetupFailureFallsBackToNonStreaming(t *testing.T) {
	embedder, store, policy, rec := askDeps()
	primary := &fakeGenerator{name: "gemini", model: "gemini-2.5-flash",
		streamErr: errors.New("stream unavailable"),
		completion: &Completion{Text: "full answer", Provider: "gemini", Model: "gemini-2.5-flash"}}

	svc := newTestService(embedder, store, primary, &fakeGenerator{}, policy, rec)
	sink := &recordingSink{}
	resp, err := svc.AskStream(context.Background(), Request{Tenant: askTenant, Question: "What are your hours?"}, sink)

	assert.NoError(t, err)
	assert.Len(t, sink.meta, 1)
	assert.Equal(t, []string{"full answer"}, sink.tokens)
	assert.Equal(t, "full answer", resp.Answer)
	// generate path ran after the stream attempt
	assert.Equal(t, 2, primary.calls)
}

func TestAskStream_MidStreamFailureDoesNotFallBack(t *testing.T) {
	embedder, store, policy, rec := askDeps()
	primary := &midStreamFailer{}
	fallback := &fakeGenerator{name: "openai",
		completion: &Completion{Text: "should not appear", Provider: "openai"}}

	svc := newTestService(embedder, store, primary, fallback, policy, rec)
	sink := &recordingSink{}
	_, err := svc.AskStream(context.Background(), Request{Tenant: askTenant, Question: "What are your hours?"}, sink)

	assert.ErrorIs(t, err, ErrAllProviders)
	assert.Equal(t, []string{"partial "}, sink.tokens)
	assert.Zero(t, fallback.calls)
}

type midStreamFailer struct{}

func (f *midStreamFailer) Name() string         { return "gemini" }
func (f *midStreamFailer) DefaultModel() string { return "gemini-2.5-flash" }

func (f *midStreamFailer) Generate(ctx context.Context, prompt string, opts GenOptions) (*Completion, error) {
	return nil, errors.New("unused")
}

func (f *midStreamFailer) GenerateStream(ctx context.Context, prompt string, opts GenOptions, emit func(string) error) (*Completion, error) {
	if err := emit("partial "); err != nil {
		return nil, err
	}
	return nil, errors.New("connection reset")
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt("What time do you open?", []RetrievedChunk{
		{Content: "We open at nine.", Title: "Hours"},
	})

	assert.Contains(t, prompt, "[1: Hours]")
	assert.Contains(t, prompt, "We open at nine.")
	assert.Contains(t, prompt, "What time do you open?")

	empty := buildPrompt("Anything?", nil)
	assert.Contains(t, empty, "no indexed content matched")
}
