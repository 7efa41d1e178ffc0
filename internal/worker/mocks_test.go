package worker_test

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"presswise/backend/features/embedding"
	"presswise/backend/internal/worker"
)

type MockJobMarker struct {
	mock.Mock
}

func (m *MockJobMarker) MarkProcessing(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockJobMarker) MarkCompleted(ctx context.Context, id string, result json.RawMessage) error {
	args := m.Called(ctx, id, result)
	return args.Error(0)
}

func (m *MockJobMarker) MarkFailed(ctx context.Context, id string, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}

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

type MockChunkStore struct {
	mock.Mock
}

func (m *MockChunkStore) ActivateGeneration(ctx context.Context, chunks []worker.Chunk) error {
	args := m.Called(ctx, chunks)
	return args.Error(0)
}

type MockEmbedTrigger struct {
	mock.Mock
}

func (m *MockEmbedTrigger) Trigger(ctx context.Context, req embedding.TriggerRequest) (*embedding.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*embedding.Result), args.Error(1)
}
