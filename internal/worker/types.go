package worker

import (
	"context"
	"time"

	"presswise/backend/internal/tenant"
)

// Chunk is one embedded fragment of a source's content. A generation is the
// full set of chunks produced by one embedding run; chunks are created in
// bulk and never mutated afterwards.
type Chunk struct {
	Tenant        tenant.Tenant
	SourceType    string
	SourceID      string
	ChunkIndex    int
	Content       string
	Title         string
	Vector        []float32
	GenerationID  string
	Fingerprint   string
	CorrelationID string
	CreatedAt     time.Time
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type ChunkStore interface {
	// ActivateGeneration deactivates the currently active generation for
	// the chunks' source and inserts the new one as active, as one logical
	// swap. Empty input is a no-op.
	ActivateGeneration(ctx context.Context, chunks []Chunk) error
}
