package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"presswise/backend/features/sync"
	"presswise/backend/internal/middleware"
	"presswise/backend/internal/tenant"
	"presswise/backend/internal/text"
)

// JobMarker is the slice of the job repository the consumers write through.
type JobMarker interface {
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, result json.RawMessage) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

type ChunkConfig struct {
	MaxChars int
	Overlap  int
}

type EmbedConsumer struct {
	jobs     JobMarker
	embedder Embedder
	store    ChunkStore
	chunking ChunkConfig
	timeout  time.Duration
}

func NewEmbedConsumer(jobs JobMarker, e Embedder, s ChunkStore, chunking ChunkConfig, timeout time.Duration) *EmbedConsumer {
	return &EmbedConsumer{
		jobs:     jobs,
		embedder: e,
		store:    s,
		chunking: chunking,
		timeout:  timeout,
	}
}

// HandleMessage embeds one content unit and swaps its active generation.
// Any provider or store failure fails the whole job with the previous
// generation left untouched; partial generations are never activated.
func (h *EmbedConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload EmbedTaskPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison pill: invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	if payload.JobID == "" || payload.Data.SourceID == "" {
		slog.ErrorContext(ctx, "missing required fields, dropping", "job_id", payload.JobID)
		return nil
	}

	if err := h.jobs.MarkProcessing(ctx, payload.JobID); err != nil {
		if err == sync.ErrStaleTransition {
			// Redelivery of a job already past queued; nothing to do.
			slog.WarnContext(ctx, "job already picked up, dropping", "job_id", payload.JobID)
			return nil
		}
		slog.ErrorContext(ctx, "mark processing failed", "error", err, "job_id", payload.JobID)
		return err // Retry
	}

	tn := tenant.Tenant{OrganizationID: payload.OrganizationID, SiteID: payload.SiteID}
	pieces := text.Chunk(text.Normalize(payload.Data.Content), h.chunking.MaxChars, h.chunking.Overlap)
	if len(pieces) == 0 {
		return h.complete(ctx, payload.JobID, sync.Counters{EmbeddingsSkipped: 1})
	}

	generationID := uuid.New().String()
	now := time.Now().UTC()

	chunks := make([]Chunk, 0, len(pieces))
	for i, piece := range pieces {
		embedCtx, cancel := context.WithTimeout(ctx, h.timeout)
		vector, err := h.embedder.Embed(embedCtx, contextualText(payload.Data.Title, piece))
		cancel()
		if err != nil {
			slog.ErrorContext(ctx, "embedding failed", "error", err,
				"job_id", payload.JobID, "source_id", payload.Data.SourceID, "chunk_index", i)
			return h.fail(ctx, payload.JobID, fmt.Sprintf("embed chunk %d: %v", i, err))
		}

		chunks = append(chunks, Chunk{
			Tenant:        tn,
			SourceType:    payload.Data.SourceType,
			SourceID:      payload.Data.SourceID,
			ChunkIndex:    i,
			Content:       piece,
			Title:         payload.Data.Title,
			Vector:        vector,
			GenerationID:  generationID,
			Fingerprint:   payload.Data.Fingerprint,
			CorrelationID: payload.CorrelationID,
			CreatedAt:     now,
		})
	}

	if err := h.store.ActivateGeneration(ctx, chunks); err != nil {
		slog.ErrorContext(ctx, "generation swap failed", "error", err,
			"job_id", payload.JobID, "source_id", payload.Data.SourceID)
		return h.fail(ctx, payload.JobID, fmt.Sprintf("activate generation: %v", err))
	}

	slog.InfoContext(ctx, "content embedded",
		"job_id", payload.JobID,
		"source_id", payload.Data.SourceID,
		"chunks", len(chunks),
		"generation_id", generationID,
	)
	return h.complete(ctx, payload.JobID, sync.Counters{Total: len(chunks), Created: len(chunks)})
}

func (h *EmbedConsumer) complete(ctx context.Context, jobID string, counters sync.Counters) error {
	if err := h.jobs.MarkCompleted(ctx, jobID, counters.Marshal()); err != nil {
		slog.ErrorContext(ctx, "mark completed failed", "error", err, "job_id", jobID)
		return err // Retry
	}
	return nil
}

// fail marks the job failed and drops the message: the job row already
// records the outcome, a redelivery could not transition it anyway.
func (h *EmbedConsumer) fail(ctx context.Context, jobID, msg string) error {
	if err := h.jobs.MarkFailed(ctx, jobID, msg); err != nil {
		slog.ErrorContext(ctx, "mark failed failed", "error", err, "job_id", jobID)
	}
	return nil
}

func contextualText(title, content string) string {
	if title == "" {
		return content
	}
	return fmt.Sprintf("Title: %s\n---\n%s", title, content)
}
