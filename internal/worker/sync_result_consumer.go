package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"presswise/backend/features/embedding"
	"presswise/backend/internal/middleware"
	"presswise/backend/internal/tenant"
)

// EmbedTrigger decides per content unit whether re-embedding is warranted.
type EmbedTrigger interface {
	Trigger(ctx context.Context, req embedding.TriggerRequest) (*embedding.Result, error)
}

type SyncResultConsumer struct {
	jobs    JobMarker
	trigger EmbedTrigger
}

func NewSyncResultConsumer(jobs JobMarker, trigger EmbedTrigger) *SyncResultConsumer {
	return &SyncResultConsumer{jobs: jobs, trigger: trigger}
}

// HandleMessage settles one sync job from the external worker's outcome and
// feeds every changed content unit through the embedding trigger. Trigger
// skips and failures only show up in the job counters; they never fail the
// sync job itself.
func (h *SyncResultConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload SyncResultPayload
	err := json.Unmarshal(m.Body, &payload)

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if err != nil {
		slog.ErrorContext(ctx, "invalid message format", "error", err)
		return nil // Don't retry invalid messages
	}
	if payload.JobID == "" {
		slog.ErrorContext(ctx, "missing job id, dropping", "sync_id", payload.SyncID)
		return nil
	}

	if payload.Status == "failed" {
		slog.ErrorContext(ctx, "sync job failed", "job_id", payload.JobID, "error", payload.Error)
		if err := h.jobs.MarkFailed(ctx, payload.JobID, payload.Error); err != nil {
			slog.ErrorContext(ctx, "mark failed failed", "error", err, "job_id", payload.JobID)
			return err // Retry
		}
		return nil
	}

	counters := payload.Counters
	tn := tenant.Tenant{OrganizationID: payload.OrganizationID, SiteID: payload.SiteID}

	for _, changed := range payload.Changed {
		result, terr := h.trigger.Trigger(ctx, embedding.TriggerRequest{
			Tenant:     tn,
			SourceType: changed.SourceType,
			SourceID:   changed.SourceID,
			Title:      changed.Title,
			Content:    changed.Content,
			SyncID:     payload.SyncID,
		})
		if terr != nil {
			slog.WarnContext(ctx, "embedding trigger failed", "error", terr,
				"source_type", changed.SourceType, "source_id", changed.SourceID)
			counters.EmbeddingsSkipped++
			continue
		}
		if result.Enqueued {
			counters.EmbeddingsQueued++
		} else {
			counters.EmbeddingsSkipped++
		}
	}

	if err := h.jobs.MarkCompleted(ctx, payload.JobID, counters.Marshal()); err != nil {
		slog.ErrorContext(ctx, "mark completed failed", "error", err, "job_id", payload.JobID)
		return err // Retry
	}

	slog.InfoContext(ctx, "sync job settled",
		"job_id", payload.JobID,
		"sync_id", payload.SyncID,
		"embeddings_queued", counters.EmbeddingsQueued,
		"embeddings_skipped", counters.EmbeddingsSkipped,
	)
	return nil
}
