package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"presswise/backend/internal/config"
	"presswise/backend/internal/middleware"
	"presswise/backend/internal/tenant"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Service is the sync orchestrator: it groups jobs under a sync run and is
// the single write path for job rows. Actual CMS fetching is done by the
// external sync worker consuming the task topic.
type Service struct {
	repo Repository
	pub  EventPublisher
}

func NewService(repo Repository, pub EventPublisher) *Service {
	return &Service{repo: repo, pub: pub}
}

// Run describes a freshly started synchronization run.
type Run struct {
	SyncID        string        `json:"sync_id"`
	CorrelationID string        `json:"correlation_id"`
	Jobs          []Job         `json:"jobs"`
	Tenant        tenant.Tenant `json:"tenant"`
}

// taskEnvelope is the wire format published to the sync worker.
type taskEnvelope struct {
	JobID          string  `json:"job_id"`
	SyncID         string  `json:"sync_id"`
	Type           JobType `json:"type"`
	OrganizationID string  `json:"organization_id"`
	SiteID         string  `json:"site_id"`
	Entity         string  `json:"entity"`
	CorrelationID  string  `json:"correlation_id"`
}

// StartRun creates one queued job per entity type under a fresh sync ID and
// publishes a task for each. A job whose task cannot be published is marked
// failed immediately; siblings are unaffected.
func (s *Service) StartRun(ctx context.Context, tn tenant.Tenant, entityTypes []JobType) (*Run, error) {
	if err := tn.Validate(); err != nil {
		return nil, err
	}
	if len(entityTypes) == 0 {
		entityTypes = EntityTypes
	}

	syncID := uuid.New().String()
	correlationID := middleware.GetCorrelationID(ctx)
	if correlationID == "" || correlationID == "unknown" {
		correlationID = uuid.New().String()
	}

	run := &Run{SyncID: syncID, CorrelationID: correlationID, Tenant: tn}

	for _, jt := range entityTypes {
		entity := strings.TrimPrefix(string(jt), "wordpress_sync_")
		data, _ := json.Marshal(CMSSyncData{Entity: entity})

		job := &Job{
			Type:          jt,
			Tenant:        tn,
			SyncID:        syncID,
			Data:          data,
			CorrelationID: correlationID,
		}
		if err := s.repo.Create(ctx, job); err != nil {
			return nil, fmt.Errorf("create %s job: %w", jt, err)
		}
		job.Status = StatusQueued

		payload, _ := json.Marshal(taskEnvelope{
			JobID:          job.ID,
			SyncID:         syncID,
			Type:           jt,
			OrganizationID: tn.OrganizationID,
			SiteID:         tn.SiteID,
			Entity:         entity,
			CorrelationID:  correlationID,
		})
		if err := s.pub.Publish(config.TopicSyncTask, payload); err != nil {
			slog.ErrorContext(ctx, "failed to publish sync task", "error", err, "job_id", job.ID, "type", jt)
			if ferr := s.repo.MarkFailed(ctx, job.ID, fmt.Sprintf("publish task: %v", err)); ferr != nil {
				slog.WarnContext(ctx, "failed to mark job failed", "error", ferr, "job_id", job.ID)
			}
			job.Status = StatusFailed
			job.Error = fmt.Sprintf("publish task: %v", err)
		}
		run.Jobs = append(run.Jobs, *job)
	}

	slog.InfoContext(ctx, "sync run started", "sync_id", syncID, "tenant", tn.String(), "jobs", len(run.Jobs))
	return run, nil
}

// Enqueue creates a queued job and publishes its payload to the topic of the
// given type. Used by the embedding trigger for embedding_content jobs.
func (s *Service) Enqueue(ctx context.Context, tn tenant.Tenant, jt JobType, data interface{}, syncID, correlationID string) (string, error) {
	if err := tn.Validate(); err != nil {
		return "", err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal job data: %w", err)
	}
	if syncID == "" {
		syncID = uuid.New().String()
	}
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	job := &Job{
		Type:          jt,
		Tenant:        tn,
		SyncID:        syncID,
		Data:          raw,
		CorrelationID: correlationID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return "", err
	}

	topic := config.TopicSyncTask
	if jt == TypeEmbedding {
		topic = config.TopicContentEmbed
	}

	envelope, _ := json.Marshal(map[string]interface{}{
		"job_id":          job.ID,
		"sync_id":         syncID,
		"type":            jt,
		"organization_id": tn.OrganizationID,
		"site_id":         tn.SiteID,
		"data":            json.RawMessage(raw),
		"correlation_id":  correlationID,
	})
	if err := s.pub.Publish(topic, envelope); err != nil {
		if ferr := s.repo.MarkFailed(ctx, job.ID, fmt.Sprintf("publish task: %v", err)); ferr != nil {
			slog.WarnContext(ctx, "failed to mark job failed", "error", ferr, "job_id", job.ID)
		}
		return "", fmt.Errorf("publish %s task: %w", jt, err)
	}

	return job.ID, nil
}
