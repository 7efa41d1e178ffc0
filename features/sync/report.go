package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"presswise/backend/internal/tenant"
)

var ErrRunNotFound = errors.New("sync run not found")

// Report is the on-demand reduction of all jobs sharing a sync ID. It is
// derived, never persisted.
type Report struct {
	SyncID            string         `json:"sync_id"`
	Status            Status         `json:"status"`
	Totals            map[string]int `json:"totals"`
	Created           int            `json:"created"`
	Updated           int            `json:"updated"`
	Skipped           int            `json:"skipped"`
	Failed            int            `json:"failed"`
	EmbeddingsQueued  int            `json:"embeddings_queued"`
	EmbeddingsSkipped int            `json:"embeddings_skipped"`
	Jobs              int            `json:"jobs"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        *time.Time     `json:"finished_at,omitempty"`
	DurationMs        *int64         `json:"duration_ms,omitempty"`
}

// BuildReport reduces the jobs of one run into a single status + counters
// document. Failed beats processing: one dead job marks the run failed even
// while siblings are still running.
func (s *Service) BuildReport(ctx context.Context, tn tenant.Tenant, syncID string) (*Report, error) {
	if err := tn.Validate(); err != nil {
		return nil, err
	}

	jobs, err := s.repo.ListBySyncID(ctx, syncID)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, syncID)
	}

	for _, j := range jobs {
		if j.Tenant != tn {
			return nil, fmt.Errorf("%w: sync run %s", tenant.ErrOwnershipMismatch, syncID)
		}
	}

	report := &Report{
		SyncID:    syncID,
		Totals:    make(map[string]int),
		Jobs:      len(jobs),
		StartedAt: jobs[0].CreatedAt,
	}

	var anyFailed, anyProcessing, anyQueued bool
	var latestProcessed *time.Time

	for _, j := range jobs {
		if j.CreatedAt.Before(report.StartedAt) {
			report.StartedAt = j.CreatedAt
		}

		switch j.Status {
		case StatusFailed:
			anyFailed = true
		case StatusProcessing:
			anyProcessing = true
		case StatusQueued:
			anyQueued = true
		}

		if j.ProcessedAt != nil && (latestProcessed == nil || j.ProcessedAt.After(*latestProcessed)) {
			latestProcessed = j.ProcessedAt
		}

		if len(j.Result) == 0 {
			continue
		}
		var c Counters
		if err := json.Unmarshal(j.Result, &c); err != nil {
			// A partially-written result contributes zero to counters but
			// never fails the aggregation.
			slog.WarnContext(ctx, "unparseable job result, counting as zero", "job_id", j.ID, "error", err)
			continue
		}
		report.Totals[string(j.Type)] += c.Total
		report.Created += c.Created
		report.Updated += c.Updated
		report.Skipped += c.Skipped
		report.Failed += c.Failed
		report.EmbeddingsQueued += c.EmbeddingsQueued
		report.EmbeddingsSkipped += c.EmbeddingsSkipped
	}

	switch {
	case anyFailed:
		report.Status = StatusFailed
	case anyProcessing:
		report.Status = StatusProcessing
	case anyQueued:
		report.Status = StatusQueued
	default:
		report.Status = StatusCompleted
	}

	if report.Status.Terminal() && latestProcessed != nil {
		report.FinishedAt = latestProcessed
		ms := latestProcessed.Sub(report.StartedAt).Milliseconds()
		report.DurationMs = &ms
	}

	return report, nil
}
