package sync_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"presswise/backend/features/sync"
	"presswise/backend/internal/tenant"
)

func makeJob(id string, jt sync.JobType, status sync.Status, created time.Time, processed *time.Time, result string) sync.Job {
	j := sync.Job{
		ID:        id,
		Type:      jt,
		Tenant:    testTenant,
		SyncID:    "run-1",
		Status:    status,
		Data:      json.RawMessage(`{}`),
		CreatedAt: created,
	}
	j.ProcessedAt = processed
	if result != "" {
		j.Result = json.RawMessage(result)
	}
	return j
}

func TestBuildReport_NotFound(t *testing.T) {
	repo := new(MockRepo)
	svc := sync.NewService(repo, new(MockPublisher))
	repo.On("ListBySyncID", mock.Anything, "missing").Return([]sync.Job{}, nil)

	_, err := svc.BuildReport(context.Background(), testTenant, "missing")
	assert.ErrorIs(t, err, sync.ErrRunNotFound)
}

func TestBuildReport_OwnershipMismatch(t *testing.T) {
	repo := new(MockRepo)
	svc := sync.NewService(repo, new(MockPublisher))

	now := time.Now()
	jobs := []sync.Job{makeJob("j1", sync.TypeSyncPosts, sync.StatusCompleted, now, &now, `{"total":1}`)}
	repo.On("ListBySyncID", mock.Anything, "run-1").Return(jobs, nil)

	other := tenant.Tenant{OrganizationID: "org-2", SiteID: "site-9"}
	_, err := svc.BuildReport(context.Background(), other, "run-1")
	assert.ErrorIs(t, err, tenant.ErrOwnershipMismatch)
}

func TestBuildReport_FailedBeatsProcessing(t *testing.T) {
	// One permanently failed job marks the run failed even while siblings
	// are still running, regardless of job order.
	repo := new(MockRepo)
	svc := sync.NewService(repo, new(MockPublisher))

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	done := start.Add(30 * time.Second)
	jobs := []sync.Job{
		makeJob("j1", sync.TypeSyncTerms, sync.StatusCompleted, start, &done, `{"total":10,"created":4,"updated":6}`),
		makeJob("j2", sync.TypeSyncMedia, sync.StatusProcessing, start.Add(time.Second), nil, ""),
		makeJob("j3", sync.TypeSyncPages, sync.StatusFailed, start.Add(2*time.Second), &done, ""),
		makeJob("j4", sync.TypeSyncPosts, sync.StatusCompleted, start.Add(3*time.Second), &done, `{"total":7,"created":2,"updated":3,"skipped":2}`),
	}
	repo.On("ListBySyncID", mock.Anything, "run-1").Return(jobs, nil)

	report, err := svc.BuildReport(context.Background(), testTenant, "run-1")
	assert.NoError(t, err)
	assert.Equal(t, sync.StatusFailed, report.Status)
	assert.Equal(t, 10, report.Totals["wordpress_sync_terms"])
	assert.Equal(t, 7, report.Totals["wordpress_sync_posts"])
	assert.Equal(t, 6, report.Created)
	assert.Equal(t, 9, report.Updated)
	assert.Equal(t, 2, report.Skipped)
	// Failed is terminal: duration is reported.
	assert.NotNil(t, report.DurationMs)
	assert.Equal(t, int64(30000), *report.DurationMs)
	assert.Equal(t, start, report.StartedAt)
}

func TestBuildReport_StatusReduction(t *testing.T) {
	now := time.Now()
	done := now.Add(time.Second)

	tests := []struct {
		name     string
		statuses []sync.Status
		want     sync.Status
	}{
		{"all completed", []sync.Status{sync.StatusCompleted, sync.StatusCompleted}, sync.StatusCompleted},
		{"any failed wins", []sync.Status{sync.StatusCompleted, sync.StatusFailed, sync.StatusProcessing}, sync.StatusFailed},
		{"any processing", []sync.Status{sync.StatusCompleted, sync.StatusProcessing}, sync.StatusProcessing},
		{"queued and completed", []sync.Status{sync.StatusQueued, sync.StatusCompleted}, sync.StatusQueued},
		{"all queued", []sync.Status{sync.StatusQueued, sync.StatusQueued}, sync.StatusQueued},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepo)
			svc := sync.NewService(repo, new(MockPublisher))

			var jobs []sync.Job
			for i, s := range tt.statuses {
				var processed *time.Time
				if s.Terminal() {
					processed = &done
				}
				jobs = append(jobs, makeJob(string(rune('a'+i)), sync.TypeSyncPosts, s, now, processed, ""))
			}
			repo.On("ListBySyncID", mock.Anything, "run-1").Return(jobs, nil)

			report, err := svc.BuildReport(context.Background(), testTenant, "run-1")
			assert.NoError(t, err)
			assert.Equal(t, tt.want, report.Status)

			if report.Status.Terminal() {
				assert.NotNil(t, report.DurationMs)
			} else {
				assert.Nil(t, report.DurationMs)
				assert.Nil(t, report.FinishedAt)
			}
		})
	}
}

func TestBuildReport_UnparseableResultCountsZero(t *testing.T) {
	repo := new(MockRepo)
	svc := sync.NewService(repo, new(MockPublisher))

	now := time.Now()
	done := now.Add(time.Second)
	jobs := []sync.Job{
		makeJob("j1", sync.TypeSyncPosts, sync.StatusCompleted, now, &done, `{"total":5,"created":5}`),
		makeJob("j2", sync.TypeSyncPages, sync.StatusCompleted, now, &done, `{"total": garbage`),
	}
	repo.On("ListBySyncID", mock.Anything, "run-1").Return(jobs, nil)

	report, err := svc.BuildReport(context.Background(), testTenant, "run-1")
	assert.NoError(t, err)
	assert.Equal(t, sync.StatusCompleted, report.Status)
	assert.Equal(t, 5, report.Created)
	assert.Equal(t, 0, report.Totals["wordpress_sync_pages"])
}

func TestBuildReport_EmbeddingCounters(t *testing.T) {
	repo := new(MockRepo)
	svc := sync.NewService(repo, new(MockPublisher))

	now := time.Now()
	done := now.Add(time.Second)
	jobs := []sync.Job{
		makeJob("j1", sync.TypeSyncPosts, sync.StatusCompleted, now, &done,
			`{"total":3,"updated":3,"embeddings_queued":2,"embeddings_skipped":1}`),
	}
	repo.On("ListBySyncID", mock.Anything, "run-1").Return(jobs, nil)

	report, err := svc.BuildReport(context.Background(), testTenant, "run-1")
	assert.NoError(t, err)
	assert.Equal(t, 2, report.EmbeddingsQueued)
	assert.Equal(t, 1, report.EmbeddingsSkipped)
}
