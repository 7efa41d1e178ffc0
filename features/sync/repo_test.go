package sync_test

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"presswise/backend/features/sync"
)

var jobColumns = []string{
	"id", "type", "organization_id", "site_id", "sync_id", "status",
	"data", "result", "error", "correlation_id", "created_at", "processed_at", "updated_at",
}

func TestPostgresRepo_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := sync.NewPostgresRepo(db)

	job := &sync.Job{
		Type:          sync.TypeSyncPosts,
		SyncID:        "run-1",
		Data:          json.RawMessage(`{"entity":"posts"}`),
		CorrelationID: "corr-1",
	}
	job.Tenant.OrganizationID = "org-1"
	job.Tenant.SiteID = "site-1"

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO queue_jobs (type, organization_id, site_id, sync_id, status, data, correlation_id)`)).
		WithArgs(sync.TypeSyncPosts, "org-1", "site-1", "run-1", []byte(`{"entity":"posts"}`), "corr-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("job-1", now, now))

	assert.NoError(t, repo.Create(context.Background(), job))
	assert.Equal(t, "job-1", job.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := sync.NewPostgresRepo(db)
	now := time.Now()

	rows := sqlmock.NewRows(jobColumns).
		AddRow("job-1", "wordpress_sync_posts", "org-1", "site-1", "run-1", "completed",
			[]byte(`{"entity":"posts"}`), []byte(`{"total":3}`), nil, "corr-1", now, now, now)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM queue_jobs WHERE id = $1`)).
		WithArgs("job-1").
		WillReturnRows(rows)

	j, err := repo.Get(context.Background(), "job-1")
	assert.NoError(t, err)
	assert.Equal(t, sync.StatusCompleted, j.Status)
	assert.Equal(t, "org-1", j.Tenant.OrganizationID)
	assert.NotNil(t, j.ProcessedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_ListBySyncID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := sync.NewPostgresRepo(db)
	now := time.Now()

	rows := sqlmock.NewRows(jobColumns).
		AddRow("job-1", "wordpress_sync_terms", "org-1", "site-1", "run-1", "completed",
			[]byte(`{"entity":"terms"}`), []byte(`{"total":5}`), nil, "corr-1", now, now, now).
		AddRow("job-2", "wordpress_sync_posts", "org-1", "site-1", "run-1", "processing",
			[]byte(`{"entity":"posts"}`), nil, nil, "corr-1", now, nil, now)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE sync_id = $1 ORDER BY created_at ASC`)).
		WithArgs("run-1").
		WillReturnRows(rows)

	jobs, err := repo.ListBySyncID(context.Background(), "run-1")
	assert.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.Nil(t, jobs[1].ProcessedAt)
	assert.Empty(t, jobs[1].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_StatusTransitions(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := sync.NewPostgresRepo(db)

	t.Run("MarkProcessing guards on queued", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`SET status = 'processing'`)).
			WithArgs("job-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, repo.MarkProcessing(context.Background(), "job-1"))
	})

	t.Run("MarkCompleted stores result", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`SET status = 'completed'`)).
			WithArgs("job-1", []byte(`{"total":2}`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, repo.MarkCompleted(context.Background(), "job-1", json.RawMessage(`{"total":2}`)))
	})

	t.Run("MarkFailed stores error", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`SET status = 'failed'`)).
			WithArgs("job-1", "upstream 503").
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, repo.MarkFailed(context.Background(), "job-1", "upstream 503"))
	})

	t.Run("terminal jobs reject further transitions", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`SET status = 'processing'`)).
			WithArgs("job-done").
			WillReturnResult(sqlmock.NewResult(0, 0))
		err := repo.MarkProcessing(context.Background(), "job-done")
		assert.ErrorIs(t, err, sync.ErrStaleTransition)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_CountByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := sync.NewPostgresRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY status`)).
		WithArgs("24 hours").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("completed", 7).
			AddRow("failed", 1))

	counts, err := repo.CountByStatus(context.Background(), "24 hours")
	assert.NoError(t, err)
	assert.Equal(t, 7, counts[sync.StatusCompleted])
	assert.Equal(t, 1, counts[sync.StatusFailed])
}
