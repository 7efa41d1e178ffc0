package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

var ErrStaleTransition = errors.New("job status transition not allowed")

type Repository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	ListBySyncID(ctx context.Context, syncID string) ([]Job, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, result json.RawMessage) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	CountByStatus(ctx context.Context, since string) (map[Status]int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, job *Job) error {
	query := `INSERT INTO queue_jobs (type, organization_id, site_id, sync_id, status, data, correlation_id)
		VALUES ($1, $2, $3, $4, 'queued', $5, $6) RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		job.Type, job.Tenant.OrganizationID, job.Tenant.SiteID, job.SyncID, []byte(job.Data), job.CorrelationID).
		Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT id, type, organization_id, site_id, sync_id, status, data, result, error, correlation_id, created_at, processed_at, updated_at
		FROM queue_jobs WHERE id = $1`
	return r.scanJob(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) ListBySyncID(ctx context.Context, syncID string) ([]Job, error) {
	query := `SELECT id, type, organization_id, site_id, sync_id, status, data, result, error, correlation_id, created_at, processed_at, updated_at
		FROM queue_jobs WHERE sync_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, syncID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// MarkProcessing moves a queued job to processing. The status guard in the
// WHERE clause keeps transitions monotonic even with racing workers.
func (r *PostgresRepo) MarkProcessing(ctx context.Context, id string) error {
	query := `UPDATE queue_jobs SET status = 'processing', updated_at = NOW() WHERE id = $1 AND status = 'queued'`
	return r.exec(ctx, query, id)
}

func (r *PostgresRepo) MarkCompleted(ctx context.Context, id string, result json.RawMessage) error {
	query := `UPDATE queue_jobs SET status = 'completed', result = $2, processed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('queued', 'processing')`
	return r.exec(ctx, query, id, []byte(result))
}

func (r *PostgresRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	query := `UPDATE queue_jobs SET status = 'failed', error = $2, processed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('queued', 'processing')`
	return r.exec(ctx, query, id, errMsg)
}

func (r *PostgresRepo) CountByStatus(ctx context.Context, since string) (map[Status]int, error) {
	query := `SELECT status, COUNT(*) FROM queue_jobs WHERE created_at > NOW() - $1::interval GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

func (r *PostgresRepo) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleTransition
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *PostgresRepo) scanJob(row rowScanner) (*Job, error) {
	j := &Job{}
	var data, result []byte
	var errMsg sql.NullString
	var processedAt sql.NullTime
	err := row.Scan(&j.ID, &j.Type, &j.Tenant.OrganizationID, &j.Tenant.SiteID, &j.SyncID, &j.Status,
		&data, &result, &errMsg, &j.CorrelationID, &j.CreatedAt, &processedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Data = json.RawMessage(data)
	if result != nil {
		j.Result = json.RawMessage(result)
	}
	if errMsg.Valid {
		j.Error = errMsg.String
	}
	if processedAt.Valid {
		t := processedAt.Time
		j.ProcessedAt = &t
	}
	return j, nil
}
