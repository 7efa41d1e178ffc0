package finops

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// State is the admission decision for an organization.
type State string

const (
	// StateNormal permits all operations.
	StateNormal State = "NORMAL"
	// StateThrottled sheds background re-indexing; foreground queries proceed.
	StateThrottled State = "THROTTLED"
	// StateBlocked denies every new spend-incurring operation.
	StateBlocked State = "BLOCKED"
)

// UsageReader reports an organization's spend for the current billing
// period. The accounting collaborator owns the data; this side only reads.
type UsageReader interface {
	CurrentSpend(ctx context.Context, organizationID string) (float64, error)
}

// Policy computes the admission state from recent spend against configured
// limits. Callers must evaluate immediately before each chargeable call and
// never cache the result across more than one check-and-spend.
type Policy struct {
	usage     UsageReader
	softLimit float64
	hardLimit float64
}

func NewPolicy(usage UsageReader, softLimit, hardLimit float64) *Policy {
	return &Policy{usage: usage, softLimit: softLimit, hardLimit: hardLimit}
}

// Evaluate returns the admission state for the organization. An unavailable
// accounting source fails closed to THROTTLED, never NORMAL; the underlying
// error is returned alongside for logging.
func (p *Policy) Evaluate(ctx context.Context, organizationID string) (State, error) {
	spend, err := p.usage.CurrentSpend(ctx, organizationID)
	if err != nil {
		slog.WarnContext(ctx, "usage lookup failed, failing closed", "organization_id", organizationID, "error", err)
		return StateThrottled, fmt.Errorf("usage lookup: %w", err)
	}

	switch {
	case spend >= p.hardLimit:
		return StateBlocked, nil
	case spend >= p.softLimit:
		return StateThrottled, nil
	default:
		return StateNormal, nil
	}
}

// PostgresUsageRepo reads spend aggregates from the tenant_usage table
// maintained by the accounting collaborator.
type PostgresUsageRepo struct {
	db *sql.DB
}

func NewPostgresUsageRepo(db *sql.DB) *PostgresUsageRepo {
	return &PostgresUsageRepo{db: db}
}

// CurrentSpend returns the organization's spend for the current period.
// A missing row means no recorded spend yet.
func (r *PostgresUsageRepo) CurrentSpend(ctx context.Context, organizationID string) (float64, error) {
	var spend float64
	query := `SELECT spend_usd FROM tenant_usage WHERE organization_id = $1 AND period = to_char(NOW(), 'YYYY-MM')`
	err := r.db.QueryRowContext(ctx, query, organizationID).Scan(&spend)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return spend, nil
}
