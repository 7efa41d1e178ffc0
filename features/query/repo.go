package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"presswise/backend/internal/tenant"
)

// Interaction is the persisted record of one answered query, kept for
// usage accounting and the stats endpoints.
type Interaction struct {
	ID               string
	Tenant           tenant.Tenant
	UserID           string
	Question         string
	Provider         string
	Model            string
	FallbackUsed     bool
	ChunksRetrieved  int
	AvgSimilarity    float64
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	CorrelationID    string
	CreatedAt        time.Time
}

// Aggregates summarizes interactions for a tenant over a window.
type Aggregates struct {
	TotalInteractions int     `json:"total_interactions"`
	FallbackCount     int     `json:"fallback_count"`
	AvgSimilarity     float64 `json:"avg_similarity"`
	PromptTokens      int64   `json:"prompt_tokens"`
	CompletionTokens  int64   `json:"completion_tokens"`
	CostUSD           float64 `json:"cost_usd"`
}

type PostgresInteractionRepo struct {
	db *sql.DB
}

func NewPostgresInteractionRepo(db *sql.DB) *PostgresInteractionRepo {
	return &PostgresInteractionRepo{db: db}
}

func (r *PostgresInteractionRepo) Save(ctx context.Context, rec *Interaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ai_interactions (
			id, organization_id, site_id, user_id, question,
			provider, model, fallback_used, chunks_retrieved, avg_similarity,
			prompt_tokens, completion_tokens, cost_usd, correlation_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())`,
		rec.ID, rec.Tenant.OrganizationID, rec.Tenant.SiteID, rec.UserID, rec.Question,
		rec.Provider, rec.Model, rec.FallbackUsed, rec.ChunksRetrieved, rec.AvgSimilarity,
		rec.PromptTokens, rec.CompletionTokens, rec.CostUSD, rec.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

func (r *PostgresInteractionRepo) AggregatesSince(ctx context.Context, tn tenant.Tenant, since time.Time) (*Aggregates, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE fallback_used),
		       COALESCE(AVG(avg_similarity), 0),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(cost_usd), 0)
		FROM ai_interactions
		WHERE organization_id = $1 AND site_id = $2 AND created_at >= $3`,
		tn.OrganizationID, tn.SiteID, since,
	)

	agg := &Aggregates{}
	if err := row.Scan(&agg.TotalInteractions, &agg.FallbackCount, &agg.AvgSimilarity,
		&agg.PromptTokens, &agg.CompletionTokens, &agg.CostUSD); err != nil {
		return nil, fmt.Errorf("aggregate interactions: %w", err)
	}
	return agg, nil
}
