package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"presswise/backend/features/query"
	"presswise/backend/features/sync"
	"presswise/backend/internal/middleware"
	"presswise/backend/internal/tenant"
)

const defaultWindow = 24 * time.Hour

type JobCounter interface {
	CountByStatus(ctx context.Context, since string) (map[sync.Status]int, error)
}

type InteractionReader interface {
	AggregatesSince(ctx context.Context, tn tenant.Tenant, since time.Time) (*query.Aggregates, error)
}

type Handler struct {
	jobs         JobCounter
	interactions InteractionReader
}

func NewHandler(jobs JobCounter, interactions InteractionReader) *Handler {
	return &Handler{jobs: jobs, interactions: interactions}
}

type StatsResponse struct {
	Window       string              `json:"window"`
	Jobs         map[sync.Status]int `json:"jobs"`
	Interactions *query.Aggregates   `json:"interactions"`
	FallbackRate float64             `json:"fallback_rate"`
}

// GetStats handles GET /stats. The window query parameter takes a Go
// duration ("24h", "30m"); tenant scoping comes from query parameters.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tn := tenant.Tenant{
		OrganizationID: r.URL.Query().Get("organization_id"),
		SiteID:         r.URL.Query().Get("site_id"),
	}
	if err := tn.Validate(); err != nil {
		h.writeError(ctx, w, "INVALID_TENANT", err.Error(), http.StatusBadRequest)
		return
	}

	window := defaultWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			h.writeError(ctx, w, "VALIDATION_ERROR", "invalid window", http.StatusBadRequest)
			return
		}
		window = parsed
	}

	jobCounts, err := h.jobs.CountByStatus(ctx, fmt.Sprintf("%d seconds", int64(window.Seconds())))
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	aggregates, err := h.interactions.AggregatesSince(ctx, tn, time.Now().Add(-window))
	if err != nil {
		slog.ErrorContext(ctx, "failed to aggregate interactions", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to aggregate interactions", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Window:       window.String(),
		Jobs:         jobCounts,
		Interactions: aggregates,
	}
	if aggregates.TotalInteractions > 0 {
		resp.FallbackRate = float64(aggregates.FallbackCount) / float64(aggregates.TotalInteractions)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":           code,
			"message":        message,
			"correlation_id": middleware.GetCorrelationID(ctx),
		},
	})
}
