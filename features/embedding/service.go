package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"presswise/backend/features/sync"
	"presswise/backend/internal/finops"
	"presswise/backend/internal/middleware"
	"presswise/backend/internal/tenant"
	"presswise/backend/internal/text"
)

var ErrInvalidSourceType = errors.New("invalid source type")

// Skip reasons surfaced in trigger results and sync counters.
const (
	SkipEmptyContent    = "empty_content"
	SkipUnchanged       = "unchanged"
	SkipFinOpsBlocked   = "finops_blocked"
	SkipFinOpsThrottled = "finops_throttled"
)

type CostPolicy interface {
	Evaluate(ctx context.Context, organizationID string) (finops.State, error)
}

type FingerprintReader interface {
	ActiveFingerprint(ctx context.Context, tn tenant.Tenant, sourceType, sourceID string) (string, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, tn tenant.Tenant, jt sync.JobType, data interface{}, syncID, correlationID string) (string, error)
}

// TriggerRequest is one content unit whose index may need refreshing.
type TriggerRequest struct {
	Tenant     tenant.Tenant
	SourceType string
	SourceID   string
	Title      string
	Content    string
	SyncID     string
}

// Result reports what the trigger decided. Enqueued and Skipped are
// mutually exclusive; SkipReason is set only when Skipped.
type Result struct {
	Enqueued   bool   `json:"enqueued"`
	Skipped    bool   `json:"skipped"`
	SkipReason string `json:"skip_reason,omitempty"`
	JobID      string `json:"job_id,omitempty"`
}

type Service struct {
	policy CostPolicy
	store  FingerprintReader
	jobs   Enqueuer
}

func NewService(policy CostPolicy, store FingerprintReader, jobs Enqueuer) *Service {
	return &Service{policy: policy, store: store, jobs: jobs}
}

// Trigger decides whether a content change warrants re-embedding and, if
// so, enqueues an embedding job. Fire-and-forget: callers never wait for
// embedding completion.
func (s *Service) Trigger(ctx context.Context, req TriggerRequest) (*Result, error) {
	if err := req.Tenant.Validate(); err != nil {
		return nil, err
	}
	if !tenant.ValidSourceType(req.SourceType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSourceType, req.SourceType)
	}
	if req.SourceID == "" {
		return nil, errors.New("source id must not be empty")
	}

	normalized := text.Normalize(req.Content)
	if normalized == "" {
		// The previous generation, if any, stays active untouched.
		return &Result{Skipped: true, SkipReason: SkipEmptyContent}, nil
	}

	activeFingerprint, err := s.store.ActiveFingerprint(ctx, req.Tenant, req.SourceType, req.SourceID)
	if err != nil {
		return nil, fmt.Errorf("read active fingerprint: %w", err)
	}
	firstIndex := activeFingerprint == ""

	state, perr := s.policy.Evaluate(ctx, req.Tenant.OrganizationID)
	if perr != nil {
		slog.WarnContext(ctx, "cost policy degraded", "state", state, "error", perr)
	}
	switch {
	case state == finops.StateBlocked:
		return &Result{Skipped: true, SkipReason: SkipFinOpsBlocked}, nil
	case state == finops.StateThrottled && !firstIndex:
		// First-time indexing still runs under throttling; only the
		// background re-index is shed.
		return &Result{Skipped: true, SkipReason: SkipFinOpsThrottled}, nil
	}

	fingerprint := text.Fingerprint(req.Title, req.Content)
	if fingerprint == activeFingerprint {
		return &Result{Skipped: true, SkipReason: SkipUnchanged}, nil
	}

	jobID, err := s.jobs.Enqueue(ctx, req.Tenant, sync.TypeEmbedding, sync.EmbeddingData{
		SourceType:  req.SourceType,
		SourceID:    req.SourceID,
		Title:       req.Title,
		Content:     req.Content,
		Fingerprint: fingerprint,
		FirstIndex:  firstIndex,
	}, req.SyncID, middleware.GetCorrelationID(ctx))
	if err != nil {
		return nil, fmt.Errorf("enqueue embedding job: %w", err)
	}

	slog.InfoContext(ctx, "embedding job enqueued",
		"job_id", jobID,
		"source_type", req.SourceType,
		"source_id", req.SourceID,
		"first_index", firstIndex,
	)
	return &Result{Enqueued: true, JobID: jobID}, nil
}
