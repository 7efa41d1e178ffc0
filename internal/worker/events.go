package worker

import (
	"presswise/backend/features/sync"
)

// EmbedTaskPayload is the wire format consumed from the embed topic. It
// mirrors the envelope the sync orchestrator publishes.
type EmbedTaskPayload struct {
	JobID          string             `json:"job_id"`
	SyncID         string             `json:"sync_id"`
	Type           sync.JobType       `json:"type"`
	OrganizationID string             `json:"organization_id"`
	SiteID         string             `json:"site_id"`
	Data           sync.EmbeddingData `json:"data"`
	CorrelationID  string             `json:"correlation_id"`
}

// SyncResultPayload is the per-job outcome published by the external sync
// worker on the result topic.
type SyncResultPayload struct {
	JobID          string           `json:"job_id"`
	SyncID         string           `json:"sync_id"`
	OrganizationID string           `json:"organization_id"`
	SiteID         string           `json:"site_id"`
	Status         string           `json:"status"` // "success" or "failed"
	Error          string           `json:"error,omitempty"`
	Counters       sync.Counters    `json:"counters"`
	Changed        []ChangedContent `json:"changed,omitempty"`
	CorrelationID  string           `json:"correlation_id,omitempty"`
}

// ChangedContent is one content unit the sync worker created or updated,
// carried inline so the embedding trigger can fingerprint it.
type ChangedContent struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
}
