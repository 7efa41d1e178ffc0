package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"presswise/backend/internal/tenant"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type JobType string

const (
	TypeSyncTerms JobType = "wordpress_sync_terms"
	TypeSyncMedia JobType = "wordpress_sync_media"
	TypeSyncPages JobType = "wordpress_sync_pages"
	TypeSyncPosts JobType = "wordpress_sync_posts"
	TypeEmbedding JobType = "embedding_content"
)

// EntityTypes lists the CMS entity batches a full sync run covers, in the
// order jobs are created.
var EntityTypes = []JobType{TypeSyncTerms, TypeSyncMedia, TypeSyncPages, TypeSyncPosts}

// Job is one asynchronous unit of work in a synchronization run. Status
// transitions are monotonic: queued -> processing -> completed|failed.
type Job struct {
	ID            string          `json:"id"`
	Type          JobType         `json:"type"`
	Tenant        tenant.Tenant   `json:"tenant"`
	SyncID        string          `json:"sync_id"`
	Status        Status          `json:"status"`
	Data          json.RawMessage `json:"data"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CMSSyncData is the payload of the wordpress_sync_* job variants.
type CMSSyncData struct {
	Entity string `json:"entity"`
}

// EmbeddingData is the payload of the embedding_content variant.
type EmbeddingData struct {
	SourceType  string `json:"source_type"`
	SourceID    string `json:"source_id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Fingerprint string `json:"fingerprint"`
	FirstIndex  bool   `json:"first_index"`
}

// DecodeData decodes the opaque payload into the shape of the job's type.
// Payloads are a tagged union keyed by Type, decoded at the boundary.
func (j *Job) DecodeData() (interface{}, error) {
	switch j.Type {
	case TypeSyncTerms, TypeSyncMedia, TypeSyncPages, TypeSyncPosts:
		var d CMSSyncData
		if err := json.Unmarshal(j.Data, &d); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", j.Type, err)
		}
		return d, nil
	case TypeEmbedding:
		var d EmbeddingData
		if err := json.Unmarshal(j.Data, &d); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", j.Type, err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown job type %q", j.Type)
	}
}

// Counters is the result payload each worker reports when a job completes.
type Counters struct {
	Total             int `json:"total"`
	Created           int `json:"created"`
	Updated           int `json:"updated"`
	Skipped           int `json:"skipped"`
	Failed            int `json:"failed"`
	EmbeddingsQueued  int `json:"embeddings_queued"`
	EmbeddingsSkipped int `json:"embeddings_skipped"`
}

func (c Counters) Marshal() json.RawMessage {
	b, _ := json.Marshal(c)
	return b
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
