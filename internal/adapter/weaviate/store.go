package weaviate

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"presswise/backend/features/query"
	"presswise/backend/internal/tenant"
	"presswise/backend/internal/vector"
	"presswise/backend/internal/worker"
)

// activeScanLimit bounds how many stale chunks one swap will deactivate.
// A single source never produces anywhere near this many chunks.
const activeScanLimit = 10000

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// ActivateGeneration swaps the active generation for the source the chunks
// belong to: every currently-active chunk of that source is flagged
// inactive, then the new chunks are inserted active. Concurrent swaps for
// the same source resolve last-writer-wins.
func (s *Store) ActivateGeneration(ctx context.Context, chunks []worker.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	head := chunks[0]

	staleIDs, err := s.activeChunkIDs(ctx, head.Tenant, head.SourceType, head.SourceID)
	if err != nil {
		return fmt.Errorf("list active chunks: %w", err)
	}
	for _, id := range staleIDs {
		err := s.client.Data().Updater().
			WithClassName(vector.ClassContentChunk).
			WithID(id).
			WithProperties(map[string]interface{}{"isActive": false}).
			WithMerge().
			Do(ctx)
		if err != nil {
			return fmt.Errorf("deactivate chunk %s: %w", id, err)
		}
	}

	objects := make([]*models.Object, 0, len(chunks))
	for _, c := range chunks {
		objects = append(objects, &models.Object{
			Class: vector.ClassContentChunk,
			Properties: map[string]interface{}{
				"organizationId": c.Tenant.OrganizationID,
				"siteId":         c.Tenant.SiteID,
				"sourceType":     c.SourceType,
				"sourceId":       c.SourceID,
				"chunkIndex":     c.ChunkIndex,
				"content":        c.Content,
				"title":          c.Title,
				"generationId":   c.GenerationID,
				"fingerprint":    c.Fingerprint,
				"isActive":       true,
				"correlationId":  c.CorrelationID,
				"createdAt":      c.CreatedAt.Format(time.RFC3339),
			},
			Vector: c.Vector,
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().
		WithObjects(objects...).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("insert chunk: %s", r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// ActiveFingerprint returns the content fingerprint of the source's active
// generation, or "" when the source has never been indexed.
func (s *Store) ActiveFingerprint(ctx context.Context, tn tenant.Tenant, sourceType, sourceID string) (string, error) {
	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassContentChunk).
		WithWhere(sourceFilter(tn, sourceType, sourceID)).
		WithLimit(1).
		WithFields(graphql.Field{Name: "fingerprint"}).
		Do(ctx)
	if err != nil {
		return "", err
	}
	if len(res.Errors) > 0 {
		return "", fmt.Errorf("graphql error: %v", res.Errors)
	}

	for _, props := range objectsOf(res.Data) {
		if fp, ok := props["fingerprint"].(string); ok {
			return fp, nil
		}
	}
	return "", nil
}

// Search runs a tenant-scoped similarity query over active chunks. Results
// come back similarity-descending; equal scores break toward the earlier
// chunk of the source.
func (s *Store) Search(ctx context.Context, tn tenant.Tenant, vec []float32, contentType string, limit int, threshold float32) ([]query.RetrievedChunk, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vec).
		WithCertainty(threshold)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "title"},
		{Name: "sourceType"},
		{Name: "sourceId"},
		{Name: "chunkIndex"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassContentChunk).
		WithNearVector(nearVector).
		WithWhere(searchFilter(tn, contentType)).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	results := parseSearchResults(res.Data)
	sortResults(results)
	return results, nil
}

func (s *Store) activeChunkIDs(ctx context.Context, tn tenant.Tenant, sourceType, sourceID string) ([]string, error) {
	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassContentChunk).
		WithWhere(sourceFilter(tn, sourceType, sourceID)).
		WithLimit(activeScanLimit).
		WithFields(graphql.Field{
			Name:   "_additional",
			Fields: []graphql.Field{{Name: "id"}},
		}).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var ids []string
	for _, props := range objectsOf(res.Data) {
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// sourceFilter scopes to one source's active generation within a tenant.
func sourceFilter(tn tenant.Tenant, sourceType, sourceID string) *filters.WhereBuilder {
	return filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"organizationId"}).
				WithOperator(filters.Equal).
				WithValueString(tn.OrganizationID),
			filters.Where().
				WithPath([]string{"siteId"}).
				WithOperator(filters.Equal).
				WithValueString(tn.SiteID),
			filters.Where().
				WithPath([]string{"sourceType"}).
				WithOperator(filters.Equal).
				WithValueString(sourceType),
			filters.Where().
				WithPath([]string{"sourceId"}).
				WithOperator(filters.Equal).
				WithValueString(sourceID),
			filters.Where().
				WithPath([]string{"isActive"}).
				WithOperator(filters.Equal).
				WithValueBoolean(true),
		})
}

// searchFilter scopes a similarity query to the tenant's active chunks,
// optionally restricted by content type. The "page" type covers both
// WordPress pages and posts.
func searchFilter(tn tenant.Tenant, contentType string) *filters.WhereBuilder {
	operands := []*filters.WhereBuilder{
		filters.Where().
			WithPath([]string{"organizationId"}).
			WithOperator(filters.Equal).
			WithValueString(tn.OrganizationID),
		filters.Where().
			WithPath([]string{"siteId"}).
			WithOperator(filters.Equal).
			WithValueString(tn.SiteID),
		filters.Where().
			WithPath([]string{"isActive"}).
			WithOperator(filters.Equal).
			WithValueBoolean(true),
	}

	switch contentType {
	case "", "all":
	case "page":
		operands = append(operands, filters.Where().
			WithOperator(filters.Or).
			WithOperands([]*filters.WhereBuilder{
				filters.Where().
					WithPath([]string{"sourceType"}).
					WithOperator(filters.Equal).
					WithValueString(tenant.SourceTypePage),
				filters.Where().
					WithPath([]string{"sourceType"}).
					WithOperator(filters.Equal).
					WithValueString(tenant.SourceTypePost),
			}))
	default:
		operands = append(operands, filters.Where().
			WithPath([]string{"sourceType"}).
			WithOperator(filters.Equal).
			WithValueString(contentType))
	}

	return filters.Where().
		WithOperator(filters.And).
		WithOperands(operands)
}

func objectsOf(data map[string]models.JSONObject) []map[string]interface{} {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := get[vector.ClassContentChunk].([]interface{})
	if !ok {
		return nil
	}
	objects := make([]map[string]interface{}, 0, len(raw))
	for _, o := range raw {
		if props, ok := o.(map[string]interface{}); ok {
			objects = append(objects, props)
		}
	}
	return objects
}

func parseSearchResults(data map[string]models.JSONObject) []query.RetrievedChunk {
	var results []query.RetrievedChunk
	for _, props := range objectsOf(data) {
		chunk := query.RetrievedChunk{}
		if content, ok := props["content"].(string); ok {
			chunk.Content = content
		}
		if title, ok := props["title"].(string); ok {
			chunk.Title = title
		}
		if st, ok := props["sourceType"].(string); ok {
			chunk.SourceType = st
		}
		if id, ok := props["sourceId"].(string); ok {
			chunk.SourceID = id
		}
		if idx, ok := props["chunkIndex"].(float64); ok {
			chunk.ChunkIndex = int(idx)
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			switch certainty := additional["certainty"].(type) {
			case float64:
				chunk.Similarity = float32(certainty)
			case string:
				if f, err := strconv.ParseFloat(certainty, 64); err == nil {
					chunk.Similarity = float32(f)
				}
			}
		}
		results = append(results, chunk)
	}
	return results
}

func sortResults(results []query.RetrievedChunk) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
}
