package vector

import (
	"context"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// ClassContentChunk is the Weaviate class holding every embedded fragment.
const ClassContentChunk = "ContentChunk"

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// NewWeaviateClientAdapter narrows the SDK client to the schema calls
// EnsureSchema makes.
func NewWeaviateClientAdapter(client *weaviate.Client) SchemaClient {
	return schemaAdapter{client: client}
}

type schemaAdapter struct {
	client *weaviate.Client
}

func (a schemaAdapter) ClassExists(ctx context.Context, className string) (bool, error) {
	return a.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (a schemaAdapter) CreateClass(ctx context.Context, class *models.Class) error {
	return a.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (a schemaAdapter) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return a.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (a schemaAdapter) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return a.client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx)
}

// EnsureSchema checks if the ContentChunk class exists and creates or
// patches it. Vectorizer is "none": vectors are computed by the embedding
// provider, never by Weaviate modules.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassContentChunk)
	if err != nil {
		return err
	}

	properties := []*models.Property{
		{
			Name:     "organizationId",
			DataType: []string{"string"}, // exact match, tenant scope
		},
		{
			Name:     "siteId",
			DataType: []string{"string"},
		},
		{
			Name:     "sourceType",
			DataType: []string{"string"}, // wp_post | wp_page | ai_content | template
		},
		{
			Name:     "sourceId",
			DataType: []string{"string"},
		},
		{
			Name:     "chunkIndex",
			DataType: []string{"int"},
		},
		{
			Name:     "content",
			DataType: []string{"text"},
		},
		{
			Name:     "title",
			DataType: []string{"text"},
		},
		{
			Name:     "generationId",
			DataType: []string{"string"},
		},
		{
			Name:     "fingerprint",
			DataType: []string{"string"},
		},
		{
			Name:     "isActive",
			DataType: []string{"boolean"},
		},
		{
			Name:     "correlationId",
			DataType: []string{"string"},
		},
		{
			Name:     "createdAt",
			DataType: []string{"date"},
		},
	}

	if !exists {
		class := &models.Class{
			Class:       ClassContentChunk,
			Description: "An embedded fragment of tenant content",
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	// Class exists, check for missing properties
	class, err := client.GetClass(ctx, ClassContentChunk)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, ClassContentChunk, p); err != nil {
				return err
			}
		}
	}

	return nil
}
