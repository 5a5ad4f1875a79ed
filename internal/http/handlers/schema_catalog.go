package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/clinova/hookbridge/internal/mapping"
	"github.com/clinova/hookbridge/internal/models"
	"github.com/clinova/hookbridge/internal/repository"
)

// SchemaCatalogHandler serves the catalog of mappable tables.
type SchemaCatalogHandler struct {
	catalogRepo repository.SchemaCatalogRepository
}

// NewSchemaCatalogHandler creates a new schema catalog handler.
func NewSchemaCatalogHandler(catalogRepo repository.SchemaCatalogRepository) *SchemaCatalogHandler {
	return &SchemaCatalogHandler{catalogRepo: catalogRepo}
}

// ListSchemasOutput represents the list schemas response.
type ListSchemasOutput struct {
	Body struct {
		Schemas []*models.TableSchema `json:"schemas" doc:"All mappable tables"`
	}
}

// ListSchemas returns every table webhook mappings may target.
func (h *SchemaCatalogHandler) ListSchemas(ctx context.Context, input *struct{}) (*ListSchemasOutput, error) {
	schemas, err := h.catalogRepo.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list schemas: " + err.Error())
	}
	out := &ListSchemasOutput{}
	out.Body.Schemas = schemas
	return out, nil
}

// GetSchemaInput represents the get schema request.
type GetSchemaInput struct {
	Name string `path:"name" doc:"Table name"`
}

// GetSchemaOutput represents the get schema response.
type GetSchemaOutput struct {
	Body models.TableSchema
}

// GetSchema returns one catalog entry by table name.
func (h *SchemaCatalogHandler) GetSchema(ctx context.Context, input *GetSchemaInput) (*GetSchemaOutput, error) {
	schema, err := h.catalogRepo.GetByName(ctx, input.Name)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get schema: " + err.Error())
	}
	if schema == nil {
		return nil, huma.Error404NotFound("schema not found")
	}
	return &GetSchemaOutput{Body: *schema}, nil
}

// AutoMapInput represents the mapping suggestion request.
type AutoMapInput struct {
	Name string `path:"name" doc:"Table name"`
	Body struct {
		Payload map[string]any `json:"payload" doc:"Sample payload to derive mappings from"`
	}
}

// AutoMapOutput represents the mapping suggestion response.
type AutoMapOutput struct {
	Body struct {
		TargetTable   string                         `json:"target_table"`
		FieldMappings map[string]models.FieldMapping `json:"field_mappings" doc:"Suggested source-to-column rules"`
	}
}

// AutoMap suggests field mappings by matching payload keys to the table's
// writable columns.
func (h *SchemaCatalogHandler) AutoMap(ctx context.Context, input *AutoMapInput) (*AutoMapOutput, error) {
	schema, err := h.catalogRepo.GetByName(ctx, input.Name)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get schema: " + err.Error())
	}
	if schema == nil {
		return nil, huma.Error404NotFound("schema not found")
	}

	out := &AutoMapOutput{}
	out.Body.TargetTable = schema.Name
	out.Body.FieldMappings = mapping.AutoMap(schema, input.Body.Payload)
	return out, nil
}
