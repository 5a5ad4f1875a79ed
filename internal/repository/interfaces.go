// Package repository defines repository interfaces for data access.
package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/clinova/hookbridge/internal/models"
)

// WebhookDefinitionRepository defines methods for webhook definition data access.
type WebhookDefinitionRepository interface {
	Create(ctx context.Context, def *models.WebhookDefinition) error
	GetByID(ctx context.Context, id string) (*models.WebhookDefinition, error)
	GetBySlug(ctx context.Context, slug string) (*models.WebhookDefinition, error)
	List(ctx context.Context) ([]*models.WebhookDefinition, error)
	ListActive(ctx context.Context) ([]*models.WebhookDefinition, error)
	Update(ctx context.Context, def *models.WebhookDefinition) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
	// SlugExists is the advisory pre-check behind slug validation. The
	// UNIQUE constraint on the slug column is the correctness guarantee.
	SlugExists(ctx context.Context, slug, excludeID string) (bool, error)
	// RecordCall bumps the telemetry counters after an inbound exchange.
	RecordCall(ctx context.Context, id string, success bool, at time.Time) error
}

// WebhookLogRepository defines methods for the append-only exchange log.
type WebhookLogRepository interface {
	Create(ctx context.Context, log *models.WebhookLog) error
	GetByID(ctx context.Context, id string) (*models.WebhookLog, error)
	// Query returns logs for a webhook filtered by outcome and time range,
	// newest first. Zero time values disable the corresponding bound.
	Query(ctx context.Context, webhookID string, filter models.LogFilter, from, to time.Time, limit, offset int) ([]*models.WebhookLog, error)
	// ListSince returns logs for a webhook strictly newer than the
	// watermark, oldest first. This is the listen-mode polling query.
	ListSince(ctx context.Context, webhookID string, since time.Time) ([]*models.WebhookLog, error)
	// ListOlderThan returns logs past the retention window without
	// touching them, so the caller can archive before deleting.
	ListOlderThan(ctx context.Context, before time.Time) ([]*models.WebhookLog, error)
	// DeleteOlderThan removes logs past the retention window and returns
	// how many rows were removed.
	DeleteOlderThan(ctx context.Context, before time.Time) (int, error)
}

// SchemaCatalogRepository defines methods for target table schema access.
type SchemaCatalogRepository interface {
	GetByName(ctx context.Context, name string) (*models.TableSchema, error)
	List(ctx context.Context) ([]*models.TableSchema, error)
	Upsert(ctx context.Context, schema *models.TableSchema) error
}

// RecordRepository is the generic record-access API webhook mappings write
// through. Tables must exist in the schema catalog; column names are
// validated against the catalog entry before any SQL is built.
type RecordRepository interface {
	// Insert writes a record into the named table and returns the stored
	// row including generated columns (id, timestamps).
	Insert(ctx context.Context, schema *models.TableSchema, record map[string]any) (map[string]any, error)
}

// IsUniqueViolation reports whether err is a UNIQUE constraint failure.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Repositories holds all repository instances.
type Repositories struct {
	WebhookDefinition WebhookDefinitionRepository
	WebhookLog        WebhookLogRepository
	SchemaCatalog     SchemaCatalogRepository
	Record            RecordRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		WebhookDefinition: NewSQLiteWebhookDefinitionRepository(db),
		WebhookLog:        NewSQLiteWebhookLogRepository(db),
		SchemaCatalog:     NewSQLiteSchemaCatalogRepository(db),
		Record:            NewSQLiteRecordRepository(db),
	}
}
