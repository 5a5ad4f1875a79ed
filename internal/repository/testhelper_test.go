package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/clinova/hookbridge/internal/database/migrations"
	"github.com/clinova/hookbridge/internal/models"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Create in-memory database
	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	// Run migrations
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	// Clean up when test completes
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}

// testDefinition builds a minimal valid webhook definition for tests.
func testDefinition(slug string) *models.WebhookDefinition {
	return &models.WebhookDefinition{
		Slug:           slug,
		Name:           "Test " + slug,
		Direction:      models.DirectionIncoming,
		AllowedMethods: []string{"POST"},
		AuthType:       models.AuthTypeNone,
		DataMapping: models.DataMapping{
			TargetTable: "appointments",
			FieldMappings: map[string]models.FieldMapping{
				"patient_name": {Source: "name", Type: models.FieldTypeString, Required: true},
			},
		},
		ResponseConfig: models.ResponseConfig{Type: models.ResponseTypeSimple},
		IsActive:       true,
	}
}

// insertTestLog inserts a webhook log with a fixed timestamp.
func insertTestLog(t *testing.T, repos *Repositories, webhookID string, at time.Time, processed bool) *models.WebhookLog {
	t.Helper()
	log := &models.WebhookLog{
		WebhookID:    webhookID,
		Timestamp:    at,
		Method:       "POST",
		SourceIP:     "203.0.113.7",
		StatusCode:   200,
		WasProcessed: processed,
	}
	if err := repos.WebhookLog.Create(context.Background(), log); err != nil {
		t.Fatalf("failed to insert test log: %v", err)
	}
	return log
}
