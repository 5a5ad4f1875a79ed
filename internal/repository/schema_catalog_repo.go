package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/clinova/hookbridge/internal/models"
)

// SQLiteSchemaCatalogRepository implements SchemaCatalogRepository for SQLite/libsql.
type SQLiteSchemaCatalogRepository struct {
	db *sql.DB
}

// NewSQLiteSchemaCatalogRepository creates a new SQLite schema catalog repository.
func NewSQLiteSchemaCatalogRepository(db *sql.DB) *SQLiteSchemaCatalogRepository {
	return &SQLiteSchemaCatalogRepository{db: db}
}

// GetByName retrieves a table schema by table name. Returns (nil, nil) when
// the table is not in the catalog.
func (r *SQLiteSchemaCatalogRepository) GetByName(ctx context.Context, name string) (*models.TableSchema, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, fields_json, created_at, updated_at
		FROM schema_catalog
		WHERE name = ?
	`, name)

	return scanTableSchema(row)
}

// List returns all catalog entries ordered by name.
func (r *SQLiteSchemaCatalogRepository) List(ctx context.Context) ([]*models.TableSchema, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, display_name, fields_json, created_at, updated_at
		FROM schema_catalog
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var schemas []*models.TableSchema
	for rows.Next() {
		schema, err := scanTableSchemaColumns(rows)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	return schemas, rows.Err()
}

// Upsert inserts or replaces a catalog entry by table name.
func (r *SQLiteSchemaCatalogRepository) Upsert(ctx context.Context, schema *models.TableSchema) error {
	now := time.Now().UTC()
	if schema.ID == "" {
		schema.ID = ulid.Make().String()
	}

	fieldsJSON, err := json.Marshal(schema.Fields)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO schema_catalog (id, name, display_name, fields_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			display_name = excluded.display_name,
			fields_json = excluded.fields_json,
			updated_at = excluded.updated_at
	`, schema.ID, schema.Name, nullable(schema.DisplayName), string(fieldsJSON),
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	return err
}

func scanTableSchema(row *sql.Row) (*models.TableSchema, error) {
	schema, err := scanTableSchemaColumns(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return schema, err
}

func scanTableSchemaColumns(row rowScanner) (*models.TableSchema, error) {
	var schema models.TableSchema
	var displayName sql.NullString
	var fieldsJSON string
	var createdAt, updatedAt string

	err := row.Scan(
		&schema.ID,
		&schema.Name,
		&displayName,
		&fieldsJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	schema.DisplayName = displayName.String
	if err := json.Unmarshal([]byte(fieldsJSON), &schema.Fields); err != nil {
		return nil, err
	}

	schema.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	schema.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &schema, nil
}
