package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/clinova/hookbridge/internal/models"
)

// SQLiteRecordRepository implements RecordRepository for SQLite/libsql.
// It is the only place dynamic SQL is built; every identifier comes from the
// schema catalog entry, never from caller input.
type SQLiteRecordRepository struct {
	db *sql.DB
}

// NewSQLiteRecordRepository creates a new SQLite record repository.
func NewSQLiteRecordRepository(db *sql.DB) *SQLiteRecordRepository {
	return &SQLiteRecordRepository{db: db}
}

// Insert writes a mapped record into the schema's table, filling the
// generated columns, and returns the stored row.
func (r *SQLiteRecordRepository) Insert(ctx context.Context, schema *models.TableSchema, record map[string]any) (map[string]any, error) {
	now := time.Now().UTC()

	stored := make(map[string]any, len(record)+3)
	for k, v := range record {
		if schema.Field(k) == nil {
			return nil, fmt.Errorf("table %s has no column %s", schema.Name, k)
		}
		stored[k] = v
	}

	if schema.Field("id") != nil {
		stored["id"] = ulid.Make().String()
	}
	if schema.Field("created_at") != nil {
		stored["created_at"] = now.Format(time.RFC3339)
	}
	if schema.Field("updated_at") != nil {
		stored["updated_at"] = now.Format(time.RFC3339)
	}

	// Deterministic column order keeps the generated SQL stable.
	columns := make([]string, 0, len(stored))
	for k := range stored {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		placeholders[i] = "?"
		args[i] = toSQLValue(stored[col])
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		schema.Name,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", schema.Name, err)
	}

	return stored, nil
}

// toSQLValue converts mapped values into driver-friendly types. Times are
// stored as RFC3339 text to match the rest of the schema.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case bool:
		if val {
			return 1
		}
		return 0
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		return string(data)
	default:
		return v
	}
}

var _ RecordRepository = (*SQLiteRecordRepository)(nil)
