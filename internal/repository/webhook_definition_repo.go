package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/clinova/hookbridge/internal/models"
)

const webhookDefinitionColumns = `id, slug, name, description, direction, allowed_methods,
	auth_type, token_encrypted, secret_key_encrypted, api_key_header, api_key_encrypted,
	ip_allowlist, rate_limit_per_minute, custom_headers_json, target_url, trigger_events,
	expected_schema_json, data_mapping_json, response_config_json, is_active,
	total_calls, successful_calls, last_triggered, created_at, updated_at`

// SQLiteWebhookDefinitionRepository implements WebhookDefinitionRepository for SQLite/libsql.
type SQLiteWebhookDefinitionRepository struct {
	db *sql.DB
}

// NewSQLiteWebhookDefinitionRepository creates a new SQLite webhook definition repository.
func NewSQLiteWebhookDefinitionRepository(db *sql.DB) *SQLiteWebhookDefinitionRepository {
	return &SQLiteWebhookDefinitionRepository{db: db}
}

// Create inserts a new webhook definition. A UNIQUE violation on the slug
// column is returned as-is for the caller to translate.
func (r *SQLiteWebhookDefinitionRepository) Create(ctx context.Context, def *models.WebhookDefinition) error {
	now := time.Now().UTC()

	if def.ID == "" {
		def.ID = ulid.Make().String()
	}
	def.CreatedAt = now
	def.UpdatedAt = now

	methodsJSON, allowlistJSON, headersJSON, eventsJSON, mappingJSON, responseJSON, err := marshalDefinitionColumns(def)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO webhook_definitions (`+webhookDefinitionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		def.ID, def.Slug, def.Name, def.Description, string(def.Direction), methodsJSON,
		string(def.AuthType), nullable(def.TokenEncrypted), nullable(def.SecretKeyEncrypted),
		nullable(def.APIKeyHeader), nullable(def.APIKeyEncrypted),
		allowlistJSON, def.RateLimitPerMinute, headersJSON, nullable(def.TargetURL), eventsJSON,
		nullable(def.ExpectedSchemaJSON), mappingJSON, responseJSON, def.IsActive,
		def.TotalCalls, def.SuccessfulCalls, nullableTime(def.LastTriggered),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

// GetByID retrieves a definition by ID. Returns (nil, nil) when absent.
func (r *SQLiteWebhookDefinitionRepository) GetByID(ctx context.Context, id string) (*models.WebhookDefinition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+webhookDefinitionColumns+` FROM webhook_definitions WHERE id = ?
	`, id)
	return scanDefinition(row)
}

// GetBySlug retrieves a definition by its slug. Returns (nil, nil) when absent.
func (r *SQLiteWebhookDefinitionRepository) GetBySlug(ctx context.Context, slug string) (*models.WebhookDefinition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+webhookDefinitionColumns+` FROM webhook_definitions WHERE slug = ?
	`, slug)
	return scanDefinition(row)
}

// List retrieves all definitions ordered by name.
func (r *SQLiteWebhookDefinitionRepository) List(ctx context.Context) ([]*models.WebhookDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+webhookDefinitionColumns+` FROM webhook_definitions ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanDefinitions(rows)
}

// ListActive retrieves all active definitions ordered by name.
func (r *SQLiteWebhookDefinitionRepository) ListActive(ctx context.Context) ([]*models.WebhookDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+webhookDefinitionColumns+` FROM webhook_definitions WHERE is_active = 1 ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanDefinitions(rows)
}

// Update persists the full definition state. Telemetry counters are written
// through RecordCall, not here, so concurrent ingest traffic is not lost to
// stale reads in the management path.
func (r *SQLiteWebhookDefinitionRepository) Update(ctx context.Context, def *models.WebhookDefinition) error {
	now := time.Now().UTC()
	def.UpdatedAt = now

	methodsJSON, allowlistJSON, headersJSON, eventsJSON, mappingJSON, responseJSON, err := marshalDefinitionColumns(def)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE webhook_definitions
		SET slug = ?, name = ?, description = ?, direction = ?, allowed_methods = ?,
			auth_type = ?, token_encrypted = ?, secret_key_encrypted = ?,
			api_key_header = ?, api_key_encrypted = ?, ip_allowlist = ?,
			rate_limit_per_minute = ?, custom_headers_json = ?, target_url = ?,
			trigger_events = ?, expected_schema_json = ?, data_mapping_json = ?,
			response_config_json = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`,
		def.Slug, def.Name, def.Description, string(def.Direction), methodsJSON,
		string(def.AuthType), nullable(def.TokenEncrypted), nullable(def.SecretKeyEncrypted),
		nullable(def.APIKeyHeader), nullable(def.APIKeyEncrypted), allowlistJSON,
		def.RateLimitPerMinute, headersJSON, nullable(def.TargetURL), eventsJSON,
		nullable(def.ExpectedSchemaJSON), mappingJSON, responseJSON, def.IsActive,
		now.Format(time.RFC3339), def.ID,
	)
	return err
}

// SetActive toggles a definition without touching the rest of its state.
func (r *SQLiteWebhookDefinitionRepository) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_definitions SET is_active = ?, updated_at = ? WHERE id = ?
	`, active, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("webhook definition %s not found", id)
	}
	return nil
}

// Delete removes a definition. Logs referencing it are retained until the
// retention sweep removes them.
func (r *SQLiteWebhookDefinitionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM webhook_definitions WHERE id = ?`, id)
	return err
}

// SlugExists reports whether any definition other than excludeID uses the
// slug. Pass an empty excludeID for create-time checks.
func (r *SQLiteWebhookDefinitionRepository) SlugExists(ctx context.Context, slug, excludeID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhook_definitions WHERE slug = ? AND id != ?`, slug, excludeID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordCall bumps total_calls, successful_calls and last_triggered in one
// statement so concurrent exchanges do not lose counts.
func (r *SQLiteWebhookDefinitionRepository) RecordCall(ctx context.Context, id string, success bool, at time.Time) error {
	succ := 0
	if success {
		succ = 1
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_definitions
		SET total_calls = total_calls + 1,
			successful_calls = successful_calls + ?,
			last_triggered = ?
		WHERE id = ?
	`, succ, at.UTC().Format(time.RFC3339), id)
	return err
}

// marshalDefinitionColumns serializes the JSON-typed columns of a definition.
func marshalDefinitionColumns(def *models.WebhookDefinition) (methods string, allowlist, headers *string, events *string, mapping, response string, err error) {
	m, err := json.Marshal(def.AllowedMethods)
	if err != nil {
		return "", nil, nil, nil, "", "", err
	}
	methods = string(m)

	if len(def.IPAllowlist) > 0 {
		data, err := json.Marshal(def.IPAllowlist)
		if err != nil {
			return "", nil, nil, nil, "", "", err
		}
		s := string(data)
		allowlist = &s
	}
	if len(def.CustomHeaders) > 0 {
		data, err := json.Marshal(def.CustomHeaders)
		if err != nil {
			return "", nil, nil, nil, "", "", err
		}
		s := string(data)
		headers = &s
	}
	if len(def.TriggerEvents) > 0 {
		data, err := json.Marshal(def.TriggerEvents)
		if err != nil {
			return "", nil, nil, nil, "", "", err
		}
		s := string(data)
		events = &s
	}

	mp, err := json.Marshal(def.DataMapping)
	if err != nil {
		return "", nil, nil, nil, "", "", err
	}
	mapping = string(mp)

	rp, err := json.Marshal(def.ResponseConfig)
	if err != nil {
		return "", nil, nil, nil, "", "", err
	}
	response = string(rp)

	return methods, allowlist, headers, events, mapping, response, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row *sql.Row) (*models.WebhookDefinition, error) {
	def, err := scanDefinitionColumns(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return def, err
}

func scanDefinitions(rows *sql.Rows) ([]*models.WebhookDefinition, error) {
	var defs []*models.WebhookDefinition
	for rows.Next() {
		def, err := scanDefinitionColumns(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func scanDefinitionColumns(row rowScanner) (*models.WebhookDefinition, error) {
	var def models.WebhookDefinition
	var description, tokenEnc, secretEnc, apiKeyHeader, apiKeyEnc sql.NullString
	var allowlistJSON, headersJSON, targetURL, eventsJSON, expectedSchema, lastTriggered sql.NullString
	var methodsJSON, mappingJSON, responseJSON string
	var createdAt, updatedAt string

	err := row.Scan(
		&def.ID,
		&def.Slug,
		&def.Name,
		&description,
		&def.Direction,
		&methodsJSON,
		&def.AuthType,
		&tokenEnc,
		&secretEnc,
		&apiKeyHeader,
		&apiKeyEnc,
		&allowlistJSON,
		&def.RateLimitPerMinute,
		&headersJSON,
		&targetURL,
		&eventsJSON,
		&expectedSchema,
		&mappingJSON,
		&responseJSON,
		&def.IsActive,
		&def.TotalCalls,
		&def.SuccessfulCalls,
		&lastTriggered,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	def.Description = description.String
	def.TokenEncrypted = tokenEnc.String
	def.SecretKeyEncrypted = secretEnc.String
	def.APIKeyHeader = apiKeyHeader.String
	def.APIKeyEncrypted = apiKeyEnc.String
	def.TargetURL = targetURL.String
	def.ExpectedSchemaJSON = expectedSchema.String

	if err := json.Unmarshal([]byte(methodsJSON), &def.AllowedMethods); err != nil {
		return nil, err
	}
	if allowlistJSON.Valid {
		if err := json.Unmarshal([]byte(allowlistJSON.String), &def.IPAllowlist); err != nil {
			return nil, err
		}
	}
	if headersJSON.Valid {
		if err := json.Unmarshal([]byte(headersJSON.String), &def.CustomHeaders); err != nil {
			return nil, err
		}
	}
	if eventsJSON.Valid {
		if err := json.Unmarshal([]byte(eventsJSON.String), &def.TriggerEvents); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal([]byte(mappingJSON), &def.DataMapping); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(responseJSON), &def.ResponseConfig); err != nil {
		return nil, err
	}

	if lastTriggered.Valid {
		if t, err := time.Parse(time.RFC3339, lastTriggered.String); err == nil {
			def.LastTriggered = &t
		}
	}
	def.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	def.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &def, nil
}

// nullable converts an empty string to a SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullableTime converts a nil time to a SQL NULL, otherwise RFC3339 text.
func nullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
