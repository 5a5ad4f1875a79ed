package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/clinova/hookbridge/internal/models"
)

// logTimeFormat is fixed-width so stored timestamps compare correctly as
// text. RFC3339Nano strips trailing zeros and would break the watermark
// range queries.
const logTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const webhookLogColumns = `id, webhook_id, timestamp, method, source_ip, user_agent,
	headers_json, body, status_code, response_body, response_time_ms, was_processed,
	validation_errors_json, processing_errors_json`

// SQLiteWebhookLogRepository implements WebhookLogRepository for SQLite/libsql.
// The log is append-only: rows are created once at exchange completion and
// never updated.
type SQLiteWebhookLogRepository struct {
	db *sql.DB
}

// NewSQLiteWebhookLogRepository creates a new SQLite webhook log repository.
func NewSQLiteWebhookLogRepository(db *sql.DB) *SQLiteWebhookLogRepository {
	return &SQLiteWebhookLogRepository{db: db}
}

// Create appends one exchange record.
func (r *SQLiteWebhookLogRepository) Create(ctx context.Context, log *models.WebhookLog) error {
	if log.ID == "" {
		log.ID = ulid.Make().String()
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}

	var headersJSON, validationJSON, processingJSON *string
	if len(log.Headers) > 0 {
		data, err := json.Marshal(log.Headers)
		if err != nil {
			return err
		}
		s := string(data)
		headersJSON = &s
	}
	if len(log.ValidationErrors) > 0 {
		data, err := json.Marshal(log.ValidationErrors)
		if err != nil {
			return err
		}
		s := string(data)
		validationJSON = &s
	}
	if len(log.ProcessingErrors) > 0 {
		data, err := json.Marshal(log.ProcessingErrors)
		if err != nil {
			return err
		}
		s := string(data)
		processingJSON = &s
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_logs (`+webhookLogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		log.ID, log.WebhookID, log.Timestamp.UTC().Format(logTimeFormat), log.Method,
		nullable(log.SourceIP), nullable(log.UserAgent), headersJSON, nullable(log.Body),
		log.StatusCode, nullable(log.ResponseBody), log.ResponseTimeMs, log.WasProcessed,
		validationJSON, processingJSON,
	)
	return err
}

// GetByID retrieves a single log entry. Returns (nil, nil) when absent.
func (r *SQLiteWebhookLogRepository) GetByID(ctx context.Context, id string) (*models.WebhookLog, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+webhookLogColumns+` FROM webhook_logs WHERE id = ?
	`, id)

	log, err := scanLogColumns(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return log, err
}

// Query returns logs for a webhook filtered by outcome and time range,
// newest first.
func (r *SQLiteWebhookLogRepository) Query(ctx context.Context, webhookID string, filter models.LogFilter, from, to time.Time, limit, offset int) ([]*models.WebhookLog, error) {
	query := `SELECT ` + webhookLogColumns + ` FROM webhook_logs WHERE webhook_id = ?`
	args := []any{webhookID}

	switch filter {
	case models.LogFilterSuccess:
		query += ` AND was_processed = 1`
	case models.LogFilterError:
		query += ` AND was_processed = 0`
	}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from.UTC().Format(logTimeFormat))
	}
	if !to.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, to.UTC().Format(logTimeFormat))
	}

	query += ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanLogs(rows)
}

// ListSince returns logs strictly newer than the watermark, oldest first, so
// the polling consumer can advance its watermark monotonically.
func (r *SQLiteWebhookLogRepository) ListSince(ctx context.Context, webhookID string, since time.Time) ([]*models.WebhookLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+webhookLogColumns+`
		FROM webhook_logs
		WHERE webhook_id = ? AND timestamp > ?
		ORDER BY timestamp ASC
	`, webhookID, since.UTC().Format(logTimeFormat))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanLogs(rows)
}

// ListOlderThan returns logs past the retention window, oldest first,
// without deleting anything.
func (r *SQLiteWebhookLogRepository) ListOlderThan(ctx context.Context, before time.Time) ([]*models.WebhookLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+webhookLogColumns+`
		FROM webhook_logs
		WHERE timestamp < ?
		ORDER BY timestamp ASC
	`, before.UTC().Format(logTimeFormat))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanLogs(rows)
}

// DeleteOlderThan removes logs past the retention window and reports how
// many rows went away.
func (r *SQLiteWebhookLogRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhook_logs WHERE timestamp < ?`, before.UTC().Format(logTimeFormat))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanLogs(rows *sql.Rows) ([]*models.WebhookLog, error) {
	var logs []*models.WebhookLog
	for rows.Next() {
		log, err := scanLogColumns(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func scanLogColumns(row rowScanner) (*models.WebhookLog, error) {
	var log models.WebhookLog
	var sourceIP, userAgent, headersJSON, body, responseBody, validationJSON, processingJSON sql.NullString
	var timestamp string

	err := row.Scan(
		&log.ID,
		&log.WebhookID,
		&timestamp,
		&log.Method,
		&sourceIP,
		&userAgent,
		&headersJSON,
		&body,
		&log.StatusCode,
		&responseBody,
		&log.ResponseTimeMs,
		&log.WasProcessed,
		&validationJSON,
		&processingJSON,
	)
	if err != nil {
		return nil, err
	}

	log.SourceIP = sourceIP.String
	log.UserAgent = userAgent.String
	log.Body = body.String
	log.ResponseBody = responseBody.String

	if headersJSON.Valid {
		if err := json.Unmarshal([]byte(headersJSON.String), &log.Headers); err != nil {
			return nil, err
		}
	}
	if validationJSON.Valid {
		if err := json.Unmarshal([]byte(validationJSON.String), &log.ValidationErrors); err != nil {
			return nil, err
		}
	}
	if processingJSON.Valid {
		if err := json.Unmarshal([]byte(processingJSON.String), &log.ProcessingErrors); err != nil {
			return nil, err
		}
	}

	log.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)

	return &log, nil
}
