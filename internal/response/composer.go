// Package response builds the HTTP replies returned to webhook callers.
package response

import (
	"encoding/json"

	"github.com/clinova/hookbridge/internal/models"
)

// Outcome is what the ingest pipeline hands the composer: whether the
// exchange succeeded, the persisted record when it did, and a sanitized
// error descriptor when it did not. Secrets and field-level diagnostics
// never enter an Outcome, so they cannot leak into a reply.
type Outcome struct {
	Success bool
	Record  map[string]any
	Error   string
}

// Composed is a ready-to-serialize reply.
type Composed struct {
	StatusCode int
	Body       map[string]any
}

// Compose builds the reply for one exchange according to the webhook's
// response configuration.
func Compose(cfg models.ResponseConfig, outcome Outcome) Composed {
	if !outcome.Success {
		return Composed{
			StatusCode: statusOr(cfg.ErrorStatusCode, 400),
			Body:       errorBody(outcome.Error),
		}
	}

	switch cfg.Type {
	case models.ResponseTypeCustomJSON:
		var body map[string]any
		if err := json.Unmarshal([]byte(cfg.CustomJSON), &body); err != nil || body == nil {
			// Registry validation rejects non-object templates; this guards
			// rows written before that check existed. Reply minimally rather
			// than fail an otherwise successful exchange.
			body = map[string]any{"success": true}
		}
		return Composed{
			StatusCode: statusOr(cfg.SuccessStatusCode, 200),
			Body:       body,
		}

	case models.ResponseTypeCreatedRecord:
		return Composed{
			StatusCode: statusOr(cfg.SuccessStatusCode, 200),
			Body:       recordBody(cfg, outcome.Record),
		}

	default: // simple
		return Composed{
			StatusCode: statusOr(cfg.SuccessStatusCode, 200),
			Body:       map[string]any{"success": true},
		}
	}
}

// recordBody filters the persisted record by the include flags.
func recordBody(cfg models.ResponseConfig, record map[string]any) map[string]any {
	includeBody := cfg.IncludeBody == nil || *cfg.IncludeBody
	body := make(map[string]any)
	for key, value := range record {
		switch key {
		case "id":
			if cfg.IncludeRecordID {
				body[key] = value
			}
		case "created_at", "updated_at":
			if cfg.IncludeTimestamps {
				body[key] = value
			}
		default:
			if includeBody {
				body[key] = value
			}
		}
	}
	return body
}

func errorBody(message string) map[string]any {
	if message == "" {
		message = "processing failed"
	}
	return map[string]any{
		"success": false,
		"error":   message,
	}
}

func statusOr(code, fallback int) int {
	if code == 0 {
		return fallback
	}
	return code
}
