package response

import (
	"reflect"
	"testing"

	"github.com/clinova/hookbridge/internal/models"
)

func boolPtr(b bool) *bool { return &b }

// ========================================
// Simple Response Tests
// ========================================

func TestCompose_SimpleSuccess(t *testing.T) {
	got := Compose(models.ResponseConfig{Type: models.ResponseTypeSimple}, Outcome{Success: true})

	if got.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", got.StatusCode)
	}
	want := map[string]any{"success": true}
	if !reflect.DeepEqual(got.Body, want) {
		t.Errorf("Body = %v, want %v", got.Body, want)
	}
}

func TestCompose_CustomSuccessStatus(t *testing.T) {
	cfg := models.ResponseConfig{Type: models.ResponseTypeSimple, SuccessStatusCode: 201}

	got := Compose(cfg, Outcome{Success: true})
	if got.StatusCode != 201 {
		t.Errorf("StatusCode = %d, want 201", got.StatusCode)
	}
}

func TestCompose_UnknownTypeFallsBackToSimple(t *testing.T) {
	got := Compose(models.ResponseConfig{Type: "mystery"}, Outcome{Success: true})

	if got.StatusCode != 200 || got.Body["success"] != true {
		t.Errorf("Compose() = %+v, want simple success", got)
	}
}

// ========================================
// Error Response Tests
// ========================================

func TestCompose_Error(t *testing.T) {
	cfg := models.ResponseConfig{Type: models.ResponseTypeCreatedRecord, ErrorStatusCode: 422}

	got := Compose(cfg, Outcome{Success: false, Error: "failed to store record"})

	if got.StatusCode != 422 {
		t.Errorf("StatusCode = %d, want 422", got.StatusCode)
	}
	if got.Body["success"] != false {
		t.Errorf("Body.success = %v, want false", got.Body["success"])
	}
	if got.Body["error"] != "failed to store record" {
		t.Errorf("Body.error = %v, want %q", got.Body["error"], "failed to store record")
	}
}

func TestCompose_ErrorDefaults(t *testing.T) {
	got := Compose(models.ResponseConfig{}, Outcome{Success: false})

	if got.StatusCode != 400 {
		t.Errorf("StatusCode = %d, want 400", got.StatusCode)
	}
	if got.Body["error"] != "processing failed" {
		t.Errorf("Body.error = %v, want fallback message", got.Body["error"])
	}
}

// ========================================
// Custom JSON Tests
// ========================================

func TestCompose_CustomJSON(t *testing.T) {
	cfg := models.ResponseConfig{
		Type:       models.ResponseTypeCustomJSON,
		CustomJSON: `{"status":"received","queue":"intake"}`,
	}

	got := Compose(cfg, Outcome{Success: true})

	want := map[string]any{"status": "received", "queue": "intake"}
	if !reflect.DeepEqual(got.Body, want) {
		t.Errorf("Body = %v, want %v", got.Body, want)
	}
}

func TestCompose_CustomJSONInvalidTemplateFallsBack(t *testing.T) {
	cfg := models.ResponseConfig{
		Type:       models.ResponseTypeCustomJSON,
		CustomJSON: `{not json`,
	}

	got := Compose(cfg, Outcome{Success: true})

	want := map[string]any{"success": true}
	if !reflect.DeepEqual(got.Body, want) {
		t.Errorf("Body = %v, want minimal fallback %v", got.Body, want)
	}
}

// ========================================
// Created Record Tests
// ========================================

func TestCompose_CreatedRecordIncludeFlags(t *testing.T) {
	record := map[string]any{
		"id":           "rec_1",
		"created_at":   "2025-06-01T12:00:00Z",
		"updated_at":   "2025-06-01T12:00:00Z",
		"patient_name": "Ada",
	}

	tests := []struct {
		name string
		cfg  models.ResponseConfig
		want map[string]any
	}{
		{
			"everything on",
			models.ResponseConfig{
				Type:              models.ResponseTypeCreatedRecord,
				IncludeRecordID:   true,
				IncludeTimestamps: true,
			},
			record,
		},
		{
			"id only",
			models.ResponseConfig{
				Type:            models.ResponseTypeCreatedRecord,
				IncludeRecordID: true,
				IncludeBody:     boolPtr(false),
			},
			map[string]any{"id": "rec_1"},
		},
		{
			"body without id or timestamps",
			models.ResponseConfig{Type: models.ResponseTypeCreatedRecord},
			map[string]any{"patient_name": "Ada"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compose(tt.cfg, Outcome{Success: true, Record: record})
			if !reflect.DeepEqual(got.Body, tt.want) {
				t.Errorf("Body = %v, want %v", got.Body, tt.want)
			}
		})
	}
}
