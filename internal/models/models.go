// Package models defines the domain models for the webhook gateway.
// Clinic CRUD entities (appointments, persons, devices) are external
// collaborators reached through the generic record repository; only their
// table schemas are modeled here, via the schema catalog.
package models

import (
	"time"
)

// Direction describes which way a webhook moves data.
type Direction string

const (
	DirectionIncoming      Direction = "incoming"
	DirectionOutgoing      Direction = "outgoing"
	DirectionBidirectional Direction = "bidirectional"
)

// AuthType describes how an inbound call authenticates.
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeHMAC   AuthType = "hmac"
	AuthTypeAPIKey AuthType = "api_key"
)

// FieldType is the closed set of coercion kinds a field mapping may use.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeInteger  FieldType = "integer"
	FieldTypeFloat    FieldType = "float"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeDateTime FieldType = "datetime"
	FieldTypeJSON     FieldType = "json"
)

// ValidFieldType reports whether t is one of the supported coercion kinds.
func ValidFieldType(t FieldType) bool {
	switch t {
	case FieldTypeString, FieldTypeInteger, FieldTypeFloat, FieldTypeBoolean, FieldTypeDateTime, FieldTypeJSON:
		return true
	}
	return false
}

// ResponseType selects how the gateway replies to a webhook caller.
type ResponseType string

const (
	ResponseTypeSimple        ResponseType = "simple"
	ResponseTypeCustomJSON    ResponseType = "custom_json"
	ResponseTypeCreatedRecord ResponseType = "created_record"
)

// Header represents a custom HTTP header attached to webhook traffic.
// Headers are kept as an ordered slice, not a map, so the order an operator
// configured survives round-trips through the API and outbound dispatch.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FieldMapping is one source→target rule inside a DataMapping.
// Default is an optional literal applied when the source path is absent.
// Condition is an optional boolean expression evaluated against the
// normalized payload; when it evaluates false the rule is skipped entirely.
type FieldMapping struct {
	Source    string    `json:"source"`
	Type      FieldType `json:"type"`
	Required  bool      `json:"required"`
	Default   any       `json:"default,omitempty"`
	Condition string    `json:"condition,omitempty"`
}

// DataMapping configures how a normalized payload becomes a typed record.
type DataMapping struct {
	TargetTable   string                  `json:"target_table"`
	FieldMappings map[string]FieldMapping `json:"field_mappings"` // keyed by target field name
}

// ResponseConfig configures the reply sent back to a webhook caller.
type ResponseConfig struct {
	Type              ResponseType `json:"type"`
	SuccessStatusCode int          `json:"success_status_code,omitempty"`
	ErrorStatusCode   int          `json:"error_status_code,omitempty"`
	CustomJSON        string       `json:"custom_json,omitempty"`
	IncludeRecordID   bool         `json:"include_record_id"`
	IncludeTimestamps bool         `json:"include_timestamps"`
	IncludeBody       *bool        `json:"include_body,omitempty"` // nil = include non-generated columns
}

// WebhookDefinition is the configuration object for one webhook endpoint.
// Secrets (bearer token, HMAC key, API key) are stored encrypted and never
// serialized into API responses.
type WebhookDefinition struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Direction   Direction `json:"direction"`

	AllowedMethods []string `json:"allowed_methods"`

	AuthType           AuthType `json:"auth_type"`
	TokenEncrypted     string   `json:"-"` // bearer secret
	SecretKeyEncrypted string   `json:"-"` // HMAC shared secret
	APIKeyHeader       string   `json:"api_key_header,omitempty"`
	APIKeyEncrypted    string   `json:"-"`
	IPAllowlist        []string `json:"ip_allowlist,omitempty"` // literal IPs or CIDRs, empty = allow all
	RateLimitPerMinute int      `json:"rate_limit_per_minute"`

	CustomHeaders []Header `json:"custom_headers,omitempty"`

	// Outgoing direction only.
	TargetURL     string   `json:"target_url,omitempty"`
	TriggerEvents []string `json:"trigger_events,omitempty"`

	// Advisory JSON schema describing the payload senders are expected to
	// deliver. Documentation only, never enforced.
	ExpectedSchemaJSON string `json:"expected_schema_json,omitempty"`

	DataMapping    DataMapping    `json:"data_mapping"`
	ResponseConfig ResponseConfig `json:"response_config"`

	IsActive bool `json:"is_active"`

	// Telemetry, derived from ingest traffic. Not authoritative.
	TotalCalls      int        `json:"total_calls"`
	SuccessfulCalls int        `json:"successful_calls"`
	LastTriggered   *time.Time `json:"last_triggered,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsGETOnly reports whether the definition accepts GET and nothing else.
// GET-only webhooks are parameter-only status receivers with no body.
func (w *WebhookDefinition) IsGETOnly() bool {
	return len(w.AllowedMethods) == 1 && w.AllowedMethods[0] == "GET"
}

// AllowsMethod reports whether method is in the allowed set.
func (w *WebhookDefinition) AllowsMethod(method string) bool {
	for _, m := range w.AllowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

// WebhookLog records one inbound or outbound exchange. Created exactly once
// per exchange, at completion, and never mutated afterward.
type WebhookLog struct {
	ID               string            `json:"id"`
	WebhookID        string            `json:"webhook_id"`
	Timestamp        time.Time         `json:"timestamp"`
	Method           string            `json:"method"`
	SourceIP         string            `json:"source_ip,omitempty"`
	UserAgent        string            `json:"user_agent,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	Body             string            `json:"body,omitempty"` // raw, pre-normalization
	StatusCode       int               `json:"status_code"`
	ResponseBody     string            `json:"response_body,omitempty"`
	ResponseTimeMs   int               `json:"response_time_ms"`
	WasProcessed     bool              `json:"was_processed"`
	ValidationErrors []string          `json:"validation_errors,omitempty"`
	ProcessingErrors []string          `json:"processing_errors,omitempty"`
}

// LogFilter narrows a webhook log query by outcome.
type LogFilter string

const (
	LogFilterAll     LogFilter = "all"
	LogFilterSuccess LogFilter = "success"
	LogFilterError   LogFilter = "error"
)

// SlugValidation is the result of a pure slug-availability check.
type SlugValidation struct {
	IsAvailable bool     `json:"is_available"`
	Suggestions []string `json:"suggestions,omitempty"`
}
