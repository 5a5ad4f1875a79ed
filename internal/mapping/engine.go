// Package mapping turns normalized payloads into typed records according to
// per-webhook field mapping rules.
package mapping

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/clinova/hookbridge/internal/models"
)

// NowLiteral is the special datetime source/default value that maps to the
// current instant.
const NowLiteral = "now()"

// Stats summarizes one mapping run.
type Stats struct {
	Mapped  int `json:"mapped"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// FieldDiagnostic explains why a single field was skipped.
type FieldDiagnostic struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Result is the outcome of applying a mapping to one payload. The engine
// always returns a best-effort partial record; per-field problems become
// diagnostics, never errors.
type Result struct {
	TargetTable string            `json:"target_table"`
	Mapped      map[string]any    `json:"mapped_data"`
	Raw         map[string]any    `json:"raw_data"`
	Diagnostics []FieldDiagnostic `json:"diagnostics,omitempty"`
	Stats       Stats             `json:"statistics"`
}

// Engine applies field mapping rules. Pure function of its inputs apart
// from the injected clock, and safe for concurrent use.
type Engine struct {
	conditions ConditionEvaluator
	now        func() time.Time
}

// NewEngine creates a mapping engine. A nil evaluator gets the expr-backed
// one; a nil clock gets time.Now.
func NewEngine(conditions ConditionEvaluator, clock func() time.Time) *Engine {
	if conditions == nil {
		conditions = NewExprConditionEvaluator()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Engine{conditions: conditions, now: clock}
}

// Apply maps a normalized payload into a record for the schema's table.
// Rules are evaluated independently in deterministic (sorted) field order;
// a failing rule skips that field and the rest of the record goes through.
func (e *Engine) Apply(fieldMappings map[string]models.FieldMapping, schema *models.TableSchema, payload map[string]any) (*Result, error) {
	if schema == nil {
		return nil, fmt.Errorf("target table schema is required")
	}

	res := &Result{
		TargetTable: schema.Name,
		Mapped:      make(map[string]any),
		Raw:         payload,
		Stats:       Stats{Total: len(fieldMappings)},
	}

	env := conditionEnv(payload)

	targets := make([]string, 0, len(fieldMappings))
	for t := range fieldMappings {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	for _, target := range targets {
		rule := fieldMappings[target]

		if field := schema.Field(target); field == nil || field.Auto {
			res.skip(target, "target column not mappable")
			continue
		}

		if rule.Condition != "" {
			applies, err := e.conditions.EvaluateBool(rule.Condition, env)
			if err != nil {
				res.skip(target, fmt.Sprintf("condition error: %v", err))
				continue
			}
			if !applies {
				// Not applicable: neither mapped nor skipped.
				continue
			}
		}

		value, present := payload[rule.Source]
		if isAbsent(value, present) {
			if rule.Required {
				res.skip(target, "required field missing")
				continue
			}
			if rule.Default == nil {
				// Optional and absent: simply omitted.
				continue
			}
			value = rule.Default
		}

		coerced, reason := e.coerce(value, rule.Type)
		if reason != "" {
			res.skip(target, reason)
			continue
		}
		res.Mapped[target] = coerced
		res.Stats.Mapped++
	}

	return res, nil
}

func (r *Result) skip(field, reason string) {
	r.Diagnostics = append(r.Diagnostics, FieldDiagnostic{Field: field, Reason: reason})
	r.Stats.Skipped++
}

// isAbsent treats missing keys, nulls and empty strings as "no value".
func isAbsent(value any, present bool) bool {
	if !present || value == nil {
		return true
	}
	if s, ok := value.(string); ok && s == "" {
		return true
	}
	return false
}

// conditionEnv exposes the payload to condition expressions: dot-free keys
// as identifiers, the whole flat map as `payload`.
func conditionEnv(payload map[string]any) map[string]any {
	env := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		if !strings.Contains(k, ".") {
			env[k] = v
		}
	}
	env["payload"] = payload
	return env
}

// coerce converts a raw payload value per the rule's coercion kind. A
// non-empty reason marks the field skipped.
func (e *Engine) coerce(value any, kind models.FieldType) (any, string) {
	switch kind {
	case models.FieldTypeString, "":
		return stringify(value), ""

	case models.FieldTypeInteger:
		n, ok := toInt(value)
		if !ok {
			return nil, "invalid number"
		}
		return n, ""

	case models.FieldTypeFloat:
		f, ok := toFloat(value)
		if !ok {
			return nil, "invalid number"
		}
		return f, ""

	case models.FieldTypeBoolean:
		// Boolean coercion always succeeds: the truthy literals map to
		// true, anything else to false.
		switch v := value.(type) {
		case bool:
			return v, ""
		case string:
			return v == "true" || v == "1", ""
		case json.Number:
			return v.String() == "1", ""
		case int, int64:
			return fmt.Sprintf("%v", v) == "1", ""
		case float64:
			return v == 1, ""
		default:
			return false, ""
		}

	case models.FieldTypeDateTime:
		if s, ok := value.(string); ok && s == NowLiteral {
			return e.now().UTC(), ""
		}
		t, ok := parseDateTime(value)
		if !ok {
			return nil, "invalid date"
		}
		return t, ""

	case models.FieldTypeJSON:
		// Already-parsed structure passes through as-is.
		return value, ""

	default:
		return nil, fmt.Sprintf("unknown coercion type %q", kind)
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
		return 0, false
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n, true
		}
		// Fractional strings truncate, matching integer parse semantics
		// for inputs like "12.5".
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return int64(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDateTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case json.Number:
		// Numeric values are unix epoch seconds.
		if n, err := v.Int64(); err == nil {
			return time.Unix(n, 0).UTC(), true
		}
		return time.Time{}, false
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(n, 0).UTC(), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
