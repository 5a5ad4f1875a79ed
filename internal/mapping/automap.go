package mapping

import (
	"sort"
	"strings"
	"unicode"

	"github.com/clinova/hookbridge/internal/models"
)

// AutoMap synthesizes field mapping rules by matching writable schema
// columns against keys present in a sample payload. Matching is by exact
// name, or by snake_case/camelCase equivalence ("device_id" matches
// "deviceId"). The result is deterministic: running it twice over the same
// schema and payload yields the same rule set.
func AutoMap(schema *models.TableSchema, payload map[string]any) map[string]models.FieldMapping {
	// Index payload keys by their normalized form. First-seen key wins so
	// repeated normalized forms stay deterministic.
	normalized := make(map[string]string, len(payload))
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		norm := normalizeName(k)
		if _, ok := normalized[norm]; !ok {
			normalized[norm] = k
		}
	}

	rules := make(map[string]models.FieldMapping)
	for _, field := range schema.WritableFields() {
		var sourceKey string
		if _, ok := payload[field.Name]; ok {
			sourceKey = field.Name
		} else if k, found := normalized[normalizeName(field.Name)]; found {
			sourceKey = k
		} else {
			continue
		}

		rules[field.Name] = models.FieldMapping{
			Source:   sourceKey,
			Type:     InferFieldType(field.Type),
			Required: !field.Optional,
		}
	}
	return rules
}

// InferFieldType maps a schema column type name onto a coercion kind.
func InferFieldType(columnType string) models.FieldType {
	t := strings.ToLower(columnType)
	switch {
	case strings.Contains(t, "date") || strings.Contains(t, "time"):
		return models.FieldTypeDateTime
	case strings.Contains(t, "bool"):
		return models.FieldTypeBoolean
	case strings.Contains(t, "int"):
		return models.FieldTypeInteger
	case strings.Contains(t, "real") || strings.Contains(t, "float") ||
		strings.Contains(t, "double") || strings.Contains(t, "decimal") ||
		strings.Contains(t, "numeric"):
		return models.FieldTypeFloat
	case strings.Contains(t, "json"):
		return models.FieldTypeJSON
	default:
		return models.FieldTypeString
	}
}

// normalizeName lowers a field name and strips underscores so snake_case
// and camelCase spellings of the same name collide.
func normalizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '_' || r == '-' {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
