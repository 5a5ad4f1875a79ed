package mapping

import (
	"fmt"

	"github.com/clinova/hookbridge/internal/models"
)

// Validate checks a data mapping against its target schema at configuration
// time. Problems surface here, to the operator, instead of at ingest.
func Validate(dm *models.DataMapping, schema *models.TableSchema) []error {
	var errs []error

	if schema == nil {
		return []error{fmt.Errorf("target table %q not found in schema catalog", dm.TargetTable)}
	}

	for target, rule := range dm.FieldMappings {
		field := schema.Field(target)
		if field == nil {
			errs = append(errs, fmt.Errorf("field %q: table %s has no such column", target, schema.Name))
			continue
		}
		if field.Auto {
			errs = append(errs, fmt.Errorf("field %q: column is auto-generated and cannot be mapped", target))
		}
		if rule.Source == "" && rule.Default == nil {
			errs = append(errs, fmt.Errorf("field %q: rule needs a source path or a default", target))
		}
		if rule.Type != "" && !models.ValidFieldType(rule.Type) {
			errs = append(errs, fmt.Errorf("field %q: unknown coercion type %q", target, rule.Type))
		}
		if rule.Condition != "" {
			if err := CompileCondition(rule.Condition); err != nil {
				errs = append(errs, fmt.Errorf("field %q: %w", target, err))
			}
		}
	}

	return errs
}
