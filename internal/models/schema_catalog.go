package models

import (
	"time"
)

// FieldDef describes one column of a target table as exposed to the mapping
// engine. Auto marks generated columns (primary key, timestamps, tenant
// scope) that mappings must never write into.
type FieldDef struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // column type name, e.g. "text", "integer", "datetime"
	Optional bool   `json:"optional"`
	Auto     bool   `json:"auto"`
}

// TableSchema is one catalog entry: a persistence model webhooks may map
// payloads into.
type TableSchema struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"` // table name, unique
	DisplayName string     `json:"display_name,omitempty"`
	Fields      []FieldDef `json:"fields"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// WritableFields returns the fields a mapping may target, excluding
// auto-generated columns.
func (s *TableSchema) WritableFields() []FieldDef {
	out := make([]FieldDef, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Auto {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Field returns the named field definition, or nil if the table has no such
// column.
func (s *TableSchema) Field(name string) *FieldDef {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}
