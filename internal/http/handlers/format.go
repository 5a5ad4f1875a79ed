package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/clinova/hookbridge/internal/models"
)

// OutputFormat represents the supported log export formats.
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatJSONL OutputFormat = "jsonl"
	FormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat parses a format string and returns the OutputFormat.
// Returns FormatJSON if the format is empty or invalid.
func ParseOutputFormat(format string) OutputFormat {
	switch strings.ToLower(format) {
	case "jsonl":
		return FormatJSONL
	case "yaml", "yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ContentType returns the Content-Type header for the format.
func (f OutputFormat) ContentType() string {
	switch f {
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatYAML:
		return "application/yaml"
	default:
		return "application/json"
	}
}

// FileExtension returns the file extension for the format.
func (f OutputFormat) FileExtension() string {
	switch f {
	case FormatJSONL:
		return ".jsonl"
	case FormatYAML:
		return ".yaml"
	default:
		return ".json"
	}
}

// FormatLogs renders webhook log entries in the requested format.
// For JSON, returns an indented array. For JSONL, returns one entry per
// line. For YAML, returns a YAML sequence.
func FormatLogs(logs []*models.WebhookLog, format OutputFormat) ([]byte, error) {
	switch format {
	case FormatJSONL:
		return formatLogsJSONL(logs)
	case FormatYAML:
		return formatLogsYAML(logs)
	default:
		return json.MarshalIndent(logs, "", "  ")
	}
}

func formatLogsJSONL(logs []*models.WebhookLog) ([]byte, error) {
	var buf bytes.Buffer
	for i, entry := range logs {
		line, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal log entry %d: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func formatLogsYAML(logs []*models.WebhookLog) ([]byte, error) {
	// Round-trip through JSON so the YAML output uses the same field
	// names as the JSON API.
	var items []map[string]any
	for i, entry := range logs {
		raw, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal log entry %d: %w", i, err)
		}
		var item map[string]any
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to convert log entry %d: %w", i, err)
		}
		items = append(items, item)
	}
	return yaml.Marshal(items)
}
