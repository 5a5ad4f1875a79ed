package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/clinova/hookbridge/internal/models"
	"github.com/clinova/hookbridge/internal/repository"
)

// LogHandler serves the webhook exchange history.
type LogHandler struct {
	logRepo repository.WebhookLogRepository
}

// NewLogHandler creates a new log handler.
func NewLogHandler(logRepo repository.WebhookLogRepository) *LogHandler {
	return &LogHandler{logRepo: logRepo}
}

// ListLogsInput represents the log query request.
type ListLogsInput struct {
	WebhookID string `path:"id" doc:"Webhook ID"`
	Filter    string `query:"filter" enum:"all,success,error" default:"all" doc:"Outcome filter"`
	From      string `query:"from" doc:"Lower time bound (RFC3339)"`
	To        string `query:"to" doc:"Upper time bound (RFC3339)"`
	Limit     int    `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Page size"`
	Offset    int    `query:"offset" minimum:"0" default:"0" doc:"Page offset"`
}

// ListLogsOutput represents the log query response.
type ListLogsOutput struct {
	Body struct {
		Logs  []*models.WebhookLog `json:"logs" doc:"Matching log entries, newest first"`
		Count int                  `json:"count" doc:"Number of entries returned"`
	}
}

// ListLogs returns the exchange history for a webhook.
func (h *LogHandler) ListLogs(ctx context.Context, input *ListLogsInput) (*ListLogsOutput, error) {
	var from, to time.Time
	var err error
	if input.From != "" {
		if from, err = time.Parse(time.RFC3339, input.From); err != nil {
			return nil, huma.Error422UnprocessableEntity("from must be an RFC3339 timestamp")
		}
	}
	if input.To != "" {
		if to, err = time.Parse(time.RFC3339, input.To); err != nil {
			return nil, huma.Error422UnprocessableEntity("to must be an RFC3339 timestamp")
		}
	}

	filter := models.LogFilter(input.Filter)
	if filter == "" {
		filter = models.LogFilterAll
	}

	logs, err := h.logRepo.Query(ctx, input.WebhookID, filter, from, to, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to query logs: " + err.Error())
	}

	out := &ListLogsOutput{}
	out.Body.Logs = logs
	out.Body.Count = len(logs)
	return out, nil
}

// ExportLogsInput represents the log export request.
type ExportLogsInput struct {
	WebhookID string `path:"id" doc:"Webhook ID"`
	Format    string `query:"format" enum:"json,jsonl,yaml" default:"json" doc:"Export format"`
	Filter    string `query:"filter" enum:"all,success,error" default:"all" doc:"Outcome filter"`
	Limit     int    `query:"limit" minimum:"1" maximum:"5000" default:"1000" doc:"Maximum entries to export"`
}

// ExportLogsOutput represents the raw export response.
type ExportLogsOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

// ExportLogs streams the exchange history as a downloadable file.
func (h *LogHandler) ExportLogs(ctx context.Context, input *ExportLogsInput) (*ExportLogsOutput, error) {
	filter := models.LogFilter(input.Filter)
	if filter == "" {
		filter = models.LogFilterAll
	}

	logs, err := h.logRepo.Query(ctx, input.WebhookID, filter, time.Time{}, time.Time{}, input.Limit, 0)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to query logs: " + err.Error())
	}

	format := ParseOutputFormat(input.Format)
	body, err := FormatLogs(logs, format)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to format logs: " + err.Error())
	}

	return &ExportLogsOutput{
		ContentType:        format.ContentType(),
		ContentDisposition: "attachment; filename=webhook-logs" + format.FileExtension(),
		Body:               body,
	}, nil
}

// GetLogInput represents the single log request.
type GetLogInput struct {
	WebhookID string `path:"id" doc:"Webhook ID"`
	LogID     string `path:"logId" doc:"Log entry ID"`
}

// GetLogOutput represents the single log response.
type GetLogOutput struct {
	Body models.WebhookLog
}

// GetLog returns one log entry.
func (h *LogHandler) GetLog(ctx context.Context, input *GetLogInput) (*GetLogOutput, error) {
	entry, err := h.logRepo.GetByID(ctx, input.LogID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get log: " + err.Error())
	}
	if entry == nil || entry.WebhookID != input.WebhookID {
		return nil, huma.Error404NotFound("log entry not found")
	}
	return &GetLogOutput{Body: *entry}, nil
}
