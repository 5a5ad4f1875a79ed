package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/clinova/hookbridge/internal/ingest"
	"github.com/clinova/hookbridge/internal/mapping"
	"github.com/clinova/hookbridge/internal/models"
	"github.com/clinova/hookbridge/internal/repository"
	"github.com/clinova/hookbridge/internal/response"
	"github.com/clinova/hookbridge/internal/security"
)

// InboundRequest is one raw webhook call as captured by the HTTP layer.
type InboundRequest struct {
	WebhookID   string
	Slug        string
	Method      string
	SourceIP    string
	UserAgent   string
	ContentType string
	Headers     http.Header
	Body        []byte
	Query       url.Values
}

// InboundResult is the reply the HTTP layer writes back, plus the ID of the
// log entry recorded for the exchange.
type InboundResult struct {
	StatusCode int
	Body       map[string]any
	LogID      string
}

// EventDispatcher relays platform events to subscribed outbound webhooks.
// *DispatchService implements it.
type EventDispatcher interface {
	DispatchAsync(event string, payload any)
}

// IngestService runs the inbound pipeline: resolve, authorize, normalize,
// map, store, respond. Every exchange that reaches a known webhook produces
// exactly one log entry, whatever path it takes through the pipeline.
type IngestService struct {
	registry  *RegistryService
	evaluator *security.Evaluator
	engine    *mapping.Engine
	repos     *repository.Repositories
	dispatch  EventDispatcher
	logger    *slog.Logger
	now       func() time.Time
}

// NewIngestService creates a new ingest service. dispatch may be nil when
// no outbound relay is wanted.
func NewIngestService(registry *RegistryService, evaluator *security.Evaluator, engine *mapping.Engine, repos *repository.Repositories, dispatch EventDispatcher, logger *slog.Logger) *IngestService {
	return &IngestService{
		registry:  registry,
		evaluator: evaluator,
		engine:    engine,
		repos:     repos,
		dispatch:  dispatch,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleInbound processes one webhook call end to end.
func (s *IngestService) HandleInbound(ctx context.Context, req *InboundRequest) (*InboundResult, error) {
	start := s.now()

	def, secrets, err := s.registry.Resolve(ctx, req.WebhookID, req.Slug)
	if err == ErrWebhookNotFound {
		// Nothing to attach a log to.
		return &InboundResult{
			StatusCode: http.StatusNotFound,
			Body:       map[string]any{"success": false, "error": "webhook not found"},
		}, nil
	}
	if err != nil {
		return nil, err
	}

	entry := &models.WebhookLog{
		WebhookID: def.ID,
		Timestamp: start,
		Method:    req.Method,
		SourceIP:  req.SourceIP,
		UserAgent: req.UserAgent,
		Headers:   s.captureHeaders(def, req.Headers),
		Body:      string(req.Body),
	}

	result := s.process(ctx, def, secrets, req, entry)

	entry.StatusCode = result.StatusCode
	entry.ResponseTimeMs = int(s.now().Sub(start).Milliseconds())
	if raw, err := json.Marshal(result.Body); err == nil {
		entry.ResponseBody = string(raw)
	}

	if err := s.repos.WebhookLog.Create(ctx, entry); err != nil {
		// The caller still gets their reply; the gap is operator-visible.
		s.logger.Error("failed to write webhook log", "webhook_id", def.ID, "error", err)
	}
	result.LogID = entry.ID

	s.registry.RecordCall(ctx, def.ID, entry.WasProcessed, start)

	return result, nil
}

func (s *IngestService) process(ctx context.Context, def *models.WebhookDefinition, secrets security.Secrets, req *InboundRequest, entry *models.WebhookLog) *InboundResult {
	if !def.IsActive {
		entry.ValidationErrors = append(entry.ValidationErrors, "webhook is not active")
		return &InboundResult{
			StatusCode: http.StatusForbidden,
			Body:       map[string]any{"success": false, "error": "webhook is not active"},
		}
	}

	decision := s.evaluator.Authorize(def, secrets, &security.Request{
		Method:   req.Method,
		SourceIP: req.SourceIP,
		Headers:  req.Headers,
		Body:     req.Body,
		Query:    req.Query,
	})
	if !decision.Allowed {
		entry.ValidationErrors = append(entry.ValidationErrors, decision.Detail)
		return &InboundResult{
			StatusCode: denialStatus(decision.Reason),
			Body:       map[string]any{"success": false, "error": decision.Detail},
		}
	}

	// A bare GET with no query parameters is a reachability probe, not a
	// data delivery.
	if req.Method == http.MethodGet && len(req.Query) == 0 {
		entry.WasProcessed = true
		return &InboundResult{
			StatusCode: http.StatusOK,
			Body: map[string]any{
				"success": true,
				"message": "webhook endpoint is active",
				"webhook": def.Name,
			},
		}
	}

	normalized := ingest.Normalize(req.Body, req.ContentType, req.Query)
	entry.ValidationErrors = append(entry.ValidationErrors, normalized.Diagnostics...)

	// Definitions without a data mapping just record the delivery.
	if def.DataMapping.TargetTable == "" {
		entry.WasProcessed = true
		composed := response.Compose(def.ResponseConfig, response.Outcome{Success: true})
		return &InboundResult{StatusCode: composed.StatusCode, Body: composed.Body}
	}

	schema, err := s.repos.SchemaCatalog.GetByName(ctx, def.DataMapping.TargetTable)
	if err != nil || schema == nil {
		if err != nil {
			s.logger.Error("schema catalog lookup failed", "webhook_id", def.ID, "table", def.DataMapping.TargetTable, "error", err)
		}
		entry.ProcessingErrors = append(entry.ProcessingErrors,
			fmt.Sprintf("target table %q is not in the schema catalog", def.DataMapping.TargetTable))
		return &InboundResult{
			StatusCode: http.StatusInternalServerError,
			Body:       map[string]any{"success": false, "error": "webhook is misconfigured"},
		}
	}

	mapped, err := s.engine.Apply(def.DataMapping.FieldMappings, schema, normalized.Data)
	if err != nil {
		entry.ProcessingErrors = append(entry.ProcessingErrors, err.Error())
		return &InboundResult{
			StatusCode: http.StatusInternalServerError,
			Body:       map[string]any{"success": false, "error": "webhook is misconfigured"},
		}
	}
	for _, d := range mapped.Diagnostics {
		entry.ValidationErrors = append(entry.ValidationErrors, d.Field+": "+d.Reason)
	}

	stored, err := s.repos.Record.Insert(ctx, schema, mapped.Mapped)
	if err != nil {
		s.logger.Error("record insert failed", "webhook_id", def.ID, "table", schema.Name, "error", err)
		entry.ProcessingErrors = append(entry.ProcessingErrors, "failed to store record: "+err.Error())
		composed := response.Compose(def.ResponseConfig, response.Outcome{Error: "failed to store record"})
		return &InboundResult{StatusCode: composed.StatusCode, Body: composed.Body}
	}

	entry.WasProcessed = true

	// A stored record is a platform event; outbound webhooks subscribed to
	// it get their delivery off the request path.
	if s.dispatch != nil {
		s.dispatch.DispatchAsync(schema.Name+".created", stored)
	}

	composed := response.Compose(def.ResponseConfig, response.Outcome{Success: true, Record: stored})
	return &InboundResult{StatusCode: composed.StatusCode, Body: composed.Body}
}

// captureHeaders snapshots request headers for the log, redacting the
// values that carry credentials.
func (s *IngestService) captureHeaders(def *models.WebhookDefinition, h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		out[name] = values[0]
	}
	for _, name := range []string{"Authorization", def.APIKeyHeader} {
		if name == "" {
			continue
		}
		if _, ok := out[http.CanonicalHeaderKey(name)]; ok {
			out[http.CanonicalHeaderKey(name)] = "[redacted]"
		}
	}
	return out
}

func denialStatus(reason security.Reason) int {
	switch reason {
	case security.ReasonMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case security.ReasonIPRejected:
		return http.StatusForbidden
	case security.ReasonRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusUnauthorized
	}
}
