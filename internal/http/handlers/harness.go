package handlers

import (
	"context"
	"net/url"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/clinova/hookbridge/internal/service"
)

// HarnessHandler exposes the webhook test harness.
type HarnessHandler struct {
	harness *service.HarnessService
}

// NewHarnessHandler creates a new harness handler.
func NewHarnessHandler(harness *service.HarnessService) *HarnessHandler {
	return &HarnessHandler{harness: harness}
}

// TestRequestBody describes the request a harness run should send. All
// fields are optional; defaults come from the webhook definition.
type TestRequestBody struct {
	Method      string            `json:"method,omitempty" doc:"HTTP method (defaults to the webhook's first allowed method)"`
	ContentType string            `json:"content_type,omitempty" doc:"Body content type (defaults to application/json)"`
	Body        string            `json:"body,omitempty" doc:"Raw request body"`
	Query       map[string]string `json:"query,omitempty" doc:"Query parameters (GET requests)"`
	Headers     map[string]string `json:"headers,omitempty" doc:"Extra request headers"`
}

func (b *TestRequestBody) toTestRequest() service.TestRequest {
	query := url.Values{}
	for k, v := range b.Query {
		query.Set(k, v)
	}
	return service.TestRequest{
		Method:      b.Method,
		ContentType: b.ContentType,
		Body:        b.Body,
		Query:       query,
		Headers:     b.Headers,
	}
}

// BuildCommandInput represents the curl command request.
type BuildCommandInput struct {
	ID   string `path:"id" doc:"Webhook ID"`
	Body TestRequestBody
}

// BuildCommandOutput represents the curl command response.
type BuildCommandOutput struct {
	Body service.CurlCommand
}

// BuildCommand assembles a replayable curl command for a webhook,
// signature and auth headers included.
func (h *HarnessHandler) BuildCommand(ctx context.Context, input *BuildCommandInput) (*BuildCommandOutput, error) {
	cmd, err := h.harness.BuildCommand(ctx, input.ID, input.Body.toTestRequest())
	if err != nil {
		return nil, serviceError(err)
	}
	return &BuildCommandOutput{Body: *cmd}, nil
}

// ExecuteTestInput represents the execute-mode request.
type ExecuteTestInput struct {
	ID   string `path:"id" doc:"Webhook ID"`
	Body TestRequestBody
}

// ExecuteTestOutput represents the execute-mode response.
type ExecuteTestOutput struct {
	Body struct {
		Status       string `json:"status" enum:"completed,cancelled,timed_out,failed"`
		StatusCode   int    `json:"status_code,omitempty"`
		ResponseBody string `json:"response_body,omitempty"`
		DurationMs   int64  `json:"duration_ms"`
		Error        string `json:"error,omitempty"`
	}
}

// ExecuteTest fires a test request at the webhook's ingest endpoint. The
// run is bounded by the harness timeout; disconnecting cancels it.
func (h *HarnessHandler) ExecuteTest(ctx context.Context, input *ExecuteTestInput) (*ExecuteTestOutput, error) {
	result, err := h.harness.Execute(ctx, input.ID, input.Body.toTestRequest())
	if err != nil {
		return nil, serviceError(err)
	}
	out := &ExecuteTestOutput{}
	out.Body.Status = result.Status
	out.Body.StatusCode = result.StatusCode
	out.Body.ResponseBody = result.ResponseBody
	out.Body.DurationMs = result.Duration.Milliseconds()
	out.Body.Error = result.Error
	return out, nil
}

// StartListenInput represents the listen session request.
type StartListenInput struct {
	ID string `path:"id" doc:"Webhook ID"`
}

// ListenSessionBody is the serialized view of a listen session.
type ListenSessionBody struct {
	SessionID  string                 `json:"session_id"`
	WebhookID  string                 `json:"webhook_id"`
	StartedAt  string                 `json:"started_at"`
	Active     bool                   `json:"active"`
	StopReason string                 `json:"stop_reason,omitempty"`
	Events     []*service.ListenEvent `json:"events"`
}

func listenSessionBody(s *service.ListenSession) ListenSessionBody {
	return ListenSessionBody{
		SessionID:  s.ID,
		WebhookID:  s.WebhookID,
		StartedAt:  s.StartedAt.Format(time.RFC3339),
		Active:     s.Active(),
		StopReason: s.StopReason(),
		Events:     s.Events(),
	}
}

// StartListenOutput represents the listen session response.
type StartListenOutput struct {
	Body ListenSessionBody
}

// StartListen opens a listen session that watches live traffic on a
// webhook and previews how each delivery would map.
func (h *HarnessHandler) StartListen(ctx context.Context, input *StartListenInput) (*StartListenOutput, error) {
	session, err := h.harness.StartListen(ctx, input.ID)
	if err != nil {
		return nil, serviceError(err)
	}
	return &StartListenOutput{Body: listenSessionBody(session)}, nil
}

// GetListenInput represents the session poll request.
type GetListenInput struct {
	SessionID string `path:"sessionId" doc:"Listen session ID"`
}

// GetListenOutput represents the session poll response.
type GetListenOutput struct {
	Body ListenSessionBody
}

// GetListen returns a session snapshot including everything observed so far.
func (h *HarnessHandler) GetListen(ctx context.Context, input *GetListenInput) (*GetListenOutput, error) {
	session, ok := h.harness.Session(input.SessionID)
	if !ok {
		return nil, huma.Error404NotFound("listen session not found")
	}
	return &GetListenOutput{Body: listenSessionBody(session)}, nil
}

// StopListenInput represents the stop session request.
type StopListenInput struct {
	SessionID string `path:"sessionId" doc:"Listen session ID"`
}

// StopListenOutput represents the stop session response.
type StopListenOutput struct {
	Body struct {
		Stopped bool `json:"stopped"`
	}
}

// StopListen ends a listen session.
func (h *HarnessHandler) StopListen(ctx context.Context, input *StopListenInput) (*StopListenOutput, error) {
	if !h.harness.StopListen(input.SessionID) {
		return nil, huma.Error404NotFound("listen session not found")
	}
	out := &StopListenOutput{}
	out.Body.Stopped = true
	return out, nil
}
