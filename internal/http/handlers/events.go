package handlers

import (
	"context"

	"github.com/clinova/hookbridge/internal/service"
)

// EventsHandler lets the platform fire an event at subscribed outbound
// webhooks.
type EventsHandler struct {
	dispatch *service.DispatchService
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(dispatch *service.DispatchService) *EventsHandler {
	return &EventsHandler{dispatch: dispatch}
}

// PublishEventInput represents the event publish request.
type PublishEventInput struct {
	Body struct {
		Event string         `json:"event" minLength:"1" doc:"Event name, e.g. appointments.created"`
		Data  map[string]any `json:"data,omitempty" doc:"Event payload delivered inside the envelope"`
	}
}

// PublishEventOutput represents the event publish response.
type PublishEventOutput struct {
	Body service.DispatchReport
}

// PublishEvent delivers the event to every active outbound webhook
// subscribed to it and reports the fan-out. Individual delivery failures
// are accounted in the report, not surfaced as an HTTP error.
func (h *EventsHandler) PublishEvent(ctx context.Context, input *PublishEventInput) (*PublishEventOutput, error) {
	report, err := h.dispatch.Dispatch(ctx, input.Body.Event, input.Body.Data)
	if report == nil && err != nil {
		return nil, serviceError(err)
	}
	return &PublishEventOutput{Body: *report}, nil
}
