package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/clinova/hookbridge/internal/models"
	"github.com/clinova/hookbridge/internal/repository"
)

// MetricsHandler serves aggregate gateway statistics.
type MetricsHandler struct {
	repos *repository.Repositories
}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler(repos *repository.Repositories) *MetricsHandler {
	return &MetricsHandler{repos: repos}
}

// WebhookStats represents webhook definition counts.
type WebhookStats struct {
	Total       int            `json:"total" doc:"Total webhook definitions"`
	Active      int            `json:"active" doc:"Active webhook definitions"`
	ByDirection map[string]int `json:"by_direction" doc:"Definitions by direction"`
}

// TrafficStats represents cumulative exchange counters.
type TrafficStats struct {
	TotalCalls      int `json:"total_calls" doc:"Total recorded exchanges"`
	SuccessfulCalls int `json:"successful_calls" doc:"Exchanges that completed successfully"`
	FailedCalls     int `json:"failed_calls" doc:"Exchanges that failed"`
}

// SystemMetrics represents overall gateway metrics.
type SystemMetrics struct {
	Webhooks WebhookStats `json:"webhooks" doc:"Webhook definition statistics"`
	Traffic  TrafficStats `json:"traffic" doc:"Cumulative exchange statistics"`
}

// GetMetricsOutput represents the metrics response.
type GetMetricsOutput struct {
	Body SystemMetrics
}

// GetMetrics returns aggregate statistics across all webhook definitions.
func (h *MetricsHandler) GetMetrics(ctx context.Context, input *struct{}) (*GetMetricsOutput, error) {
	defs, err := h.repos.WebhookDefinition.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list webhooks: " + err.Error())
	}

	metrics := SystemMetrics{
		Webhooks: WebhookStats{
			ByDirection: map[string]int{
				string(models.DirectionIncoming):      0,
				string(models.DirectionOutgoing):      0,
				string(models.DirectionBidirectional): 0,
			},
		},
	}

	for _, def := range defs {
		metrics.Webhooks.Total++
		if def.IsActive {
			metrics.Webhooks.Active++
		}
		metrics.Webhooks.ByDirection[string(def.Direction)]++
		metrics.Traffic.TotalCalls += def.TotalCalls
		metrics.Traffic.SuccessfulCalls += def.SuccessfulCalls
	}
	metrics.Traffic.FailedCalls = metrics.Traffic.TotalCalls - metrics.Traffic.SuccessfulCalls

	return &GetMetricsOutput{Body: metrics}, nil
}
