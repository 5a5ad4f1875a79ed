package service

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/clinova/hookbridge/internal/models"
	"github.com/clinova/hookbridge/internal/repository"
	"github.com/clinova/hookbridge/internal/security"
)

const dispatchUserAgent = "HookBridge/1.0"

// DispatchService delivers outbound webhooks to their target URLs when a
// platform event fires.
type DispatchService struct {
	registry    *RegistryService
	repos       *repository.Repositories
	logger      *slog.Logger
	client      *http.Client
	maxAttempts int
	sleep       func(time.Duration)
}

// NewDispatchService creates a new dispatch service.
func NewDispatchService(registry *RegistryService, repos *repository.Repositories, timeout time.Duration, maxAttempts int, logger *slog.Logger) *DispatchService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &DispatchService{
		registry:    registry,
		repos:       repos,
		logger:      logger,
		client:      &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		sleep:       time.Sleep,
	}
}

// DispatchReport summarizes one event fan-out.
type DispatchReport struct {
	Matched   int `json:"matched"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Dispatch delivers an event to every active outbound webhook subscribed to
// it. Deliveries run in the calling goroutine; use DispatchAsync from
// request paths. The returned error is the last delivery failure; the
// report accounts for every matched webhook either way.
func (s *DispatchService) Dispatch(ctx context.Context, event string, payload any) (*DispatchReport, error) {
	defs, err := s.repos.WebhookDefinition.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	report := &DispatchReport{}
	var lastErr error
	for _, def := range defs {
		if !subscribed(def, event) {
			continue
		}
		report.Matched++
		if err := s.deliver(ctx, def, event, payload); err != nil {
			report.Failed++
			lastErr = err
		} else {
			report.Delivered++
		}
	}
	return report, lastErr
}

// DispatchAsync is the fire-and-forget variant.
func (s *DispatchService) DispatchAsync(event string, payload any) {
	go func() {
		if _, err := s.Dispatch(context.Background(), event, payload); err != nil {
			s.logger.Error("dispatch failed", "event", event, "error", err)
		}
	}()
}

func subscribed(def *models.WebhookDefinition, event string) bool {
	if def.Direction == models.DirectionIncoming || def.TargetURL == "" {
		return false
	}
	for _, e := range def.TriggerEvents {
		if e == event {
			return true
		}
	}
	return false
}

func (s *DispatchService) deliver(ctx context.Context, def *models.WebhookDefinition, event string, payload any) error {
	body, err := json.Marshal(map[string]any{
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      payload,
	})
	if err != nil {
		s.logger.Error("dispatch: failed to marshal payload", "event", event, "error", err)
		return err
	}

	secrets, err := s.registry.DecryptSecrets(def)
	if err != nil {
		s.logger.Error("dispatch: failed to decrypt credentials", "webhook_id", def.ID, "error", err)
		return err
	}

	start := time.Now()
	status, lastErr := s.attempt(ctx, def, secrets, body)

	entry := &models.WebhookLog{
		WebhookID:      def.ID,
		Timestamp:      start,
		Method:         http.MethodPost,
		Body:           string(body),
		StatusCode:     status,
		ResponseTimeMs: int(time.Since(start).Milliseconds()),
		WasProcessed:   lastErr == nil,
	}
	if lastErr != nil {
		entry.ProcessingErrors = []string{lastErr.Error()}
	}
	if err := s.repos.WebhookLog.Create(ctx, entry); err != nil {
		s.logger.Error("dispatch: failed to write log", "webhook_id", def.ID, "error", err)
	}
	s.registry.RecordCall(ctx, def.ID, lastErr == nil, start)

	return lastErr
}

// attempt runs the retry loop with quadratic backoff and returns the last
// HTTP status seen (0 when no response arrived at all).
func (s *DispatchService) attempt(ctx context.Context, def *models.WebhookDefinition, secrets security.Secrets, body []byte) (int, error) {
	var lastErr error
	lastStatus := 0

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			s.sleep(time.Duration(attempt*attempt) * time.Second)
		}
		if ctx.Err() != nil {
			return lastStatus, ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, def.TargetURL, bytes.NewReader(body))
		if err != nil {
			s.logger.Error("dispatch: failed to create request", "webhook_id", def.ID, "error", err)
			return lastStatus, err
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", dispatchUserAgent)
		for _, h := range def.CustomHeaders {
			req.Header.Set(h.Name, h.Value)
		}
		if secrets.SecretKey != "" {
			req.Header.Set("X-Signature", security.NewSigner(secrets.SecretKey).Sign(body))
		}
		if secrets.Token != "" {
			req.Header.Set("Authorization", "Bearer "+secrets.Token)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			s.logger.Warn("dispatch: delivery failed", "webhook_id", def.ID, "url", def.TargetURL, "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()
		lastStatus = resp.StatusCode

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			s.logger.Info("dispatch: delivered", "webhook_id", def.ID, "url", def.TargetURL, "status", resp.StatusCode)
			return lastStatus, nil
		}

		lastErr = &DeliveryError{StatusCode: resp.StatusCode}
		s.logger.Warn("dispatch: non-success status", "webhook_id", def.ID, "url", def.TargetURL, "status", resp.StatusCode, "attempt", attempt+1)
	}

	s.logger.Error("dispatch: delivery failed after retries", "webhook_id", def.ID, "url", def.TargetURL, "error", lastErr)
	return lastStatus, lastErr
}

// DeliveryError represents an outbound delivery rejected by the target.
type DeliveryError struct {
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return "delivery failed with status: " + http.StatusText(e.StatusCode)
}
