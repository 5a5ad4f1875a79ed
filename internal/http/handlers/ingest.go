package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinova/hookbridge/internal/service"
)

// IngestHandler is the raw HTTP surface external systems deliver webhooks
// to. It stays outside the huma API: callers are third-party senders with
// arbitrary content types, not API clients.
type IngestHandler struct {
	ingest       *service.IngestService
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(ingest *service.IngestService, maxBodyBytes int64, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{
		ingest:       ingest,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// HandleInbound accepts one webhook delivery on /hooks/{webhookID}/{slug}.
func (h *IngestHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
			"success": false,
			"error":   "request body too large",
		})
		return
	}

	result, err := h.ingest.HandleInbound(r.Context(), &service.InboundRequest{
		WebhookID:   chi.URLParam(r, "webhookID"),
		Slug:        chi.URLParam(r, "slug"),
		Method:      r.Method,
		SourceIP:    sourceIP(r),
		UserAgent:   r.UserAgent(),
		ContentType: r.Header.Get("Content-Type"),
		Headers:     r.Header,
		Body:        body,
		Query:       r.URL.Query(),
	})
	if err != nil {
		h.logger.Error("ingest pipeline failure", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "internal server error",
		})
		return
	}

	writeJSON(w, result.StatusCode, result.Body)
}

func sourceIP(r *http.Request) string {
	// middleware.RealIP has already folded X-Forwarded-For into RemoteAddr.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
