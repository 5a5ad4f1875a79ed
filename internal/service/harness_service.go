package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/clinova/hookbridge/internal/ingest"
	"github.com/clinova/hookbridge/internal/mapping"
	"github.com/clinova/hookbridge/internal/models"
	"github.com/clinova/hookbridge/internal/repository"
	"github.com/clinova/hookbridge/internal/security"
)

// Execution outcomes for harness test requests.
const (
	ExecutionCompleted = "completed"
	ExecutionCancelled = "cancelled"
	ExecutionTimedOut  = "timed_out"
	ExecutionFailed    = "failed"
)

// Listen session stop reasons.
const (
	ListenStoppedByUser   = "stopped"
	ListenStoppedPollFail = "poll_failed"
)

// HarnessService lets operators exercise a webhook end to end: build a
// replayable curl command, fire a test request, or watch live traffic with
// a mapping preview per delivery.
type HarnessService struct {
	registry *RegistryService
	engine   *mapping.Engine
	repos    *repository.Repositories
	logger   *slog.Logger
	baseURL  string
	client   *http.Client

	pollInterval time.Duration
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]*ListenSession
}

// NewHarnessService creates a new harness service.
func NewHarnessService(registry *RegistryService, engine *mapping.Engine, repos *repository.Repositories, baseURL string, pollInterval, requestTimeout time.Duration, logger *slog.Logger) *HarnessService {
	return &HarnessService{
		registry:     registry,
		engine:       engine,
		repos:        repos,
		logger:       logger,
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: requestTimeout},
		pollInterval: pollInterval,
		now:          time.Now,
		sessions:     make(map[string]*ListenSession),
	}
}

// TestRequest describes the request a harness run should send. Zero values
// fall back to defaults derived from the definition.
type TestRequest struct {
	Method      string
	ContentType string
	Body        string
	Query       url.Values
	Headers     map[string]string
}

// CurlCommand is a fully assembled, replayable test request.
type CurlCommand struct {
	Command string            `json:"command"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
}

// ExecutionResult is the outcome of one execute-mode run.
type ExecutionResult struct {
	Status       string        `json:"status"`
	StatusCode   int           `json:"status_code,omitempty"`
	ResponseBody string        `json:"response_body,omitempty"`
	Duration     time.Duration `json:"duration_ms"`
	Error        string        `json:"error,omitempty"`
}

// IngestPath returns the public path a webhook listens on.
func IngestPath(def *models.WebhookDefinition) string {
	return "/hooks/" + def.ID + "/" + def.Slug
}

// BuildCommand assembles a curl command that satisfies the webhook's
// security configuration, signature included.
func (s *HarnessService) BuildCommand(ctx context.Context, webhookID string, req TestRequest) (*CurlCommand, error) {
	def, err := s.registry.Get(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	secrets, err := s.registry.DecryptSecrets(def)
	if err != nil {
		return nil, err
	}
	return s.assemble(def, secrets, req)
}

func (s *HarnessService) assemble(def *models.WebhookDefinition, secrets security.Secrets, req TestRequest) (*CurlCommand, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = def.AllowedMethods[0]
	}
	if !def.AllowsMethod(method) {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("method %s is not allowed by this webhook", method)}}
	}

	isGET := method == http.MethodGet
	body := req.Body
	if body == "" && !isGET {
		body = defaultTestBody(def)
	}

	target := s.baseURL + IngestPath(def)
	if isGET && len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	headers := make(map[string]string)
	if !isGET {
		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		headers["Content-Type"] = contentType
	}
	for k, v := range req.Headers {
		headers[k] = v
	}

	switch def.AuthType {
	case models.AuthTypeBearer:
		headers["Authorization"] = "Bearer " + secrets.Token
	case models.AuthTypeAPIKey:
		header := def.APIKeyHeader
		if header == "" {
			header = security.DefaultAPIKeyHeader
		}
		headers[header] = secrets.APIKey
	case models.AuthTypeHMAC:
		signer := security.NewSigner(secrets.SecretKey)
		message := []byte(body)
		if isGET {
			message = []byte(security.CanonicalQuery(req.Query))
		}
		headers["X-Signature"] = signer.Sign(message)
	}

	return &CurlCommand{
		Command: renderCurl(method, target, headers, body),
		Method:  method,
		URL:     target,
		Headers: headers,
		Body:    body,
	}, nil
}

func renderCurl(method, target string, headers map[string]string, body string) string {
	var b strings.Builder
	b.WriteString("curl -X " + method + " " + shellQuote(target))

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(" \\\n  -H " + shellQuote(name+": "+headers[name]))
	}
	if body != "" {
		b.WriteString(" \\\n  -d " + shellQuote(body))
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func defaultTestBody(def *models.WebhookDefinition) string {
	if len(def.DataMapping.FieldMappings) == 0 {
		return `{"test": true}`
	}
	// Echo the mapping sources back so a default run exercises every rule.
	sources := make([]string, 0, len(def.DataMapping.FieldMappings))
	seen := make(map[string]bool)
	for _, fm := range def.DataMapping.FieldMappings {
		if fm.Source == "" || fm.Source == mapping.NowLiteral || seen[fm.Source] {
			continue
		}
		seen[fm.Source] = true
		sources = append(sources, fm.Source)
	}
	sort.Strings(sources)

	var b strings.Builder
	b.WriteString("{")
	for i, src := range sources {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: %q", src, "test-value")
	}
	b.WriteString("}")
	return b.String()
}

// Execute fires a test request at the webhook's own ingest endpoint and
// reports how the exchange ended. Cancelling ctx aborts the request and is
// reported distinctly from a timeout.
func (s *HarnessService) Execute(ctx context.Context, webhookID string, req TestRequest) (*ExecutionResult, error) {
	cmd, err := s.BuildCommand(ctx, webhookID, req)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if cmd.Body != "" {
		bodyReader = bytes.NewReader([]byte(cmd.Body))
	}
	httpReq, err := http.NewRequestWithContext(ctx, cmd.Method, cmd.URL, bodyReader)
	if err != nil {
		return nil, err
	}
	for name, value := range cmd.Headers {
		httpReq.Header.Set(name, value)
	}

	start := s.now()
	resp, err := s.client.Do(httpReq)
	duration := s.now().Sub(start)

	if err != nil {
		result := &ExecutionResult{Duration: duration, Error: err.Error()}
		switch {
		case errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled:
			result.Status = ExecutionCancelled
			result.Error = "request cancelled"
		case errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err):
			result.Status = ExecutionTimedOut
			result.Error = "request timed out"
		default:
			result.Status = ExecutionFailed
		}
		return result, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &ExecutionResult{
		Status:       ExecutionCompleted,
		StatusCode:   resp.StatusCode,
		ResponseBody: string(respBody),
		Duration:     duration,
	}, nil
}

func isClientTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

// ListenEvent is one observed delivery with its mapping preview.
type ListenEvent struct {
	Log     *models.WebhookLog `json:"log"`
	Preview *mapping.Result    `json:"preview,omitempty"`
}

// ListenSession watches one webhook's log stream. Sessions poll the log
// table and keep a monotonic watermark, so each delivery surfaces once.
type ListenSession struct {
	ID        string    `json:"id"`
	WebhookID string    `json:"webhook_id"`
	StartedAt time.Time `json:"started_at"`

	mu         sync.Mutex
	watermark  time.Time
	active     bool
	stopReason string
	events     []*ListenEvent

	stop chan struct{}
	done chan struct{}
}

// Active reports whether the session is still polling.
func (l *ListenSession) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// StopReason returns why the session ended ("" while active).
func (l *ListenSession) StopReason() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopReason
}

// Events returns a snapshot of everything observed so far.
func (l *ListenSession) Events() []*ListenEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*ListenEvent, len(l.events))
	copy(out, l.events)
	return out
}

func (l *ListenSession) append(ev *ListenEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	if ev.Log.Timestamp.After(l.watermark) {
		l.watermark = ev.Log.Timestamp
	}
}

func (l *ListenSession) currentWatermark() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watermark
}

func (l *ListenSession) deactivate(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active {
		l.active = false
		l.stopReason = reason
	}
}

// StartListen opens a listen session on a webhook. The session polls until
// StopListen is called or a poll fails.
func (s *HarnessService) StartListen(ctx context.Context, webhookID string) (*ListenSession, error) {
	def, err := s.registry.Get(ctx, webhookID)
	if err != nil {
		return nil, err
	}

	session := &ListenSession{
		ID:        ulid.Make().String(),
		WebhookID: def.ID,
		StartedAt: s.now(),
		watermark: s.now(),
		active:    true,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	go s.poll(def, session)

	s.logger.Info("listen session started", "session_id", session.ID, "webhook_id", def.ID)
	return session, nil
}

func (s *HarnessService) poll(def *models.WebhookDefinition, session *ListenSession) {
	defer close(session.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-session.stop:
			session.deactivate(ListenStoppedByUser)
			return
		case <-ticker.C:
			logs, err := s.repos.WebhookLog.ListSince(context.Background(), def.ID, session.currentWatermark())
			if err != nil {
				// A session that cannot see the log stream is lying to the
				// operator; shut it down rather than report silence.
				s.logger.Error("listen poll failed", "session_id", session.ID, "error", err)
				session.deactivate(ListenStoppedPollFail)
				return
			}
			for _, entry := range logs {
				ev := &ListenEvent{Log: entry}
				// Rejected deliveries carry whatever the caller sent;
				// previewing them would map garbage.
				if entry.WasProcessed {
					ev.Preview = s.preview(def, entry)
				}
				session.append(ev)
			}
		}
	}
}

// preview re-runs the mapping pipeline over a logged delivery without
// writing anything.
func (s *HarnessService) preview(def *models.WebhookDefinition, entry *models.WebhookLog) *mapping.Result {
	if def.DataMapping.TargetTable == "" {
		return nil
	}
	schema, err := s.repos.SchemaCatalog.GetByName(context.Background(), def.DataMapping.TargetTable)
	if err != nil || schema == nil {
		return nil
	}

	contentType := entry.Headers["Content-Type"]
	normalized := ingest.Normalize([]byte(entry.Body), contentType, nil)
	result, err := s.engine.Apply(def.DataMapping.FieldMappings, schema, normalized.Data)
	if err != nil {
		return nil
	}
	return result
}

// Session returns a live session by ID.
func (s *HarnessService) Session(id string) (*ListenSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	return session, ok
}

// ActiveSessions returns the number of sessions still polling. Sessions
// that stopped themselves (poll failure) stay retrievable via Session but
// do not count as activity.
func (s *HarnessService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, session := range s.sessions {
		if session.Active() {
			n++
		}
	}
	return n
}

// StopListen ends a session and waits for its poller to exit.
func (s *HarnessService) StopListen(id string) bool {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case <-session.stop:
	default:
		close(session.stop)
	}
	<-session.done

	s.logger.Info("listen session stopped", "session_id", id)
	return true
}

// Shutdown stops every live session.
func (s *HarnessService) Shutdown() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.StopListen(id)
	}
}
