package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/clinova/hookbridge/internal/mapping"
	"github.com/clinova/hookbridge/internal/models"
	"github.com/clinova/hookbridge/internal/security"
)

// ========================================
// HarnessService Tests
// ========================================

func newTestHarness(t *testing.T, env *testEnv, baseURL string, requestTimeout time.Duration) *HarnessService {
	t.Helper()
	engine := mapping.NewEngine(nil, nil)
	return NewHarnessService(env.registry, engine, env.repos, baseURL, 10*time.Millisecond, requestTimeout, testLogger())
}

func TestHarness_BuildCommandDefaults(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestHarness(t, env, "https://hooks.example.com/", time.Second)
	ctx := context.Background()

	def, err := env.registry.Create(ctx, validDefinition("curl-me"), SecretInput{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	cmd, err := svc.BuildCommand(ctx, def.ID, TestRequest{})
	if err != nil {
		t.Fatalf("BuildCommand() error: %v", err)
	}

	if cmd.Method != "POST" {
		t.Errorf("Method = %q, want POST from allowed methods", cmd.Method)
	}
	wantURL := "https://hooks.example.com/hooks/" + def.ID + "/curl-me"
	if cmd.URL != wantURL {
		t.Errorf("URL = %q, want %q", cmd.URL, wantURL)
	}
	if cmd.Headers["Content-Type"] != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", cmd.Headers["Content-Type"])
	}
	// Default body echoes the mapping sources, sorted.
	if cmd.Body != `{"patient_id": "test-value", "status": "test-value"}` {
		t.Errorf("Body = %q, want body derived from mapping sources", cmd.Body)
	}
	for _, part := range []string{"curl -X POST", wantURL, "-H", "-d"} {
		if !strings.Contains(cmd.Command, part) {
			t.Errorf("Command %q missing %q", cmd.Command, part)
		}
	}
}

func TestHarness_BuildCommandRejectsDisallowedMethod(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestHarness(t, env, "https://hooks.example.com", time.Second)
	ctx := context.Background()

	def, err := env.registry.Create(ctx, validDefinition("post-only"), SecretInput{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	_, err = svc.BuildCommand(ctx, def.ID, TestRequest{Method: "DELETE"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("BuildCommand() error = %v, want ValidationError", err)
	}
}

func TestHarness_BuildCommandAuthHeaders(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestHarness(t, env, "https://hooks.example.com", time.Second)
	ctx := context.Background()

	t.Run("bearer", func(t *testing.T) {
		def := validDefinition("bearer-hook")
		def.AuthType = models.AuthTypeBearer
		created, err := env.registry.Create(ctx, def, SecretInput{Token: "tok"})
		if err != nil {
			t.Fatalf("Create() error: %v", err)
		}

		cmd, err := svc.BuildCommand(ctx, created.ID, TestRequest{})
		if err != nil {
			t.Fatalf("BuildCommand() error: %v", err)
		}
		if cmd.Headers["Authorization"] != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", cmd.Headers["Authorization"])
		}
	})

	t.Run("api key custom header", func(t *testing.T) {
		def := validDefinition("key-hook")
		def.AuthType = models.AuthTypeAPIKey
		def.APIKeyHeader = "X-Clinic-Key"
		created, err := env.registry.Create(ctx, def, SecretInput{APIKey: "k-1"})
		if err != nil {
			t.Fatalf("Create() error: %v", err)
		}

		cmd, err := svc.BuildCommand(ctx, created.ID, TestRequest{})
		if err != nil {
			t.Fatalf("BuildCommand() error: %v", err)
		}
		if cmd.Headers["X-Clinic-Key"] != "k-1" {
			t.Errorf("X-Clinic-Key = %q, want k-1", cmd.Headers["X-Clinic-Key"])
		}
	})

	t.Run("hmac signs body", func(t *testing.T) {
		def := validDefinition("hmac-hook")
		def.AuthType = models.AuthTypeHMAC
		created, err := env.registry.Create(ctx, def, SecretInput{SecretKey: "shared"})
		if err != nil {
			t.Fatalf("Create() error: %v", err)
		}

		cmd, err := svc.BuildCommand(ctx, created.ID, TestRequest{Body: `{"patient_id":"p-1"}`})
		if err != nil {
			t.Fatalf("BuildCommand() error: %v", err)
		}
		if !security.NewSigner("shared").Verify([]byte(cmd.Body), cmd.Headers["X-Signature"]) {
			t.Error("X-Signature does not verify against the command body")
		}
	})

	t.Run("hmac signs GET query", func(t *testing.T) {
		def := validDefinition("hmac-get-hook")
		def.AllowedMethods = []string{"GET"}
		def.AuthType = models.AuthTypeHMAC
		created, err := env.registry.Create(ctx, def, SecretInput{SecretKey: "shared"})
		if err != nil {
			t.Fatalf("Create() error: %v", err)
		}

		query := url.Values{"status": {"ok"}}
		cmd, err := svc.BuildCommand(ctx, created.ID, TestRequest{Method: "GET", Query: query})
		if err != nil {
			t.Fatalf("BuildCommand() error: %v", err)
		}
		message := []byte(security.CanonicalQuery(query))
		if !security.NewSigner("shared").Verify(message, cmd.Headers["X-Signature"]) {
			t.Error("X-Signature does not verify against the canonical query")
		}
		if !strings.HasSuffix(cmd.URL, "?status=ok") {
			t.Errorf("URL = %q, want query string appended", cmd.URL)
		}
		if cmd.Body != "" {
			t.Errorf("Body = %q, want empty for GET", cmd.Body)
		}
	})
}

func TestHarness_ShellQuote(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "hello", "'hello'"},
		{"embedded quote", "it's", `'it'\''s'`},
		{"json body", `{"a":1}`, `'{"a":1}'`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shellQuote(tt.input); got != tt.expected {
				t.Errorf("shellQuote(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestHarness_ExecuteCompleted(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(server.Close)

	svc := newTestHarness(t, env, server.URL, 2*time.Second)
	ctx := context.Background()

	def, err := env.registry.Create(ctx, validDefinition("exec-ok"), SecretInput{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	result, err := svc.Execute(ctx, def.ID, TestRequest{})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result.Status != ExecutionCompleted {
		t.Errorf("Status = %q, want completed", result.Status)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
	if result.ResponseBody != `{"success":true}` {
		t.Errorf("ResponseBody = %q", result.ResponseBody)
	}
}

func TestHarness_ExecuteTimedOut(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	t.Cleanup(server.Close)

	svc := newTestHarness(t, env, server.URL, 50*time.Millisecond)
	ctx := context.Background()

	def, err := env.registry.Create(ctx, validDefinition("exec-slow"), SecretInput{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	result, err := svc.Execute(ctx, def.ID, TestRequest{})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result.Status != ExecutionTimedOut {
		t.Errorf("Status = %q, want timed_out", result.Status)
	}
}

func TestHarness_ExecuteCancelled(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	t.Cleanup(server.Close)

	svc := newTestHarness(t, env, server.URL, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	def, err := env.registry.Create(ctx, validDefinition("exec-cancel"), SecretInput{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := svc.Execute(ctx, def.ID, TestRequest{})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result.Status != ExecutionCancelled {
		t.Errorf("Status = %q, want cancelled", result.Status)
	}
}

func TestHarness_ExecuteFailed(t *testing.T) {
	env := newTestEnv(t)
	// Nothing listens on this port.
	svc := newTestHarness(t, env, "http://127.0.0.1:1", time.Second)
	ctx := context.Background()

	def, err := env.registry.Create(ctx, validDefinition("exec-dead"), SecretInput{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	result, err := svc.Execute(ctx, def.ID, TestRequest{})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result.Status != ExecutionFailed {
		t.Errorf("Status = %q, want failed", result.Status)
	}
	if result.Error == "" {
		t.Error("failed execution carries no error detail")
	}
}

// ========================================
// Listen Session Tests
// ========================================

func waitForEvents(t *testing.T, session *ListenSession, want int) []*ListenEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events := session.Events()
		if len(events) >= want {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session observed %d events, want %d", len(session.Events()), want)
	return nil
}

func TestHarness_ListenObservesNewDeliveries(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestHarness(t, env, "https://hooks.example.com", time.Second)
	ctx := context.Background()

	def, err := env.registry.Create(ctx, validDefinition("watched"), SecretInput{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	session, err := svc.StartListen(ctx, def.ID)
	if err != nil {
		t.Fatalf("StartListen() error: %v", err)
	}
	t.Cleanup(func() { svc.StopListen(session.ID) })

	if !session.Active() {
		t.Fatal("session not active after start")
	}

	// A delivery lands after the session opened.
	entry := &models.WebhookLog{
		WebhookID:    def.ID,
		Timestamp:    time.Now().UTC().Add(time.Millisecond),
		Method:       "POST",
		Headers:      map[string]string{"Content-Type": "application/json"},
		Body:         `{"patient_id":"p-5","status":"confirmed"}`,
		StatusCode:   200,
		WasProcessed: true,
	}
	if err := env.repos.WebhookLog.Create(ctx, entry); err != nil {
		t.Fatalf("log Create() error: %v", err)
	}

	events := waitForEvents(t, session, 1)
	if events[0].Log.ID != entry.ID {
		t.Errorf("observed log %q, want %q", events[0].Log.ID, entry.ID)
	}
	// Each delivery carries a mapping preview.
	if events[0].Preview == nil {
		t.Fatal("event missing mapping preview")
	}
	if events[0].Preview.Mapped["person_id"] != "p-5" {
		t.Errorf("preview person_id = %v, want p-5", events[0].Preview.Mapped["person_id"])
	}

	// The watermark advanced, so the same delivery is not reported twice.
	time.Sleep(50 * time.Millisecond)
	if got := len(session.Events()); got != 1 {
		t.Errorf("session observed %d events, want 1 (no duplicates)", got)
	}
}

func TestHarness_ListenStop(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestHarness(t, env, "https://hooks.example.com", time.Second)
	ctx := context.Background()

	def, err := env.registry.Create(ctx, validDefinition("stoppable"), SecretInput{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	session, err := svc.StartListen(ctx, def.ID)
	if err != nil {
		t.Fatalf("StartListen() error: %v", err)
	}

	if !svc.StopListen(session.ID) {
		t.Fatal("StopListen() = false for live session")
	}
	if session.Active() {
		t.Error("session still active after stop")
	}
	if session.StopReason() != ListenStoppedByUser {
		t.Errorf("StopReason = %q, want %q", session.StopReason(), ListenStoppedByUser)
	}

	// Stopped sessions are gone from the index.
	if _, ok := svc.Session(session.ID); ok {
		t.Error("stopped session still registered")
	}
	if svc.StopListen(session.ID) {
		t.Error("StopListen() = true for already-stopped session")
	}
}

func TestHarness_ListenPollFailureDeactivates(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestHarness(t, env, "https://hooks.example.com", time.Second)
	ctx := context.Background()

	def, err := env.registry.Create(ctx, validDefinition("blind"), SecretInput{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	session, err := svc.StartListen(ctx, def.ID)
	if err != nil {
		t.Fatalf("StartListen() error: %v", err)
	}
	t.Cleanup(func() { svc.StopListen(session.ID) })

	env.logRepo.setListErr(errNotFound)

	deadline := time.Now().Add(2 * time.Second)
	for session.Active() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if session.Active() {
		t.Fatal("session still active after poll failure")
	}
	if session.StopReason() != ListenStoppedPollFail {
		t.Errorf("StopReason = %q, want %q", session.StopReason(), ListenStoppedPollFail)
	}
}

func TestHarness_ListenSkipsPreviewForRejectedDeliveries(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestHarness(t, env, "https://hooks.example.com", time.Second)
	ctx := context.Background()

	def, err := env.registry.Create(ctx, validDefinition("rejected"), SecretInput{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	session, err := svc.StartListen(ctx, def.ID)
	if err != nil {
		t.Fatalf("StartListen() error: %v", err)
	}
	t.Cleanup(func() { svc.StopListen(session.ID) })

	// A delivery that failed validation at the gate.
	entry := &models.WebhookLog{
		WebhookID:        def.ID,
		Timestamp:        time.Now().UTC().Add(time.Millisecond),
		Method:           "POST",
		Headers:          map[string]string{"Content-Type": "application/json"},
		Body:             `{"unexpected":"shape"}`,
		StatusCode:       400,
		WasProcessed:     false,
		ValidationErrors: []string{"missing required field: patient_id"},
	}
	if err := env.repos.WebhookLog.Create(ctx, entry); err != nil {
		t.Fatalf("log Create() error: %v", err)
	}

	events := waitForEvents(t, session, 1)
	if events[0].Log.ID != entry.ID {
		t.Errorf("observed log %q, want %q", events[0].Log.ID, entry.ID)
	}
	if events[0].Preview != nil {
		t.Error("rejected delivery carries a mapping preview")
	}
}

func TestHarness_ActiveSessionsExcludesStopped(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestHarness(t, env, "https://hooks.example.com", time.Second)
	ctx := context.Background()

	def, err := env.registry.Create(ctx, validDefinition("countable"), SecretInput{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	session, err := svc.StartListen(ctx, def.ID)
	if err != nil {
		t.Fatalf("StartListen() error: %v", err)
	}
	t.Cleanup(func() { svc.StopListen(session.ID) })

	if got := svc.ActiveSessions(); got != 1 {
		t.Fatalf("ActiveSessions() = %d, want 1", got)
	}

	// The poller deactivates itself when it loses the log stream.
	env.logRepo.setListErr(errNotFound)
	deadline := time.Now().Add(2 * time.Second)
	for session.Active() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if session.Active() {
		t.Fatal("session still active after poll failure")
	}

	if got := svc.ActiveSessions(); got != 0 {
		t.Errorf("ActiveSessions() = %d, want 0 after self-stop", got)
	}
	// The session stays retrievable so the operator can see why it ended.
	if _, ok := svc.Session(session.ID); !ok {
		t.Error("self-stopped session no longer retrievable")
	}
}

func TestHarness_ShutdownStopsAllSessions(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestHarness(t, env, "https://hooks.example.com", time.Second)
	ctx := context.Background()

	def, err := env.registry.Create(ctx, validDefinition("shutdown"), SecretInput{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	s1, err := svc.StartListen(ctx, def.ID)
	if err != nil {
		t.Fatalf("StartListen() error: %v", err)
	}
	s2, err := svc.StartListen(ctx, def.ID)
	if err != nil {
		t.Fatalf("StartListen() error: %v", err)
	}

	svc.Shutdown()

	if s1.Active() || s2.Active() {
		t.Error("sessions still active after Shutdown()")
	}
}
