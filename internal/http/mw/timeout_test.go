package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// ========================================
// Timeout Middleware Tests
// ========================================

func TestTimeout_DefaultPath(t *testing.T) {
	cfg := TimeoutConfig{
		Default:          50 * time.Millisecond,
		Extended:         100 * time.Millisecond,
		ExtendedPatterns: []string{"/test/execute"},
		SkipPatterns:     []string{"/listen"},
	}

	handler := Timeout(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Respond immediately
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestTimeout_ExtendedPath(t *testing.T) {
	cfg := TimeoutConfig{
		Default:          10 * time.Millisecond,
		Extended:         100 * time.Millisecond,
		ExtendedPatterns: []string{"/test/execute"},
		SkipPatterns:     []string{"/listen"},
	}

	handler := Timeout(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Sleep longer than default but less than extended
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/abc/test/execute", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (extended timeout should allow request)", rec.Code, http.StatusOK)
	}
}

func TestTimeout_SkipPath(t *testing.T) {
	cfg := TimeoutConfig{
		Default:          10 * time.Millisecond,
		Extended:         50 * time.Millisecond,
		ExtendedPatterns: []string{"/test/execute"},
		SkipPatterns:     []string{"/listen"},
	}

	handler := Timeout(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Sleep longer than all timeouts
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/abc/listen", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	// Skip paths have no timeout, so this should succeed
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (skip pattern should bypass timeout)", rec.Code, http.StatusOK)
	}
}

func TestTimeout_DefaultTimedOut(t *testing.T) {
	cfg := TimeoutConfig{
		Default:          10 * time.Millisecond,
		Extended:         100 * time.Millisecond,
		ExtendedPatterns: []string{"/test/execute"},
		SkipPatterns:     []string{"/listen"},
	}

	handler := Timeout(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Sleep longer than default timeout
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want %d (should timeout)", rec.Code, http.StatusGatewayTimeout)
	}
}

func TestTimeout_EmptyConfig(t *testing.T) {
	cfg := TimeoutConfig{
		Default:          50 * time.Millisecond,
		Extended:         100 * time.Millisecond,
		ExtendedPatterns: []string{},
		SkipPatterns:     []string{},
	}

	handler := Timeout(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/any/path", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
