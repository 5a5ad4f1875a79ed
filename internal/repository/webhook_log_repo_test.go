package repository

import (
	"context"
	"testing"
	"time"

	"github.com/clinova/hookbridge/internal/models"
)

// ========================================
// WebhookLogRepository Tests
// ========================================

func TestWebhookLogRepository_CreateAndGet(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	log := &models.WebhookLog{
		WebhookID:  "wh_01ABC",
		Method:     "POST",
		SourceIP:   "203.0.113.7",
		UserAgent:  "curl/8.5.0",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       `{"name":"Ada"}`,
		StatusCode: 200,
		ResponseBody: `{"success":true}`,
		ResponseTimeMs:   12,
		WasProcessed:     true,
		ValidationErrors: []string{"required field missing: phone"},
	}
	if err := repos.WebhookLog.Create(ctx, log); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if log.ID == "" {
		t.Fatal("Create() did not assign an ID")
	}
	if log.Timestamp.IsZero() {
		t.Fatal("Create() did not default the timestamp")
	}

	got, err := repos.WebhookLog.GetByID(ctx, log.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got == nil {
		t.Fatal("GetByID() = nil for existing log")
	}
	if got.Body != log.Body {
		t.Errorf("Body = %q, want %q", got.Body, log.Body)
	}
	if got.Headers["Content-Type"] != "application/json" {
		t.Errorf("Headers = %v, want Content-Type round-tripped", got.Headers)
	}
	if len(got.ValidationErrors) != 1 {
		t.Errorf("ValidationErrors = %v, want one entry", got.ValidationErrors)
	}
	if !got.WasProcessed {
		t.Error("WasProcessed = false, want true")
	}
}

func TestWebhookLogRepository_GetByIDNotFound(t *testing.T) {
	repos := setupTestRepos(t)

	got, err := repos.WebhookLog.GetByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got != nil {
		t.Errorf("GetByID() = %+v, want nil", got)
	}
}

func TestWebhookLogRepository_QueryFilters(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	insertTestLog(t, repos, "wh_A", base, true)
	insertTestLog(t, repos, "wh_A", base.Add(time.Minute), false)
	insertTestLog(t, repos, "wh_A", base.Add(2*time.Minute), true)
	insertTestLog(t, repos, "wh_B", base, true)

	all, err := repos.WebhookLog.Query(ctx, "wh_A", models.LogFilterAll, time.Time{}, time.Time{}, 50, 0)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Query(all) returned %d logs, want 3", len(all))
	}
	// Newest first.
	if !all[0].Timestamp.After(all[1].Timestamp) || !all[1].Timestamp.After(all[2].Timestamp) {
		t.Error("Query() results not ordered newest first")
	}

	success, err := repos.WebhookLog.Query(ctx, "wh_A", models.LogFilterSuccess, time.Time{}, time.Time{}, 50, 0)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(success) != 2 {
		t.Errorf("Query(success) returned %d logs, want 2", len(success))
	}

	failed, err := repos.WebhookLog.Query(ctx, "wh_A", models.LogFilterError, time.Time{}, time.Time{}, 50, 0)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(failed) != 1 {
		t.Errorf("Query(error) returned %d logs, want 1", len(failed))
	}
}

func TestWebhookLogRepository_QueryTimeRange(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		insertTestLog(t, repos, "wh_A", base.Add(time.Duration(i)*time.Hour), true)
	}

	got, err := repos.WebhookLog.Query(ctx, "wh_A", models.LogFilterAll, base.Add(time.Hour), base.Add(3*time.Hour), 50, 0)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("Query() in range returned %d logs, want 3", len(got))
	}
}

func TestWebhookLogRepository_QueryPagination(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		insertTestLog(t, repos, "wh_A", base.Add(time.Duration(i)*time.Minute), true)
	}

	page1, err := repos.WebhookLog.Query(ctx, "wh_A", models.LogFilterAll, time.Time{}, time.Time{}, 2, 0)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	page2, err := repos.WebhookLog.Query(ctx, "wh_A", models.LogFilterAll, time.Time{}, time.Time{}, 2, 2)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(page1) != 2 || len(page2) != 2 {
		t.Fatalf("pages have %d and %d logs, want 2 and 2", len(page1), len(page2))
	}
	if page1[0].ID == page2[0].ID {
		t.Error("pagination returned overlapping pages")
	}
}

func TestWebhookLogRepository_ListSince(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	insertTestLog(t, repos, "wh_A", base, true)
	newer1 := insertTestLog(t, repos, "wh_A", base.Add(time.Second), true)
	newer2 := insertTestLog(t, repos, "wh_A", base.Add(2*time.Second), false)

	got, err := repos.WebhookLog.ListSince(ctx, "wh_A", base)
	if err != nil {
		t.Fatalf("ListSince() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListSince() returned %d logs, want 2", len(got))
	}
	// Oldest first so the caller can advance its watermark in order.
	if got[0].ID != newer1.ID || got[1].ID != newer2.ID {
		t.Errorf("ListSince() order = [%s %s], want [%s %s]", got[0].ID, got[1].ID, newer1.ID, newer2.ID)
	}

	// The watermark itself is excluded.
	none, err := repos.WebhookLog.ListSince(ctx, "wh_A", base.Add(2*time.Second))
	if err != nil {
		t.Fatalf("ListSince() error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("ListSince() at latest watermark returned %d logs, want 0", len(none))
	}
}

func TestWebhookLogRepository_ListOlderThan(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	old1 := insertTestLog(t, repos, "wh_A", base.Add(-48*time.Hour), true)
	old2 := insertTestLog(t, repos, "wh_B", base.Add(-25*time.Hour), false)
	insertTestLog(t, repos, "wh_A", base.Add(-time.Hour), true)

	expired, err := repos.WebhookLog.ListOlderThan(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListOlderThan() error: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("ListOlderThan() returned %d logs, want 2", len(expired))
	}
	// Oldest first.
	if expired[0].ID != old1.ID || expired[1].ID != old2.ID {
		t.Errorf("ListOlderThan() order = [%s %s], want [%s %s]", expired[0].ID, expired[1].ID, old1.ID, old2.ID)
	}

	// Listing does not delete anything.
	for _, id := range []string{old1.ID, old2.ID} {
		got, err := repos.WebhookLog.GetByID(ctx, id)
		if err != nil || got == nil {
			t.Errorf("log %s missing after ListOlderThan(): (%+v, %v)", id, got, err)
		}
	}
}

func TestWebhookLogRepository_DeleteOlderThan(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	old1 := insertTestLog(t, repos, "wh_A", base.Add(-48*time.Hour), true)
	insertTestLog(t, repos, "wh_B", base.Add(-25*time.Hour), false)
	kept := insertTestLog(t, repos, "wh_A", base.Add(-time.Hour), true)

	deleted, err := repos.WebhookLog.DeleteOlderThan(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan() error: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("DeleteOlderThan() = %d, want 2", deleted)
	}

	remaining, err := repos.WebhookLog.GetByID(ctx, kept.ID)
	if err != nil || remaining == nil {
		t.Errorf("recent log missing after retention sweep: (%+v, %v)", remaining, err)
	}
	gone, _ := repos.WebhookLog.GetByID(ctx, old1.ID)
	if gone != nil {
		t.Error("expired log still present after DeleteOlderThan()")
	}
}

func TestWebhookLogRepository_DeleteOlderThanEmpty(t *testing.T) {
	repos := setupTestRepos(t)

	deleted, err := repos.WebhookLog.DeleteOlderThan(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("DeleteOlderThan() error: %v", err)
	}
	if deleted != 0 {
		t.Errorf("DeleteOlderThan() on empty table = %d, want 0", deleted)
	}
}
