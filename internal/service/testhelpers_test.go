package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/clinova/hookbridge/internal/crypto"
	"github.com/clinova/hookbridge/internal/models"
	"github.com/clinova/hookbridge/internal/repository"
)

// ========================================
// Mock Repositories
// ========================================

type mockDefinitionRepo struct {
	mu   sync.RWMutex
	defs map[string]*models.WebhookDefinition

	createErr error
	getErr    error
}

func newMockDefinitionRepo() *mockDefinitionRepo {
	return &mockDefinitionRepo{defs: make(map[string]*models.WebhookDefinition)}
}

func (m *mockDefinitionRepo) Create(ctx context.Context, def *models.WebhookDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.defs {
		if existing.Slug == def.Slug {
			return errUniqueSlug
		}
	}
	if def.ID == "" {
		def.ID = ulid.Make().String()
	}
	def.CreatedAt = time.Now().UTC()
	def.UpdatedAt = def.CreatedAt
	copied := *def
	m.defs[def.ID] = &copied
	return nil
}

func (m *mockDefinitionRepo) GetByID(ctx context.Context, id string) (*models.WebhookDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	def, ok := m.defs[id]
	if !ok {
		return nil, nil
	}
	copied := *def
	return &copied, nil
}

func (m *mockDefinitionRepo) GetBySlug(ctx context.Context, slug string) (*models.WebhookDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, def := range m.defs {
		if def.Slug == slug {
			copied := *def
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockDefinitionRepo) List(ctx context.Context) ([]*models.WebhookDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.WebhookDefinition, 0, len(m.defs))
	for _, def := range m.defs {
		copied := *def
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockDefinitionRepo) ListActive(ctx context.Context) ([]*models.WebhookDefinition, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*models.WebhookDefinition
	for _, def := range all {
		if def.IsActive {
			out = append(out, def)
		}
	}
	return out, nil
}

func (m *mockDefinitionRepo) Update(ctx context.Context, def *models.WebhookDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.defs {
		if existing.Slug == def.Slug && id != def.ID {
			return errUniqueSlug
		}
	}
	def.UpdatedAt = time.Now().UTC()
	copied := *def
	m.defs[def.ID] = &copied
	return nil
}

func (m *mockDefinitionRepo) SetActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[id]
	if !ok {
		return errNotFound
	}
	def.IsActive = active
	return nil
}

func (m *mockDefinitionRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.defs, id)
	return nil
}

func (m *mockDefinitionRepo) SlugExists(ctx context.Context, slug, excludeID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, def := range m.defs {
		if def.Slug == slug && id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockDefinitionRepo) RecordCall(ctx context.Context, id string, success bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[id]
	if !ok {
		return errNotFound
	}
	def.TotalCalls++
	if success {
		def.SuccessfulCalls++
	}
	def.LastTriggered = &at
	return nil
}

type mockLogRepo struct {
	mu   sync.RWMutex
	logs []*models.WebhookLog

	createErr error
	listErr   error
	deleteErr error
}

func newMockLogRepo() *mockLogRepo {
	return &mockLogRepo{}
}

func (m *mockLogRepo) Create(ctx context.Context, log *models.WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if log.ID == "" {
		log.ID = ulid.Make().String()
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}
	copied := *log
	m.logs = append(m.logs, &copied)
	return nil
}

func (m *mockLogRepo) GetByID(ctx context.Context, id string) (*models.WebhookLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, log := range m.logs {
		if log.ID == id {
			copied := *log
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockLogRepo) Query(ctx context.Context, webhookID string, filter models.LogFilter, from, to time.Time, limit, offset int) ([]*models.WebhookLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.WebhookLog
	for _, log := range m.logs {
		if log.WebhookID != webhookID {
			continue
		}
		if filter == models.LogFilterSuccess && !log.WasProcessed {
			continue
		}
		if filter == models.LogFilterError && log.WasProcessed {
			continue
		}
		copied := *log
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *mockLogRepo) ListSince(ctx context.Context, webhookID string, since time.Time) ([]*models.WebhookLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.WebhookLog
	for _, log := range m.logs {
		if log.WebhookID == webhookID && log.Timestamp.After(since) {
			copied := *log
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *mockLogRepo) ListOlderThan(ctx context.Context, before time.Time) ([]*models.WebhookLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var expired []*models.WebhookLog
	for _, log := range m.logs {
		if log.Timestamp.Before(before) {
			copied := *log
			expired = append(expired, &copied)
		}
	}
	return expired, nil
}

func (m *mockLogRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	var kept []*models.WebhookLog
	deleted := 0
	for _, log := range m.logs {
		if log.Timestamp.Before(before) {
			deleted++
		} else {
			kept = append(kept, log)
		}
	}
	m.logs = kept
	return deleted, nil
}

func (m *mockLogRepo) setListErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

func (m *mockLogRepo) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs)
}

func (m *mockLogRepo) last() *models.WebhookLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.logs) == 0 {
		return nil
	}
	copied := *m.logs[len(m.logs)-1]
	return &copied
}

type mockSchemaRepo struct {
	schemas map[string]*models.TableSchema
}

func newMockSchemaRepo(schemas ...*models.TableSchema) *mockSchemaRepo {
	m := &mockSchemaRepo{schemas: make(map[string]*models.TableSchema)}
	for _, s := range schemas {
		m.schemas[s.Name] = s
	}
	return m
}

func (m *mockSchemaRepo) GetByName(ctx context.Context, name string) (*models.TableSchema, error) {
	return m.schemas[name], nil
}

func (m *mockSchemaRepo) List(ctx context.Context) ([]*models.TableSchema, error) {
	out := make([]*models.TableSchema, 0, len(m.schemas))
	for _, s := range m.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockSchemaRepo) Upsert(ctx context.Context, schema *models.TableSchema) error {
	m.schemas[schema.Name] = schema
	return nil
}

type mockRecordRepo struct {
	mu        sync.Mutex
	inserted  []map[string]any
	insertErr error
}

func (m *mockRecordRepo) Insert(ctx context.Context, schema *models.TableSchema, record map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	stored := make(map[string]any, len(record)+3)
	for k, v := range record {
		stored[k] = v
	}
	stored["id"] = ulid.Make().String()
	stored["created_at"] = time.Now().UTC().Format(time.RFC3339)
	stored["updated_at"] = stored["created_at"]
	m.inserted = append(m.inserted, stored)
	return stored, nil
}

var (
	errUniqueSlug = &mockError{"UNIQUE constraint failed: webhook_definitions.slug"}
	errNotFound   = &mockError{"not found"}
)

type mockError struct{ msg string }

func (e *mockError) Error() string { return e.msg }

// ========================================
// Test Fixtures
// ========================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	enc, err := crypto.NewEncryptor(key)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}
	return enc
}

// appointmentSchema is the target table most tests map into.
func appointmentSchema() *models.TableSchema {
	return &models.TableSchema{
		ID:   "sch_appointments",
		Name: "appointments",
		Fields: []models.FieldDef{
			{Name: "id", Type: "text", Auto: true},
			{Name: "person_id", Type: "text"},
			{Name: "starts_at", Type: "datetime", Optional: true},
			{Name: "status", Type: "text", Optional: true},
			{Name: "notes", Type: "text", Optional: true},
			{Name: "created_at", Type: "datetime", Auto: true},
			{Name: "updated_at", Type: "datetime", Auto: true},
		},
	}
}

type testEnv struct {
	repos    *repository.Repositories
	defRepo  *mockDefinitionRepo
	logRepo  *mockLogRepo
	records  *mockRecordRepo
	registry *RegistryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	defRepo := newMockDefinitionRepo()
	logRepo := newMockLogRepo()
	records := &mockRecordRepo{}
	repos := &repository.Repositories{
		WebhookDefinition: defRepo,
		WebhookLog:        logRepo,
		SchemaCatalog:     newMockSchemaRepo(appointmentSchema()),
		Record:            records,
	}
	registry := NewRegistryService(repos, testEncryptor(t), 60, testLogger())
	return &testEnv{
		repos:    repos,
		defRepo:  defRepo,
		logRepo:  logRepo,
		records:  records,
		registry: registry,
	}
}

// validDefinition is a minimal definition that passes registry validation.
func validDefinition(slug string) *models.WebhookDefinition {
	return &models.WebhookDefinition{
		Slug:           slug,
		Name:           "Test " + slug,
		Direction:      models.DirectionIncoming,
		AllowedMethods: []string{"POST"},
		AuthType:       models.AuthTypeNone,
		IsActive:       true,
		DataMapping: models.DataMapping{
			TargetTable: "appointments",
			FieldMappings: map[string]models.FieldMapping{
				"person_id": {Source: "patient_id", Type: models.FieldTypeString, Required: true},
				"status":    {Source: "status", Type: models.FieldTypeString},
			},
		},
		ResponseConfig: models.ResponseConfig{Type: models.ResponseTypeSimple},
	}
}
