package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/clinova/hookbridge/internal/crypto"
	"github.com/clinova/hookbridge/internal/mapping"
	"github.com/clinova/hookbridge/internal/models"
	"github.com/clinova/hookbridge/internal/repository"
	"github.com/clinova/hookbridge/internal/security"
)

var (
	// ErrWebhookNotFound is returned when no definition matches the lookup.
	ErrWebhookNotFound = errors.New("webhook not found")
	// ErrSlugTaken is returned when a create or update collides with an
	// existing slug.
	ErrSlugTaken = errors.New("slug is already in use")
)

// ValidationError carries the per-field problems of a rejected definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid webhook configuration: " + strings.Join(e.Problems, "; ")
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// RegistryService manages webhook definitions. Credentials are encrypted
// before they reach the repository and decrypted only at the point of use.
type RegistryService struct {
	repos            *repository.Repositories
	encryptor        *crypto.Encryptor
	defaultRateLimit int
	logger           *slog.Logger
}

// NewRegistryService creates a new registry service.
func NewRegistryService(repos *repository.Repositories, encryptor *crypto.Encryptor, defaultRateLimit int, logger *slog.Logger) *RegistryService {
	return &RegistryService{
		repos:            repos,
		encryptor:        encryptor,
		defaultRateLimit: defaultRateLimit,
		logger:           logger,
	}
}

// SecretInput carries plaintext credentials supplied on create or update.
// Empty fields leave the stored credential untouched.
type SecretInput struct {
	Token     string `json:"token,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
}

// Create validates and persists a new webhook definition.
func (s *RegistryService) Create(ctx context.Context, def *models.WebhookDefinition, secrets SecretInput) (*models.WebhookDefinition, error) {
	s.applyDefaults(def)
	if err := s.encryptSecrets(def, secrets); err != nil {
		return nil, err
	}
	if err := s.validate(ctx, def); err != nil {
		return nil, err
	}

	if err := s.repos.WebhookDefinition.Create(ctx, def); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrSlugTaken
		}
		return nil, fmt.Errorf("failed to create webhook: %w", err)
	}

	s.logger.Info("webhook created", "webhook_id", def.ID, "slug", def.Slug)
	return def, nil
}

// Get returns a definition by ID.
func (s *RegistryService) Get(ctx context.Context, id string) (*models.WebhookDefinition, error) {
	def, err := s.repos.WebhookDefinition.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	if def == nil {
		return nil, ErrWebhookNotFound
	}
	return def, nil
}

// List returns all definitions.
func (s *RegistryService) List(ctx context.Context) ([]*models.WebhookDefinition, error) {
	defs, err := s.repos.WebhookDefinition.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	return defs, nil
}

// Resolve looks up an active-or-not definition by ID and slug and decrypts
// its credentials for the security evaluator. Both identifiers must match.
func (s *RegistryService) Resolve(ctx context.Context, id, slug string) (*models.WebhookDefinition, security.Secrets, error) {
	def, err := s.repos.WebhookDefinition.GetByID(ctx, id)
	if err != nil {
		return nil, security.Secrets{}, fmt.Errorf("failed to resolve webhook: %w", err)
	}
	if def == nil || def.Slug != slug {
		return nil, security.Secrets{}, ErrWebhookNotFound
	}

	secrets, err := s.DecryptSecrets(def)
	if err != nil {
		return nil, security.Secrets{}, err
	}
	return def, secrets, nil
}

// DecryptSecrets recovers the plaintext credentials of a definition.
func (s *RegistryService) DecryptSecrets(def *models.WebhookDefinition) (security.Secrets, error) {
	var out security.Secrets
	var err error

	if out.Token, err = s.decryptField(def.TokenEncrypted); err != nil {
		return security.Secrets{}, fmt.Errorf("failed to decrypt token: %w", err)
	}
	if out.SecretKey, err = s.decryptField(def.SecretKeyEncrypted); err != nil {
		return security.Secrets{}, fmt.Errorf("failed to decrypt secret key: %w", err)
	}
	if out.APIKey, err = s.decryptField(def.APIKeyEncrypted); err != nil {
		return security.Secrets{}, fmt.Errorf("failed to decrypt api key: %w", err)
	}
	return out, nil
}

// Patch applies a partial update. Top-level scalar fields are replaced;
// nested configuration objects (dataMapping, responseConfig) are merged
// recursively so a patch can adjust a single field mapping without
// resending the whole map.
func (s *RegistryService) Patch(ctx context.Context, id string, patch map[string]any) (*models.WebhookDefinition, error) {
	def, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	secrets := extractSecretInput(patch)

	current, err := definitionAsMap(def)
	if err != nil {
		return nil, err
	}
	merged := deepMerge(current, patch)

	updated := &models.WebhookDefinition{}
	if err := remarshal(merged, updated); err != nil {
		return nil, &ValidationError{Problems: []string{"patch does not match the webhook schema: " + err.Error()}}
	}

	// Identity and telemetry fields are not patchable.
	updated.ID = def.ID
	updated.TokenEncrypted = def.TokenEncrypted
	updated.SecretKeyEncrypted = def.SecretKeyEncrypted
	updated.APIKeyEncrypted = def.APIKeyEncrypted
	updated.TotalCalls = def.TotalCalls
	updated.SuccessfulCalls = def.SuccessfulCalls
	updated.LastTriggered = def.LastTriggered
	updated.CreatedAt = def.CreatedAt

	s.applyDefaults(updated)
	if err := s.encryptSecrets(updated, secrets); err != nil {
		return nil, err
	}
	if err := s.validate(ctx, updated); err != nil {
		return nil, err
	}

	if err := s.repos.WebhookDefinition.Update(ctx, updated); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrSlugTaken
		}
		return nil, fmt.Errorf("failed to update webhook: %w", err)
	}

	s.logger.Info("webhook updated", "webhook_id", updated.ID, "slug", updated.Slug)
	return updated, nil
}

// SetActive toggles a definition without touching the rest of its config.
func (s *RegistryService) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.repos.WebhookDefinition.SetActive(ctx, id, active); err != nil {
		return ErrWebhookNotFound
	}
	s.logger.Info("webhook active state changed", "webhook_id", id, "active", active)
	return nil
}

// Delete removes a definition. Historical logs are retained; they keep the
// webhook ID as an orphan reference.
func (s *RegistryService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repos.WebhookDefinition.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	s.logger.Info("webhook deleted", "webhook_id", id)
	return nil
}

// ValidateSlug checks slug availability without side effects. When the slug
// is taken it offers free alternatives.
func (s *RegistryService) ValidateSlug(ctx context.Context, slug, excludeID string) (*models.SlugValidation, error) {
	if !slugPattern.MatchString(slug) {
		return &models.SlugValidation{IsAvailable: false}, nil
	}

	exists, err := s.repos.WebhookDefinition.SlugExists(ctx, slug, excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to check slug: %w", err)
	}
	if !exists {
		return &models.SlugValidation{IsAvailable: true}, nil
	}

	result := &models.SlugValidation{IsAvailable: false}
	for i := 2; i <= 20 && len(result.Suggestions) < 3; i++ {
		candidate := fmt.Sprintf("%s-%d", slug, i)
		taken, err := s.repos.WebhookDefinition.SlugExists(ctx, candidate, excludeID)
		if err != nil {
			return nil, fmt.Errorf("failed to check slug: %w", err)
		}
		if !taken {
			result.Suggestions = append(result.Suggestions, candidate)
		}
	}
	return result, nil
}

// RecordCall bumps the telemetry counters after an inbound exchange.
func (s *RegistryService) RecordCall(ctx context.Context, id string, success bool, at time.Time) {
	if err := s.repos.WebhookDefinition.RecordCall(ctx, id, success, at); err != nil {
		s.logger.Warn("failed to record webhook call", "webhook_id", id, "error", err)
	}
}

func (s *RegistryService) applyDefaults(def *models.WebhookDefinition) {
	if len(def.AllowedMethods) == 0 {
		def.AllowedMethods = []string{"POST"}
	}
	for i, m := range def.AllowedMethods {
		def.AllowedMethods[i] = strings.ToUpper(m)
	}
	if def.AuthType == "" {
		def.AuthType = models.AuthTypeNone
	}
	if def.Direction == "" {
		def.Direction = models.DirectionIncoming
	}
	if def.APIKeyHeader == "" && def.AuthType == models.AuthTypeAPIKey {
		def.APIKeyHeader = security.DefaultAPIKeyHeader
	}
	if def.RateLimitPerMinute == 0 {
		def.RateLimitPerMinute = s.defaultRateLimit
	}
	if def.ResponseConfig.Type == "" {
		def.ResponseConfig.Type = models.ResponseTypeSimple
	}
}

func (s *RegistryService) encryptSecrets(def *models.WebhookDefinition, secrets SecretInput) error {
	set := func(dst *string, plaintext string) error {
		if plaintext == "" {
			return nil
		}
		enc, err := s.encryptor.Encrypt(plaintext)
		if err != nil {
			return fmt.Errorf("failed to encrypt credential: %w", err)
		}
		*dst = enc
		return nil
	}
	if err := set(&def.TokenEncrypted, secrets.Token); err != nil {
		return err
	}
	if err := set(&def.SecretKeyEncrypted, secrets.SecretKey); err != nil {
		return err
	}
	return set(&def.APIKeyEncrypted, secrets.APIKey)
}

func (s *RegistryService) decryptField(enc string) (string, error) {
	if enc == "" {
		return "", nil
	}
	return s.encryptor.Decrypt(enc)
}

func (s *RegistryService) validate(ctx context.Context, def *models.WebhookDefinition) error {
	var problems []string

	if def.Name == "" {
		problems = append(problems, "name is required")
	}
	if def.Slug == "" {
		problems = append(problems, "slug is required")
	} else if !slugPattern.MatchString(def.Slug) {
		problems = append(problems, "slug must be lowercase letters, digits and hyphens")
	}

	switch def.Direction {
	case models.DirectionIncoming, models.DirectionOutgoing, models.DirectionBidirectional:
	default:
		problems = append(problems, fmt.Sprintf("unknown direction %q", def.Direction))
	}

	hasGET := false
	for _, m := range def.AllowedMethods {
		if !knownMethods[m] {
			problems = append(problems, fmt.Sprintf("unsupported method %q", m))
		}
		if m == "GET" {
			hasGET = true
		}
	}
	if hasGET && len(def.AllowedMethods) > 1 {
		problems = append(problems, "GET cannot be combined with other methods")
	}

	switch def.AuthType {
	case models.AuthTypeNone:
	case models.AuthTypeBearer:
		if def.TokenEncrypted == "" {
			problems = append(problems, "bearer auth requires a token")
		}
	case models.AuthTypeHMAC:
		if def.SecretKeyEncrypted == "" {
			problems = append(problems, "hmac auth requires a secret key")
		}
	case models.AuthTypeAPIKey:
		if def.APIKeyEncrypted == "" {
			problems = append(problems, "api_key auth requires a key")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown auth type %q", def.AuthType))
	}

	for _, entry := range def.IPAllowlist {
		if _, err := netip.ParseAddr(entry); err == nil {
			continue
		}
		if _, err := netip.ParsePrefix(entry); err == nil {
			continue
		}
		problems = append(problems, fmt.Sprintf("invalid IP allowlist entry %q", entry))
	}

	if def.RateLimitPerMinute < 0 {
		problems = append(problems, "rate limit must not be negative")
	}

	if def.Direction != models.DirectionIncoming {
		if def.TargetURL == "" {
			problems = append(problems, "outgoing webhooks require a target URL")
		} else if u, err := url.Parse(def.TargetURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			problems = append(problems, "target URL must be an absolute http(s) URL")
		}
	}

	switch def.ResponseConfig.Type {
	case models.ResponseTypeSimple, models.ResponseTypeCreatedRecord:
	case models.ResponseTypeCustomJSON:
		if def.ResponseConfig.CustomJSON != "" {
			// The response composer merges this into an object, so a bare
			// array or scalar would be silently discarded at serve time.
			var obj map[string]json.RawMessage
			if err := json.Unmarshal([]byte(def.ResponseConfig.CustomJSON), &obj); err != nil || obj == nil {
				problems = append(problems, "custom response body must be a JSON object")
			}
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown response type %q", def.ResponseConfig.Type))
	}

	if def.DataMapping.TargetTable != "" || len(def.DataMapping.FieldMappings) > 0 {
		schema, err := s.repos.SchemaCatalog.GetByName(ctx, def.DataMapping.TargetTable)
		if err != nil {
			return fmt.Errorf("failed to look up target table: %w", err)
		}
		for _, mappingErr := range mapping.Validate(&def.DataMapping, schema) {
			problems = append(problems, mappingErr.Error())
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func extractSecretInput(patch map[string]any) SecretInput {
	take := func(key string) string {
		v, ok := patch[key]
		if !ok {
			return ""
		}
		delete(patch, key)
		s, _ := v.(string)
		return s
	}
	return SecretInput{
		Token:     take("token"),
		SecretKey: take("secret_key"),
		APIKey:    take("api_key"),
	}
}

func definitionAsMap(def *models.WebhookDefinition) (map[string]any, error) {
	raw, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal webhook: %w", err)
	}
	return out, nil
}

func remarshal(src map[string]any, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// deepMerge overlays patch onto base. Maps merge recursively, everything
// else (including arrays) is replaced wholesale. A nil patch value clears
// the base value.
func deepMerge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if v == nil {
			out[k] = nil
			continue
		}
		pm, pok := v.(map[string]any)
		bm, bok := out[k].(map[string]any)
		if pok && bok {
			out[k] = deepMerge(bm, pm)
			continue
		}
		out[k] = v
	}
	return out
}
