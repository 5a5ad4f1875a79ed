package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/clinova/hookbridge/internal/models"
	"github.com/clinova/hookbridge/internal/service"
)

// WebhookHandler handles webhook definition CRUD endpoints.
type WebhookHandler struct {
	registry *service.RegistryService
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(registry *service.RegistryService) *WebhookHandler {
	return &WebhookHandler{registry: registry}
}

// WebhookInput represents webhook definition data in API requests.
// Credentials arrive in plaintext and are encrypted before storage; they
// never appear in responses.
type WebhookInput struct {
	Name        string           `json:"name" minLength:"1" maxLength:"128" doc:"Display name"`
	Slug        string           `json:"slug" minLength:"1" maxLength:"64" doc:"URL slug, unique across all webhooks"`
	Description string           `json:"description,omitempty" maxLength:"512" doc:"Free-form description"`
	Direction   models.Direction `json:"direction,omitempty" enum:"incoming,outgoing,bidirectional" doc:"Data flow direction"`

	AllowedMethods []string `json:"allowed_methods,omitempty" doc:"HTTP methods this webhook accepts (GET must be the sole method when selected)"`

	AuthType     models.AuthType `json:"auth_type,omitempty" enum:"none,bearer,hmac,api_key" doc:"Inbound authentication scheme"`
	Token        string          `json:"token,omitempty" maxLength:"256" doc:"Bearer token (write-only)"`
	SecretKey    string          `json:"secret_key,omitempty" maxLength:"256" doc:"HMAC shared secret (write-only)"`
	APIKey       string          `json:"api_key,omitempty" maxLength:"256" doc:"API key (write-only)"`
	APIKeyHeader string          `json:"api_key_header,omitempty" doc:"Header carrying the API key (default X-API-Key)"`

	IPAllowlist        []string `json:"ip_allowlist,omitempty" doc:"Allowed source IPs or CIDRs (empty allows all)"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute,omitempty" minimum:"0" doc:"Requests per minute (0 uses the default)"`

	CustomHeaders []models.Header `json:"custom_headers,omitempty" maxItems:"10" doc:"Headers attached to outbound deliveries"`
	TargetURL     string          `json:"target_url,omitempty" format:"uri" doc:"Outbound delivery URL"`
	TriggerEvents []string        `json:"trigger_events,omitempty" doc:"Platform events that trigger outbound delivery"`

	ExpectedSchemaJSON string                `json:"expected_schema_json,omitempty" doc:"Advisory JSON schema for senders (documentation only)"`
	DataMapping        models.DataMapping    `json:"data_mapping,omitempty" doc:"Payload-to-record mapping"`
	ResponseConfig     models.ResponseConfig `json:"response_config,omitempty" doc:"Caller-facing response shape"`

	IsActive bool `json:"is_active" doc:"Whether this webhook accepts traffic"`
}

// WebhookResponse represents a webhook definition in API responses.
type WebhookResponse struct {
	ID          string           `json:"id" doc:"Unique webhook ID"`
	Slug        string           `json:"slug" doc:"URL slug"`
	Name        string           `json:"name" doc:"Display name"`
	Description string           `json:"description,omitempty"`
	Direction   models.Direction `json:"direction"`
	IngestPath  string           `json:"ingest_path" doc:"Public path this webhook listens on"`

	AllowedMethods []string `json:"allowed_methods"`

	AuthType     models.AuthType `json:"auth_type"`
	HasToken     bool            `json:"has_token" doc:"Whether a bearer token is configured"`
	HasSecretKey bool            `json:"has_secret_key" doc:"Whether an HMAC secret is configured"`
	HasAPIKey    bool            `json:"has_api_key" doc:"Whether an API key is configured"`
	APIKeyHeader string          `json:"api_key_header,omitempty"`

	IPAllowlist        []string `json:"ip_allowlist,omitempty"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute"`

	CustomHeaders []models.Header `json:"custom_headers,omitempty"`
	TargetURL     string          `json:"target_url,omitempty"`
	TriggerEvents []string        `json:"trigger_events,omitempty"`

	ExpectedSchemaJSON string                `json:"expected_schema_json,omitempty"`
	DataMapping        models.DataMapping    `json:"data_mapping"`
	ResponseConfig     models.ResponseConfig `json:"response_config"`

	IsActive        bool    `json:"is_active"`
	TotalCalls      int     `json:"total_calls"`
	SuccessfulCalls int     `json:"successful_calls"`
	LastTriggered   *string `json:"last_triggered,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func webhookToResponse(def *models.WebhookDefinition) WebhookResponse {
	resp := WebhookResponse{
		ID:                 def.ID,
		Slug:               def.Slug,
		Name:               def.Name,
		Description:        def.Description,
		Direction:          def.Direction,
		IngestPath:         service.IngestPath(def),
		AllowedMethods:     def.AllowedMethods,
		AuthType:           def.AuthType,
		HasToken:           def.TokenEncrypted != "",
		HasSecretKey:       def.SecretKeyEncrypted != "",
		HasAPIKey:          def.APIKeyEncrypted != "",
		APIKeyHeader:       def.APIKeyHeader,
		IPAllowlist:        def.IPAllowlist,
		RateLimitPerMinute: def.RateLimitPerMinute,
		CustomHeaders:      def.CustomHeaders,
		TargetURL:          def.TargetURL,
		TriggerEvents:      def.TriggerEvents,
		ExpectedSchemaJSON: def.ExpectedSchemaJSON,
		DataMapping:        def.DataMapping,
		ResponseConfig:     def.ResponseConfig,
		IsActive:           def.IsActive,
		TotalCalls:         def.TotalCalls,
		SuccessfulCalls:    def.SuccessfulCalls,
		CreatedAt:          def.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          def.UpdatedAt.Format(time.RFC3339),
	}
	if def.LastTriggered != nil {
		s := def.LastTriggered.Format(time.RFC3339)
		resp.LastTriggered = &s
	}
	return resp
}

func (in *WebhookInput) toDefinition() (*models.WebhookDefinition, service.SecretInput) {
	def := &models.WebhookDefinition{
		Slug:               in.Slug,
		Name:               in.Name,
		Description:        in.Description,
		Direction:          in.Direction,
		AllowedMethods:     in.AllowedMethods,
		AuthType:           in.AuthType,
		APIKeyHeader:       in.APIKeyHeader,
		IPAllowlist:        in.IPAllowlist,
		RateLimitPerMinute: in.RateLimitPerMinute,
		CustomHeaders:      in.CustomHeaders,
		TargetURL:          in.TargetURL,
		TriggerEvents:      in.TriggerEvents,
		ExpectedSchemaJSON: in.ExpectedSchemaJSON,
		DataMapping:        in.DataMapping,
		ResponseConfig:     in.ResponseConfig,
		IsActive:           in.IsActive,
	}
	secrets := service.SecretInput{
		Token:     in.Token,
		SecretKey: in.SecretKey,
		APIKey:    in.APIKey,
	}
	return def, secrets
}

// serviceError translates service-layer failures into huma errors.
func serviceError(err error) error {
	var validationErr *service.ValidationError
	switch {
	case errors.Is(err, service.ErrWebhookNotFound):
		return huma.Error404NotFound("webhook not found")
	case errors.Is(err, service.ErrSlugTaken):
		return huma.Error409Conflict("slug is already in use")
	case errors.As(err, &validationErr):
		return huma.Error422UnprocessableEntity(validationErr.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}

// ListWebhooksOutput represents the list webhooks response.
type ListWebhooksOutput struct {
	Body struct {
		Webhooks []WebhookResponse `json:"webhooks" doc:"All webhook definitions"`
	}
}

// ListWebhooks returns all webhook definitions.
func (h *WebhookHandler) ListWebhooks(ctx context.Context, input *struct{}) (*ListWebhooksOutput, error) {
	defs, err := h.registry.List(ctx)
	if err != nil {
		return nil, serviceError(err)
	}

	out := &ListWebhooksOutput{}
	out.Body.Webhooks = make([]WebhookResponse, 0, len(defs))
	for _, def := range defs {
		out.Body.Webhooks = append(out.Body.Webhooks, webhookToResponse(def))
	}
	return out, nil
}

// GetWebhookInput represents the get webhook request.
type GetWebhookInput struct {
	ID string `path:"id" doc:"Webhook ID"`
}

// GetWebhookOutput represents the get webhook response.
type GetWebhookOutput struct {
	Body WebhookResponse
}

// GetWebhook returns a specific webhook definition.
func (h *WebhookHandler) GetWebhook(ctx context.Context, input *GetWebhookInput) (*GetWebhookOutput, error) {
	def, err := h.registry.Get(ctx, input.ID)
	if err != nil {
		return nil, serviceError(err)
	}
	return &GetWebhookOutput{Body: webhookToResponse(def)}, nil
}

// CreateWebhookInput represents the create webhook request.
type CreateWebhookInput struct {
	Body WebhookInput
}

// CreateWebhookOutput represents the create webhook response.
type CreateWebhookOutput struct {
	Body WebhookResponse
}

// CreateWebhook creates a new webhook definition.
func (h *WebhookHandler) CreateWebhook(ctx context.Context, input *CreateWebhookInput) (*CreateWebhookOutput, error) {
	def, secrets := input.Body.toDefinition()
	created, err := h.registry.Create(ctx, def, secrets)
	if err != nil {
		return nil, serviceError(err)
	}
	return &CreateWebhookOutput{Body: webhookToResponse(created)}, nil
}

// PatchWebhookInput represents the partial update request. Nested
// configuration objects merge with the stored definition; top-level fields
// replace it.
type PatchWebhookInput struct {
	ID   string         `path:"id" doc:"Webhook ID"`
	Body map[string]any `doc:"Fields to change"`
}

// PatchWebhookOutput represents the partial update response.
type PatchWebhookOutput struct {
	Body WebhookResponse
}

// PatchWebhook applies a partial update to a webhook definition.
func (h *WebhookHandler) PatchWebhook(ctx context.Context, input *PatchWebhookInput) (*PatchWebhookOutput, error) {
	updated, err := h.registry.Patch(ctx, input.ID, input.Body)
	if err != nil {
		return nil, serviceError(err)
	}
	return &PatchWebhookOutput{Body: webhookToResponse(updated)}, nil
}

// SetWebhookActiveInput represents the activate/deactivate request.
type SetWebhookActiveInput struct {
	ID   string `path:"id" doc:"Webhook ID"`
	Body struct {
		IsActive bool `json:"is_active" doc:"Whether this webhook accepts traffic"`
	}
}

// SetWebhookActiveOutput represents the activate/deactivate response.
type SetWebhookActiveOutput struct {
	Body struct {
		ID       string `json:"id"`
		IsActive bool   `json:"is_active"`
	}
}

// SetWebhookActive toggles a webhook without touching its configuration.
func (h *WebhookHandler) SetWebhookActive(ctx context.Context, input *SetWebhookActiveInput) (*SetWebhookActiveOutput, error) {
	if err := h.registry.SetActive(ctx, input.ID, input.Body.IsActive); err != nil {
		return nil, serviceError(err)
	}
	out := &SetWebhookActiveOutput{}
	out.Body.ID = input.ID
	out.Body.IsActive = input.Body.IsActive
	return out, nil
}

// DeleteWebhookInput represents the delete webhook request.
type DeleteWebhookInput struct {
	ID string `path:"id" doc:"Webhook ID"`
}

// DeleteWebhookOutput represents the delete webhook response.
type DeleteWebhookOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

// DeleteWebhook removes a webhook definition. Its logs are retained.
func (h *WebhookHandler) DeleteWebhook(ctx context.Context, input *DeleteWebhookInput) (*DeleteWebhookOutput, error) {
	if err := h.registry.Delete(ctx, input.ID); err != nil {
		return nil, serviceError(err)
	}
	out := &DeleteWebhookOutput{}
	out.Body.Deleted = true
	return out, nil
}

// ValidateSlugInput represents the slug validation request.
type ValidateSlugInput struct {
	Slug      string `query:"slug" required:"true" doc:"Slug to check"`
	ExcludeID string `query:"exclude_id" doc:"Webhook ID to ignore (for renames)"`
}

// ValidateSlugOutput represents the slug validation response.
type ValidateSlugOutput struct {
	Body models.SlugValidation
}

// ValidateSlug checks slug availability without side effects.
func (h *WebhookHandler) ValidateSlug(ctx context.Context, input *ValidateSlugInput) (*ValidateSlugOutput, error) {
	result, err := h.registry.ValidateSlug(ctx, input.Slug, input.ExcludeID)
	if err != nil {
		return nil, serviceError(err)
	}
	return &ValidateSlugOutput{Body: *result}, nil
}
