package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentpilot/ai-gateway/middleware"
	"github.com/contentpilot/ai-gateway/models"
	"github.com/contentpilot/ai-gateway/services/registry"
	"github.com/contentpilot/ai-gateway/utils"
)

// UpdateProviderRequest represents a partial provider update
type UpdateProviderRequest struct {
	Name       *string `json:"name,omitempty" validate:"omitempty,min=2,max=100"`
	Enabled    *bool   `json:"enabled,omitempty"`
	RateLimit  *int    `json:"rate_limit,omitempty" validate:"omitempty,gte=0"`
	UsageLimit *int64  `json:"usage_limit,omitempty" validate:"omitempty,gte=0"`
}

// ProviderHandler handles provider management HTTP requests
type ProviderHandler struct {
	registry *registry.Registry
	logger   *zap.Logger
}

// NewProviderHandler creates a new ProviderHandler
func NewProviderHandler(reg *registry.Registry, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{
		registry: reg,
		logger:   logger,
	}
}

// HandleListProviders handles GET /api/v1/providers
func (h *ProviderHandler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	providers := h.registry.List(r.Context())
	_ = utils.WriteOK(w, providers)
}

// HandleGetProvider handles GET /api/v1/providers/{id}
func (h *ProviderHandler) HandleGetProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := h.providerID(w, r)
	if !ok {
		return
	}

	provider, err := h.registry.Get(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, provider)
}

// HandleUpdateProvider handles PATCH /api/v1/providers/{id}
func (h *ProviderHandler) HandleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	id, ok := h.providerID(w, r)
	if !ok {
		return
	}

	var req UpdateProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	update := &models.ProviderUpdate{
		Name:       req.Name,
		Enabled:    req.Enabled,
		RateLimit:  req.RateLimit,
		UsageLimit: req.UsageLimit,
	}

	provider, err := h.registry.Update(ctx, id, update)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("provider updated",
		zap.String("request_id", requestID),
		zap.String("provider_id", id.String()),
		zap.String("name", provider.Name))

	_ = utils.WriteOK(w, provider)
}

// HandleResetUsage handles POST /api/v1/providers/{id}/usage/reset
func (h *ProviderHandler) HandleResetUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	id, ok := h.providerID(w, r)
	if !ok {
		return
	}

	if err := h.registry.ResetUsage(ctx, id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("provider usage reset",
		zap.String("request_id", requestID),
		zap.String("provider_id", id.String()))

	utils.WriteNoContent(w)
}

// providerID parses the {id} URL parameter, writing a 400 on failure
func (h *ProviderHandler) providerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid provider ID format", nil)
		return uuid.Nil, false
	}
	return id, true
}
