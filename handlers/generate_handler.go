package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentpilot/ai-gateway/middleware"
	"github.com/contentpilot/ai-gateway/models"
	"github.com/contentpilot/ai-gateway/services/router"
	"github.com/contentpilot/ai-gateway/utils"
)

// GenerateRequest represents a content generation request
type GenerateRequest struct {
	Prompt              string     `json:"prompt" validate:"required"`
	RequestType         string     `json:"request_type" validate:"required,oneof=title description summary keywords"`
	MaxTokens           int        `json:"max_tokens,omitempty" validate:"omitempty,gte=1,lte=8192"`
	Temperature         float64    `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	PreferredProviderID *uuid.UUID `json:"preferred_provider_id,omitempty"`
	ProductID           *uuid.UUID `json:"product_id,omitempty"`
}

// GenerateResponse represents a successful generation
type GenerateResponse struct {
	Content        string    `json:"content"`
	ProviderID     uuid.UUID `json:"provider_id"`
	ProviderName   string    `json:"provider_name"`
	TokensUsed     int       `json:"tokens_used"`
	Cost           float64   `json:"cost"`
	ResponseTimeMs int64     `json:"response_time_ms"`
}

// GenerateHandler handles content generation HTTP requests
type GenerateHandler struct {
	router *router.Router
	logger *zap.Logger
}

// NewGenerateHandler creates a new GenerateHandler
func NewGenerateHandler(r *router.Router, logger *zap.Logger) *GenerateHandler {
	return &GenerateHandler{
		router: r,
		logger: logger,
	}
}

// HandleGenerate handles POST /api/v1/generate
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	genReq := &models.GenerationRequest{
		Prompt:              req.Prompt,
		RequestType:         req.RequestType,
		MaxTokens:           req.MaxTokens,
		Temperature:         req.Temperature,
		PreferredProviderID: req.PreferredProviderID,
		ProductID:           req.ProductID,
	}

	start := time.Now()
	result, err := h.router.GenerateContent(ctx, genReq)
	if err != nil {
		h.logger.Warn("generation failed",
			zap.String("request_id", requestID),
			zap.String("request_type", req.RequestType),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("generation completed",
		zap.String("request_id", requestID),
		zap.String("request_type", req.RequestType),
		zap.String("provider", result.ProviderName),
		zap.Int("tokens_used", result.TokensUsed))

	_ = utils.WriteOK(w, GenerateResponse{
		Content:        result.Content,
		ProviderID:     result.ProviderID,
		ProviderName:   result.ProviderName,
		TokensUsed:     result.TokensUsed,
		Cost:           result.Cost,
		ResponseTimeMs: result.ResponseTime.Milliseconds(),
	})
}
