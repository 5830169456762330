package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentpilot/ai-gateway/middleware"
	"github.com/contentpilot/ai-gateway/services/health"
	"github.com/contentpilot/ai-gateway/utils"
)

// HealthHandler handles provider health and service liveness requests
type HealthHandler struct {
	monitor *health.Monitor
	db      *sql.DB
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(monitor *health.Monitor, db *sql.DB, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		monitor: monitor,
		db:      db,
		logger:  logger,
	}
}

// HandleListHealth handles GET /api/v1/providers/health
func (h *HealthHandler) HandleListHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.monitor.All())
}

// HandleGetHealth handles GET /api/v1/providers/{id}/health
func (h *HealthHandler) HandleGetHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := h.providerID(w, r)
	if !ok {
		return
	}

	record, err := h.monitor.Health(id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, record)
}

// HandleSetMaintenance handles PUT /api/v1/providers/{id}/maintenance
func (h *HealthHandler) HandleSetMaintenance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	id, ok := h.providerID(w, r)
	if !ok {
		return
	}

	// Verify the provider exists before flagging it
	if _, err := h.monitor.Health(id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.monitor.SetMaintenance(id)

	h.logger.Info("provider placed in maintenance",
		zap.String("request_id", requestID),
		zap.String("provider_id", id.String()))

	utils.WriteNoContent(w)
}

// HandleClearMaintenance handles DELETE /api/v1/providers/{id}/maintenance
func (h *HealthHandler) HandleClearMaintenance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	id, ok := h.providerID(w, r)
	if !ok {
		return
	}

	if _, err := h.monitor.Health(id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.monitor.ClearMaintenance(id)

	h.logger.Info("provider maintenance cleared",
		zap.String("request_id", requestID),
		zap.String("provider_id", id.String()))

	utils.WriteNoContent(w)
}

// HandleHealth handles GET /healthz (liveness)
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz (readiness, checks the database)
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	checks := map[string]string{"database": "healthy"}

	if h.db != nil {
		if err := h.checkDatabase(ctx); err != nil {
			h.logger.Error("database readiness check failed", zap.Error(err))
			status = "unhealthy"
			checks["database"] = "unhealthy"
		}
	}

	body := map[string]interface{}{
		"status": status,
		"checks": checks,
	}

	if status != "healthy" {
		_ = utils.WriteJSON(w, http.StatusServiceUnavailable, utils.SuccessResponse{Data: body})
		return
	}
	_ = utils.WriteOK(w, body)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}
	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}

// providerID parses the {id} URL parameter, writing a 400 on failure
func (h *HealthHandler) providerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid provider ID format", nil)
		return uuid.Nil, false
	}
	return id, true
}
