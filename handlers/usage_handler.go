package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentpilot/ai-gateway/services/ledger"
	"github.com/contentpilot/ai-gateway/utils"
)

// UsageHandler handles usage reporting HTTP requests
type UsageHandler struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewUsageHandler creates a new UsageHandler
func NewUsageHandler(l *ledger.Ledger, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{
		ledger: l,
		logger: logger,
	}
}

// HandleAggregate handles GET /api/v1/providers/{id}/usage?from=...&to=...
// Timestamps are RFC 3339; to defaults to now, from to 24 hours before to.
func (h *UsageHandler) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.providerID(w, r)
	if !ok {
		return
	}

	to := time.Now()
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		parsed, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid 'to' timestamp, expected RFC 3339", nil)
			return
		}
		to = parsed
	}

	from := to.Add(-24 * time.Hour)
	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		parsed, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid 'from' timestamp, expected RFC 3339", nil)
			return
		}
		from = parsed
	}

	stats, err := h.ledger.Aggregate(r.Context(), id, from, to)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, stats)
}

// HandleListRecords handles GET /api/v1/providers/{id}/usage/records
func (h *UsageHandler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	id, ok := h.providerID(w, r)
	if !ok {
		return
	}

	limit := parseQueryInt(r, "limit", 100)
	offset := parseQueryInt(r, "offset", 0)

	records, err := h.ledger.ListByProvider(r.Context(), id, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, records)
}

// providerID parses the {id} URL parameter, writing a 400 on failure
func (h *UsageHandler) providerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid provider ID format", nil)
		return uuid.Nil, false
	}
	return id, true
}

func parseQueryInt(r *http.Request, key string, defaultValue int) int {
	valueStr := r.URL.Query().Get(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value < 0 {
		return defaultValue
	}
	return value
}
