package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is one append-only entry in the usage ledger.
// Every routed attempt produces a record, successful or not.
type UsageRecord struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	ProviderID     uuid.UUID  `json:"provider_id" db:"provider_id"`
	ProductID      *uuid.UUID `json:"product_id,omitempty" db:"product_id"`
	RequestType    string     `json:"request_type" db:"request_type"`
	TokensUsed     int        `json:"tokens_used" db:"tokens_used"`
	Cost           float64    `json:"cost" db:"cost"`
	ResponseTimeMs int        `json:"response_time_ms" db:"response_time_ms"`
	Success        bool       `json:"success" db:"success"`
	ErrorMessage   *string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the UsageRecord model
func (UsageRecord) TableName() string {
	return "usage_records"
}

// NewUsageRecord creates a usage record for a routed attempt
func NewUsageRecord(providerID uuid.UUID, requestType string) *UsageRecord {
	return &UsageRecord{
		ID:          uuid.New(),
		ProviderID:  providerID,
		RequestType: requestType,
		CreatedAt:   time.Now(),
	}
}

// MarkSuccess fills in the outcome of a successful attempt
func (u *UsageRecord) MarkSuccess(tokensUsed int, cost float64, latencyMs int) {
	u.Success = true
	u.TokensUsed = tokensUsed
	u.Cost = cost
	u.ResponseTimeMs = latencyMs
}

// MarkFailure fills in the outcome of a failed attempt
func (u *UsageRecord) MarkFailure(errMessage string, latencyMs int) {
	u.Success = false
	u.ErrorMessage = &errMessage
	u.ResponseTimeMs = latencyMs
}

// UsageStats is the aggregate over a provider's ledger entries in a date range
type UsageStats struct {
	ProviderID   uuid.UUID `json:"provider_id"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	TotalTokens  int64     `json:"total_tokens"`
	TotalCost    float64   `json:"total_cost"`
	RequestCount int64     `json:"request_count"`
	SuccessCount int64     `json:"success_count"`
}
