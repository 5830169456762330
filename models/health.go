package models

import (
	"time"

	"github.com/google/uuid"
)

// HealthStatus represents the derived health of a provider
type HealthStatus string

const (
	HealthStatusHealthy     HealthStatus = "healthy"
	HealthStatusDegraded    HealthStatus = "degraded"
	HealthStatusDown        HealthStatus = "down"
	HealthStatusMaintenance HealthStatus = "maintenance" // Operator-set, never derived
)

// CircuitState represents the circuit breaker state for a provider
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// HealthRecord is the per-provider health snapshot maintained in memory
type HealthRecord struct {
	ProviderID          uuid.UUID    `json:"provider_id"`
	Status              HealthStatus `json:"status"`
	ResponseTimeMs      float64      `json:"response_time_ms"` // Exponential moving average
	SuccessRate         float64      `json:"success_rate"`     // Percent over the observation window
	ErrorRate           float64      `json:"error_rate"`       // Percent, success_rate + error_rate = 100
	CircuitState        CircuitState `json:"circuit_state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastChecked         time.Time    `json:"last_checked"`
}

// NewHealthRecord creates the initial health snapshot for a provider.
// A provider with no observations yet is assumed healthy.
func NewHealthRecord(providerID uuid.UUID) *HealthRecord {
	return &HealthRecord{
		ProviderID:   providerID,
		Status:       HealthStatusHealthy,
		SuccessRate:  100,
		CircuitState: CircuitClosed,
	}
}

// InMaintenance reports whether the provider is in operator-set maintenance
func (h *HealthRecord) InMaintenance() bool {
	return h.Status == HealthStatusMaintenance
}
