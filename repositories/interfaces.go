package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/contentpilot/ai-gateway/models"
)

// ProviderRepository defines the interface for provider persistence
type ProviderRepository interface {
	// Create persists a new provider
	Create(ctx context.Context, provider *models.Provider) error

	// GetByID retrieves a provider by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Provider, error)

	// List retrieves all providers ordered by name
	List(ctx context.Context) ([]*models.Provider, error)

	// Update persists configuration changes to a provider
	Update(ctx context.Context, provider *models.Provider) error

	// UpdateUsage persists the cumulative usage counter and last-used timestamp
	UpdateUsage(ctx context.Context, id uuid.UUID, currentUsage int64, lastUsed time.Time) error

	// ResetUsage clears the cumulative usage counter
	ResetUsage(ctx context.Context, id uuid.UUID) error
}

// Repositories bundles all repository instances
type Repositories struct {
	Providers ProviderRepository
	Usage     UsageRepository
}

// UsageRepository defines the interface for the append-only usage ledger
type UsageRepository interface {
	// Insert appends a usage record. Records are never updated or deleted.
	Insert(ctx context.Context, record *models.UsageRecord) error

	// Aggregate computes usage statistics for a provider over a date range
	Aggregate(ctx context.Context, providerID uuid.UUID, from, to time.Time) (*models.UsageStats, error)

	// ListByProvider retrieves recent records for a provider with pagination
	ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*models.UsageRecord, error)
}
