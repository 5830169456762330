package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentpilot/ai-gateway/models"
	"github.com/contentpilot/ai-gateway/repositories"
)

// ProviderRepository implements the repositories.ProviderRepository interface
type ProviderRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewProviderRepository creates a new provider repository
func NewProviderRepository(db *DB, logger *zap.Logger) repositories.ProviderRepository {
	return &ProviderRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists a new provider
func (r *ProviderRepository) Create(ctx context.Context, provider *models.Provider) error {
	query := `
		INSERT INTO providers (
			id, name, enabled, rate_limit, usage_limit, current_usage, last_used, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		provider.ID,
		provider.Name,
		provider.Enabled,
		provider.RateLimit,
		provider.UsageLimit,
		provider.CurrentUsage,
		provider.LastUsed,
		provider.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	r.logger.Debug("provider created", zap.String("id", provider.ID.String()), zap.String("name", provider.Name))
	return nil
}

// GetByID retrieves a provider by ID
func (r *ProviderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	query := `
		SELECT id, name, enabled, rate_limit, usage_limit, current_usage, last_used, created_at
		FROM providers
		WHERE id = $1
	`

	provider := &models.Provider{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&provider.ID,
		&provider.Name,
		&provider.Enabled,
		&provider.RateLimit,
		&provider.UsageLimit,
		&provider.CurrentUsage,
		&provider.LastUsed,
		&provider.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("provider not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}

	return provider, nil
}

// List retrieves all providers ordered by name
func (r *ProviderRepository) List(ctx context.Context) ([]*models.Provider, error) {
	query := `
		SELECT id, name, enabled, rate_limit, usage_limit, current_usage, last_used, created_at
		FROM providers
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var providers []*models.Provider
	for rows.Next() {
		provider := &models.Provider{}
		if err := rows.Scan(
			&provider.ID,
			&provider.Name,
			&provider.Enabled,
			&provider.RateLimit,
			&provider.UsageLimit,
			&provider.CurrentUsage,
			&provider.LastUsed,
			&provider.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, provider)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate providers: %w", err)
	}

	return providers, nil
}

// Update persists configuration changes to a provider
func (r *ProviderRepository) Update(ctx context.Context, provider *models.Provider) error {
	query := `
		UPDATE providers
		SET name = $2, enabled = $3, rate_limit = $4, usage_limit = $5
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		provider.ID,
		provider.Name,
		provider.Enabled,
		provider.RateLimit,
		provider.UsageLimit,
	)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("provider not found: %s", provider.ID)
	}

	r.logger.Debug("provider updated", zap.String("id", provider.ID.String()))
	return nil
}

// UpdateUsage persists the cumulative usage counter and last-used timestamp
func (r *ProviderRepository) UpdateUsage(ctx context.Context, id uuid.UUID, currentUsage int64, lastUsed time.Time) error {
	query := `
		UPDATE providers
		SET current_usage = $2, last_used = $3
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id, currentUsage, lastUsed)
	if err != nil {
		return fmt.Errorf("failed to update provider usage: %w", err)
	}

	return nil
}

// ResetUsage clears the cumulative usage counter
func (r *ProviderRepository) ResetUsage(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE providers
		SET current_usage = 0
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to reset provider usage: %w", err)
	}

	r.logger.Debug("provider usage reset", zap.String("id", id.String()))
	return nil
}
