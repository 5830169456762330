package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentpilot/ai-gateway/models"
	"github.com/contentpilot/ai-gateway/repositories"
)

// UsageRepository implements the repositories.UsageRepository interface
type UsageRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB, logger *zap.Logger) repositories.UsageRepository {
	return &UsageRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends a usage record. Records are never updated or deleted.
func (r *UsageRepository) Insert(ctx context.Context, record *models.UsageRecord) error {
	query := `
		INSERT INTO usage_records (
			id, provider_id, product_id, request_type, tokens_used,
			cost, response_time_ms, success, error_message, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.ProviderID,
		record.ProductID,
		record.RequestType,
		record.TokensUsed,
		record.Cost,
		record.ResponseTimeMs,
		record.Success,
		record.ErrorMessage,
		record.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	return nil
}

// Aggregate sums usage for a provider over a time range
func (r *UsageRepository) Aggregate(ctx context.Context, providerID uuid.UUID, from, to time.Time) (*models.UsageStats, error) {
	query := `
		SELECT
			COALESCE(SUM(tokens_used), 0),
			COALESCE(SUM(cost), 0),
			COUNT(*),
			COUNT(*) FILTER (WHERE success)
		FROM usage_records
		WHERE provider_id = $1 AND created_at >= $2 AND created_at <= $3
	`

	stats := &models.UsageStats{
		ProviderID: providerID,
		From:       from,
		To:         to,
	}

	err := r.db.QueryRowContext(ctx, query, providerID, from, to).Scan(
		&stats.TotalTokens,
		&stats.TotalCost,
		&stats.RequestCount,
		&stats.SuccessCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}

	return stats, nil
}

// ListByProvider retrieves usage records for a provider, newest first
func (r *UsageRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*models.UsageRecord, error) {
	query := `
		SELECT id, provider_id, product_id, request_type, tokens_used,
		       cost, response_time_ms, success, error_message, created_at
		FROM usage_records
		WHERE provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, providerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer rows.Close()

	var records []*models.UsageRecord
	for rows.Next() {
		record := &models.UsageRecord{}
		if err := rows.Scan(
			&record.ID,
			&record.ProviderID,
			&record.ProductID,
			&record.RequestType,
			&record.TokensUsed,
			&record.Cost,
			&record.ResponseTimeMs,
			&record.Success,
			&record.ErrorMessage,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage records: %w", err)
	}

	return records, nil
}
