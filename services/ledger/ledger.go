package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentpilot/ai-gateway/models"
	"github.com/contentpilot/ai-gateway/repositories"
	"github.com/contentpilot/ai-gateway/services"
)

// Config holds configuration for the Ledger
type Config struct {
	BufferSize  int // Size of the record buffer channel
	WorkerCount int // Number of concurrent append workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 5,
	}
}

// Ledger is the append-only usage record store. Records flow through a
// buffered worker pool for high-volume callers; the router uses the
// synchronous path so every attempt is durable before a response returns.
type Ledger struct {
	usageRepo   repositories.UsageRepository
	logger      *zap.Logger
	recordChan  chan *models.UsageRecord
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	mu          sync.Mutex
}

// NewLedger creates a new usage ledger
func NewLedger(usageRepo repositories.UsageRepository, logger *zap.Logger, config Config) *Ledger {
	ctx, cancel := context.WithCancel(context.Background())

	return &Ledger{
		usageRepo:   usageRepo,
		logger:      logger,
		recordChan:  make(chan *models.UsageRecord, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background append workers
func (l *Ledger) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return fmt.Errorf("usage ledger already started")
	}

	for i := 0; i < l.workerCount; i++ {
		l.wg.Add(1)
		go l.worker(i)
	}

	l.started = true
	l.logger.Info("started usage ledger",
		zap.Int("worker_count", l.workerCount),
		zap.Int("buffer_size", l.bufferSize))
	return nil
}

// Stop gracefully stops the ledger, draining pending records
func (l *Ledger) Stop(timeout time.Duration) error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return fmt.Errorf("usage ledger not started")
	}
	l.started = false
	l.mu.Unlock()

	l.logger.Info("stopping usage ledger", zap.Int("pending_records", len(l.recordChan)))

	close(l.recordChan)

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("usage ledger stopped gracefully")
		l.cancel()
		return nil
	case <-time.After(timeout):
		l.cancel()
		return fmt.Errorf("usage ledger stop timeout after %v", timeout)
	}
}

// Record appends a usage record asynchronously (non-blocking).
// The lock is held across the send so Stop cannot close the channel
// between the started check and the send.
func (l *Ledger) Record(record *models.UsageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return fmt.Errorf("usage ledger not started")
	}

	select {
	case l.recordChan <- record:
		return nil
	default:
		l.logger.Warn("usage record buffer full, dropping record",
			zap.String("provider_id", record.ProviderID.String()))
		return fmt.Errorf("usage record buffer full")
	}
}

// RecordSync appends a usage record synchronously. The router records
// every attempt through this path before returning to the caller.
func (l *Ledger) RecordSync(ctx context.Context, record *models.UsageRecord) error {
	if err := l.usageRepo.Insert(ctx, record); err != nil {
		l.logger.Error("failed to append usage record",
			zap.String("provider_id", record.ProviderID.String()),
			zap.Error(err))
		return services.WrapInternal("failed to append usage record", err)
	}
	return nil
}

// Aggregate computes usage statistics for a provider over a date range
func (l *Ledger) Aggregate(ctx context.Context, providerID uuid.UUID, from, to time.Time) (*models.UsageStats, error) {
	if to.Before(from) {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "date range end precedes start", nil).
			WithDetail("from", from).
			WithDetail("to", to)
	}

	stats, err := l.usageRepo.Aggregate(ctx, providerID, from, to)
	if err != nil {
		return nil, services.WrapInternal("failed to aggregate usage", err)
	}
	return stats, nil
}

// ListByProvider retrieves recent records for a provider
func (l *Ledger) ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*models.UsageRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	records, err := l.usageRepo.ListByProvider(ctx, providerID, limit, offset)
	if err != nil {
		return nil, services.WrapInternal("failed to list usage records", err)
	}
	return records, nil
}

// worker drains the record channel into the repository
func (l *Ledger) worker(id int) {
	defer l.wg.Done()

	for record := range l.recordChan {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.usageRepo.Insert(ctx, record); err != nil {
			l.logger.Error("worker failed to append usage record",
				zap.Int("worker_id", id),
				zap.String("provider_id", record.ProviderID.String()),
				zap.Error(err))
		}
		cancel()
	}
}
