package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentpilot/ai-gateway/models"
	"github.com/contentpilot/ai-gateway/repositories"
	"github.com/contentpilot/ai-gateway/services"
)

// entry pairs a provider with its own lock. Mutations touch exactly one
// entry; no operation holds two entry locks at once.
type entry struct {
	mu       sync.Mutex
	provider *models.Provider
}

// Registry is the authoritative in-memory view of provider configuration
// and runtime counters, backed by the provider repository.
type Registry struct {
	repo    repositories.ProviderRepository
	logger  *zap.Logger
	nowFunc func() time.Time

	mu      sync.RWMutex
	entries map[uuid.UUID]*entry
}

// NewRegistry creates a new provider registry
func NewRegistry(repo repositories.ProviderRepository, logger *zap.Logger) *Registry {
	return &Registry{
		repo:    repo,
		logger:  logger,
		nowFunc: time.Now,
		entries: make(map[uuid.UUID]*entry),
	}
}

// Load populates the registry from the repository
func (r *Registry) Load(ctx context.Context) error {
	providers, err := r.repo.List(ctx)
	if err != nil {
		return services.WrapInternal("failed to load providers", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[uuid.UUID]*entry, len(providers))
	for _, p := range providers {
		r.entries[p.ID] = &entry{provider: p}
	}

	r.logger.Info("provider registry loaded", zap.Int("provider_count", len(providers)))
	return nil
}

// Register creates a provider and adds it to the registry.
// Used for seeding the default provider set on first boot.
func (r *Registry) Register(ctx context.Context, provider *models.Provider) error {
	if err := r.repo.Create(ctx, provider); err != nil {
		return services.WrapInternal("failed to create provider", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[provider.ID] = &entry{provider: provider}

	r.logger.Info("provider registered",
		zap.String("provider_id", provider.ID.String()),
		zap.String("name", provider.Name))
	return nil
}

// List returns snapshots of all providers in stable name order
func (r *Registry) List(ctx context.Context) []*models.Provider {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	providers := make([]*models.Provider, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		snapshot := *e.provider
		e.mu.Unlock()
		providers = append(providers, &snapshot)
	}

	sort.Slice(providers, func(i, j int) bool {
		return providers[i].Name < providers[j].Name
	})
	return providers
}

// Get returns a snapshot of a provider by ID
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	snapshot := *e.provider
	e.mu.Unlock()
	return &snapshot, nil
}

// Update applies a partial update to a provider, persists it, and
// returns the updated snapshot. Unspecified fields are untouched.
func (r *Registry) Update(ctx context.Context, id uuid.UUID, update *models.ProviderUpdate) (*models.Provider, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	update.Apply(e.provider)
	if err := r.repo.Update(ctx, e.provider); err != nil {
		return nil, services.WrapInternal("failed to persist provider update", err)
	}

	snapshot := *e.provider
	r.logger.Info("provider updated",
		zap.String("provider_id", id.String()),
		zap.String("name", snapshot.Name),
		zap.Bool("enabled", snapshot.Enabled))
	return &snapshot, nil
}

// RecordUsage atomically adds consumed tokens to the provider's
// cumulative counter and stamps the last-used time
func (r *Registry) RecordUsage(ctx context.Context, id uuid.UUID, tokens int64) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := r.nowFunc()
	e.provider.RecordUsage(tokens, now)

	if err := r.repo.UpdateUsage(ctx, id, e.provider.CurrentUsage, now); err != nil {
		// The in-memory counter stays authoritative for quota decisions
		r.logger.Error("failed to persist usage counter",
			zap.String("provider_id", id.String()),
			zap.Error(err))
	}
	return nil
}

// ReserveUsage atomically admits an attempt against the provider's token
// budget and claims the estimate. A reservation whose estimate would
// cross the usage limit is refused, never clipped. The check and the
// increment happen under the entry lock, so concurrent reservations
// cannot jointly overrun the limit. Callers release the reservation on
// failure or commit the actual consumption on success.
func (r *Registry) ReserveUsage(id uuid.UUID, tokens int64) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.provider
	if p.UsageLimit > 0 && p.CurrentUsage+tokens > p.UsageLimit {
		return services.NewDomainError(services.ErrorTypeUsageLimit, "provider usage limit exceeded", nil).
			WithDetail("provider_id", id.String()).
			WithDetail("remaining", p.RemainingUsage())
	}
	p.CurrentUsage += tokens
	return nil
}

// ReleaseUsage returns an unconsumed reservation to the token budget
func (r *Registry) ReleaseUsage(id uuid.UUID, tokens int64) {
	e, err := r.entry(id)
	if err != nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.provider.CurrentUsage -= tokens
	if e.provider.CurrentUsage < 0 {
		e.provider.CurrentUsage = 0
	}
}

// CommitUsage settles a reservation against the tokens actually
// consumed, stamps LastUsed, and persists the counter
func (r *Registry) CommitUsage(ctx context.Context, id uuid.UUID, reserved, consumed int64) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := r.nowFunc()
	e.provider.CurrentUsage += consumed - reserved
	if e.provider.CurrentUsage < 0 {
		e.provider.CurrentUsage = 0
	}
	e.provider.LastUsed = &now

	if err := r.repo.UpdateUsage(ctx, id, e.provider.CurrentUsage, now); err != nil {
		// The in-memory counter stays authoritative for quota decisions
		r.logger.Error("failed to persist usage counter",
			zap.String("provider_id", id.String()),
			zap.Error(err))
	}
	return nil
}

// ResetUsage clears the cumulative usage counter
func (r *Registry) ResetUsage(ctx context.Context, id uuid.UUID) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.provider.ResetUsage()
	if err := r.repo.ResetUsage(ctx, id); err != nil {
		return services.WrapInternal("failed to reset usage counter", err)
	}

	r.logger.Info("provider usage reset", zap.String("provider_id", id.String()))
	return nil
}

// Count returns the number of registered providers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// entry looks up the entry for a provider ID
func (r *Registry) entry(id uuid.UUID) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, services.ErrProviderNotFound
	}
	return e, nil
}
