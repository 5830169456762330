package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contentpilot/ai-gateway/models"
	"github.com/contentpilot/ai-gateway/services/circuit"
	"github.com/contentpilot/ai-gateway/services/health"
	"github.com/contentpilot/ai-gateway/services/ledger"
	"github.com/contentpilot/ai-gateway/services/providers"
	"github.com/contentpilot/ai-gateway/services/quota"
	"github.com/contentpilot/ai-gateway/services/registry"
	"github.com/contentpilot/ai-gateway/services/router"
)

// memProviderRepo is an in-memory ProviderRepository for handler tests
type memProviderRepo struct {
	mu        sync.Mutex
	providers map[uuid.UUID]*models.Provider
}

func newMemProviderRepo() *memProviderRepo {
	return &memProviderRepo{providers: make(map[uuid.UUID]*models.Provider)}
}

func (r *memProviderRepo) Create(ctx context.Context, p *models.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.providers[p.ID] = &cp
	return nil
}

func (r *memProviderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, errors.New("provider not found")
}

func (r *memProviderRepo) List(ctx context.Context) ([]*models.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memProviderRepo) Update(ctx context.Context, p *models.Provider) error {
	return r.Create(ctx, p)
}

func (r *memProviderRepo) UpdateUsage(ctx context.Context, id uuid.UUID, currentUsage int64, lastUsed time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[id]; ok {
		p.CurrentUsage = currentUsage
		p.LastUsed = &lastUsed
	}
	return nil
}

func (r *memProviderRepo) ResetUsage(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[id]; ok {
		p.CurrentUsage = 0
	}
	return nil
}

// memUsageRepo is an in-memory UsageRepository for handler tests
type memUsageRepo struct {
	mu      sync.Mutex
	records []*models.UsageRecord
}

func (r *memUsageRepo) Insert(ctx context.Context, record *models.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *memUsageRepo) Aggregate(ctx context.Context, providerID uuid.UUID, from, to time.Time) (*models.UsageStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &models.UsageStats{ProviderID: providerID, From: from, To: to}
	for _, rec := range r.records {
		if rec.ProviderID != providerID || rec.CreatedAt.Before(from) || rec.CreatedAt.After(to) {
			continue
		}
		stats.RequestCount++
		stats.TotalTokens += int64(rec.TokensUsed)
		stats.TotalCost += rec.Cost
		if rec.Success {
			stats.SuccessCount++
		}
	}
	return stats, nil
}

func (r *memUsageRepo) ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*models.UsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.UsageRecord
	for _, rec := range r.records {
		if rec.ProviderID == providerID {
			out = append(out, rec)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// staticAdapter is a scriptable Adapter for handler tests
type staticAdapter struct {
	name string
	fail bool
}

func (a *staticAdapter) Name() string { return a.name }

func (a *staticAdapter) Invoke(ctx context.Context, req *models.GenerationRequest) (*providers.InvokeResult, error) {
	if a.fail {
		return nil, providers.NewProviderError(a.name, "SERVER_ERROR", "scripted failure", 502, true, nil)
	}
	return &providers.InvokeResult{
		Text:       "generated: " + req.Prompt,
		TokensUsed: 42,
		Cost:       0.001,
		Latency:    5 * time.Millisecond,
	}, nil
}

func (a *staticAdapter) Ping(ctx context.Context) error { return nil }

// gateway bundles the full service stack for handler tests
type gateway struct {
	registry *registry.Registry
	quota    *quota.Enforcer
	breaker  *circuit.Breaker
	monitor  *health.Monitor
	ledger   *ledger.Ledger
	router   *router.Router
	usage    *memUsageRepo
	adapters map[uuid.UUID]providers.Adapter
}

// newGateway wires an in-memory gateway with a single provider
func newGateway(t *testing.T) (*gateway, *models.Provider) {
	t.Helper()
	logger := zap.NewNop()

	repo := newMemProviderRepo()
	usage := &memUsageRepo{}

	reg := registry.NewRegistry(repo, logger)
	enforcer := quota.NewEnforcer(logger)
	breaker := circuit.NewBreaker(circuit.Config{}, logger)

	provider := models.NewProvider("openai", 60, 1_000_000)
	require.NoError(t, reg.Register(context.Background(), provider))

	adapters := map[uuid.UUID]providers.Adapter{
		provider.ID: &staticAdapter{name: provider.Name},
	}

	monitor := health.NewMonitor(reg, breaker, adapters, health.Config{}, logger)
	usageLedger := ledger.NewLedger(usage, logger, ledger.Config{BufferSize: 16, WorkerCount: 1})

	rt := router.NewRouter(reg, enforcer, breaker, monitor, usageLedger, adapters, router.Config{
		AttemptTimeout: time.Second,
		MaxAttempts:    3,
	}, logger)

	return &gateway{
		registry: reg,
		quota:    enforcer,
		breaker:  breaker,
		monitor:  monitor,
		ledger:   usageLedger,
		router:   rt,
		usage:    usage,
		adapters: adapters,
	}, provider
}
