package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contentpilot/ai-gateway/models"
	"github.com/contentpilot/ai-gateway/repositories"
	"github.com/contentpilot/ai-gateway/services"
	"github.com/contentpilot/ai-gateway/services/circuit"
	"github.com/contentpilot/ai-gateway/services/providers"
	"github.com/contentpilot/ai-gateway/services/registry"
)

// flakyAdapter is a test adapter whose probe outcome is switchable
type flakyAdapter struct {
	name    string
	failing atomic.Bool
	pings   atomic.Int64
}

func (a *flakyAdapter) Name() string { return a.name }

func (a *flakyAdapter) Invoke(ctx context.Context, req *models.GenerationRequest) (*providers.InvokeResult, error) {
	return &providers.InvokeResult{Text: "ok", TokensUsed: 1}, nil
}

func (a *flakyAdapter) Ping(ctx context.Context) error {
	a.pings.Add(1)
	if a.failing.Load() {
		return errors.New("probe refused")
	}
	return nil
}

// memProviderRepo is a minimal in-memory ProviderRepository
type memProviderRepo struct {
	providers map[uuid.UUID]*models.Provider
}

func (r *memProviderRepo) Create(ctx context.Context, p *models.Provider) error {
	r.providers[p.ID] = p
	return nil
}
func (r *memProviderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	if p, ok := r.providers[id]; ok {
		return p, nil
	}
	return nil, errors.New("not found")
}
func (r *memProviderRepo) List(ctx context.Context) ([]*models.Provider, error) {
	out := make([]*models.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out, nil
}
func (r *memProviderRepo) Update(ctx context.Context, p *models.Provider) error { return nil }
func (r *memProviderRepo) UpdateUsage(ctx context.Context, id uuid.UUID, usage int64, lastUsed time.Time) error {
	return nil
}
func (r *memProviderRepo) ResetUsage(ctx context.Context, id uuid.UUID) error { return nil }

var _ repositories.ProviderRepository = (*memProviderRepo)(nil)

func newTestMonitor(t *testing.T, interval time.Duration) (*Monitor, *models.Provider, *flakyAdapter, *circuit.Breaker) {
	t.Helper()
	logger := zap.NewNop()

	repo := &memProviderRepo{providers: make(map[uuid.UUID]*models.Provider)}
	reg := registry.NewRegistry(repo, logger)

	p := models.NewProvider("openai", 60, 1_000_000)
	require.NoError(t, reg.Register(context.Background(), p))

	adapter := &flakyAdapter{name: "openai"}
	breaker := circuit.NewBreaker(circuit.DefaultConfig(), logger)

	cfg := DefaultConfig()
	cfg.Interval = interval
	cfg.ProbeTimeout = time.Second

	m := NewMonitor(reg, breaker, map[uuid.UUID]providers.Adapter{p.ID: adapter}, cfg, logger)
	return m, p, adapter, breaker
}

func TestMonitorProbeUpdatesHealth(t *testing.T) {
	m, p, _, _ := newTestMonitor(t, time.Hour)

	m.probeAll()

	record, err := m.Health(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HealthStatusHealthy, record.Status)
	assert.Equal(t, float64(100), record.SuccessRate)
	assert.Equal(t, float64(0), record.ErrorRate)
	assert.Equal(t, models.CircuitClosed, record.CircuitState)
	assert.False(t, record.LastChecked.IsZero())
}

func TestMonitorFailingProbesFeedBreaker(t *testing.T) {
	m, p, adapter, breaker := newTestMonitor(t, time.Hour)
	adapter.failing.Store(true)

	for i := 0; i < 5; i++ {
		m.probeAll()
	}

	record, err := m.Health(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HealthStatusDown, record.Status)
	assert.Equal(t, models.CircuitOpen, record.CircuitState)
	assert.Equal(t, 5, record.ConsecutiveFailures)
	assert.Equal(t, models.CircuitOpen, breaker.State(p.ID))
}

func TestMonitorObserveBlendsRouterOutcomes(t *testing.T) {
	m, p, _, _ := newTestMonitor(t, time.Hour)

	// 9 successes and 1 failure from routed traffic: 90% success rate
	for i := 0; i < 9; i++ {
		m.Observe(p.ID, true, 100*time.Millisecond)
	}
	m.Observe(p.ID, false, 100*time.Millisecond)

	record, err := m.Health(p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 90, record.SuccessRate, 0.01)
	assert.InDelta(t, 10, record.ErrorRate, 0.01)
	assert.Equal(t, models.HealthStatusDegraded, record.Status)
}

func TestMonitorEMA(t *testing.T) {
	m, p, _, _ := newTestMonitor(t, time.Hour)

	m.Observe(p.ID, true, 100*time.Millisecond)
	assert.InDelta(t, 100, m.ResponseTime(p.ID), 0.01)

	// EMA with alpha 0.3: 0.3*200 + 0.7*100 = 130
	m.Observe(p.ID, true, 200*time.Millisecond)
	assert.InDelta(t, 130, m.ResponseTime(p.ID), 0.01)
}

func TestMonitorLatencyCeilingDegrades(t *testing.T) {
	m, p, _, _ := newTestMonitor(t, time.Hour)

	for i := 0; i < 10; i++ {
		m.Observe(p.ID, true, 10*time.Second)
	}

	record, err := m.Health(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HealthStatusDegraded, record.Status)
	assert.InDelta(t, 100, record.SuccessRate, 0.01)
}

func TestMonitorMaintenance(t *testing.T) {
	m, p, _, _ := newTestMonitor(t, time.Hour)

	// Maintenance wins even with perfect stats
	m.Observe(p.ID, true, 10*time.Millisecond)
	m.SetMaintenance(p.ID)

	record, err := m.Health(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HealthStatusMaintenance, record.Status)
	assert.True(t, m.InMaintenance(p.ID))

	m.ClearMaintenance(p.ID)
	record, err = m.Health(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HealthStatusHealthy, record.Status)
}

func TestMonitorHealthUnknownProvider(t *testing.T) {
	m, _, _, _ := newTestMonitor(t, time.Hour)

	_, err := m.Health(uuid.New())
	assert.True(t, services.IsNotFoundError(err))
}

func TestMonitorAll(t *testing.T) {
	m, p, _, _ := newTestMonitor(t, time.Hour)

	records := m.All()
	require.Len(t, records, 1)
	assert.Equal(t, p.ID, records[0].ProviderID)
}

func TestMonitorStartStop(t *testing.T) {
	m, _, adapter, _ := newTestMonitor(t, 10*time.Millisecond)

	require.NoError(t, m.Start())
	assert.Error(t, m.Start(), "second start must fail")

	assert.Eventually(t, func() bool {
		return adapter.pings.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop(time.Second))
	assert.Error(t, m.Stop(time.Second), "second stop must fail")
}

func TestMonitorSkipsDisabledProviders(t *testing.T) {
	m, p, adapter, _ := newTestMonitor(t, time.Hour)

	enabled := false
	_, err := m.registry.Update(context.Background(), p.ID, &models.ProviderUpdate{Enabled: &enabled})
	require.NoError(t, err)

	m.probeAll()
	assert.Equal(t, int64(0), adapter.pings.Load())
}
