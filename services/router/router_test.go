package router

import (
	"context"
	"errors"
	"sync"
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
	"github.com/contentpilot/ai-gateway/services/health"
	"github.com/contentpilot/ai-gateway/services/ledger"
	"github.com/contentpilot/ai-gateway/services/providers"
	"github.com/contentpilot/ai-gateway/services/quota"
	"github.com/contentpilot/ai-gateway/services/registry"
)

// scriptedAdapter is a test adapter with controllable behavior
type scriptedAdapter struct {
	name    string
	fail    atomic.Bool
	delay   time.Duration
	tokens  int
	invokes atomic.Int64
}

func (a *scriptedAdapter) Name() string { return a.name }

func (a *scriptedAdapter) Invoke(ctx context.Context, req *models.GenerationRequest) (*providers.InvokeResult, error) {
	a.invokes.Add(1)
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, providers.NewProviderError(a.name, "TIMEOUT", "Request deadline exceeded", 0, true, ctx.Err())
		}
	}
	if a.fail.Load() {
		return nil, providers.NewProviderError(a.name, "SERVER_ERROR", "Bad gateway", 502, true, nil)
	}
	tokens := a.tokens
	if tokens == 0 {
		tokens = 50
	}
	return &providers.InvokeResult{
		Text:       "generated by " + a.name,
		TokensUsed: tokens,
		Cost:       float64(tokens) * 0.00001,
	}, nil
}

func (a *scriptedAdapter) Ping(ctx context.Context) error {
	if a.fail.Load() {
		return errors.New("ping refused")
	}
	return nil
}

// memProviderRepo is an in-memory ProviderRepository
type memProviderRepo struct {
	mu        sync.Mutex
	providers map[uuid.UUID]*models.Provider
}

func (r *memProviderRepo) Create(ctx context.Context, p *models.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *p
	r.providers[p.ID] = &clone
	return nil
}
func (r *memProviderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[id]; ok {
		clone := *p
		return &clone, nil
	}
	return nil, errors.New("not found")
}
func (r *memProviderRepo) List(ctx context.Context) ([]*models.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		clone := *p
		out = append(out, &clone)
	}
	return out, nil
}
func (r *memProviderRepo) Update(ctx context.Context, p *models.Provider) error { return nil }
func (r *memProviderRepo) UpdateUsage(ctx context.Context, id uuid.UUID, usage int64, lastUsed time.Time) error {
	return nil
}
func (r *memProviderRepo) ResetUsage(ctx context.Context, id uuid.UUID) error { return nil }

// memUsageRepo is an in-memory UsageRepository
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
	return &models.UsageStats{ProviderID: providerID, From: from, To: to}, nil
}
func (r *memUsageRepo) ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*models.UsageRecord, error) {
	return nil, nil
}

func (r *memUsageRepo) byProvider(id uuid.UUID) []*models.UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.UsageRecord
	for _, rec := range r.records {
		if rec.ProviderID == id {
			out = append(out, rec)
		}
	}
	return out
}

var (
	_ repositories.ProviderRepository = (*memProviderRepo)(nil)
	_ repositories.UsageRepository    = (*memUsageRepo)(nil)
)

// harness wires the full routing stack over in-memory storage
type harness struct {
	router      *Router
	registry    *registry.Registry
	breaker     *circuit.Breaker
	monitor     *health.Monitor
	enforcer    *quota.Enforcer
	usageRepo   *memUsageRepo
	adapters    map[uuid.UUID]*scriptedAdapter
	addProvider func(name string, rateLimit int, usageLimit int64) *models.Provider
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	logger := zap.NewNop()

	providerRepo := &memProviderRepo{providers: make(map[uuid.UUID]*models.Provider)}
	usageRepo := &memUsageRepo{}

	reg := registry.NewRegistry(providerRepo, logger)
	enforcer := quota.NewEnforcer(logger)
	breaker := circuit.NewBreaker(circuit.DefaultConfig(), logger)
	usageLedger := ledger.NewLedger(usageRepo, logger, ledger.DefaultConfig())

	adapters := make(map[uuid.UUID]*scriptedAdapter)
	adapterMap := make(map[uuid.UUID]providers.Adapter)
	monitor := health.NewMonitor(reg, breaker, adapterMap, health.DefaultConfig(), logger)

	h := &harness{
		registry:  reg,
		breaker:   breaker,
		monitor:   monitor,
		enforcer:  enforcer,
		usageRepo: usageRepo,
		adapters:  adapters,
	}
	h.router = NewRouter(reg, enforcer, breaker, monitor, usageLedger, adapterMap, cfg, logger)

	h.addProvider = func(name string, rateLimit int, usageLimit int64) *models.Provider {
		p := models.NewProvider(name, rateLimit, usageLimit)
		require.NoError(t, reg.Register(context.Background(), p))
		a := &scriptedAdapter{name: name}
		adapters[p.ID] = a
		adapterMap[p.ID] = a
		return p
	}
	return h
}

func (h *harness) provider(t *testing.T, name string, rateLimit int, usageLimit int64) *models.Provider {
	t.Helper()
	return h.addProvider(name, rateLimit, usageLimit)
}

func TestGenerateContentSuccess(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	p := h.provider(t, "openai", 60, 1_000_000)

	result, err := h.router.GenerateContent(context.Background(), &models.GenerationRequest{
		Prompt:      "describe a red bicycle",
		RequestType: "description",
		MaxTokens:   100,
	})

	require.NoError(t, err)
	assert.Equal(t, p.ID, result.ProviderID)
	assert.Equal(t, "openai", result.ProviderName)
	assert.Equal(t, "generated by openai", result.Content)
	assert.Equal(t, 50, result.TokensUsed)

	// Attempt is in the ledger and usage counters advanced
	records := h.usageRepo.byProvider(p.ID)
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)

	updated, err := h.registry.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), updated.CurrentUsage)
	assert.NotNil(t, updated.LastUsed)
	assert.Equal(t, 1, h.enforcer.CurrentRate(p.ID))
}

func TestGenerateContentEmptyPrompt(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.provider(t, "openai", 60, 1_000_000)

	_, err := h.router.GenerateContent(context.Background(), &models.GenerationRequest{Prompt: "   "})
	assert.True(t, services.IsValidationError(err))
}

func TestFailoverFromDisabledToHealthy(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	disabled := h.provider(t, "alpha", 60, 1_000_000)
	healthy := h.provider(t, "bravo", 60, 1_000_000)

	enabled := false
	_, err := h.registry.Update(context.Background(), disabled.ID, &models.ProviderUpdate{Enabled: &enabled})
	require.NoError(t, err)

	result, err := h.router.GenerateContent(context.Background(), &models.GenerationRequest{
		Prompt:              "hello",
		PreferredProviderID: &disabled.ID,
	})

	require.NoError(t, err)
	assert.Equal(t, healthy.ID, result.ProviderID)
	// The disabled provider was never invoked
	assert.Equal(t, int64(0), h.adapters[disabled.ID].invokes.Load())
}

func TestFailoverOnProviderError(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	failing := h.provider(t, "alpha", 60, 1_000_000)
	healthy := h.provider(t, "bravo", 60, 1_000_000)
	h.adapters[failing.ID].fail.Store(true)

	result, err := h.router.GenerateContent(context.Background(), &models.GenerationRequest{
		Prompt:              "hello",
		PreferredProviderID: &failing.ID,
	})

	require.NoError(t, err)
	assert.Equal(t, healthy.ID, result.ProviderID)

	// The failed attempt is in the ledger too
	failedRecords := h.usageRepo.byProvider(failing.ID)
	require.Len(t, failedRecords, 1)
	assert.False(t, failedRecords[0].Success)
	assert.NotNil(t, failedRecords[0].ErrorMessage)

	assert.Equal(t, 1, h.breaker.ConsecutiveFailures(failing.ID))
}

func TestUsageLimitSkipsWithoutInvocation(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	exhausted := h.provider(t, "alpha", 60, 100)
	healthy := h.provider(t, "bravo", 60, 1_000_000)

	require.NoError(t, h.registry.RecordUsage(context.Background(), exhausted.ID, 100))

	result, err := h.router.GenerateContent(context.Background(), &models.GenerationRequest{
		Prompt:              "hello",
		PreferredProviderID: &exhausted.ID,
		MaxTokens:           50,
	})

	require.NoError(t, err)
	assert.Equal(t, healthy.ID, result.ProviderID)
	assert.Equal(t, int64(0), h.adapters[exhausted.ID].invokes.Load(),
		"pre-flight rejection must not invoke the adapter")
	assert.Empty(t, h.usageRepo.byProvider(exhausted.ID),
		"a skipped provider produces no ledger entry")
}

func TestRateLimitSkips(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	limited := h.provider(t, "alpha", 1, 1_000_000)
	healthy := h.provider(t, "bravo", 60, 1_000_000)

	// Fill the one-per-minute window
	h.enforcer.Record(limited.ID)

	result, err := h.router.GenerateContent(context.Background(), &models.GenerationRequest{
		Prompt:              "hello",
		PreferredProviderID: &limited.ID,
	})

	require.NoError(t, err)
	assert.Equal(t, healthy.ID, result.ProviderID)
	assert.Equal(t, int64(0), h.adapters[limited.ID].invokes.Load())
}

func TestOpenCircuitExcludedFromCandidates(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	broken := h.provider(t, "alpha", 60, 1_000_000)
	healthy := h.provider(t, "bravo", 60, 1_000_000)

	for i := 0; i < 5; i++ {
		h.breaker.RecordFailure(broken.ID)
	}
	require.Equal(t, models.CircuitOpen, h.breaker.State(broken.ID))

	result, err := h.router.GenerateContent(context.Background(), &models.GenerationRequest{
		Prompt:              "hello",
		PreferredProviderID: &broken.ID,
	})

	require.NoError(t, err)
	assert.Equal(t, healthy.ID, result.ProviderID)
	assert.Equal(t, int64(0), h.adapters[broken.ID].invokes.Load())
}

func TestMaintenanceExcludedFromCandidates(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	maint := h.provider(t, "alpha", 60, 1_000_000)
	healthy := h.provider(t, "bravo", 60, 1_000_000)

	h.monitor.SetMaintenance(maint.ID)

	result, err := h.router.GenerateContent(context.Background(), &models.GenerationRequest{
		Prompt:              "hello",
		PreferredProviderID: &maint.ID,
	})

	require.NoError(t, err)
	assert.Equal(t, healthy.ID, result.ProviderID)
	assert.Equal(t, int64(0), h.adapters[maint.ID].invokes.Load())
}

func TestOrderingByResponseTime(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	slow := h.provider(t, "slow", 60, 1_000_000)
	fast := h.provider(t, "fast", 60, 1_000_000)

	h.monitor.Observe(slow.ID, true, 2*time.Second)
	h.monitor.Observe(fast.ID, true, 50*time.Millisecond)

	result, err := h.router.GenerateContent(context.Background(), &models.GenerationRequest{Prompt: "hello"})

	require.NoError(t, err)
	assert.Equal(t, fast.ID, result.ProviderID)
}

func TestAllProvidersUnavailable(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	a := h.provider(t, "alpha", 60, 1_000_000)
	b := h.provider(t, "bravo", 60, 1_000_000)
	h.adapters[a.ID].fail.Store(true)
	h.adapters[b.ID].fail.Store(true)

	_, err := h.router.GenerateContent(context.Background(), &models.GenerationRequest{Prompt: "hello"})

	require.Error(t, err)
	assert.True(t, services.IsUnavailableError(err))

	// Per-provider reasons are attached
	details := services.GetErrorDetails(err)
	assert.Contains(t, details, "alpha")
	assert.Contains(t, details, "bravo")

	// Failed attempts are recorded, no successful record exists
	for _, p := range []*models.Provider{a, b} {
		records := h.usageRepo.byProvider(p.ID)
		require.Len(t, records, 1)
		assert.False(t, records[0].Success)
	}
}

func TestNoProvidersRegistered(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	_, err := h.router.GenerateContent(context.Background(), &models.GenerationRequest{Prompt: "hello"})
	assert.True(t, services.IsUnavailableError(err))
}

func TestTimeoutCountsAsFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AttemptTimeout = 20 * time.Millisecond

	h := newHarness(t, cfg)
	slow := h.provider(t, "slow", 60, 1_000_000)
	fast := h.provider(t, "fast", 60, 1_000_000)
	h.adapters[slow.ID].delay = 200 * time.Millisecond

	result, err := h.router.GenerateContent(context.Background(), &models.GenerationRequest{
		Prompt:              "hello",
		PreferredProviderID: &slow.ID,
	})

	require.NoError(t, err)
	assert.Equal(t, fast.ID, result.ProviderID)
	assert.Equal(t, 1, h.breaker.ConsecutiveFailures(slow.ID))

	records := h.usageRepo.byProvider(slow.ID)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
}

func TestUsageLimitHeldUnderConcurrentRequests(t *testing.T) {
	h := newHarness(t, Config{AttemptTimeout: time.Second})
	p := h.provider(t, "openai", 0, 1000)
	h.adapters[p.ID].tokens = 100

	// 22-char prompt estimates to 5 prompt tokens; 95 completion tokens
	// makes every attempt reserve exactly 100 against a budget of 1000
	newReq := func() *models.GenerationRequest {
		return &models.GenerationRequest{
			Prompt:      "describe a red bicycle",
			RequestType: "description",
			MaxTokens:   95,
		}
	}

	var wg sync.WaitGroup
	var successes, refusals atomic.Int64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.router.GenerateContent(context.Background(), newReq())
			switch {
			case err == nil:
				successes.Add(1)
			case services.IsUnavailableError(err):
				refusals.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// Exactly ten attempts of 100 tokens fit; the rest are refused
	assert.Equal(t, int64(10), successes.Load())
	assert.Equal(t, int64(10), refusals.Load())
	assert.Equal(t, int64(10), h.adapters[p.ID].invokes.Load())

	updated, err := h.registry.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, updated.CurrentUsage, updated.UsageLimit)
	assert.Equal(t, int64(1000), updated.CurrentUsage)
}

func TestFailedAttemptReturnsReservation(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	p := h.provider(t, "openai", 60, 1000)
	h.adapters[p.ID].fail.Store(true)

	_, err := h.router.GenerateContent(context.Background(), &models.GenerationRequest{
		Prompt:    "hello",
		MaxTokens: 500,
	})
	require.Error(t, err)

	// The failed attempt must not consume budget
	updated, err := h.registry.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Zero(t, updated.CurrentUsage)

	h.adapters[p.ID].fail.Store(false)
	_, err = h.router.GenerateContent(context.Background(), &models.GenerationRequest{
		Prompt:    "hello",
		MaxTokens: 500,
	})
	assert.NoError(t, err)
}

func TestProviderWithoutAdapterSkipped(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	orphan := models.NewProvider("orphan", 60, 1000)
	require.NoError(t, h.registry.Register(context.Background(), orphan))
	healthy := h.provider(t, "openai", 60, 1_000_000)

	result, err := h.router.GenerateContent(context.Background(), &models.GenerationRequest{
		Prompt:              "hello",
		PreferredProviderID: &orphan.ID,
	})

	require.NoError(t, err)
	assert.Equal(t, healthy.ID, result.ProviderID)

	// The skip happens before admission: no budget held, circuit untouched
	updated, err := h.registry.Get(context.Background(), orphan.ID)
	require.NoError(t, err)
	assert.Zero(t, updated.CurrentUsage)
	assert.Equal(t, models.CircuitClosed, h.breaker.State(orphan.ID))

	_, err = h.router.GenerateContent(context.Background(), &models.GenerationRequest{Prompt: "hello"})
	assert.NoError(t, err)
}

func TestMaxAttemptsCapsInvocations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2

	h := newHarness(t, cfg)
	names := []string{"alpha", "bravo", "charlie"}
	ps := make([]*models.Provider, 0, len(names))
	for _, name := range names {
		p := h.provider(t, name, 60, 1_000_000)
		h.adapters[p.ID].fail.Store(true)
		ps = append(ps, p)
	}

	_, err := h.router.GenerateContent(context.Background(), &models.GenerationRequest{Prompt: "hello"})
	require.Error(t, err)

	total := int64(0)
	for _, p := range ps {
		total += h.adapters[p.ID].invokes.Load()
	}
	assert.Equal(t, int64(2), total)
}
