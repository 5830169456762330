package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentpilot/ai-gateway/models"
	"github.com/contentpilot/ai-gateway/services"
	"github.com/contentpilot/ai-gateway/services/circuit"
	"github.com/contentpilot/ai-gateway/services/providers"
	"github.com/contentpilot/ai-gateway/services/registry"
)

// Config holds health monitor tuning parameters
type Config struct {
	Interval         time.Duration // Probe sweep interval
	ProbeTimeout     time.Duration // Per-probe deadline
	WindowSize       int           // Rolling outcome window size
	EMAAlpha         float64       // Weight of the newest latency sample
	LatencyCeilingMs float64       // EMA above this marks the provider degraded
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		ProbeTimeout:     5 * time.Second,
		WindowSize:       100,
		EMAAlpha:         0.3,
		LatencyCeilingMs: 3000,
	}
}

// healthState is the per-provider rolling health view.
// Guarded by its own lock; the monitor never holds two at once.
type healthState struct {
	mu          sync.Mutex
	ema         float64
	emaSet      bool
	outcomes    []bool
	outcomeIdx  int
	sampleSize  int
	successes   int
	maintenance bool
	lastChecked time.Time
}

// Monitor periodically probes providers and maintains their health records.
// Router outcomes feed the same rolling statistics as probe results.
type Monitor struct {
	registry *registry.Registry
	breaker  *circuit.Breaker
	adapters map[uuid.UUID]providers.Adapter
	config   Config
	logger   *zap.Logger
	nowFunc  func() time.Time

	mu     sync.RWMutex
	states map[uuid.UUID]*healthState

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	lifeMu  sync.Mutex
}

// NewMonitor creates a new health monitor
func NewMonitor(reg *registry.Registry, breaker *circuit.Breaker, adapters map[uuid.UUID]providers.Adapter, config Config, logger *zap.Logger) *Monitor {
	if config.WindowSize <= 0 {
		config.WindowSize = 100
	}
	if config.EMAAlpha <= 0 || config.EMAAlpha > 1 {
		config.EMAAlpha = 0.3
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		registry: reg,
		breaker:  breaker,
		adapters: adapters,
		config:   config,
		logger:   logger,
		nowFunc:  time.Now,
		states:   make(map[uuid.UUID]*healthState),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the background probe loop
func (m *Monitor) Start() error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.started {
		return fmt.Errorf("health monitor already started")
	}

	m.wg.Add(1)
	go m.run()

	m.started = true
	m.logger.Info("started health monitor",
		zap.Duration("interval", m.config.Interval),
		zap.Int("provider_count", len(m.adapters)))
	return nil
}

// Stop stops the probe loop, waiting up to timeout for the sweep in progress
func (m *Monitor) Stop(timeout time.Duration) error {
	m.lifeMu.Lock()
	if !m.started {
		m.lifeMu.Unlock()
		return fmt.Errorf("health monitor not started")
	}
	m.started = false
	m.lifeMu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("health monitor stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("health monitor stop timeout after %v", timeout)
	}
}

// run is the probe loop. The first sweep happens immediately.
func (m *Monitor) run() {
	defer m.wg.Done()

	m.probeAll()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probeAll()
		case <-m.ctx.Done():
			return
		}
	}
}

// probeAll sweeps every enabled provider once
func (m *Monitor) probeAll() {
	for _, p := range m.registry.List(m.ctx) {
		if !p.Enabled {
			continue
		}
		adapter, ok := m.adapters[p.ID]
		if !ok {
			continue
		}
		m.probe(p.ID, adapter)
	}
}

// probe runs one reachability check and records the outcome
func (m *Monitor) probe(providerID uuid.UUID, adapter providers.Adapter) {
	ctx, cancel := context.WithTimeout(m.ctx, m.config.ProbeTimeout)
	defer cancel()

	start := m.nowFunc()
	err := adapter.Ping(ctx)
	latency := m.nowFunc().Sub(start)

	if err != nil {
		m.logger.Warn("provider probe failed",
			zap.String("provider_id", providerID.String()),
			zap.String("provider", adapter.Name()),
			zap.Error(err))
		m.Observe(providerID, false, latency)
		m.breaker.RecordFailure(providerID)
		return
	}

	m.Observe(providerID, true, latency)
	m.breaker.RecordSuccess(providerID)
}

// Observe folds an invocation or probe outcome into the rolling statistics
func (m *Monitor) Observe(providerID uuid.UUID, success bool, latency time.Duration) {
	st := m.state(providerID)
	st.mu.Lock()
	defer st.mu.Unlock()

	latencyMs := float64(latency.Milliseconds())
	if st.emaSet {
		st.ema = m.config.EMAAlpha*latencyMs + (1-m.config.EMAAlpha)*st.ema
	} else {
		st.ema = latencyMs
		st.emaSet = true
	}

	if st.sampleSize == len(st.outcomes) {
		if st.outcomes[st.outcomeIdx] {
			st.successes--
		}
	} else {
		st.sampleSize++
	}
	st.outcomes[st.outcomeIdx] = success
	if success {
		st.successes++
	}
	st.outcomeIdx = (st.outcomeIdx + 1) % len(st.outcomes)

	st.lastChecked = m.nowFunc()
}

// Health returns the current health record for a provider
func (m *Monitor) Health(providerID uuid.UUID) (*models.HealthRecord, error) {
	if _, err := m.registry.Get(context.Background(), providerID); err != nil {
		return nil, services.ErrProviderNotFound
	}
	return m.snapshot(providerID), nil
}

// All returns health records for every registered provider
func (m *Monitor) All() []*models.HealthRecord {
	providers := m.registry.List(context.Background())
	records := make([]*models.HealthRecord, 0, len(providers))
	for _, p := range providers {
		records = append(records, m.snapshot(p.ID))
	}
	return records
}

// ResponseTime returns the latency EMA in milliseconds for candidate ordering.
// Providers without observations sort first.
func (m *Monitor) ResponseTime(providerID uuid.UUID) float64 {
	st := m.state(providerID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.ema
}

// InMaintenance reports whether the provider is in operator-set maintenance
func (m *Monitor) InMaintenance(providerID uuid.UUID) bool {
	st := m.state(providerID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.maintenance
}

// SetMaintenance flags a provider as under maintenance, excluding it
// from routing until cleared. Maintenance is never derived from probes.
func (m *Monitor) SetMaintenance(providerID uuid.UUID) {
	st := m.state(providerID)
	st.mu.Lock()
	st.maintenance = true
	st.mu.Unlock()

	m.logger.Info("provider placed in maintenance", zap.String("provider_id", providerID.String()))
}

// ClearMaintenance removes the maintenance flag
func (m *Monitor) ClearMaintenance(providerID uuid.UUID) {
	st := m.state(providerID)
	st.mu.Lock()
	st.maintenance = false
	st.mu.Unlock()

	m.logger.Info("provider maintenance cleared", zap.String("provider_id", providerID.String()))
}

// snapshot builds a health record from the rolling state and the breaker
func (m *Monitor) snapshot(providerID uuid.UUID) *models.HealthRecord {
	st := m.state(providerID)
	st.mu.Lock()
	defer st.mu.Unlock()

	record := models.NewHealthRecord(providerID)
	record.CircuitState = m.breaker.State(providerID)
	record.ConsecutiveFailures = m.breaker.ConsecutiveFailures(providerID)
	record.ResponseTimeMs = st.ema
	record.LastChecked = st.lastChecked

	if st.sampleSize > 0 {
		record.SuccessRate = float64(st.successes) / float64(st.sampleSize) * 100
		record.ErrorRate = 100 - record.SuccessRate
	}

	record.Status = m.deriveStatus(st, record)
	return record
}

// deriveStatus computes the health status from the rolling statistics.
// Maintenance always wins; it is operator-set, never derived.
func (m *Monitor) deriveStatus(st *healthState, record *models.HealthRecord) models.HealthStatus {
	if st.maintenance {
		return models.HealthStatusMaintenance
	}

	successRate := record.SuccessRate
	if st.sampleSize == 0 {
		successRate = 100
	}

	switch {
	case successRate >= 95 && st.ema <= m.config.LatencyCeilingMs:
		return models.HealthStatusHealthy
	case successRate >= 80:
		// Elevated latency with a healthy success rate also lands here
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusDown
	}
}

// state returns the rolling state for a provider, creating it on first use
func (m *Monitor) state(providerID uuid.UUID) *healthState {
	m.mu.RLock()
	st, ok := m.states[providerID]
	m.mu.RUnlock()
	if ok {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok = m.states[providerID]; ok {
		return st
	}
	st = &healthState{outcomes: make([]bool, m.config.WindowSize)}
	m.states[providerID] = st
	return st
}
