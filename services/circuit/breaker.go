package circuit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentpilot/ai-gateway/models"
	"github.com/contentpilot/ai-gateway/services"
)

// Config holds circuit breaker tuning parameters
type Config struct {
	FailureThreshold int           // Consecutive failures that open the circuit
	ErrorRateLimit   float64       // Windowed error rate percent that opens the circuit
	MinSamples       int           // Minimum observations before the error rate applies
	Cooldown         time.Duration // Open duration before a half-open probe is allowed
	WindowSize       int           // Rolling outcome window size
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ErrorRateLimit:   50,
		MinSamples:       10,
		Cooldown:         30 * time.Second,
		WindowSize:       20,
	}
}

// breakerState holds the circuit machine for a single provider.
// Each provider has its own lock; no operation takes two at once.
type breakerState struct {
	mu                  sync.Mutex
	circuit             models.CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool

	// Rolling outcome ring, true = success
	outcomes   []bool
	outcomeIdx int
	sampleSize int
	failures   int
}

// Breaker manages per-provider circuit breakers
type Breaker struct {
	config  Config
	logger  *zap.Logger
	nowFunc func() time.Time

	mu     sync.RWMutex
	states map[uuid.UUID]*breakerState
}

// NewBreaker creates a new circuit breaker service
func NewBreaker(config Config, logger *zap.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.WindowSize <= 0 {
		config.WindowSize = 20
	}
	return &Breaker{
		config:  config,
		logger:  logger,
		nowFunc: time.Now,
		states:  make(map[uuid.UUID]*breakerState),
	}
}

// state returns the breaker state for a provider, creating it closed
func (b *Breaker) state(providerID uuid.UUID) *breakerState {
	b.mu.RLock()
	st, ok := b.states[providerID]
	b.mu.RUnlock()
	if ok {
		return st
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok = b.states[providerID]; ok {
		return st
	}
	st = &breakerState{
		circuit:  models.CircuitClosed,
		outcomes: make([]bool, b.config.WindowSize),
	}
	b.states[providerID] = st
	return st
}

// Allow reports whether a request may be dispatched to the provider.
// Returns nil for closed circuits, claims the single half-open probe slot
// once the cooldown has elapsed, and a circuit-open error otherwise.
func (b *Breaker) Allow(providerID uuid.UUID) error {
	st := b.state(providerID)
	st.mu.Lock()
	defer st.mu.Unlock()

	switch st.circuit {
	case models.CircuitClosed:
		return nil

	case models.CircuitOpen:
		if b.nowFunc().Sub(st.openedAt) < b.config.Cooldown {
			return services.ErrCircuitOpen
		}
		// Cooldown elapsed, transition to half-open and claim the probe
		st.circuit = models.CircuitHalfOpen
		st.probeInFlight = true
		b.logger.Info("circuit half-open, admitting probe",
			zap.String("provider_id", providerID.String()))
		return nil

	case models.CircuitHalfOpen:
		if st.probeInFlight {
			return services.ErrCircuitOpen
		}
		st.probeInFlight = true
		return nil
	}

	return nil
}

// RecordSuccess records a successful invocation
func (b *Breaker) RecordSuccess(providerID uuid.UUID) {
	st := b.state(providerID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.consecutiveFailures = 0
	b.recordOutcome(st, true)

	if st.circuit == models.CircuitHalfOpen {
		st.circuit = models.CircuitClosed
		st.probeInFlight = false
		st.resetWindow()
		b.logger.Info("circuit closed after successful probe",
			zap.String("provider_id", providerID.String()))
	}
}

// RecordFailure records a failed invocation (errors and timeouts alike)
func (b *Breaker) RecordFailure(providerID uuid.UUID) {
	st := b.state(providerID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.consecutiveFailures++
	b.recordOutcome(st, false)

	switch st.circuit {
	case models.CircuitHalfOpen:
		// Failed probe reopens with a fresh cooldown
		st.circuit = models.CircuitOpen
		st.openedAt = b.nowFunc()
		st.probeInFlight = false
		b.logger.Warn("circuit reopened after failed probe",
			zap.String("provider_id", providerID.String()))

	case models.CircuitClosed:
		if st.consecutiveFailures >= b.config.FailureThreshold || b.errorRateExceeded(st) {
			st.circuit = models.CircuitOpen
			st.openedAt = b.nowFunc()
			b.logger.Warn("circuit opened",
				zap.String("provider_id", providerID.String()),
				zap.Int("consecutive_failures", st.consecutiveFailures))
		}
	}
}

// State returns the current circuit state for a provider
func (b *Breaker) State(providerID uuid.UUID) models.CircuitState {
	st := b.state(providerID)
	st.mu.Lock()
	defer st.mu.Unlock()

	// Report the state a request would see: an elapsed cooldown means the
	// next Allow will transition to half-open
	if st.circuit == models.CircuitOpen && b.nowFunc().Sub(st.openedAt) >= b.config.Cooldown {
		return models.CircuitHalfOpen
	}
	return st.circuit
}

// ConsecutiveFailures returns the current consecutive failure count
func (b *Breaker) ConsecutiveFailures(providerID uuid.UUID) int {
	st := b.state(providerID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.consecutiveFailures
}

// Reset forces the circuit closed and clears all counters
func (b *Breaker) Reset(providerID uuid.UUID) {
	st := b.state(providerID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.circuit = models.CircuitClosed
	st.consecutiveFailures = 0
	st.probeInFlight = false
	st.resetWindow()
}

// recordOutcome appends to the rolling outcome ring
func (b *Breaker) recordOutcome(st *breakerState, success bool) {
	if st.sampleSize == len(st.outcomes) {
		// Evicting the oldest outcome
		if !st.outcomes[st.outcomeIdx] {
			st.failures--
		}
	} else {
		st.sampleSize++
	}
	st.outcomes[st.outcomeIdx] = success
	if !success {
		st.failures++
	}
	st.outcomeIdx = (st.outcomeIdx + 1) % len(st.outcomes)
}

// errorRateExceeded checks the windowed error rate against the limit
func (b *Breaker) errorRateExceeded(st *breakerState) bool {
	if b.config.ErrorRateLimit <= 0 || st.sampleSize < b.config.MinSamples {
		return false
	}
	rate := float64(st.failures) / float64(st.sampleSize) * 100
	return rate > b.config.ErrorRateLimit
}

func (st *breakerState) resetWindow() {
	for i := range st.outcomes {
		st.outcomes[i] = false
	}
	st.outcomeIdx = 0
	st.sampleSize = 0
	st.failures = 0
}
