package quota

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentpilot/ai-gateway/models"
	"github.com/contentpilot/ai-gateway/services"
)

// windowSeconds is the length of the trailing rate window
const windowSeconds = 60

// rateWindow tracks dispatch counts in one-second buckets.
// A fixed ring keeps memory constant per provider regardless of traffic.
type rateWindow struct {
	mu          sync.Mutex
	buckets     [windowSeconds]int
	bucketSecs  [windowSeconds]int64 // Unix second each bucket currently represents
}

// Enforcer applies per-provider rate and usage quotas.
// The request-per-minute window and the cumulative token budget are
// independent checks; either alone can refuse admission.
type Enforcer struct {
	logger  *zap.Logger
	nowFunc func() time.Time

	mu      sync.RWMutex
	windows map[uuid.UUID]*rateWindow
}

// NewEnforcer creates a new quota enforcer
func NewEnforcer(logger *zap.Logger) *Enforcer {
	return &Enforcer{
		logger:  logger,
		nowFunc: time.Now,
		windows: make(map[uuid.UUID]*rateWindow),
	}
}

// window returns the rate window for a provider, creating it on first use
func (e *Enforcer) window(providerID uuid.UUID) *rateWindow {
	e.mu.RLock()
	w, ok := e.windows[providerID]
	e.mu.RUnlock()
	if ok {
		return w
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok = e.windows[providerID]; ok {
		return w
	}
	w = &rateWindow{}
	e.windows[providerID] = w
	return w
}

// Check verifies that a request may be admitted to the provider.
// estimatedTokens is the pre-flight token estimate; a request whose
// estimate would cross the usage limit is rejected, never clipped, and
// a zero usage limit means unlimited. The usage check here reads the
// caller's provider snapshot; the binding admission is the registry's
// usage reservation.
func (e *Enforcer) Check(provider *models.Provider, estimatedTokens int) error {
	if !provider.Enabled {
		return services.NewDomainError(services.ErrorTypeProviderDisabled, "provider is disabled", nil).
			WithDetail("provider_id", provider.ID.String())
	}

	if provider.UsageLimit > 0 && provider.CurrentUsage+int64(estimatedTokens) > provider.UsageLimit {
		e.logger.Warn("usage limit would be exceeded",
			zap.String("provider_id", provider.ID.String()),
			zap.Int64("current_usage", provider.CurrentUsage),
			zap.Int("estimated_tokens", estimatedTokens),
			zap.Int64("usage_limit", provider.UsageLimit))
		return services.NewDomainError(services.ErrorTypeUsageLimit, "provider usage limit exceeded", nil).
			WithDetail("provider_id", provider.ID.String()).
			WithDetail("remaining", provider.RemainingUsage())
	}

	if provider.RateLimit > 0 {
		count := e.countWindow(provider.ID)
		if count >= provider.RateLimit {
			e.logger.Warn("rate limit window full",
				zap.String("provider_id", provider.ID.String()),
				zap.Int("window_count", count),
				zap.Int("rate_limit", provider.RateLimit))
			return services.NewDomainError(services.ErrorTypeRateLimit, "provider rate limit window is full", nil).
				WithDetail("provider_id", provider.ID.String()).
				WithDetail("limit", provider.RateLimit)
		}
	}

	return nil
}

// Record counts an admitted dispatch against the provider's rate window
func (e *Enforcer) Record(providerID uuid.UUID) {
	w := e.window(providerID)
	now := e.nowFunc().Unix()
	idx := now % windowSeconds

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.bucketSecs[idx] != now {
		w.buckets[idx] = 0
		w.bucketSecs[idx] = now
	}
	w.buckets[idx]++
}

// CurrentRate returns the number of dispatches in the trailing window
func (e *Enforcer) CurrentRate(providerID uuid.UUID) int {
	return e.countWindow(providerID)
}

// countWindow sums buckets still inside the trailing window
func (e *Enforcer) countWindow(providerID uuid.UUID) int {
	w := e.window(providerID)
	now := e.nowFunc().Unix()

	w.mu.Lock()
	defer w.mu.Unlock()

	count := 0
	for i := 0; i < windowSeconds; i++ {
		if now-w.bucketSecs[i] < windowSeconds {
			count += w.buckets[i]
		}
	}
	return count
}
