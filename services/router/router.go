package router

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentpilot/ai-gateway/models"
	"github.com/contentpilot/ai-gateway/services"
	"github.com/contentpilot/ai-gateway/services/circuit"
	"github.com/contentpilot/ai-gateway/services/health"
	"github.com/contentpilot/ai-gateway/services/ledger"
	"github.com/contentpilot/ai-gateway/services/providers"
	"github.com/contentpilot/ai-gateway/services/quota"
	"github.com/contentpilot/ai-gateway/services/registry"
)

// Config holds failover router tuning parameters
type Config struct {
	AttemptTimeout time.Duration // Per-attempt invocation deadline
	MaxAttempts    int           // Cap on provider invocations per request (0 = try all)
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 30 * time.Second,
		MaxAttempts:    3,
	}
}

// Router dispatches generation requests across providers with automatic
// failover. Attempts are strictly sequential; a request is never sent to
// two providers at once.
type Router struct {
	registry *registry.Registry
	quota    *quota.Enforcer
	breaker  *circuit.Breaker
	monitor  *health.Monitor
	ledger   *ledger.Ledger
	adapters map[uuid.UUID]providers.Adapter
	config   Config
	logger   *zap.Logger
}

// NewRouter creates a new failover router
func NewRouter(
	reg *registry.Registry,
	quotaEnforcer *quota.Enforcer,
	breaker *circuit.Breaker,
	monitor *health.Monitor,
	usageLedger *ledger.Ledger,
	adapters map[uuid.UUID]providers.Adapter,
	config Config,
	logger *zap.Logger,
) *Router {
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = 30 * time.Second
	}
	return &Router{
		registry: reg,
		quota:    quotaEnforcer,
		breaker:  breaker,
		monitor:  monitor,
		ledger:   usageLedger,
		adapters: adapters,
		config:   config,
		logger:   logger,
	}
}

// GenerateContent routes a generation request to the best admissible
// provider, failing over on errors until a provider succeeds or every
// candidate has been refused or has failed.
func (r *Router) GenerateContent(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, services.ErrEmptyPrompt
	}

	candidates := r.candidates(req.PreferredProviderID)
	if len(candidates) == 0 {
		return nil, services.NewDomainError(services.ErrorTypeUnavailable, "no provider could satisfy the request", nil).
			WithDetail("reason", "no routable providers")
	}

	estimatedTokens := req.EstimatedTokens()
	reasons := make(map[string]interface{}, len(candidates))
	attempts := 0

	for _, candidate := range candidates {
		if r.config.MaxAttempts > 0 && attempts >= r.config.MaxAttempts {
			reasons[candidate.Name] = "attempt budget exhausted"
			continue
		}

		adapter, ok := r.adapters[candidate.ID]
		if !ok {
			reasons[candidate.Name] = "no adapter bound"
			continue
		}

		if err := r.quota.Check(candidate, estimatedTokens); err != nil {
			reasons[candidate.Name] = string(services.GetErrorType(err))
			r.logger.Debug("provider refused by quota",
				zap.String("provider", candidate.Name),
				zap.String("reason", string(services.GetErrorType(err))))
			continue
		}

		// Claim the token estimate against the live counter before
		// dispatch. Concurrent requests admitted on the same snapshot
		// settle here, one at a time, so the limit cannot be overrun.
		reserved := int64(estimatedTokens)
		if err := r.registry.ReserveUsage(candidate.ID, reserved); err != nil {
			reasons[candidate.Name] = string(services.GetErrorType(err))
			continue
		}

		if err := r.breaker.Allow(candidate.ID); err != nil {
			r.registry.ReleaseUsage(candidate.ID, reserved)
			reasons[candidate.Name] = string(services.GetErrorType(err))
			continue
		}

		attempts++
		result, err := r.attempt(ctx, candidate, adapter, req, reserved)
		if err != nil {
			reasons[candidate.Name] = string(services.GetErrorType(err))
			continue
		}
		return result, nil
	}

	r.logger.Warn("all providers unavailable",
		zap.Int("candidate_count", len(candidates)),
		zap.Int("attempts", attempts))

	unavailable := services.NewDomainError(services.ErrorTypeUnavailable, "no provider could satisfy the request", nil)
	for name, reason := range reasons {
		unavailable.WithDetail(name, reason)
	}
	return nil, unavailable
}

// attempt invokes a single provider under the per-attempt deadline and
// records the outcome in the ledger, the breaker, and the health stats.
// The caller holds a usage reservation of reserved tokens; it is settled
// against actual consumption on success and released on failure.
func (r *Router) attempt(ctx context.Context, provider *models.Provider, adapter providers.Adapter, req *models.GenerationRequest, reserved int64) (*models.GenerationResult, error) {
	r.quota.Record(provider.ID)

	attemptCtx, cancel := context.WithTimeout(ctx, r.config.AttemptTimeout)
	defer cancel()

	start := time.Now()
	result, err := adapter.Invoke(attemptCtx, req)
	latency := time.Since(start)
	latencyMs := int(latency.Milliseconds())

	record := models.NewUsageRecord(provider.ID, req.RequestType)
	record.ProductID = req.ProductID

	if err != nil {
		domainErr := classifyInvokeError(attemptCtx, err)
		record.MarkFailure(domainErr.Error(), latencyMs)

		if ledgerErr := r.ledger.RecordSync(ctx, record); ledgerErr != nil {
			r.logger.Error("failed to record failed attempt",
				zap.String("provider", provider.Name),
				zap.Error(ledgerErr))
		}
		r.registry.ReleaseUsage(provider.ID, reserved)
		r.breaker.RecordFailure(provider.ID)
		r.monitor.Observe(provider.ID, false, latency)

		r.logger.Warn("provider attempt failed",
			zap.String("provider", provider.Name),
			zap.Duration("latency", latency),
			zap.Error(err))
		return nil, domainErr
	}

	record.MarkSuccess(result.TokensUsed, result.Cost, latencyMs)
	if ledgerErr := r.ledger.RecordSync(ctx, record); ledgerErr != nil {
		r.logger.Error("failed to record successful attempt",
			zap.String("provider", provider.Name),
			zap.Error(ledgerErr))
	}

	if err := r.registry.CommitUsage(ctx, provider.ID, reserved, int64(result.TokensUsed)); err != nil {
		r.logger.Error("failed to commit provider usage",
			zap.String("provider", provider.Name),
			zap.Error(err))
	}
	r.breaker.RecordSuccess(provider.ID)
	r.monitor.Observe(provider.ID, true, latency)

	r.logger.Info("generation served",
		zap.String("provider", provider.Name),
		zap.Int("tokens_used", result.TokensUsed),
		zap.Duration("latency", latency))

	return &models.GenerationResult{
		Content:      result.Text,
		ProviderID:   provider.ID,
		ProviderName: provider.Name,
		TokensUsed:   result.TokensUsed,
		Cost:         result.Cost,
		ResponseTime: latency,
	}, nil
}

// candidates builds the ordered candidate list: the preferred provider
// first when set, then the rest by circuit state (closed before
// half-open) and ascending latency EMA. Open and maintenance providers
// are excluded entirely.
func (r *Router) candidates(preferredID *uuid.UUID) []*models.Provider {
	all := r.registry.List(context.Background())

	var preferred *models.Provider
	rest := make([]*models.Provider, 0, len(all))

	for _, p := range all {
		if r.monitor.InMaintenance(p.ID) {
			continue
		}
		if r.breaker.State(p.ID) == models.CircuitOpen {
			continue
		}
		if preferredID != nil && p.ID == *preferredID {
			preferred = p
			continue
		}
		rest = append(rest, p)
	}

	sort.SliceStable(rest, func(i, j int) bool {
		si, sj := r.breaker.State(rest[i].ID), r.breaker.State(rest[j].ID)
		if si != sj {
			return si == models.CircuitClosed
		}
		return r.monitor.ResponseTime(rest[i].ID) < r.monitor.ResponseTime(rest[j].ID)
	})

	if preferred != nil {
		return append([]*models.Provider{preferred}, rest...)
	}
	return rest
}

// classifyInvokeError maps adapter errors onto the domain taxonomy.
// Deadline expiry is a timeout; everything else is a provider error.
func classifyInvokeError(ctx context.Context, err error) *services.DomainError {
	if ctx.Err() == context.DeadlineExceeded {
		return services.NewDomainError(services.ErrorTypeTimeout, "provider invocation timed out", err)
	}
	var provErr *providers.ProviderError
	if errors.As(err, &provErr) && provErr.Code == "TIMEOUT" {
		return services.NewDomainError(services.ErrorTypeTimeout, "provider invocation timed out", err)
	}
	return services.NewDomainError(services.ErrorTypeProvider, "provider invocation failed", err)
}
