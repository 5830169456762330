package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentpilot/ai-gateway/auth"
	"github.com/contentpilot/ai-gateway/config"
	"github.com/contentpilot/ai-gateway/handlers"
	"github.com/contentpilot/ai-gateway/middleware"
	"github.com/contentpilot/ai-gateway/models"
	"github.com/contentpilot/ai-gateway/repositories"
	"github.com/contentpilot/ai-gateway/repositories/postgres"
	"github.com/contentpilot/ai-gateway/services/circuit"
	"github.com/contentpilot/ai-gateway/services/health"
	"github.com/contentpilot/ai-gateway/services/ledger"
	"github.com/contentpilot/ai-gateway/services/providers"
	"github.com/contentpilot/ai-gateway/services/providers/echo"
	"github.com/contentpilot/ai-gateway/services/providers/openai"
	"github.com/contentpilot/ai-gateway/services/quota"
	"github.com/contentpilot/ai-gateway/services/registry"
	"github.com/contentpilot/ai-gateway/services/router"
)

// Handlers bundles the HTTP handlers for route wiring
type Handlers struct {
	Generate  *handlers.GenerateHandler
	Providers *handlers.ProviderHandler
	Health    *handlers.HealthHandler
	Usage     *handlers.UsageHandler
}

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory
	Repos       *repositories.Repositories

	// Services
	Registry *registry.Registry
	Quota    *quota.Enforcer
	Breaker  *circuit.Breaker
	Monitor  *health.Monitor
	Ledger   *ledger.Ledger
	Router   *router.Router
	Adapters map[uuid.UUID]providers.Adapter

	// Auth
	AuthMiddleware *middleware.AuthMiddleware

	// HTTP
	Handlers Handlers
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Adapters: make(map[uuid.UUID]providers.Adapter),
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initServices(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection, schema, and repositories
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Repos = factory.NewRepositories()

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

// initServices wires the provider registry, quota enforcer, circuit
// breaker, health monitor, usage ledger, and failover router
func (d *Dependencies) initServices(ctx context.Context, cfg *config.Config) error {
	d.Registry = registry.NewRegistry(d.Repos.Providers, d.Logger)
	if err := d.Registry.Load(ctx); err != nil {
		return err
	}

	if err := d.bindProviders(ctx, cfg); err != nil {
		return err
	}

	d.Quota = quota.NewEnforcer(d.Logger)
	d.Breaker = circuit.NewBreaker(circuit.Config{
		FailureThreshold: cfg.Gateway.FailureThreshold,
		Cooldown:         cfg.Gateway.CircuitCooldown,
	}, d.Logger)
	d.Ledger = ledger.NewLedger(d.Repos.Usage, d.Logger, ledger.Config{
		BufferSize:  cfg.Gateway.LedgerBufferSize,
		WorkerCount: cfg.Gateway.LedgerWorkers,
	})
	d.Monitor = health.NewMonitor(d.Registry, d.Breaker, d.Adapters, health.Config{
		Interval:     cfg.Gateway.HealthCheckInterval,
		ProbeTimeout: cfg.Gateway.ProbeTimeout,
	}, d.Logger)
	d.Router = router.NewRouter(d.Registry, d.Quota, d.Breaker, d.Monitor, d.Ledger, d.Adapters, router.Config{
		AttemptTimeout: cfg.Gateway.AttemptTimeout,
		MaxAttempts:    cfg.Gateway.MaxAttempts,
	}, d.Logger)

	return nil
}

// bindProviders seeds the configured provider set on first boot and
// binds an adapter to every provider it can serve. Providers present in
// the database but missing local adapter configuration stay registered
// and are reported as unavailable by the router.
func (d *Dependencies) bindProviders(ctx context.Context, cfg *config.Config) error {
	byName := make(map[string]*uuid.UUID)
	for _, p := range d.Registry.List(ctx) {
		id := p.ID
		byName[p.Name] = &id
	}

	ensure := func(name string, rateLimit int, usageLimit int64) (uuid.UUID, error) {
		if id, ok := byName[name]; ok {
			return *id, nil
		}
		provider := models.NewProvider(name, rateLimit, usageLimit)
		if err := d.Registry.Register(ctx, provider); err != nil {
			return uuid.Nil, err
		}
		return provider.ID, nil
	}

	if cfg.Providers.OpenAI.APIKey != "" {
		adapter, err := openai.New(providers.AdapterConfig{
			APIKey:     cfg.Providers.OpenAI.APIKey,
			BaseURL:    cfg.Providers.OpenAI.BaseURL,
			Model:      cfg.Providers.OpenAI.Model,
			Timeout:    cfg.Providers.OpenAI.Timeout,
			MaxRetries: cfg.Providers.OpenAI.MaxRetries,
		})
		if err != nil {
			return fmt.Errorf("failed to create openai adapter: %w", err)
		}
		id, err := ensure("openai", cfg.Providers.OpenAI.RateLimit, cfg.Providers.OpenAI.UsageLimit)
		if err != nil {
			return err
		}
		d.Adapters[id] = adapter
		d.Logger.Info("bound openai provider", zap.String("provider_id", id.String()))
	}

	if cfg.Providers.Echo.Enabled {
		id, err := ensure("echo", cfg.Providers.Echo.RateLimit, cfg.Providers.Echo.UsageLimit)
		if err != nil {
			return err
		}
		d.Adapters[id] = echo.New()
		d.Logger.Info("bound echo provider", zap.String("provider_id", id.String()))
	}

	for name, id := range byName {
		if _, ok := d.Adapters[*id]; !ok {
			d.Logger.Warn("provider has no adapter configured",
				zap.String("name", name),
				zap.String("provider_id", id.String()))
		}
	}

	if len(d.Adapters) == 0 {
		d.Logger.Warn("no providers configured")
	}
	return nil
}

// initAuth wires the JWT validator and auth middleware
func (d *Dependencies) initAuth(cfg *config.Config) error {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("jwt secret not configured, protected routes will reject all requests")
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return nil
	}

	validator, err := auth.NewValidator(auth.Config{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
	})
	if err != nil {
		return err
	}

	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("auth middleware initialized")
	return nil
}

// initHandlers wires the HTTP handlers
func (d *Dependencies) initHandlers() {
	d.Handlers = Handlers{
		Generate:  handlers.NewGenerateHandler(d.Router, d.Logger),
		Providers: handlers.NewProviderHandler(d.Registry, d.Logger),
		Health:    handlers.NewHealthHandler(d.Monitor, d.DB.DB, d.Logger),
		Usage:     handlers.NewUsageHandler(d.Ledger, d.Logger),
	}
}

// Start launches the background workers (usage ledger and health monitor)
func (d *Dependencies) Start() error {
	if err := d.Ledger.Start(); err != nil {
		return fmt.Errorf("failed to start usage ledger: %w", err)
	}
	if err := d.Monitor.Start(); err != nil {
		return fmt.Errorf("failed to start health monitor: %w", err)
	}
	return nil
}

// Close gracefully shuts down all dependencies. Workers stop before the
// database so pending usage records drain into storage.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Monitor != nil {
		if err := d.Monitor.Stop(10 * time.Second); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop health monitor: %w", err))
		}
	}

	if d.Ledger != nil {
		if err := d.Ledger.Stop(10 * time.Second); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop usage ledger: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}

// rejectAllValidator rejects all tokens (used when no JWT secret is configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}
