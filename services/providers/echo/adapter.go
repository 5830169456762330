package echo

import (
	"context"
	"fmt"
	"time"

	"github.com/contentpilot/ai-gateway/models"
	"github.com/contentpilot/ai-gateway/services/providers"
)

// Adapter is a deterministic local provider for development and tests.
// It echoes the prompt back and charges a synthetic per-token cost.
type Adapter struct {
	name         string
	delay        time.Duration
	costPerToken float64
}

// Option configures the echo adapter
type Option func(*Adapter)

// WithDelay makes every invocation take at least d
func WithDelay(d time.Duration) Option {
	return func(a *Adapter) {
		a.delay = d
	}
}

// WithName overrides the provider name
func WithName(name string) Option {
	return func(a *Adapter) {
		a.name = name
	}
}

// New creates a new echo adapter
func New(opts ...Option) *Adapter {
	a := &Adapter{
		name:         "echo",
		costPerToken: 0.000001,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return a.name
}

// Invoke echoes the prompt back after the configured delay
func (a *Adapter) Invoke(ctx context.Context, req *models.GenerationRequest) (*providers.InvokeResult, error) {
	startTime := time.Now()

	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, providers.NewProviderError(a.name, "TIMEOUT", "Request deadline exceeded", 0, true, ctx.Err())
		}
	}

	text := fmt.Sprintf("echo: %s", req.Prompt)
	tokens := len(req.Prompt)/4 + 1

	return &providers.InvokeResult{
		Text:       text,
		TokensUsed: tokens,
		Cost:       float64(tokens) * a.costPerToken,
		Latency:    time.Since(startTime),
	}, nil
}

// Ping always succeeds unless the context is already cancelled
func (a *Adapter) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return providers.NewProviderError(a.name, "TIMEOUT", "Probe cancelled", 0, true, err)
	}
	return nil
}
