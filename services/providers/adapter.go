package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contentpilot/ai-gateway/models"
)

var (
	// ErrMissingAPIKey is returned when an adapter is built without credentials
	ErrMissingAPIKey = errors.New("adapter API key is required")
)

// InvokeResult is the unified result of a provider invocation
type InvokeResult struct {
	Text       string
	TokensUsed int
	Cost       float64
	Latency    time.Duration
}

// Adapter is the capability contract every provider integration implements.
// Invoke must honor ctx cancellation; the router bounds each attempt with a
// deadline and treats expiry as a failed attempt.
type Adapter interface {
	// Name returns the provider name the adapter serves
	Name() string

	// Invoke performs a single text generation attempt
	Invoke(ctx context.Context, req *models.GenerationRequest) (*InvokeResult, error)

	// Ping performs a lightweight reachability probe
	Ping(ctx context.Context) error
}

// AdapterConfig holds common configuration for provider adapters
type AdapterConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Headers    map[string]string
}

// ProviderError is a transport-level error from a provider adapter
type ProviderError struct {
	Provider   string
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Err        error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (%s, status %d)", e.Provider, e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
}

// Unwrap implements errors.Unwrap
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Err:        err,
	}
}

// IsRetryable reports whether an adapter error is worth retrying on
// another provider (all provider errors are, by the failover contract)
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}
