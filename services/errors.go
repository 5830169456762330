package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeUnauthorized     ErrorType = "unauthorized"
	ErrorTypeProviderDisabled ErrorType = "provider_disabled"
	ErrorTypeRateLimit        ErrorType = "rate_limited"
	ErrorTypeUsageLimit       ErrorType = "usage_limit_exceeded"
	ErrorTypeCircuitOpen      ErrorType = "circuit_open"
	ErrorTypeTimeout          ErrorType = "provider_timeout"
	ErrorTypeProvider         ErrorType = "provider_error"
	ErrorTypeUnavailable      ErrorType = "all_providers_unavailable"
	ErrorTypeInternal         ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrProviderNotFound = NewDomainError(ErrorTypeNotFound, "provider not found", nil)
	ErrNoUsageData      = NewDomainError(ErrorTypeNotFound, "no usage data for provider", nil)

	// Validation Errors
	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrEmptyPrompt  = NewDomainError(ErrorTypeValidation, "prompt cannot be empty", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)

	// Admission Errors (provider skipped, never retried on the same provider)
	ErrProviderDisabled  = NewDomainError(ErrorTypeProviderDisabled, "provider is disabled", nil)
	ErrRateLimited       = NewDomainError(ErrorTypeRateLimit, "provider rate limit window is full", nil)
	ErrUsageLimitReached = NewDomainError(ErrorTypeUsageLimit, "provider usage limit exceeded", nil)
	ErrCircuitOpen       = NewDomainError(ErrorTypeCircuitOpen, "provider circuit is open", nil)

	// Invocation Errors (attempt failed, counts against the circuit)
	ErrProviderTimeout = NewDomainError(ErrorTypeTimeout, "provider invocation timed out", nil)
	ErrProviderFailed  = NewDomainError(ErrorTypeProvider, "provider invocation failed", nil)

	// Terminal Errors
	ErrAllProvidersUnavailable = NewDomainError(ErrorTypeUnavailable, "no provider could satisfy the request", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsProviderDisabledError checks if an error is a provider disabled error
func IsProviderDisabledError(err error) bool {
	return GetErrorType(err) == ErrorTypeProviderDisabled
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeRateLimit
}

// IsUsageLimitError checks if an error is a usage limit error
func IsUsageLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeUsageLimit
}

// IsCircuitOpenError checks if an error is a circuit open error
func IsCircuitOpenError(err error) bool {
	return GetErrorType(err) == ErrorTypeCircuitOpen
}

// IsTimeoutError checks if an error is a provider timeout error
func IsTimeoutError(err error) bool {
	return GetErrorType(err) == ErrorTypeTimeout
}

// IsProviderError checks if an error is a provider invocation error
func IsProviderError(err error) bool {
	return GetErrorType(err) == ErrorTypeProvider
}

// IsUnavailableError checks if an error is an all-providers-unavailable error
func IsUnavailableError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnavailable
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// IsAdmissionError reports whether the error is one of the pre-flight
// refusals that make the router skip a provider without invoking it
func IsAdmissionError(err error) bool {
	switch GetErrorType(err) {
	case ErrorTypeProviderDisabled, ErrorTypeRateLimit, ErrorTypeUsageLimit, ErrorTypeCircuitOpen:
		return true
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapProvider wraps an error as a provider invocation error
func WrapProvider(message string, err error) error {
	return NewDomainError(ErrorTypeProvider, message, err)
}
