package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider represents a configured AI text provider
type Provider struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Enabled      bool       `json:"enabled" db:"enabled"`
	RateLimit    int        `json:"rate_limit" db:"rate_limit"`     // Requests per minute
	UsageLimit   int64      `json:"usage_limit" db:"usage_limit"`   // Cumulative token budget
	CurrentUsage int64      `json:"current_usage" db:"current_usage"`
	LastUsed     *time.Time `json:"last_used,omitempty" db:"last_used"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Provider model
func (Provider) TableName() string {
	return "providers"
}

// NewProvider creates a new Provider instance
func NewProvider(name string, rateLimit int, usageLimit int64) *Provider {
	return &Provider{
		ID:         uuid.New(),
		Name:       name,
		Enabled:    true,
		RateLimit:  rateLimit,
		UsageLimit: usageLimit,
		CreatedAt:  time.Now(),
	}
}

// RecordUsage adds consumed tokens to the cumulative counter and stamps LastUsed
func (p *Provider) RecordUsage(tokens int64, at time.Time) {
	p.CurrentUsage += tokens
	p.LastUsed = &at
}

// ResetUsage clears the cumulative usage counter
func (p *Provider) ResetUsage() {
	p.CurrentUsage = 0
}

// RemainingUsage returns the remaining token budget (0 when exhausted)
func (p *Provider) RemainingUsage() int64 {
	remaining := p.UsageLimit - p.CurrentUsage
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ProviderUpdate carries a partial update for a provider.
// Nil fields are left unchanged.
type ProviderUpdate struct {
	Name       *string `json:"name,omitempty"`
	Enabled    *bool   `json:"enabled,omitempty"`
	RateLimit  *int    `json:"rate_limit,omitempty"`
	UsageLimit *int64  `json:"usage_limit,omitempty"`
}

// Apply applies the non-nil fields to a provider
func (u *ProviderUpdate) Apply(p *Provider) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Enabled != nil {
		p.Enabled = *u.Enabled
	}
	if u.RateLimit != nil {
		p.RateLimit = *u.RateLimit
	}
	if u.UsageLimit != nil {
		p.UsageLimit = *u.UsageLimit
	}
}
