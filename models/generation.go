package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerationRequest is a caller's request for generated text
type GenerationRequest struct {
	Prompt              string     `json:"prompt"`
	RequestType         string     `json:"request_type"` // e.g. description, title, summary
	MaxTokens           int        `json:"max_tokens"`
	Temperature         float64    `json:"temperature"`
	PreferredProviderID *uuid.UUID `json:"preferred_provider_id,omitempty"`
	ProductID           *uuid.UUID `json:"product_id,omitempty"`
}

// EstimatedTokens returns the token estimate used for pre-flight quota checks.
// Rough heuristic of 4 characters per prompt token plus the completion budget.
func (r *GenerationRequest) EstimatedTokens() int {
	promptTokens := len(r.Prompt) / 4
	completionTokens := r.MaxTokens
	if completionTokens == 0 {
		completionTokens = 500
	}
	return promptTokens + completionTokens
}

// GenerationResult is the outcome of a successful generation
type GenerationResult struct {
	Content      string        `json:"content"`
	ProviderID   uuid.UUID     `json:"provider_id"`
	ProviderName string        `json:"provider_name"`
	TokensUsed   int           `json:"tokens_used"`
	Cost         float64       `json:"cost"`
	ResponseTime time.Duration `json:"response_time"`
}
