package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/contentpilot/ai-gateway/models"
	"github.com/contentpilot/ai-gateway/services/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

// modelPricing holds per-token pricing for cost calculation
type modelPricing struct {
	promptToken     float64
	completionToken float64
}

var pricing = map[string]modelPricing{
	"gpt-4o":        {promptToken: 0.0000025, completionToken: 0.00001},
	"gpt-4o-mini":   {promptToken: 0.00000015, completionToken: 0.0000006},
	"gpt-4-turbo":   {promptToken: 0.00001, completionToken: 0.00003},
	"gpt-3.5-turbo": {promptToken: 0.0000005, completionToken: 0.0000015},
}

// Adapter implements the providers.Adapter interface for OpenAI
type Adapter struct {
	config     providers.AdapterConfig
	httpClient *http.Client
}

// New creates a new OpenAI adapter
func New(config providers.AdapterConfig) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, providers.ErrMissingAPIKey
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Adapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "openai"
}

// Invoke performs a single chat completion request
func (a *Adapter) Invoke(ctx context.Context, req *models.GenerationRequest) (*providers.InvokeResult, error) {
	startTime := time.Now()

	openaiReq := a.buildChatRequest(req)

	reqBody, err := json.Marshal(openaiReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "Failed to marshal request", 0, false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.config.BaseURL+"/chat/completions", strings.NewReader(string(reqBody)))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, false, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, providers.NewProviderError(a.Name(), "TIMEOUT", "Request deadline exceeded", 0, true, err)
		}
		return nil, providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, true, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "READ_ERROR", "Failed to read response", httpResp.StatusCode, false, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var openaiResp chatResponse
	if err := json.Unmarshal(respBody, &openaiResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, false, err)
	}

	if len(openaiResp.Choices) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "Response contained no choices", httpResp.StatusCode, true, nil)
	}

	return &providers.InvokeResult{
		Text:       openaiResp.Choices[0].Message.Content,
		TokensUsed: openaiResp.Usage.TotalTokens,
		Cost:       a.calculateCost(openaiResp.Usage),
		Latency:    time.Since(startTime),
	}, nil
}

// Ping checks reachability by listing models
func (a *Adapter) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", a.config.BaseURL+"/models", nil)
	if err != nil {
		return providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create probe request", 0, false, err)
	}

	req.Header.Set("Authorization", "Bearer "+a.config.APIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return providers.NewProviderError(a.Name(), "HTTP_ERROR", "Probe request failed", 0, true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return providers.NewProviderError(a.Name(), "PROBE_FAILED", "Probe returned non-OK status", resp.StatusCode, true, nil)
	}

	return nil
}

// buildChatRequest converts a generation request into the OpenAI wire format
func (a *Adapter) buildChatRequest(req *models.GenerationRequest) *chatRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 500
	}

	return &chatRequest{
		Model: a.config.Model,
		Messages: []chatMessage{
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
}

// calculateCost computes the request cost from token usage
func (a *Adapter) calculateCost(usage chatUsage) float64 {
	p, ok := pricing[a.config.Model]
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)*p.promptToken + float64(usage.CompletionTokens)*p.completionToken
}

// handleErrorResponse maps OpenAI error responses to provider errors
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp errorResponse
	message := "OpenAI request failed"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return providers.NewProviderError(a.Name(), "AUTH_ERROR", message, statusCode, false, nil)
	case http.StatusTooManyRequests:
		return providers.NewProviderError(a.Name(), "RATE_LIMITED", message, statusCode, true, nil)
	case http.StatusBadRequest:
		return providers.NewProviderError(a.Name(), "BAD_REQUEST", message, statusCode, false, nil)
	default:
		if statusCode >= 500 {
			return providers.NewProviderError(a.Name(), "SERVER_ERROR", message, statusCode, true, nil)
		}
		return providers.NewProviderError(a.Name(), "API_ERROR", fmt.Sprintf("%s (status %d)", message, statusCode), statusCode, false, nil)
	}
}

// Wire types

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage chatUsage `json:"usage"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
