// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version
	DefaultAPIVersion = "2023-06-01"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096
)

// Model constants for supported Claude models
const (
	ModelClaude35Sonnet = "claude-3-5-sonnet-20241022"
	ModelClaude35Haiku  = "claude-3-5-haiku-20241022"
	ModelClaude3Opus    = "claude-3-opus-20240229"

	// Default model
	DefaultModel = ModelClaude35Sonnet
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// AnthropicClient implements Client against the Anthropic messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	client     HTTPClient
	healthy    bool
	mu         sync.RWMutex
}

// Config contains configuration for the Anthropic client
type Config struct {
	APIKey     string        // Required: Anthropic API key
	BaseURL    string        // Optional: API base URL (default: https://api.anthropic.com)
	APIVersion string        // Optional: API version (default: 2023-06-01)
	Model      string        // Optional: Default model (default: claude-3-5-sonnet-20241022)
	Timeout    time.Duration // Optional: HTTP timeout (default: 120s)
	HTTPClient HTTPClient    // Optional: custom HTTP client (used in tests)
}

// NewAnthropicClient creates a client for the Anthropic messages API.
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &AnthropicClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		model:      cfg.Model,
		client:     client,
		healthy:    true,
	}, nil
}

// IsHealthy returns whether the client is healthy
func (c *AnthropicClient) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy && c.apiKey != ""
}

func (c *AnthropicClient) setHealthy(healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = healthy
}

// Complete performs one messages-API call, advertising tools when supplied.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	apiReq := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  req.Messages,
	}
	if req.System != "" {
		apiReq.System = req.System
	}
	if len(req.Tools) > 0 {
		apiReq.Tools = req.Tools
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.setHealthy(false)
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			c.setHealthy(false)
		}
		return nil, parseAPIError(resp.StatusCode, body)
	}

	c.setHealthy(true)

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &Response{
		Content:    apiResp.Content,
		StopReason: apiResp.StopReason,
		Model:      apiResp.Model,
		Usage: UsageStats{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
			TotalTokens:  apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
	}, nil
}

// setHeaders sets the required headers for Anthropic API requests
func (c *AnthropicClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.apiVersion)
}

// parseAPIError parses an API error response
func parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return fmt.Errorf("anthropic API error (status %d): %s", statusCode, string(body))
	}

	return &APIError{
		StatusCode: statusCode,
		Type:       errResp.Error.Type,
		Message:    errResp.Error.Message,
	}
}

// APIError represents an Anthropic API error
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic API error (status %d, type %s): %s", e.StatusCode, e.Type, e.Message)
}

// IsRateLimitError returns true if this is a rate limit error
func (e *APIError) IsRateLimitError() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Type == "rate_limit_error"
}

// IsAuthError returns true if this is an authentication error
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.Type == "authentication_error"
}

// IsOverloadedError returns true if the API is overloaded
func (e *APIError) IsOverloadedError() bool {
	return e.StatusCode == http.StatusServiceUnavailable || e.Type == "overloaded_error"
}

// IsValidModel checks if the given model is a Claude model id.
func IsValidModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

// Internal API types

type anthropicRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Tools     []Tool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Content    []ContentBlock `json:"content"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
