// Copyright 2025 CrossAudit
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package anthropic provides the vendor adapter for Anthropic's Claude
// models, with both streaming and non-streaming completion modes.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crossaudit/gateway/provider"
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

	// DefaultModel is used when the request names no model
	DefaultModel = "claude-3-5-sonnet-20241022"
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements provider.Provider for Anthropic Claude.
type Provider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	client     HTTPClient
	rates      provider.RateTracker
}

// Config contains configuration for the Anthropic adapter.
type Config struct {
	APIKey     string        // Required: Anthropic API key
	BaseURL    string        // Optional: API base URL (default: https://api.anthropic.com)
	APIVersion string        // Optional: API version (default: 2023-06-01)
	Model      string        // Optional: default model
	Timeout    time.Duration // Optional: HTTP timeout (default: 120s)
	Client     HTTPClient    // Optional: custom HTTP client (used in tests)
}

// New creates a new Anthropic adapter.
func New(cfg Config) (*Provider, error) {
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
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Provider{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		model:      cfg.Model,
		client:     cfg.Client,
	}, nil
}

// Name returns the adapter name
func (p *Provider) Name() string {
	return "anthropic"
}

// Vendor returns the vendor identifier
func (p *Provider) Vendor() provider.Vendor {
	return provider.VendorAnthropic
}

// RateLimit returns the last observed vendor budget
func (p *Provider) RateLimit() provider.RateLimitState {
	return p.rates.Snapshot()
}

// HealthCheck issues a minimal completion to verify reachability.
func (p *Provider) HealthCheck(ctx context.Context) error {
	req := provider.CompletionRequest{Prompt: "ping", MaxTokens: 1}
	_, err := p.Complete(ctx, req)
	return err
}

// Complete generates a completion for the given request
func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.CandidateAnswer, error) {
	start := time.Now()

	reqBody, _, err := p.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	resp, err := p.send(ctx, reqBody)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	p.rates.Observe(resp.Header, provider.AnthropicRateHeaders)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, p.apiError(resp.StatusCode, body)
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &provider.ProviderError{
			Vendor:  provider.VendorAnthropic,
			Code:    provider.ErrCodeServerError,
			Message: "failed to decode response",
			Cause:   err,
		}
	}

	var contentBuilder strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			contentBuilder.WriteString(block.Text)
		}
	}

	return &provider.CandidateAnswer{
		Content:      contentBuilder.String(),
		Model:        apiResp.Model,
		FinishReason: apiResp.StopReason,
		Usage: provider.UsageStats{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// CompleteStream generates a streaming completion for the given request
func (p *Provider) CompleteStream(ctx context.Context, req provider.CompletionRequest, handler provider.StreamHandler) (*provider.CandidateAnswer, error) {
	start := time.Now()

	reqBody, model, err := p.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.send(ctx, reqBody)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	p.rates.Observe(resp.Header, provider.AnthropicRateHeaders)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, p.apiError(resp.StatusCode, body)
	}

	return p.processStream(resp.Body, handler, start, model)
}

// buildRequest maps the unified request onto the Anthropic messages API.
func (p *Provider) buildRequest(req provider.CompletionRequest, stream bool) ([]byte, string, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	messages := make([]anthropicMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		messages = append(messages, anthropicMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, anthropicMessage{Role: "user", Content: req.Prompt})

	apiReq := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  messages,
		Stream:    stream,
	}

	// Temperature 0.0 is valid (deterministic); negative means unset.
	if req.Temperature >= 0 {
		t := req.Temperature
		apiReq.Temperature = &t
	}
	if req.TopP > 0 {
		apiReq.TopP = &req.TopP
	}
	if req.SystemPrompt != "" {
		apiReq.System = req.SystemPrompt
	}
	if len(req.StopSequences) > 0 {
		apiReq.StopSequences = req.StopSequences
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}
	return body, model, nil
}

func (p *Provider) send(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		code := provider.ErrCodeUnavailable
		if ctx.Err() == context.DeadlineExceeded {
			code = provider.ErrCodeTimeout
		}
		return nil, &provider.ProviderError{
			Vendor:    provider.VendorAnthropic,
			Code:      code,
			Message:   "request failed",
			Retryable: true,
			Cause:     err,
		}
	}
	return resp, nil
}

// processStream processes the SSE stream from Anthropic
func (p *Provider) processStream(body io.Reader, handler provider.StreamHandler, start time.Time, model string) (*provider.CandidateAnswer, error) {
	scanner := bufio.NewScanner(body)
	var contentBuilder strings.Builder
	var usage provider.UsageStats
	var stopReason string
	var responseModel string

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // Skip malformed events
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				responseModel = event.Message.Model
				if event.Message.Usage != nil {
					usage.PromptTokens = event.Message.Usage.InputTokens
				}
			}

		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" {
				contentBuilder.WriteString(event.Delta.Text)
				if handler != nil {
					if err := handler(provider.StreamChunk{Content: event.Delta.Text}); err != nil {
						return nil, fmt.Errorf("handler error: %w", err)
					}
				}
			}

		case "message_delta":
			if event.Delta != nil {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.CompletionTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			if handler != nil {
				if err := handler(provider.StreamChunk{Done: true}); err != nil {
					return nil, fmt.Errorf("handler error: %w", err)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, &provider.ProviderError{
			Vendor:    provider.VendorAnthropic,
			Code:      provider.ErrCodeServerError,
			Message:   "stream read error",
			Retryable: true,
			Cause:     err,
		}
	}

	if responseModel == "" {
		responseModel = model
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	return &provider.CandidateAnswer{
		Content:      contentBuilder.String(),
		Model:        responseModel,
		FinishReason: stopReason,
		Usage:        usage,
		Latency:      time.Since(start),
	}, nil
}

// apiError parses an API error response into a typed provider error.
func (p *Provider) apiError(statusCode int, body []byte) error {
	if statusCode == http.StatusTooManyRequests {
		p.rates.ObserveExhausted(time.Now().Add(time.Minute))
	}

	var errResp struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	perr := provider.NewProviderError(provider.VendorAnthropic, provider.CodeForStatus(statusCode), message)
	perr.StatusCode = statusCode
	return perr
}

// Internal API types

type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Role       string `json:"role"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type streamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index,omitempty"`
	Message *struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage *struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage,omitempty"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type       string `json:"type,omitempty"`
		Text       string `json:"text,omitempty"`
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}
