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

// Package openai provides the vendor adapter for OpenAI's chat completion
// models, with both streaming and non-streaming modes.
package openai

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
	// DefaultBaseURL is the default OpenAI API endpoint
	DefaultBaseURL = "https://api.openai.com"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096

	// DefaultModel is used when the request names no model
	DefaultModel = "gpt-4o"
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements provider.Provider for OpenAI chat completions.
type Provider struct {
	apiKey  string
	baseURL string
	model   string
	client  HTTPClient
	rates   provider.RateTracker
}

// Config contains configuration for the OpenAI adapter.
type Config struct {
	APIKey  string        // Required: OpenAI API key
	BaseURL string        // Optional: API base URL (default: https://api.openai.com)
	Model   string        // Optional: default model
	Timeout time.Duration // Optional: HTTP timeout (default: 120s)
	Client  HTTPClient    // Optional: custom HTTP client (used in tests)
}

// New creates a new OpenAI adapter.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
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
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  cfg.Client,
	}, nil
}

// Name returns the adapter name
func (p *Provider) Name() string {
	return "openai"
}

// Vendor returns the vendor identifier
func (p *Provider) Vendor() provider.Vendor {
	return provider.VendorOpenAI
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

	body, err := p.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	resp, err := p.send(ctx, body)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	p.rates.Observe(resp.Header, provider.OpenAIRateHeaders)

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, p.apiError(resp.StatusCode, raw)
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &provider.ProviderError{
			Vendor:  provider.VendorOpenAI,
			Code:    provider.ErrCodeServerError,
			Message: "failed to decode response",
			Cause:   err,
		}
	}

	if len(apiResp.Choices) == 0 {
		return nil, provider.NewProviderError(provider.VendorOpenAI, provider.ErrCodeServerError, "response contained no choices")
	}

	choice := apiResp.Choices[0]
	return &provider.CandidateAnswer{
		Content:      choice.Message.Content,
		Model:        apiResp.Model,
		FinishReason: choice.FinishReason,
		Usage: provider.UsageStats{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// CompleteStream generates a streaming completion for the given request
func (p *Provider) CompleteStream(ctx context.Context, req provider.CompletionRequest, handler provider.StreamHandler) (*provider.CandidateAnswer, error) {
	start := time.Now()

	body, err := p.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.send(ctx, body)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	p.rates.Observe(resp.Header, provider.OpenAIRateHeaders)

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, p.apiError(resp.StatusCode, raw)
	}

	return p.processStream(resp.Body, handler, start)
}

// buildRequest maps the unified request onto the chat completions API.
func (p *Provider) buildRequest(req provider.CompletionRequest, stream bool) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	messages := make([]chatMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, turn := range req.History {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	apiReq := chatRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
		Stream:    stream,
	}

	if req.Temperature >= 0 {
		t := req.Temperature
		apiReq.Temperature = &t
	}
	if req.TopP > 0 {
		apiReq.TopP = &req.TopP
	}
	if len(req.StopSequences) > 0 {
		apiReq.Stop = req.StopSequences
	}

	raw, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return raw, nil
}

func (p *Provider) send(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		code := provider.ErrCodeUnavailable
		if ctx.Err() == context.DeadlineExceeded {
			code = provider.ErrCodeTimeout
		}
		return nil, &provider.ProviderError{
			Vendor:    provider.VendorOpenAI,
			Code:      code,
			Message:   "request failed",
			Retryable: true,
			Cause:     err,
		}
	}
	return resp, nil
}

// processStream processes the SSE stream from OpenAI. Chunks arrive as
// "data: {json}" lines terminated by a "data: [DONE]" sentinel.
func (p *Provider) processStream(body io.Reader, handler provider.StreamHandler, start time.Time) (*provider.CandidateAnswer, error) {
	scanner := bufio.NewScanner(body)
	var contentBuilder strings.Builder
	var finishReason string
	var model string
	var usage provider.UsageStats

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			if handler != nil {
				if err := handler(provider.StreamChunk{Done: true}); err != nil {
					return nil, fmt.Errorf("handler error: %w", err)
				}
			}
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // Skip malformed events
		}

		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage.PromptTokens = chunk.Usage.PromptTokens
			usage.CompletionTokens = chunk.Usage.CompletionTokens
			usage.TotalTokens = chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			contentBuilder.WriteString(choice.Delta.Content)
			if handler != nil {
				if err := handler(provider.StreamChunk{Content: choice.Delta.Content}); err != nil {
					return nil, fmt.Errorf("handler error: %w", err)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, &provider.ProviderError{
			Vendor:    provider.VendorOpenAI,
			Code:      provider.ErrCodeServerError,
			Message:   "stream read error",
			Retryable: true,
			Cause:     err,
		}
	}

	if model == "" {
		model = p.model
	}

	return &provider.CandidateAnswer{
		Content:      contentBuilder.String(),
		Model:        model,
		FinishReason: finishReason,
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
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	perr := provider.NewProviderError(provider.VendorOpenAI, provider.CodeForStatus(statusCode), message)
	perr.StatusCode = statusCode
	return perr
}

// Internal API types

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
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
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type streamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}
