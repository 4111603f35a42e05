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

// Package bedrock provides the vendor adapter for AWS Bedrock managed
// models using AWS SDK v2. Requests are signed with AWS Signature V4 via
// IAM roles or static credentials.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/crossaudit/gateway/provider"
)

const (
	// DefaultModel is used when the request names no model
	DefaultModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096

	// anthropicVersion is the version tag Bedrock requires for Claude models
	anthropicVersion = "bedrock-2023-05-31"
)

// InvokeAPI is the subset of the bedrockruntime client used by the
// adapter (enables testing with a stub).
type InvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Provider implements provider.Provider for AWS Bedrock.
type Provider struct {
	client InvokeAPI
	region string
	model  string
	rates  provider.RateTracker
}

// Config contains configuration for the Bedrock adapter.
type Config struct {
	Region          string // Required unless Client is given
	Model           string // Optional: default model ID
	AccessKeyID     string // Optional: static credentials
	SecretAccessKey string // Optional: static credentials
	Client          InvokeAPI
}

// New creates a new Bedrock adapter. When no client is supplied the AWS
// default credential chain is used, with static credentials taking
// precedence if both key fields are set.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.Client == nil {
		if cfg.Region == "" {
			return nil, fmt.Errorf("bedrock region is required")
		}

		opts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(cfg.Region),
		}
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		cfg.Client = bedrockruntime.NewFromConfig(awsCfg)
	}

	return &Provider{
		client: cfg.Client,
		region: cfg.Region,
		model:  cfg.Model,
	}, nil
}

// Name returns the adapter name
func (p *Provider) Name() string {
	return "bedrock"
}

// Vendor returns the vendor identifier
func (p *Provider) Vendor() provider.Vendor {
	return provider.VendorBedrock
}

// RateLimit returns the last observed vendor budget. Bedrock reports no
// budget headers, so the state stays unknown unless a throttle error
// marks it exhausted.
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

	model := req.Model
	if model == "" {
		model = p.model
	}

	requestBody, err := buildRequestBody(req, model)
	if err != nil {
		return nil, &provider.ProviderError{
			Vendor:  provider.VendorBedrock,
			Code:    provider.ErrCodeInvalidRequest,
			Message: err.Error(),
		}
	}

	requestJSON, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, p.invokeError(err)
	}

	answer, err := parseResponseBody(output.Body, model)
	if err != nil {
		return nil, &provider.ProviderError{
			Vendor:  provider.VendorBedrock,
			Code:    provider.ErrCodeServerError,
			Message: "failed to parse response",
			Cause:   err,
		}
	}

	answer.Model = model
	answer.Latency = time.Since(start)
	return answer, nil
}

// invokeError maps SDK errors onto typed provider errors. Throttling also
// marks the local budget exhausted so the admission check short-circuits
// follow-up calls for a minute.
func (p *Provider) invokeError(err error) error {
	msg := err.Error()
	code := provider.ErrCodeServerError
	switch {
	case strings.Contains(msg, "ThrottlingException") || strings.Contains(msg, "TooManyRequests"):
		code = provider.ErrCodeRateLimit
		p.rates.ObserveExhausted(time.Now().Add(time.Minute))
	case strings.Contains(msg, "ValidationException"):
		code = provider.ErrCodeInvalidRequest
	case strings.Contains(msg, "ResourceNotFoundException"):
		code = provider.ErrCodeModelNotFound
	case strings.Contains(msg, "AccessDeniedException"):
		code = provider.ErrCodeAuth
	}

	perr := provider.NewProviderError(provider.VendorBedrock, code, "bedrock API error")
	perr.Cause = err
	return perr
}

// buildRequestBody builds the request body based on model family
func buildRequestBody(req provider.CompletionRequest, model string) (map[string]interface{}, error) {
	family := detectModelFamily(model)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := req.Temperature
	if temperature < 0 {
		temperature = 0.7
	}

	switch family {
	case "anthropic":
		messages := make([]map[string]string, 0, len(req.History)+1)
		for _, turn := range req.History {
			messages = append(messages, map[string]string{"role": turn.Role, "content": turn.Content})
		}
		messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

		body := map[string]interface{}{
			"anthropic_version": anthropicVersion,
			"max_tokens":        maxTokens,
			"temperature":       temperature,
			"messages":          messages,
		}
		if req.SystemPrompt != "" {
			body["system"] = req.SystemPrompt
		}
		return body, nil
	case "amazon":
		return map[string]interface{}{
			"inputText": flattenPrompt(req),
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": maxTokens,
				"temperature":   temperature,
				"topP":          0.9,
			},
		}, nil
	case "meta":
		return map[string]interface{}{
			"prompt":      flattenPrompt(req),
			"max_gen_len": maxTokens,
			"temperature": temperature,
			"top_p":       0.9,
		}, nil
	case "mistral":
		return map[string]interface{}{
			"prompt":      flattenPrompt(req),
			"max_tokens":  maxTokens,
			"temperature": temperature,
			"top_p":       0.9,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported model family in %q", model)
	}
}

// flattenPrompt renders the system prompt and history into a single text
// prompt for families without a structured message format.
func flattenPrompt(req provider.CompletionRequest) string {
	var b strings.Builder
	if req.SystemPrompt != "" {
		b.WriteString(req.SystemPrompt)
		b.WriteString("\n\n")
	}
	for _, turn := range req.History {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	b.WriteString(req.Prompt)
	return b.String()
}

// parseResponseBody parses the response body based on model family
func parseResponseBody(body []byte, model string) (*provider.CandidateAnswer, error) {
	switch detectModelFamily(model) {
	case "anthropic":
		return parseAnthropicResponse(body)
	case "amazon":
		return parseAmazonTitanResponse(body)
	case "meta":
		return parseMetaLlamaResponse(body)
	case "mistral":
		return parseMistralResponse(body)
	default:
		return nil, fmt.Errorf("unsupported model family in %q", model)
	}
}

func parseAnthropicResponse(body []byte) (*provider.CandidateAnswer, error) {
	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	content := ""
	if len(resp.Content) > 0 {
		content = resp.Content[0].Text
	}

	return &provider.CandidateAnswer{
		Content:      content,
		FinishReason: resp.StopReason,
		Usage: provider.UsageStats{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func parseAmazonTitanResponse(body []byte) (*provider.CandidateAnswer, error) {
	var resp struct {
		Results []struct {
			OutputText       string `json:"outputText"`
			TokenCount       int    `json:"tokenCount"`
			CompletionReason string `json:"completionReason"`
		} `json:"results"`
		InputTextTokenCount int `json:"inputTextTokenCount"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	content := ""
	outputTokens := 0
	finishReason := ""
	if len(resp.Results) > 0 {
		content = resp.Results[0].OutputText
		outputTokens = resp.Results[0].TokenCount
		finishReason = resp.Results[0].CompletionReason
	}

	return &provider.CandidateAnswer{
		Content:      content,
		FinishReason: finishReason,
		Usage: provider.UsageStats{
			PromptTokens:     resp.InputTextTokenCount,
			CompletionTokens: outputTokens,
			TotalTokens:      resp.InputTextTokenCount + outputTokens,
		},
	}, nil
}

func parseMetaLlamaResponse(body []byte) (*provider.CandidateAnswer, error) {
	var resp struct {
		Generation       string `json:"generation"`
		StopReason       string `json:"stop_reason"`
		PromptTokenCount int    `json:"prompt_token_count"`
		GenTokenCount    int    `json:"generation_token_count"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &provider.CandidateAnswer{
		Content:      resp.Generation,
		FinishReason: resp.StopReason,
		Usage: provider.UsageStats{
			PromptTokens:     resp.PromptTokenCount,
			CompletionTokens: resp.GenTokenCount,
			TotalTokens:      resp.PromptTokenCount + resp.GenTokenCount,
		},
	}, nil
}

func parseMistralResponse(body []byte) (*provider.CandidateAnswer, error) {
	var resp struct {
		Outputs []struct {
			Text       string `json:"text"`
			StopReason string `json:"stop_reason"`
		} `json:"outputs"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	content := ""
	finishReason := ""
	if len(resp.Outputs) > 0 {
		content = resp.Outputs[0].Text
		finishReason = resp.Outputs[0].StopReason
	}

	// Mistral doesn't provide token counts
	return &provider.CandidateAnswer{
		Content:      content,
		FinishReason: finishReason,
	}, nil
}

// inferenceProfilePrefixes are the known AWS Bedrock inference profile prefixes.
var inferenceProfilePrefixes = []string{"eu", "us", "apac", "global"}

// supportedFamilies are the model families the adapter supports.
var supportedFamilies = []string{"anthropic", "amazon", "meta", "mistral"}

// detectModelFamily detects the model family from a model ID.
// Model IDs follow the pattern provider.model-name-version, for example
// anthropic.claude-3-5-sonnet-20240620-v1:0. Inference profile IDs carry a
// regional prefix such as us.anthropic.claude-sonnet-4-5-20250929-v1:0.
func detectModelFamily(modelID string) string {
	if len(modelID) == 0 {
		return ""
	}

	segments := strings.Split(modelID, ".")
	if len(segments) < 2 {
		return ""
	}

	first := segments[0]
	for _, prefix := range inferenceProfilePrefixes {
		if first == prefix {
			return validateFamily(segments[1])
		}
	}
	return validateFamily(first)
}

// validateFamily returns the family if supported, empty string otherwise
func validateFamily(family string) string {
	for _, supported := range supportedFamilies {
		if family == supported {
			return family
		}
	}
	return ""
}
