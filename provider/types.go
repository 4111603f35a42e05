// Copyright 2025 CrossAudit
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package provider defines the unified interface and types for upstream
// model vendors, plus the Manager that routes requests to them. All vendor
// integrations in the gateway implement the Provider interface so the
// pipeline never deals with vendor-specific request or response shapes.
package provider

import (
	"fmt"
	"time"
)

// Vendor identifies an upstream model vendor.
type Vendor string

// Vendors supported out of the box.
const (
	// VendorAnthropic represents Anthropic's Claude models.
	VendorAnthropic Vendor = "anthropic"

	// VendorOpenAI represents OpenAI's GPT models.
	VendorOpenAI Vendor = "openai"

	// VendorBedrock represents AWS Bedrock managed models.
	VendorBedrock Vendor = "bedrock"
)

// Turn is a single message in a conversation history.
type Turn struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// CompletionRequest encapsulates all parameters for an upstream completion.
// This is the unified request type used across all vendors.
type CompletionRequest struct {
	// TenantID identifies the tenant on whose behalf the call is made.
	TenantID string `json:"tenant_id"`

	// RequestID correlates the call with the owning pipeline.
	RequestID string `json:"request_id,omitempty"`

	// Prompt is the user's input text for this turn.
	Prompt string `json:"prompt"`

	// SystemPrompt is an optional system message that sets behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// History holds prior conversation turns, oldest first.
	History []Turn `json:"history,omitempty"`

	// Model overrides the vendor's default model. The Manager uses the
	// model prefix to pick the vendor.
	Model string `json:"model,omitempty"`

	// MaxTokens limits the response length. 0 means vendor default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness. Negative means vendor default.
	Temperature float64 `json:"temperature,omitempty"`

	// TopP is the nucleus sampling parameter.
	TopP float64 `json:"top_p,omitempty"`

	// StopSequences are strings that cause generation to stop.
	StopSequences []string `json:"stop_sequences,omitempty"`

	// Stream enables streaming response mode.
	Stream bool `json:"stream,omitempty"`
}

// CandidateAnswer is an upstream response before any policy decision has
// been applied to it. The evaluation mesh scores candidates; only the
// policy engine decides whether one is delivered.
type CandidateAnswer struct {
	// Content is the generated text.
	Content string `json:"content"`

	// Model is the actual model used (may differ from requested).
	Model string `json:"model"`

	// Vendor is the vendor that produced the answer.
	Vendor Vendor `json:"vendor"`

	// FinishReason indicates why generation stopped.
	// Common values: "stop", "max_tokens", "content_filter".
	FinishReason string `json:"finish_reason,omitempty"`

	// Usage contains token usage statistics.
	Usage UsageStats `json:"usage"`

	// Latency is the time taken to generate the answer.
	Latency time.Duration `json:"latency"`
}

// UsageStats tracks token usage for billing and monitoring.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk represents a single chunk in a streaming response.
type StreamChunk struct {
	// Content is the text content of this chunk.
	Content string `json:"content,omitempty"`

	// Done indicates this is the final chunk.
	Done bool `json:"done"`
}

// StreamHandler is a callback for processing streaming chunks.
// Return an error to abort the stream.
type StreamHandler func(chunk StreamChunk) error

// RateLimitState is the vendor-reported rate limit budget, refreshed from
// response headers after each call. RequestsRemaining of -1 means the
// vendor has not reported a budget yet; the Manager admits in that case.
type RateLimitState struct {
	RequestsRemaining int       `json:"requests_remaining"`
	TokensRemaining   int       `json:"tokens_remaining"`
	ResetAt           time.Time `json:"reset_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Known reports whether the state has been populated from vendor headers.
func (s RateLimitState) Known() bool {
	return !s.UpdatedAt.IsZero()
}

// Exhausted reports whether the vendor budget is spent and has not reset.
func (s RateLimitState) Exhausted(now time.Time) bool {
	if !s.Known() || s.RequestsRemaining < 0 {
		return false
	}
	if s.RequestsRemaining > 0 {
		return false
	}
	// Budget of zero holds until the reported reset time passes.
	return s.ResetAt.IsZero() || now.Before(s.ResetAt)
}

// HealthStatus represents the health state of a vendor adapter.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// ProviderError represents an error from an upstream vendor.
type ProviderError struct {
	// Vendor is the vendor that returned the error.
	Vendor Vendor `json:"vendor"`

	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// StatusCode is the HTTP status code (if applicable).
	StatusCode int `json:"status_code,omitempty"`

	// Retryable indicates if the request can be retried elsewhere.
	Retryable bool `json:"retryable"`

	// Cause is the underlying error (if any).
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Vendor, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Vendor, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Common error codes.
const (
	// ErrCodeRateLimit indicates rate limiting.
	ErrCodeRateLimit = "rate_limit"

	// ErrCodeAuth indicates authentication failure.
	ErrCodeAuth = "authentication_error"

	// ErrCodeInvalidRequest indicates a malformed request.
	ErrCodeInvalidRequest = "invalid_request"

	// ErrCodeModelNotFound indicates the requested model doesn't exist.
	ErrCodeModelNotFound = "model_not_found"

	// ErrCodeServerError indicates a vendor server error.
	ErrCodeServerError = "server_error"

	// ErrCodeTimeout indicates request timeout.
	ErrCodeTimeout = "timeout"

	// ErrCodeUnavailable indicates the vendor is unavailable.
	ErrCodeUnavailable = "unavailable"
)

// NewProviderError creates a new ProviderError with the retryable flag
// derived from the code.
func NewProviderError(vendor Vendor, code, message string) *ProviderError {
	return &ProviderError{
		Vendor:    vendor,
		Code:      code,
		Message:   message,
		Retryable: isRetryableCode(code),
	}
}

// isRetryableCode determines if an error code is retryable.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}

// CodeForStatus maps an HTTP status code to a provider error code.
func CodeForStatus(statusCode int) string {
	switch {
	case statusCode == 429:
		return ErrCodeRateLimit
	case statusCode == 401 || statusCode == 403:
		return ErrCodeAuth
	case statusCode == 404:
		return ErrCodeModelNotFound
	case statusCode == 408:
		return ErrCodeTimeout
	case statusCode >= 500:
		return ErrCodeServerError
	case statusCode >= 400:
		return ErrCodeInvalidRequest
	default:
		return ErrCodeServerError
	}
}
