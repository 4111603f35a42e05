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

package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossaudit/gateway/provider"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*Provider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	return p, srv
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestComplete(t *testing.T) {
	var gotReq anthropicRequest
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, DefaultAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("anthropic-ratelimit-requests-remaining", "99")
		w.Header().Set("anthropic-ratelimit-requests-reset", time.Now().Add(time.Minute).Format(time.RFC3339))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model":       "claude-3-5-sonnet-20241022",
			"stop_reason": "end_turn",
			"content":     []map[string]string{{"type": "text", "text": "hello there"}},
			"usage":       map[string]int{"input_tokens": 12, "output_tokens": 5},
		})
	})

	answer, err := p.Complete(context.Background(), provider.CompletionRequest{
		Prompt:       "hi",
		SystemPrompt: "be helpful",
		History:      []provider.Turn{{Role: "user", Content: "earlier"}, {Role: "assistant", Content: "reply"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", answer.Content)
	assert.Equal(t, "end_turn", answer.FinishReason)
	assert.Equal(t, 17, answer.Usage.TotalTokens)

	// Request mapping: history precedes the current turn, system set aside.
	require.Len(t, gotReq.Messages, 3)
	assert.Equal(t, "hi", gotReq.Messages[2].Content)
	assert.Equal(t, "be helpful", gotReq.System)

	// Rate limit budget observed from headers.
	state := p.RateLimit()
	assert.True(t, state.Known())
	assert.Equal(t, 99, state.RequestsRemaining)
}

func TestCompleteRateLimited(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"type": "rate_limit_error", "message": "too fast"},
		})
	})

	_, err := p.Complete(context.Background(), provider.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)

	var perr *provider.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, provider.ErrCodeRateLimit, perr.Code)
	assert.True(t, perr.Retryable)
	assert.Equal(t, "too fast", perr.Message)

	// A 429 marks the local budget exhausted for the admission check.
	assert.True(t, p.RateLimit().Exhausted(time.Now()))
}

func TestCompleteServerError(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	})

	_, err := p.Complete(context.Background(), provider.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)

	var perr *provider.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, provider.ErrCodeServerError, perr.Code)
	assert.True(t, perr.Retryable)
}

func TestCompleteStream(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`data: {"type":"message_start","message":{"id":"msg_1","model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":10}}}`,
			``,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`,
			``,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`,
			``,
			`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
			``,
			`data: {"type":"message_stop"}`,
		}
		for _, e := range events {
			_, _ = w.Write([]byte(e + "\n"))
		}
	})

	var chunks []string
	done := false
	answer, err := p.CompleteStream(context.Background(), provider.CompletionRequest{Prompt: "hi"}, func(c provider.StreamChunk) error {
		if c.Done {
			done = true
		} else {
			chunks = append(chunks, c.Content)
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.True(t, done)
	assert.Equal(t, "Hello", answer.Content)
	assert.Equal(t, "end_turn", answer.FinishReason)
	assert.Equal(t, 12, answer.Usage.TotalTokens)
}

func TestCompleteStreamHandlerAbort(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"x"}}` + "\n"))
	})

	_, err := p.CompleteStream(context.Background(), provider.CompletionRequest{Prompt: "hi"}, func(c provider.StreamChunk) error {
		return errors.New("stop")
	})
	require.Error(t, err)
}
