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

package provider

import (
	"net/http"
	"testing"
	"time"
)

func TestObserveAnthropicHeaders(t *testing.T) {
	var tracker RateTracker

	h := http.Header{}
	h.Set("anthropic-ratelimit-requests-remaining", "42")
	h.Set("anthropic-ratelimit-tokens-remaining", "90000")
	h.Set("anthropic-ratelimit-requests-reset", time.Now().Add(30*time.Second).Format(time.RFC3339))
	tracker.Observe(h, AnthropicRateHeaders)

	state := tracker.Snapshot()
	if !state.Known() {
		t.Fatal("expected state to be known after observing headers")
	}
	if state.RequestsRemaining != 42 {
		t.Errorf("expected 42 requests remaining, got %d", state.RequestsRemaining)
	}
	if state.TokensRemaining != 90000 {
		t.Errorf("expected 90000 tokens remaining, got %d", state.TokensRemaining)
	}
	if state.ResetAt.IsZero() {
		t.Error("expected reset time to be set")
	}
}

func TestObserveOpenAIDurationReset(t *testing.T) {
	var tracker RateTracker

	h := http.Header{}
	h.Set("x-ratelimit-remaining-requests", "10")
	h.Set("x-ratelimit-reset-requests", "6m30s")
	tracker.Observe(h, OpenAIRateHeaders)

	state := tracker.Snapshot()
	if state.RequestsRemaining != 10 {
		t.Errorf("expected 10 requests remaining, got %d", state.RequestsRemaining)
	}
	if !state.ResetAt.After(time.Now().Add(5 * time.Minute)) {
		t.Errorf("expected reset roughly 6m30s out, got %v", state.ResetAt)
	}
}

func TestObserveIgnoresMissingHeaders(t *testing.T) {
	var tracker RateTracker

	tracker.Observe(http.Header{}, AnthropicRateHeaders)
	if tracker.Snapshot().Known() {
		t.Error("expected state to stay unknown without headers")
	}
}

func TestObserveExhausted(t *testing.T) {
	var tracker RateTracker

	reset := time.Now().Add(time.Minute)
	tracker.ObserveExhausted(reset)

	state := tracker.Snapshot()
	if !state.Exhausted(time.Now()) {
		t.Error("expected budget to be exhausted")
	}
	if state.Exhausted(reset.Add(time.Second)) {
		t.Error("expected budget to recover after reset")
	}
}

func TestExhaustedSemantics(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		state     RateLimitState
		exhausted bool
	}{
		{"unknown state admits", RateLimitState{}, false},
		{"positive budget admits", RateLimitState{RequestsRemaining: 1, UpdatedAt: now}, false},
		{"zero budget before reset rejects", RateLimitState{RequestsRemaining: 0, ResetAt: now.Add(time.Minute), UpdatedAt: now}, true},
		{"zero budget without reset rejects", RateLimitState{RequestsRemaining: 0, UpdatedAt: now}, true},
		{"zero budget after reset admits", RateLimitState{RequestsRemaining: 0, ResetAt: now.Add(-time.Second), UpdatedAt: now}, false},
		{"unreported budget admits", RateLimitState{RequestsRemaining: -1, UpdatedAt: now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Exhausted(now); got != tt.exhausted {
				t.Errorf("Exhausted() = %v, want %v", got, tt.exhausted)
			}
		})
	}
}
