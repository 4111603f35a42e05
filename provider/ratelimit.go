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

package provider

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateTracker maintains a vendor's RateLimitState from response headers.
// Vendor adapters embed one and call Observe after every HTTP exchange.
// Safe for concurrent use.
type RateTracker struct {
	mu    sync.RWMutex
	state RateLimitState
}

// HeaderNames identifies the rate limit headers a vendor uses.
type HeaderNames struct {
	RequestsRemaining string
	TokensRemaining   string
	RequestsReset     string
}

// Anthropic and OpenAI report budgets under different header names.
var (
	AnthropicRateHeaders = HeaderNames{
		RequestsRemaining: "anthropic-ratelimit-requests-remaining",
		TokensRemaining:   "anthropic-ratelimit-tokens-remaining",
		RequestsReset:     "anthropic-ratelimit-requests-reset",
	}

	OpenAIRateHeaders = HeaderNames{
		RequestsRemaining: "x-ratelimit-remaining-requests",
		TokensRemaining:   "x-ratelimit-remaining-tokens",
		RequestsReset:     "x-ratelimit-reset-requests",
	}
)

// Snapshot returns a copy of the current state.
func (t *RateTracker) Snapshot() RateLimitState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Observe updates the state from the given response headers. Headers the
// vendor did not send leave the corresponding field untouched.
func (t *RateTracker) Observe(h http.Header, names HeaderNames) {
	requests, okReq := parseIntHeader(h, names.RequestsRemaining)
	tokens, okTok := parseIntHeader(h, names.TokensRemaining)
	resetAt, okReset := parseResetHeader(h, names.RequestsReset)

	if !okReq && !okTok && !okReset {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if okReq {
		t.state.RequestsRemaining = requests
	}
	if okTok {
		t.state.TokensRemaining = tokens
	}
	if okReset {
		t.state.ResetAt = resetAt
	}
	t.state.UpdatedAt = time.Now()
}

// ObserveExhausted marks the budget as spent until resetAt. Used when a
// vendor returns 429 without remaining-count headers.
func (t *RateTracker) ObserveExhausted(resetAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.RequestsRemaining = 0
	t.state.ResetAt = resetAt
	t.state.UpdatedAt = time.Now()
}

func parseIntHeader(h http.Header, name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	raw := h.Get(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseResetHeader accepts either an RFC3339 timestamp (Anthropic) or a
// Go-style duration such as "6m30s" (OpenAI).
func parseResetHeader(h http.Header, name string) (time.Time, bool) {
	if name == "" {
		return time.Time{}, false
	}
	raw := h.Get(name)
	if raw == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, true
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(d), true
	}
	return time.Time{}, false
}
