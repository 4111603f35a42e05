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
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crossaudit/gateway/shared/logger"
)

// Route maps a model name prefix to a vendor. Longest prefix wins.
type Route struct {
	Prefix string
	Vendor Vendor
}

// ManagerConfig configures routing and fallback behavior.
type ManagerConfig struct {
	// Routes is the model-prefix routing table.
	Routes []Route

	// Fallbacks maps a vendor to the vendor tried when it fails.
	// At most one fallback hop is ever taken.
	Fallbacks map[Vendor]Vendor

	// DefaultVendor handles requests whose model matches no route
	// (including requests with no model at all).
	DefaultVendor Vendor
}

// DefaultRoutes is the routing table used when none is configured.
func DefaultRoutes() []Route {
	return []Route{
		{Prefix: "claude-", Vendor: VendorAnthropic},
		{Prefix: "gpt-", Vendor: VendorOpenAI},
		{Prefix: "o1-", Vendor: VendorOpenAI},
		{Prefix: "anthropic.", Vendor: VendorBedrock},
		{Prefix: "amazon.", Vendor: VendorBedrock},
		{Prefix: "meta.", Vendor: VendorBedrock},
		{Prefix: "mistral.", Vendor: VendorBedrock},
	}
}

// Manager routes completion requests to vendor adapters. It performs the
// admission check against each vendor's observed rate limit budget and
// takes at most one fallback hop when the primary vendor fails.
type Manager struct {
	mu        sync.RWMutex
	providers map[Vendor]Provider

	routes        []Route
	fallbacks     map[Vendor]Vendor
	defaultVendor Vendor

	log *logger.Logger
}

// NewManager creates a Manager with the given routing configuration.
func NewManager(cfg ManagerConfig, log *logger.Logger) *Manager {
	routes := cfg.Routes
	if len(routes) == 0 {
		routes = DefaultRoutes()
	}
	// Longest prefix first so "claude-3" style routes beat "claude-".
	sorted := make([]Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})

	fallbacks := cfg.Fallbacks
	if fallbacks == nil {
		fallbacks = map[Vendor]Vendor{}
	}

	defaultVendor := cfg.DefaultVendor
	if defaultVendor == "" {
		defaultVendor = VendorAnthropic
	}

	if log == nil {
		log = logger.New("provider-manager")
	}

	return &Manager{
		providers:     make(map[Vendor]Provider),
		routes:        sorted,
		fallbacks:     fallbacks,
		defaultVendor: defaultVendor,
		log:           log,
	}
}

// Register adds a vendor adapter. Registering the same vendor twice
// replaces the earlier adapter.
func (m *Manager) Register(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.Vendor()] = p
}

// Provider returns the adapter registered for the vendor.
func (m *Manager) Provider(v Vendor) (Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[v]
	return p, ok
}

// Vendors returns the vendors with a registered adapter.
func (m *Manager) Vendors() []Vendor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Vendor, 0, len(m.providers))
	for v := range m.providers {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve picks the vendor for a model name via the routing table.
func (m *Manager) Resolve(model string) Vendor {
	for _, r := range m.routes {
		if strings.HasPrefix(model, r.Prefix) {
			return r.Vendor
		}
	}
	return m.defaultVendor
}

// Fallback returns the configured fallback vendor, if any.
func (m *Manager) Fallback(v Vendor) (Vendor, bool) {
	fb, ok := m.fallbacks[v]
	return fb, ok
}

// Complete routes the request to the resolved vendor and, if that vendor
// is rate limited or fails with a retryable error, takes one fallback hop.
// The returned vendor is the one that actually produced the answer.
func (m *Manager) Complete(ctx context.Context, req CompletionRequest) (*CandidateAnswer, Vendor, error) {
	primary := m.Resolve(req.Model)

	answer, err := m.tryComplete(ctx, primary, req)
	if err == nil {
		return answer, primary, nil
	}

	fb, ok := m.fallbackFor(primary, err)
	if !ok {
		return nil, primary, err
	}

	m.log.Warn(req.TenantID, req.RequestID, "primary vendor failed, trying fallback", map[string]interface{}{
		"primary":  string(primary),
		"fallback": string(fb),
		"error":    err.Error(),
	})

	answer, fbErr := m.tryComplete(ctx, fb, fallbackRequest(req))
	if fbErr != nil {
		// Report the primary failure; the fallback result is secondary.
		return nil, primary, err
	}
	return answer, fb, nil
}

// CompleteStream is the streaming variant of Complete. The fallback hop is
// only taken if no content chunk has been emitted to the handler yet; once
// the client has seen output, a mid-stream failure surfaces as an error.
func (m *Manager) CompleteStream(ctx context.Context, req CompletionRequest, handler StreamHandler) (*CandidateAnswer, Vendor, error) {
	primary := m.Resolve(req.Model)

	emitted := false
	guarded := func(chunk StreamChunk) error {
		if chunk.Content != "" {
			emitted = true
		}
		return handler(chunk)
	}

	answer, err := m.tryStream(ctx, primary, req, guarded)
	if err == nil {
		return answer, primary, nil
	}
	if emitted {
		return nil, primary, err
	}

	fb, ok := m.fallbackFor(primary, err)
	if !ok {
		return nil, primary, err
	}

	m.log.Warn(req.TenantID, req.RequestID, "primary vendor failed before first chunk, trying fallback", map[string]interface{}{
		"primary":  string(primary),
		"fallback": string(fb),
		"error":    err.Error(),
	})

	answer, fbErr := m.tryStream(ctx, fb, fallbackRequest(req), guarded)
	if fbErr != nil {
		return nil, primary, err
	}
	return answer, fb, nil
}

// Health runs health checks against every registered adapter.
func (m *Manager) Health(ctx context.Context) map[Vendor]HealthStatus {
	m.mu.RLock()
	providers := make(map[Vendor]Provider, len(m.providers))
	for v, p := range m.providers {
		providers[v] = p
	}
	m.mu.RUnlock()

	out := make(map[Vendor]HealthStatus, len(providers))
	for v, p := range providers {
		if err := p.HealthCheck(ctx); err != nil {
			out[v] = HealthStatusUnhealthy
		} else {
			out[v] = HealthStatusHealthy
		}
	}
	return out
}

// RateLimits returns the observed budget for each registered vendor.
func (m *Manager) RateLimits() map[Vendor]RateLimitState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Vendor]RateLimitState, len(m.providers))
	for v, p := range m.providers {
		out[v] = p.RateLimit()
	}
	return out
}

func (m *Manager) tryComplete(ctx context.Context, vendor Vendor, req CompletionRequest) (*CandidateAnswer, error) {
	p, err := m.admit(vendor)
	if err != nil {
		return nil, err
	}

	answer, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	answer.Vendor = vendor
	return answer, nil
}

func (m *Manager) tryStream(ctx context.Context, vendor Vendor, req CompletionRequest, handler StreamHandler) (*CandidateAnswer, error) {
	p, err := m.admit(vendor)
	if err != nil {
		return nil, err
	}

	if sp, ok := p.(StreamingProvider); ok {
		answer, err := sp.CompleteStream(ctx, req, handler)
		if err != nil {
			return nil, err
		}
		answer.Vendor = vendor
		return answer, nil
	}

	// Adapter has no streaming support: complete synchronously and emit
	// the whole answer as one chunk.
	answer, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	answer.Vendor = vendor
	if err := handler(StreamChunk{Content: answer.Content}); err != nil {
		return nil, err
	}
	if err := handler(StreamChunk{Done: true}); err != nil {
		return nil, err
	}
	return answer, nil
}

// admit enforces the rate limit admission check before any upstream call.
// An exhausted budget is rejected locally with a retryable rate_limit
// error so the caller can fall back without burning a vendor request.
func (m *Manager) admit(vendor Vendor) (Provider, error) {
	p, ok := m.Provider(vendor)
	if !ok {
		return nil, NewProviderError(vendor, ErrCodeUnavailable, "no adapter registered")
	}
	if p.RateLimit().Exhausted(time.Now()) {
		return nil, NewProviderError(vendor, ErrCodeRateLimit, "vendor request budget exhausted")
	}
	return p, nil
}

// fallbackFor decides whether the error warrants the single fallback hop.
func (m *Manager) fallbackFor(primary Vendor, err error) (Vendor, bool) {
	fb, ok := m.fallbacks[primary]
	if !ok {
		return "", false
	}
	// The hop must land on a different vendor; a self-mapping would
	// just retry the adapter that already failed.
	if fb == primary {
		return "", false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return fb, perr.Retryable
	}
	// Transport-level failures without a typed error are treated as
	// retryable.
	return fb, true
}

// fallbackRequest strips the model override so the fallback vendor uses
// its own default model. A claude model name means nothing to OpenAI.
func fallbackRequest(req CompletionRequest) CompletionRequest {
	req.Model = ""
	return req
}
