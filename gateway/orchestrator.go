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

// Package gateway coordinates one governed exchange end to end: fetch
// context, call the upstream model, evaluate the answer, apply tenant
// policy, audit, and deliver. It also exposes the HTTP surface.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crossaudit/gateway/audit"
	"github.com/crossaudit/gateway/cache"
	"github.com/crossaudit/gateway/evaluator"
	"github.com/crossaudit/gateway/policy"
	"github.com/crossaudit/gateway/provider"
	"github.com/crossaudit/gateway/retriever"
	"github.com/crossaudit/gateway/shared/logger"
	"github.com/crossaudit/gateway/tenant"
)

// Stage names the pipeline states a request moves through.
type Stage string

const (
	StageReceived       Stage = "RECEIVED"
	StageContextFetched Stage = "CONTEXT_FETCHED"
	StageUpstreamCalled Stage = "UPSTREAM_CALLED"
	StageEvaluated      Stage = "EVALUATED"
	StageDecided        Stage = "DECIDED"
	StageAudited        Stage = "AUDITED"
	StageDelivered      Stage = "DELIVERED"
	StageRejected       Stage = "REJECTED"
)

// ErrUpstreamFailed wraps provider errors that terminate a request.
var ErrUpstreamFailed = errors.New("upstream completion failed")

// ProviderClient is the slice of the provider manager the orchestrator
// uses.
type ProviderClient interface {
	Complete(ctx context.Context, req provider.CompletionRequest) (*provider.CandidateAnswer, provider.Vendor, error)
	CompleteStream(ctx context.Context, req provider.CompletionRequest, handler provider.StreamHandler) (*provider.CandidateAnswer, provider.Vendor, error)
}

// AnswerCache is the slice of the response cache the orchestrator uses.
// A nil cache disables caching.
type AnswerCache interface {
	Get(ctx context.Context, key string) (*cache.CachedAnswer, bool)
	Put(ctx context.Context, key string, answer cache.CachedAnswer, ttl time.Duration) error
}

// ChatRequest is one inbound question to govern.
type ChatRequest struct {
	RequestID string          `json:"request_id,omitempty"`
	TenantID  string          `json:"tenant_id"`
	Prompt    string          `json:"prompt"`
	History   []provider.Turn `json:"history,omitempty"`
	Model     string          `json:"model,omitempty"`

	// MaxTokens limits the upstream response length. 0 means the
	// vendor default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls upstream sampling. A nil pointer means the
	// vendor default; 0 is a valid explicit setting.
	Temperature *float64 `json:"temperature,omitempty"`
}

// Validate checks the request can enter the pipeline.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return errors.New("tenant_id is required")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt is required")
	}
	return nil
}

// ChatResponse is the delivered result of a governed exchange.
type ChatResponse struct {
	RequestID  string                `json:"request_id"`
	TenantID   string                `json:"tenant_id"`
	Content    string                `json:"content"`
	Action     policy.Action         `json:"action"`
	Blocked    bool                  `json:"blocked"`
	Cached     bool                  `json:"cached"`
	Model      string                `json:"model,omitempty"`
	Vendor     string                `json:"vendor,omitempty"`
	Aggregate  float64               `json:"aggregate_score"`
	Confidence float64               `json:"confidence"`
	Violations []evaluator.Violation `json:"violations,omitempty"`
	LatencyMS  int64                 `json:"latency_ms"`
	Stage      Stage                 `json:"stage"`

	// rewriteAttemptCount feeds the audit entry without widening the
	// public response shape.
	rewriteAttemptCount int
}

// Orchestrator runs the per-request pipeline
// RECEIVED → CONTEXT_FETCHED → UPSTREAM_CALLED → EVALUATED → DECIDED →
// AUDITED → {DELIVERED | REJECTED}.
type Orchestrator struct {
	tenants   *tenant.Store
	providers ProviderClient
	mesh      *evaluator.Mesh
	engine    *policy.Engine
	retriever retriever.Client
	answers   AnswerCache
	sink      audit.Sink
	log       *logger.Logger
}

// NewOrchestrator wires the pipeline. retriever, answers and sink may
// be nil; missing collaborators degrade the corresponding stage.
func NewOrchestrator(
	tenants *tenant.Store,
	providers ProviderClient,
	mesh *evaluator.Mesh,
	engine *policy.Engine,
	contextClient retriever.Client,
	answers AnswerCache,
	sink audit.Sink,
	log *logger.Logger,
) *Orchestrator {
	if contextClient == nil {
		contextClient = retriever.Nop{}
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	if log == nil {
		log = logger.New("gateway")
	}
	return &Orchestrator{
		tenants:   tenants,
		providers: providers,
		mesh:      mesh,
		engine:    engine,
		retriever: contextClient,
		answers:   answers,
		sink:      sink,
		log:       log,
	}
}

// Process governs one exchange synchronously.
func (o *Orchestrator) Process(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	cfg := o.tenants.Get(req.TenantID)

	docs := o.fetchContext(ctx, cfg, req)

	cacheKey := cache.Key(req.TenantID, req.Prompt, strings.Join(docs, "\n"))
	if cached := o.lookupCache(ctx, cacheKey); cached != nil {
		resp := &ChatResponse{
			RequestID: req.RequestID,
			TenantID:  req.TenantID,
			Content:   cached.Content,
			Action:    policy.ActionPass,
			Cached:    true,
			Model:     cached.Model,
			Vendor:    cached.Vendor,
			Aggregate: cached.Aggregate,
			LatencyMS: time.Since(start).Milliseconds(),
			Stage:     StageDelivered,
		}
		cacheHits.Inc()
		recordOutcome("cached", resp.LatencyMS)
		o.audit(ctx, req, resp, nil, 0)
		return resp, nil
	}

	answer, vendor, err := o.providers.Complete(ctx, o.completionRequest(cfg, req))
	if err != nil {
		o.auditRejection(ctx, req, err, time.Since(start))
		requestsTotal.WithLabelValues("rejected").Inc()
		recordOutcome("rejected", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFailed, err)
	}

	resp := o.govern(ctx, cfg, req, answer.Content, docs, start)
	resp.Model = answer.Model
	resp.Vendor = string(vendor)

	o.audit(ctx, req, resp, resp.Violations, resp.rewriteAttemptCount)
	o.storeOnPass(ctx, cfg, cacheKey, resp)

	return resp, nil
}

func (o *Orchestrator) fetchContext(ctx context.Context, cfg tenant.Config, req ChatRequest) []string {
	docs, err := o.retriever.Search(ctx, retriever.Query{
		TenantID: req.TenantID,
		Text:     req.Prompt,
	})
	if err != nil {
		// Context is an enhancement, not a precondition.
		o.log.Warn(req.TenantID, req.RequestID, "context retrieval failed, proceeding without documents", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	return retriever.Contents(docs)
}

func (o *Orchestrator) lookupCache(ctx context.Context, key string) *cache.CachedAnswer {
	if o.answers == nil {
		return nil
	}
	cached, ok := o.answers.Get(ctx, key)
	if !ok {
		return nil
	}
	return cached
}

func (o *Orchestrator) completionRequest(cfg tenant.Config, req ChatRequest) provider.CompletionRequest {
	model := req.Model
	if model == "" {
		model = cfg.Model
	}
	// Adapters treat a non-negative temperature as set, so the unset
	// case must go out as -1, not the zero value.
	temperature := -1.0
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	return provider.CompletionRequest{
		TenantID:    req.TenantID,
		RequestID:   req.RequestID,
		Prompt:      req.Prompt,
		History:     req.History,
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature,
	}
}

// govern runs evaluation and decision on a complete candidate answer.
func (o *Orchestrator) govern(ctx context.Context, cfg tenant.Config, req ChatRequest, candidate string, docs []string, start time.Time) *ChatResponse {
	evalStart := time.Now()
	unified := o.mesh.Evaluate(ctx, evaluator.Input{
		Prompt:    req.Prompt,
		Answer:    candidate,
		Documents: docs,
		Brand:     brandExpectations(cfg.Brand),
	}, evaluator.Options{
		Timeout: cfg.EvaluatorTimeout(),
		Weights: cfg.EvaluatorWeights,
		Enabled: cfg.Evaluators,
	})
	stageDuration.WithLabelValues("evaluation").Observe(float64(time.Since(evalStart).Milliseconds()))
	evaluatorFailures.Add(float64(unified.Attempted - unified.Succeeded))

	decision := o.engine.Decide(ctx, cfg, req.Prompt, candidate, unified)
	requestsTotal.WithLabelValues(string(decision.Action)).Inc()

	resp := &ChatResponse{
		RequestID:  req.RequestID,
		TenantID:   req.TenantID,
		Content:    decision.Content,
		Action:     decision.Action,
		Blocked:    decision.Action == policy.ActionBlock,
		Aggregate:  unified.Aggregate,
		Confidence: unified.Confidence,
		Violations: decision.Violations,
		LatencyMS:  time.Since(start).Milliseconds(),
		Stage:      StageDelivered,
	}
	resp.rewriteAttemptCount = decision.RewriteAttempts
	recordOutcome(string(decision.Action), resp.LatencyMS)
	return resp
}

func (o *Orchestrator) storeOnPass(ctx context.Context, cfg tenant.Config, key string, resp *ChatResponse) {
	if o.answers == nil || resp.Action != policy.ActionPass {
		return
	}
	err := o.answers.Put(ctx, key, cache.CachedAnswer{
		Content:   resp.Content,
		Model:     resp.Model,
		Vendor:    resp.Vendor,
		Aggregate: resp.Aggregate,
	}, cfg.CacheTTL())
	if err != nil {
		o.log.Warn(resp.TenantID, resp.RequestID, "failed to cache passing answer", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (o *Orchestrator) audit(ctx context.Context, req ChatRequest, resp *ChatResponse, violations []evaluator.Violation, rewriteAttempts int) {
	entry := audit.Entry{
		RequestID:       resp.RequestID,
		TenantID:        resp.TenantID,
		Action:          string(resp.Action),
		Model:           resp.Model,
		Vendor:          resp.Vendor,
		PromptHash:      audit.Digest(req.Prompt),
		AnswerHash:      audit.Digest(resp.Content),
		Aggregate:       resp.Aggregate,
		Confidence:      resp.Confidence,
		Cached:          resp.Cached,
		LatencyMS:       resp.LatencyMS,
		Violations:      violations,
		RewriteAttempts: rewriteAttempts,
	}
	if err := o.sink.Record(ctx, entry); err != nil {
		// Audit is best effort; delivery proceeds.
		o.log.Error(resp.TenantID, resp.RequestID, "audit record failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (o *Orchestrator) auditRejection(ctx context.Context, req ChatRequest, cause error, elapsed time.Duration) {
	entry := audit.Entry{
		RequestID:  req.RequestID,
		TenantID:   req.TenantID,
		Action:     "rejected",
		Reason:     cause.Error(),
		PromptHash: audit.Digest(req.Prompt),
		LatencyMS:  elapsed.Milliseconds(),
	}
	if err := o.sink.Record(ctx, entry); err != nil {
		o.log.Error(req.TenantID, req.RequestID, "audit record failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func brandExpectations(g tenant.BrandGuidelines) evaluator.BrandExpectations {
	return evaluator.BrandExpectations{
		Tone:             g.Tone,
		PreferredTerms:   g.PreferredTerms,
		BannedPhrases:    g.BannedPhrases,
		Values:           g.Values,
		MessagingPillars: g.MessagingPillars,
	}
}
