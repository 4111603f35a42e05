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

package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crossaudit/gateway/cache"
	"github.com/crossaudit/gateway/policy"
	"github.com/crossaudit/gateway/provider"
)

// StreamEvent is one event on the governed stream. Content events
// carry upstream text as it arrives; the single decision event is
// always last. When Replace is set the client must discard streamed
// content and show the decision content instead.
type StreamEvent struct {
	Type     string        `json:"type"`
	Content  string        `json:"content,omitempty"`
	Replace  bool          `json:"replace,omitempty"`
	Decision *ChatResponse `json:"decision,omitempty"`
}

const (
	EventContent  = "content"
	EventDecision = "decision"
)

// StreamEmitter receives governed stream events. Returning an error
// aborts the stream.
type StreamEmitter func(event StreamEvent) error

// ProcessStream governs one exchange while streaming upstream content
// through to the caller. Evaluation runs on the complete answer, so
// the decision event may retract what was already streamed.
func (o *Orchestrator) ProcessStream(ctx context.Context, req ChatRequest, emit StreamEmitter) (*ChatResponse, error) {
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
		if err := emit(StreamEvent{Type: EventContent, Content: cached.Content}); err != nil {
			return nil, err
		}
		if err := emit(StreamEvent{Type: EventDecision, Decision: resp}); err != nil {
			return nil, err
		}
		o.audit(ctx, req, resp, nil, 0)
		return resp, nil
	}

	var buf strings.Builder
	var emitErr error
	handler := func(chunk provider.StreamChunk) error {
		if chunk.Content == "" {
			return nil
		}
		buf.WriteString(chunk.Content)
		if emitErr = emit(StreamEvent{Type: EventContent, Content: chunk.Content}); emitErr != nil {
			return emitErr
		}
		return nil
	}

	answer, vendor, err := o.providers.CompleteStream(ctx, o.completionRequest(cfg, req), handler)
	if emitErr != nil {
		return nil, emitErr
	}
	if err != nil {
		o.auditRejection(ctx, req, err, time.Since(start))
		requestsTotal.WithLabelValues("rejected").Inc()
		recordOutcome("rejected", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFailed, err)
	}

	candidate := answer.Content
	if candidate == "" {
		candidate = buf.String()
	}

	resp := o.govern(ctx, cfg, req, candidate, docs, start)
	resp.Model = answer.Model
	resp.Vendor = string(vendor)

	// Blocks and rewrites retract the streamed text.
	replace := resp.Action == policy.ActionBlock || resp.Action == policy.ActionRewrite
	if err := emit(StreamEvent{Type: EventDecision, Replace: replace, Content: resp.Content, Decision: resp}); err != nil {
		return nil, err
	}

	o.audit(ctx, req, resp, resp.Violations, resp.rewriteAttemptCount)
	o.storeOnPass(ctx, cfg, cacheKey, resp)

	return resp, nil
}
