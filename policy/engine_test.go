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

package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossaudit/gateway/evaluator"
	"github.com/crossaudit/gateway/tenant"
)

type stubRewriter struct {
	replies []string
	err     error
	calls   int
}

func (s *stubRewriter) Rewrite(ctx context.Context, req RewriteRequest) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func unifiedWith(aggregate float64, violations ...evaluator.Violation) evaluator.Unified {
	return evaluator.Unified{
		Aggregate:  aggregate,
		Confidence: 1.0,
		Attempted:  3,
		Succeeded:  3,
		Violations: violations,
	}
}

func criticalViolation() evaluator.Violation {
	return evaluator.Violation{
		Type:       "toxicity",
		Severity:   evaluator.SeverityCritical,
		Message:    "profanity detected",
		Confidence: 0.9,
	}
}

func TestDecideBlocksCriticalBelowThreshold(t *testing.T) {
	engine := NewEngine(nil, nil)
	cfg := tenant.DefaultConfig()
	cfg.BlockMessage = "Not allowed here."

	d := engine.Decide(context.Background(), cfg, "prompt", "a profane answer", unifiedWith(0.23, criticalViolation()))

	assert.Equal(t, ActionBlock, d.Action)
	assert.Equal(t, "Not allowed here.", d.Content)
	assert.False(t, d.Delivered())
}

func TestDecideBlockUsesDefaultMessage(t *testing.T) {
	engine := NewEngine(nil, nil)

	d := engine.Decide(context.Background(), tenant.DefaultConfig(), "p", "bad", unifiedWith(0.1, criticalViolation()))

	assert.Equal(t, tenant.DefaultBlockMessage, d.Content)
}

func TestDecideCriticalAboveBlockThresholdRewrites(t *testing.T) {
	rw := &stubRewriter{replies: []string{"a polite replacement"}}
	engine := NewEngine(rw, nil)

	// Critical severity alone does not block when the aggregate clears
	// the block threshold.
	d := engine.Decide(context.Background(), tenant.DefaultConfig(), "p", "borderline", unifiedWith(0.5, criticalViolation()))

	assert.Equal(t, ActionRewrite, d.Action)
	assert.Equal(t, "a polite replacement", d.Content)
}

func TestDecideRewriteSuccess(t *testing.T) {
	rw := &stubRewriter{replies: []string{"Past performance does not guarantee future results, but this fund has grown steadily."}}
	engine := NewEngine(rw, nil)

	d := engine.Decide(context.Background(), tenant.DefaultConfig(), "Is this a good investment?",
		"This investment is guaranteed to double your money.", unifiedWith(0.45))

	assert.Equal(t, ActionRewrite, d.Action)
	assert.Equal(t, 1, d.RewriteAttempts)
	assert.NotContains(t, d.Content, "guaranteed")
	assert.True(t, d.Delivered())
}

func TestDecideRewriteRejectsEmptyAndIdentical(t *testing.T) {
	original := "the original answer"
	rw := &stubRewriter{replies: []string{"", "  the original answer  ", "a fixed version"}}
	engine := NewEngine(rw, nil)

	d := engine.Decide(context.Background(), tenant.DefaultConfig(), "p", original, unifiedWith(0.4))

	assert.Equal(t, ActionRewrite, d.Action)
	assert.Equal(t, "a fixed version", d.Content)
	assert.Equal(t, 3, d.RewriteAttempts)
}

func TestDecideRewriteExhaustedFallsBackToBlock(t *testing.T) {
	rw := &stubRewriter{err: errors.New("upstream down")}
	engine := NewEngine(rw, nil)

	d := engine.Decide(context.Background(), tenant.DefaultConfig(), "p", "unsafe answer", unifiedWith(0.4))

	assert.Equal(t, ActionBlock, d.Action)
	assert.Equal(t, FallbackText, d.Content)
	assert.Equal(t, tenant.DefaultRewriteAttempts, d.RewriteAttempts)
	assert.Equal(t, tenant.DefaultRewriteAttempts, rw.calls)
}

func TestDecideNoRewriterFallsBackToBlock(t *testing.T) {
	engine := NewEngine(nil, nil)

	d := engine.Decide(context.Background(), tenant.DefaultConfig(), "p", "unsafe answer", unifiedWith(0.4))

	assert.Equal(t, ActionBlock, d.Action)
	assert.Equal(t, FallbackText, d.Content)
	assert.Equal(t, 0, d.RewriteAttempts)
}

func TestDecideFlag(t *testing.T) {
	engine := NewEngine(nil, nil)

	d := engine.Decide(context.Background(), tenant.DefaultConfig(), "p", "a so-so answer", unifiedWith(0.7))

	assert.Equal(t, ActionFlag, d.Action)
	assert.Equal(t, "a so-so answer", d.Content)
	assert.True(t, d.Delivered())
}

func TestDecidePass(t *testing.T) {
	engine := NewEngine(nil, nil)

	d := engine.Decide(context.Background(), tenant.DefaultConfig(), "p", "a fine answer", unifiedWith(0.95))

	assert.Equal(t, ActionPass, d.Action)
	assert.Equal(t, "a fine answer", d.Content)
}

func TestDecidePatternRuleAddsViolation(t *testing.T) {
	engine := NewEngine(nil, nil)
	cfg := tenant.DefaultConfig()
	cfg.Rules = []tenant.RuleConfig{{
		Type:     "pattern",
		Name:     "no-guarantees",
		Severity: "high",
		Patterns: []string{`(?i)\bguaranteed\b`},
	}}

	d := engine.Decide(context.Background(), cfg, "p", "Returns are guaranteed every year.", unifiedWith(0.9))

	found := false
	for _, v := range d.Violations {
		if v.Type == "no-guarantees" {
			found = true
		}
	}
	assert.True(t, found, "expected the pattern rule violation")
	// Rules annotate; a high aggregate still passes.
	assert.Equal(t, ActionPass, d.Action)
}

func TestDecideCriticalRuleCanBlock(t *testing.T) {
	engine := NewEngine(nil, nil)
	cfg := tenant.DefaultConfig()
	cfg.Rules = []tenant.RuleConfig{{
		Type:     "pattern",
		Name:     "legal-advice",
		Severity: "critical",
		Patterns: []string{`(?i)legal advice`},
	}}

	d := engine.Decide(context.Background(), cfg, "p", "Here is some legal advice.", unifiedWith(0.2))

	assert.Equal(t, ActionBlock, d.Action)
}

func TestDecideSkipsInvalidRules(t *testing.T) {
	engine := NewEngine(nil, nil)
	cfg := tenant.DefaultConfig()
	cfg.Rules = []tenant.RuleConfig{
		{Type: "pattern", Name: "broken", Severity: "high", Patterns: []string{`(unclosed`}},
		{Type: "pattern", Name: "working", Severity: "low", Patterns: []string{`fine`}},
	}

	d := engine.Decide(context.Background(), cfg, "p", "this is fine", unifiedWith(0.95))

	require.Len(t, d.Violations, 1)
	assert.Equal(t, "working", d.Violations[0].Type)
}
