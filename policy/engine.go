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
	"fmt"
	"strings"

	"github.com/crossaudit/gateway/evaluator"
	"github.com/crossaudit/gateway/shared/logger"
	"github.com/crossaudit/gateway/tenant"
)

// Action is the outcome class of a policy decision.
type Action string

const (
	ActionPass    Action = "pass"
	ActionBlock   Action = "block"
	ActionRewrite Action = "rewrite"
	ActionFlag    Action = "flag"
)

// FallbackText replaces the candidate when every rewrite attempt fails.
// The unsafe candidate is never delivered.
const FallbackText = "I'm sorry, but I can't provide that response. Please rephrase your request and I'll do my best to help."

// Decision is the engine's verdict for a single candidate answer.
type Decision struct {
	Action Action `json:"action"`

	// Content is the text to deliver. For blocks this is the tenant's
	// refusal message, for rewrites the replacement text.
	Content string `json:"content"`

	Reason string `json:"reason"`

	// RewriteAttempts counts generator calls made for this decision.
	RewriteAttempts int `json:"rewrite_attempts,omitempty"`

	// Violations holds the mesh violations plus any fired tenant rules.
	Violations []evaluator.Violation `json:"violations,omitempty"`

	Evaluation evaluator.Unified `json:"evaluation"`
}

// Delivered reports whether the decision lets content reach the caller.
func (d Decision) Delivered() bool {
	return d.Action != ActionBlock
}

// RewriteRequest carries everything the generator needs to produce a
// compliant replacement answer.
type RewriteRequest struct {
	TenantID   string
	Prompt     string
	Original   string
	Violations []evaluator.Violation
	Brand      tenant.BrandGuidelines
	Model      string
}

// RewriteGenerator produces replacement text for answers that fail
// evaluation but are not severe enough to block outright.
type RewriteGenerator interface {
	Rewrite(ctx context.Context, req RewriteRequest) (string, error)
}

// Engine applies tenant thresholds and rules to a unified evaluation.
type Engine struct {
	rewriter RewriteGenerator
	log      *logger.Logger
}

// NewEngine builds an engine. The rewriter may be nil, in which case
// answers below the rewrite threshold fall back to the apology text.
func NewEngine(rewriter RewriteGenerator, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.New("policy-engine")
	}
	return &Engine{rewriter: rewriter, log: log}
}

// Decide maps a unified evaluation onto an action, in priority order:
// critical violation below the block threshold blocks, a score below
// the rewrite threshold triggers the rewrite loop, a score below the
// flag threshold delivers flagged, anything else passes.
func (e *Engine) Decide(ctx context.Context, cfg tenant.Config, prompt, answer string, eval evaluator.Unified) Decision {
	violations := append([]evaluator.Violation(nil), eval.Violations...)
	violations = append(violations, e.applyRules(cfg, answer, eval)...)

	th := cfg.Thresholds
	maxSeverity := maxSeverityOf(violations)

	if maxSeverity == evaluator.SeverityCritical && eval.Aggregate < th.Block {
		blockMsg := cfg.BlockMessage
		if blockMsg == "" {
			blockMsg = tenant.DefaultBlockMessage
		}
		return Decision{
			Action:     ActionBlock,
			Content:    blockMsg,
			Reason:     fmt.Sprintf("critical violation with aggregate %.2f below block threshold %.2f", eval.Aggregate, th.Block),
			Violations: violations,
			Evaluation: eval,
		}
	}

	if eval.Aggregate < th.Rewrite {
		return e.rewriteDecision(ctx, cfg, prompt, answer, eval, violations)
	}

	if eval.Aggregate < th.Flag {
		return Decision{
			Action:     ActionFlag,
			Content:    answer,
			Reason:     fmt.Sprintf("aggregate %.2f below flag threshold %.2f", eval.Aggregate, th.Flag),
			Violations: violations,
			Evaluation: eval,
		}
	}

	return Decision{
		Action:     ActionPass,
		Content:    answer,
		Reason:     "all thresholds met",
		Violations: violations,
		Evaluation: eval,
	}
}

func (e *Engine) rewriteDecision(ctx context.Context, cfg tenant.Config, prompt, answer string, eval evaluator.Unified, violations []evaluator.Violation) Decision {
	attempts := 0
	maxAttempts := cfg.RewriteAttempts
	if maxAttempts <= 0 {
		maxAttempts = tenant.DefaultRewriteAttempts
	}

	if e.rewriter != nil {
		req := RewriteRequest{
			TenantID:   cfg.TenantID,
			Prompt:     prompt,
			Original:   answer,
			Violations: violations,
			Brand:      cfg.Brand,
			Model:      cfg.Model,
		}
		for attempts < maxAttempts {
			attempts++
			rewritten, err := e.rewriter.Rewrite(ctx, req)
			if err != nil {
				e.log.Error(cfg.TenantID, "", "rewrite attempt failed", map[string]interface{}{
					"attempt": attempts,
					"error":   err.Error(),
				})
				continue
			}
			rewritten = strings.TrimSpace(rewritten)
			if rewritten == "" || rewritten == strings.TrimSpace(answer) {
				continue
			}
			return Decision{
				Action:          ActionRewrite,
				Content:         rewritten,
				Reason:          fmt.Sprintf("aggregate %.2f below rewrite threshold %.2f", eval.Aggregate, cfg.Thresholds.Rewrite),
				RewriteAttempts: attempts,
				Violations:      violations,
				Evaluation:      eval,
			}
		}
	}

	// No usable rewrite. The candidate must not go out, so the apology
	// text ships with block semantics.
	return Decision{
		Action:          ActionBlock,
		Content:         FallbackText,
		Reason:          fmt.Sprintf("rewrite unavailable after %d attempts", attempts),
		RewriteAttempts: attempts,
		Violations:      violations,
		Evaluation:      eval,
	}
}

func (e *Engine) applyRules(cfg tenant.Config, answer string, eval evaluator.Unified) []evaluator.Violation {
	rules, errs := CompileRules(cfg.Rules)
	for _, err := range errs {
		e.log.Warn(cfg.TenantID, "", "skipping invalid tenant rule", map[string]interface{}{
			"error": err.Error(),
		})
	}

	in := RuleInput{Answer: answer, Evaluation: eval}
	var fired []evaluator.Violation
	for _, rule := range rules {
		if v, ok := rule.Match(in); ok {
			fired = append(fired, v)
		}
	}
	return fired
}

func maxSeverityOf(violations []evaluator.Violation) evaluator.Severity {
	max := evaluator.Severity("")
	level := -1
	for _, v := range violations {
		if v.Severity.Level() > level {
			level = v.Severity.Level()
			max = v.Severity
		}
	}
	return max
}
