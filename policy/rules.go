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

// Package policy decides what happens to an evaluated candidate answer:
// deliver it, block it, rewrite it, or deliver it flagged for review.
// Custom tenant rules are typed predicates compiled from configuration,
// never interpreted expression strings.
package policy

import (
	"fmt"
	"regexp"

	"github.com/crossaudit/gateway/evaluator"
	"github.com/crossaudit/gateway/tenant"
)

// RuleInput is what a rule predicate may inspect.
type RuleInput struct {
	// Answer is the candidate answer text.
	Answer string

	// Evaluation is the mesh verdict for the answer.
	Evaluation evaluator.Unified
}

// Rule is a compiled tenant rule predicate. Match returns whether the
// rule fires and, if so, the violation it contributes.
type Rule interface {
	Name() string
	Match(in RuleInput) (evaluator.Violation, bool)
}

// ThresholdRule fires when a score falls below its limit. Metric names
// an evaluator, or "aggregate" for the unified score.
type ThresholdRule struct {
	RuleName string
	Metric   string
	Max      float64
	Severity evaluator.Severity
}

// Name returns the rule name.
func (r ThresholdRule) Name() string { return r.RuleName }

func (r ThresholdRule) Match(in RuleInput) (evaluator.Violation, bool) {
	var score float64
	if r.Metric == "" || r.Metric == "aggregate" {
		score = in.Evaluation.Aggregate
	} else {
		v, ok := in.Evaluation.ScoreFor(r.Metric)
		if !ok {
			return evaluator.Violation{}, false
		}
		score = v
	}

	if score >= r.Max {
		return evaluator.Violation{}, false
	}
	return evaluator.Violation{
		Type:       r.RuleName,
		Severity:   r.Severity,
		Message:    fmt.Sprintf("score %.2f below rule limit %.2f", score, r.Max),
		Confidence: 1.0,
	}, true
}

// PatternRule fires when any of its regular expressions matches the
// candidate answer.
type PatternRule struct {
	RuleName string
	Patterns []*regexp.Regexp
	Severity evaluator.Severity
}

// Name returns the rule name.
func (r PatternRule) Name() string { return r.RuleName }

func (r PatternRule) Match(in RuleInput) (evaluator.Violation, bool) {
	for _, p := range r.Patterns {
		if p.MatchString(in.Answer) {
			return evaluator.Violation{
				Type:       r.RuleName,
				Severity:   r.Severity,
				Message:    fmt.Sprintf("pattern %q matched", p.String()),
				Confidence: 1.0,
			}, true
		}
	}
	return evaluator.Violation{}, false
}

// CompositeRule fires only when all of its sub-rules fire.
type CompositeRule struct {
	RuleName string
	All      []Rule
	Severity evaluator.Severity
}

// Name returns the rule name.
func (r CompositeRule) Name() string { return r.RuleName }

func (r CompositeRule) Match(in RuleInput) (evaluator.Violation, bool) {
	for _, sub := range r.All {
		if _, ok := sub.Match(in); !ok {
			return evaluator.Violation{}, false
		}
	}
	return evaluator.Violation{
		Type:       r.RuleName,
		Severity:   r.Severity,
		Message:    fmt.Sprintf("all %d conditions matched", len(r.All)),
		Confidence: 1.0,
	}, true
}

// CompileRules turns rule configurations into typed predicates. Invalid
// rules are reported, not silently dropped; callers decide whether to
// proceed with the valid subset.
func CompileRules(cfgs []tenant.RuleConfig) ([]Rule, []error) {
	var rules []Rule
	var errs []error

	for _, cfg := range cfgs {
		rule, err := compileRule(cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, errs
}

func compileRule(cfg tenant.RuleConfig) (Rule, error) {
	severity := evaluator.ParseSeverity(cfg.Severity)

	switch cfg.Type {
	case "threshold":
		if cfg.Max <= 0 || cfg.Max > 1 {
			return nil, fmt.Errorf("rule %q: threshold max must be in (0,1], got %v", cfg.Name, cfg.Max)
		}
		return ThresholdRule{
			RuleName: cfg.Name,
			Metric:   cfg.Metric,
			Max:      cfg.Max,
			Severity: severity,
		}, nil

	case "pattern":
		if len(cfg.Patterns) == 0 {
			return nil, fmt.Errorf("rule %q: pattern rule needs at least one pattern", cfg.Name)
		}
		patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
		for _, raw := range cfg.Patterns {
			p, err := regexp.Compile(raw)
			if err != nil {
				return nil, fmt.Errorf("rule %q: invalid pattern %q: %w", cfg.Name, raw, err)
			}
			patterns = append(patterns, p)
		}
		return PatternRule{RuleName: cfg.Name, Patterns: patterns, Severity: severity}, nil

	case "composite":
		if len(cfg.All) == 0 {
			return nil, fmt.Errorf("rule %q: composite rule needs sub-rules", cfg.Name)
		}
		subs := make([]Rule, 0, len(cfg.All))
		for _, subCfg := range cfg.All {
			sub, err := compileRule(subCfg)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", cfg.Name, err)
			}
			subs = append(subs, sub)
		}
		return CompositeRule{RuleName: cfg.Name, All: subs, Severity: severity}, nil

	default:
		return nil, fmt.Errorf("rule %q: unknown rule type %q", cfg.Name, cfg.Type)
	}
}
