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
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossaudit/gateway/evaluator"
	"github.com/crossaudit/gateway/tenant"
)

func TestThresholdRuleAggregate(t *testing.T) {
	rule := ThresholdRule{RuleName: "min-quality", Max: 0.5, Severity: evaluator.SeverityMedium}

	_, fired := rule.Match(RuleInput{Evaluation: evaluator.Unified{Aggregate: 0.6}})
	assert.False(t, fired)

	v, fired := rule.Match(RuleInput{Evaluation: evaluator.Unified{Aggregate: 0.4}})
	require.True(t, fired)
	assert.Equal(t, "min-quality", v.Type)
	assert.Equal(t, evaluator.SeverityMedium, v.Severity)
}

func TestThresholdRuleEvaluatorMetric(t *testing.T) {
	rule := ThresholdRule{RuleName: "factual-floor", Metric: "factual_accuracy", Max: 0.7, Severity: evaluator.SeverityHigh}

	eval := evaluator.Unified{
		Aggregate: 0.9,
		Scores:    []evaluator.Score{{Evaluator: "factual_accuracy", Value: 0.5, Confidence: 0.85}},
	}

	_, fired := rule.Match(RuleInput{Evaluation: eval})
	assert.True(t, fired)

	// An unknown metric never fires.
	missing := ThresholdRule{RuleName: "x", Metric: "nonexistent", Max: 0.7}
	_, fired = missing.Match(RuleInput{Evaluation: eval})
	assert.False(t, fired)
}

func TestCompositeRuleRequiresAll(t *testing.T) {
	rule := CompositeRule{
		RuleName: "risky-finance",
		Severity: evaluator.SeverityCritical,
		All: []Rule{
			PatternRule{RuleName: "p1", Patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)invest`)}},
			ThresholdRule{RuleName: "t1", Max: 0.8},
		},
	}

	in := RuleInput{Answer: "Invest now!", Evaluation: evaluator.Unified{Aggregate: 0.5}}
	v, fired := rule.Match(in)
	require.True(t, fired)
	assert.Equal(t, evaluator.SeverityCritical, v.Severity)

	in.Answer = "Save your money."
	_, fired = rule.Match(in)
	assert.False(t, fired)
}

func TestCompileRulesReportsInvalid(t *testing.T) {
	rules, errs := CompileRules([]tenant.RuleConfig{
		{Type: "pattern", Name: "ok", Patterns: []string{`\bfoo\b`}},
		{Type: "pattern", Name: "bad-regex", Patterns: []string{`(`}},
		{Type: "threshold", Name: "bad-max", Max: 0},
		{Type: "mystery", Name: "bad-type"},
		{Type: "composite", Name: "nested", All: []tenant.RuleConfig{
			{Type: "threshold", Name: "inner", Max: 0.5},
		}},
	})

	assert.Len(t, rules, 2)
	assert.Len(t, errs, 3)
}
