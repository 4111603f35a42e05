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

// Package tenant holds per-tenant governance configuration: decision
// thresholds, enabled evaluators and their weights, brand guidelines, and
// custom policy rules. Configuration is sourced from a YAML file and hot
// reloaded when the file changes.
package tenant

import "time"

// Defaults applied when a tenant does not override a setting.
const (
	DefaultBlockThreshold   = 0.3
	DefaultRewriteThreshold = 0.6
	DefaultFlagThreshold    = 0.8

	// DefaultEvaluatorTimeout is the per-evaluator scoring budget.
	DefaultEvaluatorTimeout = 800 * time.Millisecond

	// DefaultCacheTTL is how long delivered answers stay cached.
	DefaultCacheTTL = 60 * time.Minute

	// DefaultRewriteAttempts bounds the rewrite loop.
	DefaultRewriteAttempts = 3
)

// DefaultBlockMessage is delivered in place of a blocked answer.
const DefaultBlockMessage = "This response was blocked by your organization's content policy."

// Thresholds are the score cut lines for policy decisions. Scores are in
// [0,1] with higher meaning safer.
type Thresholds struct {
	Block   float64 `yaml:"block" json:"block"`
	Rewrite float64 `yaml:"rewrite" json:"rewrite"`
	Flag    float64 `yaml:"flag" json:"flag"`
}

// BrandGuidelines configure the brand alignment evaluator for a tenant.
type BrandGuidelines struct {
	// Tone is the expected register: "formal", "neutral" or "casual".
	Tone string `yaml:"tone" json:"tone"`

	// PreferredTerms are terms the brand voice favors.
	PreferredTerms []string `yaml:"preferred_terms" json:"preferred_terms,omitempty"`

	// BannedPhrases must never appear in delivered answers.
	BannedPhrases []string `yaml:"banned_phrases" json:"banned_phrases,omitempty"`

	// Values are value keywords answers should stay consistent with.
	Values []string `yaml:"values" json:"values,omitempty"`

	// MessagingPillars are key messaging themes.
	MessagingPillars []string `yaml:"messaging_pillars" json:"messaging_pillars,omitempty"`
}

// RuleConfig declares a custom policy rule in tenant configuration. The
// policy package compiles these into typed rule predicates.
type RuleConfig struct {
	// Type is "threshold", "pattern" or "composite".
	Type string `yaml:"type" json:"type"`

	// Name identifies the rule in violations and audit records.
	Name string `yaml:"name" json:"name"`

	// Severity assigned to violations this rule produces:
	// low, medium, high or critical.
	Severity string `yaml:"severity" json:"severity"`

	// Metric and Max apply to threshold rules: the rule fires when the
	// named score (an evaluator name or "aggregate") falls below Max.
	Metric string  `yaml:"metric,omitempty" json:"metric,omitempty"`
	Max    float64 `yaml:"max,omitempty" json:"max,omitempty"`

	// Patterns apply to pattern rules: regular expressions matched
	// against the candidate answer.
	Patterns []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`

	// All applies to composite rules: every sub-rule must fire.
	All []RuleConfig `yaml:"all,omitempty" json:"all,omitempty"`
}

// Config is the effective governance configuration for one tenant.
type Config struct {
	TenantID string `yaml:"-" json:"tenant_id"`

	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`

	// Evaluators lists enabled evaluator names. Empty means all
	// registered evaluators run.
	Evaluators []string `yaml:"evaluators" json:"evaluators,omitempty"`

	// EvaluatorWeights sets per-evaluator aggregation weights.
	// Missing evaluators get weight 1.
	EvaluatorWeights map[string]float64 `yaml:"evaluator_weights" json:"evaluator_weights,omitempty"`

	// EvaluatorTimeoutMS is the per-evaluator scoring budget.
	EvaluatorTimeoutMS int `yaml:"evaluator_timeout_ms" json:"evaluator_timeout_ms"`

	// CacheTTLMinutes is the response cache lifetime.
	CacheTTLMinutes int `yaml:"cache_ttl_minutes" json:"cache_ttl_minutes"`

	// RewriteAttempts bounds the rewrite loop.
	RewriteAttempts int `yaml:"rewrite_attempts" json:"rewrite_attempts"`

	// BlockMessage replaces blocked answers.
	BlockMessage string `yaml:"block_message" json:"block_message"`

	// Model overrides the default upstream model for this tenant.
	Model string `yaml:"model" json:"model,omitempty"`

	Brand BrandGuidelines `yaml:"brand" json:"brand"`

	Rules []RuleConfig `yaml:"rules" json:"rules,omitempty"`
}

// DefaultConfig returns the configuration applied to tenants with no
// overrides on file.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			Block:   DefaultBlockThreshold,
			Rewrite: DefaultRewriteThreshold,
			Flag:    DefaultFlagThreshold,
		},
		EvaluatorTimeoutMS: int(DefaultEvaluatorTimeout / time.Millisecond),
		CacheTTLMinutes:    int(DefaultCacheTTL / time.Minute),
		RewriteAttempts:    DefaultRewriteAttempts,
		BlockMessage:       DefaultBlockMessage,
	}
}

// EvaluatorTimeout returns the per-evaluator budget as a duration.
func (c Config) EvaluatorTimeout() time.Duration {
	if c.EvaluatorTimeoutMS <= 0 {
		return DefaultEvaluatorTimeout
	}
	return time.Duration(c.EvaluatorTimeoutMS) * time.Millisecond
}

// CacheTTL returns the response cache lifetime as a duration.
func (c Config) CacheTTL() time.Duration {
	if c.CacheTTLMinutes <= 0 {
		return DefaultCacheTTL
	}
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// EvaluatorEnabled reports whether the named evaluator runs for this
// tenant. An empty list enables every registered evaluator.
func (c Config) EvaluatorEnabled(name string) bool {
	if len(c.Evaluators) == 0 {
		return true
	}
	for _, e := range c.Evaluators {
		if e == name {
			return true
		}
	}
	return false
}

// Weight returns the aggregation weight for the named evaluator.
func (c Config) Weight(name string) float64 {
	if w, ok := c.EvaluatorWeights[name]; ok && w > 0 {
		return w
	}
	return 1.0
}

// merge overlays tenant-specific settings onto the defaults. Zero-valued
// fields keep the default.
func merge(defaults, override Config) Config {
	out := defaults

	if override.Thresholds.Block > 0 {
		out.Thresholds.Block = override.Thresholds.Block
	}
	if override.Thresholds.Rewrite > 0 {
		out.Thresholds.Rewrite = override.Thresholds.Rewrite
	}
	if override.Thresholds.Flag > 0 {
		out.Thresholds.Flag = override.Thresholds.Flag
	}
	if len(override.Evaluators) > 0 {
		out.Evaluators = override.Evaluators
	}
	if len(override.EvaluatorWeights) > 0 {
		out.EvaluatorWeights = override.EvaluatorWeights
	}
	if override.EvaluatorTimeoutMS > 0 {
		out.EvaluatorTimeoutMS = override.EvaluatorTimeoutMS
	}
	if override.CacheTTLMinutes > 0 {
		out.CacheTTLMinutes = override.CacheTTLMinutes
	}
	if override.RewriteAttempts > 0 {
		out.RewriteAttempts = override.RewriteAttempts
	}
	if override.BlockMessage != "" {
		out.BlockMessage = override.BlockMessage
	}
	if override.Model != "" {
		out.Model = override.Model
	}
	if !override.Brand.empty() {
		out.Brand = override.Brand
	}
	if len(override.Rules) > 0 {
		out.Rules = override.Rules
	}

	return out
}

func (g BrandGuidelines) empty() bool {
	return g.Tone == "" &&
		len(g.PreferredTerms) == 0 &&
		len(g.BannedPhrases) == 0 &&
		len(g.Values) == 0 &&
		len(g.MessagingPillars) == 0
}
