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

// Package evaluator scores candidate answers before delivery. Each
// evaluator inspects one quality dimension (toxicity, brand alignment,
// factual accuracy) and returns a score in [0,1] where higher is safer.
// The Mesh fans evaluators out concurrently and folds their scores into
// a single unified evaluation for the policy engine.
package evaluator

import (
	"context"
	"regexp"
)

// Severity ranks how serious a violation is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Level returns the numeric rank of a severity for comparisons.
// Unknown severities rank lowest.
func (s Severity) Level() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// ParseSeverity maps a config string onto a Severity, defaulting to low.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s)
	default:
		return SeverityLow
	}
}

// Violation describes one specific problem found in a candidate answer.
type Violation struct {
	// Type classifies the violation: "toxicity", "brand",
	// "unsupported_claim", "evaluation_failure", or a rule name.
	Type string `json:"type"`

	Severity Severity `json:"severity"`

	// Message is a human-readable description. Quoted answer text is
	// PII-redacted before it lands here.
	Message string `json:"message"`

	// Confidence in [0,1] expresses how sure the evaluator is.
	Confidence float64 `json:"confidence"`
}

// Score is one evaluator's verdict on a candidate answer.
type Score struct {
	// Evaluator is the name of the evaluator that produced the score.
	Evaluator string `json:"evaluator"`

	// Value in [0,1]; higher means safer.
	Value float64 `json:"value"`

	// Confidence in [0,1]; zero means the evaluator could not judge.
	Confidence float64 `json:"confidence"`

	// Categories breaks the value down per inspected category.
	Categories map[string]float64 `json:"categories,omitempty"`

	Violations []Violation `json:"violations,omitempty"`
}

// Input carries everything an evaluator may inspect.
type Input struct {
	// Prompt is the user's question.
	Prompt string

	// Answer is the candidate answer under evaluation.
	Answer string

	// Documents are retrieved context documents, used for factual
	// support checks. May be empty when retrieval failed.
	Documents []string

	// Tone, terminology and messaging expectations for the tenant.
	Brand BrandExpectations
}

// BrandExpectations mirrors the tenant's brand guidelines without
// coupling the evaluator package to the tenant package.
type BrandExpectations struct {
	Tone             string
	PreferredTerms   []string
	BannedPhrases    []string
	Values           []string
	MessagingPillars []string
}

// Evaluator scores one quality dimension of a candidate answer.
//
// Evaluate never returns an error: an evaluator that cannot complete its
// work must return FailureScore instead, so a broken evaluator degrades
// the evaluation rather than the whole pipeline.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, in Input) Score
}

// FailureScore is the neutral-but-flagged score an evaluator returns
// when it cannot complete its evaluation.
func FailureScore(name, reason string) Score {
	return Score{
		Evaluator:  name,
		Value:      0.5,
		Confidence: 0,
		Violations: []Violation{
			{
				Type:       "evaluation_failure",
				Severity:   SeverityLow,
				Message:    reason,
				Confidence: 0,
			},
		},
	}
}

// PII redaction patterns applied to any answer text quoted in violation
// messages.
var (
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\b\d{3}[-.]\d{3}[-.]\d{4}\b`)
)

// Redact masks SSNs, email addresses and phone numbers in s.
func Redact(s string) string {
	s = ssnPattern.ReplaceAllString(s, "[REDACTED-SSN]")
	s = emailPattern.ReplaceAllString(s, "[REDACTED-EMAIL]")
	s = phonePattern.ReplaceAllString(s, "[REDACTED-PHONE]")
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
