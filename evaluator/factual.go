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

package evaluator

import (
	"context"
	"regexp"
	"strings"
)

// FactualAccuracyName is the registered name of the factual evaluator.
const FactualAccuracyName = "factual_accuracy"

// Penalties per unsupported claim, by how definitively it is stated.
// A flat promise with no evidence costs far more than a hedged guess.
const (
	definitivePenalty = 0.4
	hedgedPenalty     = 0.1
	factualPenalty    = 0.15

	// promisePenalty is added on top for unsupported absolute promises
	// ("guaranteed", "risk-free"), the claims with real compliance
	// exposure.
	promisePenalty = 0.25

	// supportOverlap is the fraction of a claim's content words that
	// must appear in one context document for the claim to count as
	// supported.
	supportOverlap = 0.3
)

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+\s+|[.!?]+$`)

	numberPattern      = regexp.MustCompile(`\d`)
	definitivePattern  = regexp.MustCompile(`(?i)\b(?:guaranteed?|always|never|definitely|certainly|proven|undoubtedly|will\s+(?:double|triple|increase|return))\b`)
	hedgePattern       = regexp.MustCompile(`(?i)\b(?:may|might|could|possibly|perhaps|potentially|likely|typically|generally)\b`)
	comparativePattern = regexp.MustCompile(`(?i)\b(?:best|worst|fastest|slowest|cheapest|largest|smallest|most|least)\b`)
	promisePattern     = regexp.MustCompile(`(?i)\bguaranteed?\b|\brisk[- ]free\b|\bno risk\b|\bdouble your money\b`)
)

// claimKind classifies how a claim is asserted.
type claimKind int

const (
	claimNone claimKind = iota
	claimHedged
	claimFactual
	claimDefinitive
)

// FactualAccuracy extracts checkable claims from the answer and verifies
// each against the retrieved context documents via lexical overlap.
// Unsupported claims are penalized in proportion to how definitively
// they are asserted.
type FactualAccuracy struct{}

// NewFactualAccuracy creates the factual accuracy evaluator.
func NewFactualAccuracy() *FactualAccuracy {
	return &FactualAccuracy{}
}

// Name returns the evaluator name.
func (e *FactualAccuracy) Name() string {
	return FactualAccuracyName
}

func (e *FactualAccuracy) Evaluate(ctx context.Context, in Input) Score {
	if err := ctx.Err(); err != nil {
		return FailureScore(FactualAccuracyName, "context cancelled before evaluation")
	}

	claims := extractClaims(in.Answer)
	if len(claims) == 0 {
		return Score{
			Evaluator:  FactualAccuracyName,
			Value:      1.0,
			Confidence: 0.8,
			Categories: map[string]float64{"claims": 0},
		}
	}

	var violations []Violation
	penalty := 0.0
	unsupported := 0

	for _, c := range claims {
		if supported(c.text, in.Documents) {
			continue
		}
		unsupported++

		p := factualPenalty
		severity := SeverityMedium
		switch c.kind {
		case claimDefinitive:
			p = definitivePenalty
			severity = SeverityHigh
		case claimHedged:
			p = hedgedPenalty
			severity = SeverityLow
		}

		if c.kind == claimDefinitive && promisePattern.MatchString(c.text) {
			p += promisePenalty
		}

		penalty += p
		violations = append(violations, Violation{
			Type:       "unsupported_claim",
			Severity:   severity,
			Message:    Redact("unsupported claim: " + truncate(c.text, 120)),
			Confidence: confidenceFor(in.Documents),
		})
	}

	return Score{
		Evaluator:  FactualAccuracyName,
		Value:      clamp01(1.0 - penalty),
		Confidence: confidenceFor(in.Documents),
		Categories: map[string]float64{
			"claims":      float64(len(claims)),
			"unsupported": float64(unsupported),
		},
		Violations: violations,
	}
}

type claim struct {
	text string
	kind claimKind
}

// extractClaims splits the answer into sentences and keeps the ones that
// assert something checkable: numbers, superlatives, or definitive
// statements.
func extractClaims(answer string) []claim {
	var claims []claim
	for _, sentence := range sentenceSplit.Split(answer, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		kind := classify(sentence)
		if kind == claimNone {
			continue
		}
		claims = append(claims, claim{text: sentence, kind: kind})
	}
	return claims
}

func classify(sentence string) claimKind {
	definitive := definitivePattern.MatchString(sentence)
	hedged := hedgePattern.MatchString(sentence)
	factual := numberPattern.MatchString(sentence) || comparativePattern.MatchString(sentence)

	switch {
	case definitive && !hedged:
		return claimDefinitive
	case hedged && (definitive || factual):
		return claimHedged
	case factual:
		return claimFactual
	default:
		return claimNone
	}
}

// supported checks whether enough of the claim's content words appear in
// a single context document.
func supported(claimText string, docs []string) bool {
	words := contentWords(claimText)
	if len(words) == 0 {
		return false
	}

	for _, doc := range docs {
		lower := strings.ToLower(doc)
		matched := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				matched++
			}
		}
		if float64(matched)/float64(len(words)) >= supportOverlap {
			return true
		}
	}
	return false
}

func contentWords(s string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) > 3 {
			out = append(out, w)
		}
	}
	return out
}

// confidenceFor is lower without documents: every claim looks
// unsupported when there is nothing to support it.
func confidenceFor(docs []string) float64 {
	if len(docs) == 0 {
		return 0.5
	}
	return 0.85
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
