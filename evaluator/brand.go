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
	"fmt"
	"regexp"
	"strings"
)

// BrandAlignmentName is the registered name of the brand evaluator.
const BrandAlignmentName = "brand_alignment"

// Dimension weights. Tone and values carry the most signal.
const (
	toneWeight      = 0.3
	valuesWeight    = 0.3
	messagingWeight = 0.2
	voiceWeight     = 0.2
)

var (
	slangPattern    = regexp.MustCompile(`(?i)\b(?:gonna|wanna|gotta|kinda|sorta|y'all|yeah|nope|lol|omg|btw|super cool|awesome)\b`)
	shoutingPattern = regexp.MustCompile(`\b[A-Z]{4,}\b`)
)

// BrandAlignment scores how well an answer matches the tenant's brand
// guidelines across four dimensions: tone register, brand values,
// messaging themes and voice consistency. With no guidelines configured
// the evaluator is close to neutral and only flags shouting.
type BrandAlignment struct{}

// NewBrandAlignment creates the brand alignment evaluator.
func NewBrandAlignment() *BrandAlignment {
	return &BrandAlignment{}
}

// Name returns the evaluator name.
func (e *BrandAlignment) Name() string {
	return BrandAlignmentName
}

func (e *BrandAlignment) Evaluate(ctx context.Context, in Input) Score {
	if err := ctx.Err(); err != nil {
		return FailureScore(BrandAlignmentName, "context cancelled before evaluation")
	}

	var violations []Violation

	tone := e.toneScore(in, &violations)
	values := e.valuesScore(in, &violations)
	messaging := e.messagingScore(in)
	voice := e.voiceScore(in, &violations)

	value := tone*toneWeight + values*valuesWeight + messaging*messagingWeight + voice*voiceWeight

	confidence := 0.7
	if !brandConfigured(in.Brand) {
		// Nothing tenant-specific to check against.
		confidence = 0.4
	}

	return Score{
		Evaluator:  BrandAlignmentName,
		Value:      clamp01(value),
		Confidence: confidence,
		Categories: map[string]float64{
			"tone":      tone,
			"values":    values,
			"messaging": messaging,
			"voice":     voice,
		},
		Violations: violations,
	}
}

// toneScore checks the register of the answer against the expected tone.
func (e *BrandAlignment) toneScore(in Input, violations *[]Violation) float64 {
	score := 1.0

	if strings.EqualFold(in.Brand.Tone, "formal") {
		slang := len(slangPattern.FindAllString(in.Answer, -1))
		if slang > 0 {
			score -= 0.2 * float64(slang)
			*violations = append(*violations, Violation{
				Type:       "brand",
				Severity:   SeverityMedium,
				Message:    fmt.Sprintf("informal language in a formal-tone answer (%d occurrences)", slang),
				Confidence: 0.7,
			})
		}
	}

	if exclaims := strings.Count(in.Answer, "!"); exclaims > 1 && !strings.EqualFold(in.Brand.Tone, "casual") {
		score -= minFloat(0.1*float64(exclaims-1), 0.3)
	}

	return clamp01(score)
}

// valuesScore penalizes banned phrases, the strongest signal that an
// answer cuts against the tenant's stated values.
func (e *BrandAlignment) valuesScore(in Input, violations *[]Violation) float64 {
	score := 1.0
	lower := strings.ToLower(in.Answer)

	for _, phrase := range in.Brand.BannedPhrases {
		if phrase == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(phrase)) {
			score -= 0.5
			*violations = append(*violations, Violation{
				Type:       "brand",
				Severity:   SeverityHigh,
				Message:    fmt.Sprintf("banned phrase %q present", phrase),
				Confidence: 0.95,
			})
		}
	}

	return clamp01(score)
}

// messagingScore rewards overlap with configured messaging pillars and
// preferred terms. Answers that simply don't touch the themes sit at a
// neutral floor rather than being punished.
func (e *BrandAlignment) messagingScore(in Input) float64 {
	themes := make([]string, 0, len(in.Brand.MessagingPillars)+len(in.Brand.PreferredTerms))
	themes = append(themes, in.Brand.MessagingPillars...)
	themes = append(themes, in.Brand.PreferredTerms...)
	if len(themes) == 0 {
		return 1.0
	}

	lower := strings.ToLower(in.Answer)
	matched := 0
	for _, theme := range themes {
		if theme != "" && strings.Contains(lower, strings.ToLower(theme)) {
			matched++
		}
	}

	return 0.5 + 0.5*(float64(matched)/float64(len(themes)))
}

// voiceScore flags delivery problems independent of register, like
// shouting in capitals.
func (e *BrandAlignment) voiceScore(in Input, violations *[]Violation) float64 {
	score := 1.0

	if caps := len(shoutingPattern.FindAllString(in.Answer, -1)); caps > 0 {
		score -= minFloat(0.15*float64(caps), 0.45)
		*violations = append(*violations, Violation{
			Type:       "brand",
			Severity:   SeverityMedium,
			Message:    fmt.Sprintf("all-caps emphasis (%d words)", caps),
			Confidence: 0.6,
		})
	}
	if strings.Count(in.Answer, "!") > 2 {
		score -= 0.25
	}

	return clamp01(score)
}

func brandConfigured(b BrandExpectations) bool {
	return b.Tone != "" ||
		len(b.PreferredTerms) > 0 ||
		len(b.BannedPhrases) > 0 ||
		len(b.Values) > 0 ||
		len(b.MessagingPillars) > 0
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
