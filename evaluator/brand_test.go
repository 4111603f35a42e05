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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrandCleanFormalAnswer(t *testing.T) {
	e := NewBrandAlignment()

	score := e.Evaluate(context.Background(), Input{
		Answer: "You can return the item within 30 days for a full refund.",
		Brand:  BrandExpectations{Tone: "formal"},
	})

	assert.GreaterOrEqual(t, score.Value, 0.8)
	assert.Empty(t, score.Violations)
	assert.Equal(t, 1.0, score.Categories["tone"])
}

func TestBrandSlangInFormalTone(t *testing.T) {
	e := NewBrandAlignment()

	score := e.Evaluate(context.Background(), Input{
		Answer: "Yeah we're gonna sort that out, it's gonna be awesome.",
		Brand:  BrandExpectations{Tone: "formal"},
	})

	assert.Less(t, score.Categories["tone"], 1.0)
	require.NotEmpty(t, score.Violations)
	assert.Equal(t, "brand", score.Violations[0].Type)
}

func TestBrandBannedPhrase(t *testing.T) {
	e := NewBrandAlignment()

	score := e.Evaluate(context.Background(), Input{
		Answer: "This product offers guaranteed returns on every purchase.",
		Brand:  BrandExpectations{BannedPhrases: []string{"guaranteed returns"}},
	})

	assert.Less(t, score.Categories["values"], 1.0)

	found := false
	for _, v := range score.Violations {
		if v.Severity == SeverityHigh {
			found = true
		}
	}
	assert.True(t, found, "expected a high severity violation for the banned phrase")
}

func TestBrandMessagingOverlap(t *testing.T) {
	e := NewBrandAlignment()

	brand := BrandExpectations{MessagingPillars: []string{"sustainability", "craftsmanship"}}

	onTheme := e.Evaluate(context.Background(), Input{
		Answer: "Our focus on sustainability shapes every product decision.",
		Brand:  brand,
	})
	offTheme := e.Evaluate(context.Background(), Input{
		Answer: "The store opens at nine.",
		Brand:  brand,
	})

	assert.Greater(t, onTheme.Categories["messaging"], offTheme.Categories["messaging"])
	// Off-theme answers sit at the neutral floor, not zero.
	assert.Equal(t, 0.5, offTheme.Categories["messaging"])
}

func TestBrandShouting(t *testing.T) {
	e := NewBrandAlignment()

	score := e.Evaluate(context.Background(), Input{
		Answer: "This is ABSOLUTELY the BIGGEST sale ever!!!",
	})

	assert.Less(t, score.Categories["voice"], 1.0)
}

func TestBrandNoGuidelinesLowConfidence(t *testing.T) {
	e := NewBrandAlignment()

	score := e.Evaluate(context.Background(), Input{Answer: "A plain answer."})
	assert.Equal(t, 0.4, score.Confidence)

	withBrand := e.Evaluate(context.Background(), Input{
		Answer: "A plain answer.",
		Brand:  BrandExpectations{Tone: "formal"},
	})
	assert.Equal(t, 0.7, withBrand.Confidence)
}
