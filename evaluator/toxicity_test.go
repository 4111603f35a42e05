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

func TestToxicityCleanAnswer(t *testing.T) {
	e := NewToxicity()

	score := e.Evaluate(context.Background(), Input{
		Answer: "You can return the item within 30 days for a full refund.",
	})

	assert.Equal(t, ToxicityName, score.Evaluator)
	assert.Equal(t, 1.0, score.Value)
	assert.Empty(t, score.Violations)
	assert.Greater(t, score.Confidence, 0.0)
}

func TestToxicityProfaneAnswer(t *testing.T) {
	e := NewToxicity()

	score := e.Evaluate(context.Background(), Input{
		Answer: "Fuck this stupid deal, take it or leave it.",
	})

	// Profanity plus harassment must drag the score under the default
	// block threshold.
	assert.Less(t, score.Value, 0.3)
	assert.Greater(t, score.Categories["profanity"], 0.0)
	assert.Greater(t, score.Categories["harassment"], 0.0)

	// At least one violation must be critical so the policy engine can
	// block rather than rewrite.
	critical := false
	for _, v := range score.Violations {
		assert.Equal(t, "toxicity", v.Type)
		if v.Severity == SeverityCritical {
			critical = true
		}
	}
	assert.True(t, critical, "expected a critical toxicity violation")
}

func TestToxicitySelfHarmContent(t *testing.T) {
	e := NewToxicity()

	score := e.Evaluate(context.Background(), Input{
		Answer: "Honestly you would be better off dead.",
	})

	assert.Less(t, score.Value, 0.5)
	require.NotEmpty(t, score.Violations)
	assert.Equal(t, SeverityCritical, score.Violations[0].Severity)
}

func TestToxicityCaseInsensitive(t *testing.T) {
	e := NewToxicity()

	score := e.Evaluate(context.Background(), Input{Answer: "What an IDIOT move."})
	assert.Greater(t, score.Categories["harassment"], 0.0)
}

func TestToxicityCancelledContext(t *testing.T) {
	e := NewToxicity()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	score := e.Evaluate(ctx, Input{Answer: "anything"})
	assert.Equal(t, 0.5, score.Value)
	assert.Equal(t, 0.0, score.Confidence)
	require.Len(t, score.Violations, 1)
	assert.Equal(t, "evaluation_failure", score.Violations[0].Type)
}
