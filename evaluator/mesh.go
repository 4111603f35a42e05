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
	"time"

	"github.com/crossaudit/gateway/shared/logger"
)

// DefaultTimeout is the per-evaluator scoring budget when the caller
// does not set one.
const DefaultTimeout = 800 * time.Millisecond

// Unified is the merged verdict of all evaluators that ran.
type Unified struct {
	// Aggregate is the weighted mean of successful evaluator scores,
	// or 0.5 when every evaluator failed.
	Aggregate float64 `json:"aggregate"`

	// Confidence is the fraction of attempted evaluators that
	// completed successfully.
	Confidence float64 `json:"confidence"`

	// Scores holds every evaluator's individual score, including
	// failure scores.
	Scores []Score `json:"scores"`

	// Violations is the union of all violations, deduplicated by
	// (type, message) keeping the highest severity.
	Violations []Violation `json:"violations,omitempty"`

	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
}

// MaxSeverity returns the highest violation severity present, or "" when
// there are no violations.
func (u Unified) MaxSeverity() Severity {
	var max Severity
	for _, v := range u.Violations {
		if v.Severity.Level() > max.Level() {
			max = v.Severity
		}
	}
	return max
}

// ScoreFor returns the named evaluator's score value, if it ran.
func (u Unified) ScoreFor(name string) (float64, bool) {
	for _, s := range u.Scores {
		if s.Evaluator == name {
			return s.Value, true
		}
	}
	return 0, false
}

// Options tune one mesh evaluation for the calling tenant.
type Options struct {
	// Timeout is the per-evaluator budget. Zero means DefaultTimeout.
	Timeout time.Duration

	// Weights sets the aggregation weight per evaluator name; missing
	// entries weigh 1.
	Weights map[string]float64

	// Enabled restricts which evaluators run. Empty means all.
	Enabled []string
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o Options) weight(name string) float64 {
	if w, ok := o.Weights[name]; ok && w > 0 {
		return w
	}
	return 1.0
}

func (o Options) enabled(name string) bool {
	if len(o.Enabled) == 0 {
		return true
	}
	for _, e := range o.Enabled {
		if e == name {
			return true
		}
	}
	return false
}

// Mesh runs a set of evaluators concurrently against a candidate answer
// and folds their scores into one Unified evaluation. Evaluators that
// overrun their budget or panic are counted as failures; they contribute
// an evaluation_failure violation but are excluded from the aggregate.
type Mesh struct {
	evaluators []Evaluator
	log        *logger.Logger
}

// NewMesh creates a Mesh over the given evaluators.
func NewMesh(log *logger.Logger, evaluators ...Evaluator) *Mesh {
	if log == nil {
		log = logger.New("evaluator-mesh")
	}
	return &Mesh{evaluators: evaluators, log: log}
}

// Names returns the names of all registered evaluators.
func (m *Mesh) Names() []string {
	out := make([]string, 0, len(m.evaluators))
	for _, e := range m.evaluators {
		out = append(out, e.Name())
	}
	return out
}

type meshResult struct {
	score Score
	ok    bool
}

// Evaluate fans out the enabled evaluators and merges their verdicts.
// It always returns a usable Unified: when every evaluator fails the
// result is neutral (0.5) with zero confidence so the policy engine can
// decide what to do with an unevaluated answer.
func (m *Mesh) Evaluate(ctx context.Context, in Input, opts Options) Unified {
	var enabled []Evaluator
	for _, e := range m.evaluators {
		if opts.enabled(e.Name()) {
			enabled = append(enabled, e)
		}
	}

	unified := Unified{Attempted: len(enabled)}
	if len(enabled) == 0 {
		unified.Aggregate = 0.5
		unified.Violations = []Violation{neutralViolation()}
		return unified
	}

	timeout := opts.timeout()
	results := make([]meshResult, len(enabled))

	type indexed struct {
		i     int
		score Score
		ok    bool
	}
	ch := make(chan indexed, len(enabled))

	for i, e := range enabled {
		go func(i int, e Evaluator) {
			evalCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan Score, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- FailureScore(e.Name(), fmt.Sprintf("evaluator panicked: %v", r))
					}
				}()
				done <- e.Evaluate(evalCtx, in)
			}()

			select {
			case score := <-done:
				ok := score.Confidence > 0
				ch <- indexed{i: i, score: score, ok: ok}
			case <-evalCtx.Done():
				ch <- indexed{i: i, score: FailureScore(e.Name(), "evaluation timed out"), ok: false}
			}
		}(i, e)
	}

	for range enabled {
		r := <-ch
		results[r.i] = meshResult{score: r.score, ok: r.ok}
	}

	var weightedSum, weightTotal float64
	seen := map[string]int{}

	for i, r := range results {
		unified.Scores = append(unified.Scores, r.score)
		if r.ok {
			unified.Succeeded++
			w := opts.weight(enabled[i].Name())
			weightedSum += r.score.Value * w
			weightTotal += w
		}
		for _, v := range r.score.Violations {
			key := v.Type + "\x00" + v.Message
			if j, dup := seen[key]; dup {
				if v.Severity.Level() > unified.Violations[j].Severity.Level() {
					unified.Violations[j].Severity = v.Severity
				}
				continue
			}
			seen[key] = len(unified.Violations)
			unified.Violations = append(unified.Violations, v)
		}
	}

	unified.Confidence = float64(unified.Succeeded) / float64(unified.Attempted)

	if unified.Succeeded == 0 {
		unified.Aggregate = 0.5
		unified.Violations = append(unified.Violations, neutralViolation())
		m.log.Warn("", "", "all evaluators failed, returning neutral evaluation", map[string]interface{}{
			"attempted": unified.Attempted,
		})
		return unified
	}

	unified.Aggregate = clamp01(weightedSum / weightTotal)
	return unified
}

func neutralViolation() Violation {
	return Violation{
		Type:       "evaluation_unavailable",
		Severity:   SeverityMedium,
		Message:    "evaluation unavailable",
		Confidence: 0,
	}
}
