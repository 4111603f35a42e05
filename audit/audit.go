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

// Package audit persists a record of every governed exchange. Writes
// are synchronous and best effort: a failed database insert lands in a
// local fallback file so the trail survives an outage.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/crossaudit/gateway/evaluator"
)

// Entry is one governed exchange. Prompts and answers are stored as
// digests, not raw text.
type Entry struct {
	RequestID  string    `json:"request_id"`
	TenantID   string    `json:"tenant_id"`
	Action     string    `json:"action"`
	Reason     string    `json:"reason,omitempty"`
	Model      string    `json:"model,omitempty"`
	Vendor     string    `json:"vendor,omitempty"`
	PromptHash string    `json:"prompt_hash"`
	AnswerHash string    `json:"answer_hash,omitempty"`
	Aggregate  float64   `json:"aggregate_score"`
	Confidence float64   `json:"confidence"`
	Cached     bool      `json:"cached"`
	LatencyMS  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`

	Violations []evaluator.Violation `json:"violations,omitempty"`

	RewriteAttempts int `json:"rewrite_attempts,omitempty"`
}

// Digest returns the hex sha256 of text, for prompt and answer hashing.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Sink receives audit entries.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
	Close() error
}

// NopSink discards entries. Used when no audit database is configured.
type NopSink struct{}

func (NopSink) Record(ctx context.Context, entry Entry) error { return nil }
func (NopSink) Close() error                                  { return nil }
