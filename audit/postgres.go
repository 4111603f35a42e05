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

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/crossaudit/gateway/shared/logger"
)

const insertRetries = 3

const schema = `
CREATE TABLE IF NOT EXISTS governed_exchanges (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	action TEXT NOT NULL,
	reason TEXT,
	model TEXT,
	vendor TEXT,
	prompt_hash TEXT NOT NULL,
	answer_hash TEXT,
	aggregate_score DOUBLE PRECISION NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	violations JSONB,
	cached BOOLEAN NOT NULL DEFAULT FALSE,
	rewrite_attempts INTEGER NOT NULL DEFAULT 0,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_governed_exchanges_tenant_created
	ON governed_exchanges (tenant_id, created_at DESC);
`

const insertQuery = `
	INSERT INTO governed_exchanges
		(request_id, tenant_id, action, reason, model, vendor, prompt_hash, answer_hash,
		 aggregate_score, confidence, violations, cached, rewrite_attempts, latency_ms, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`

// PostgresSink writes audit entries to Postgres, with a local JSONL
// fallback file for entries the database refuses.
type PostgresSink struct {
	db       *sql.DB
	log      *logger.Logger
	fallback *os.File
	mu       sync.Mutex
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}
	return db, nil
}

// NewPostgresSink wraps an open database handle. fallbackPath may be
// empty, in which case failed inserts are only logged.
func NewPostgresSink(db *sql.DB, fallbackPath string, log *logger.Logger) (*PostgresSink, error) {
	if log == nil {
		log = logger.New("audit")
	}

	var fallback *os.File
	if fallbackPath != "" {
		f, err := os.OpenFile(fallbackPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("open audit fallback file: %w", err)
		}
		fallback = f
	}

	return &PostgresSink{db: db, log: log, fallback: fallback}, nil
}

// EnsureSchema creates the audit table if it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

// Record inserts the entry, retrying transient failures. When the
// database stays unavailable the entry goes to the fallback file and
// Record still returns nil; only losing the entry entirely is an error.
func (s *PostgresSink) Record(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	violationsJSON, err := json.Marshal(entry.Violations)
	if err != nil {
		violationsJSON = []byte("[]")
	}

	var lastErr error
	for attempt := 0; attempt < insertRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(100*attempt) * time.Millisecond):
			case <-ctx.Done():
				lastErr = ctx.Err()
				return s.recordFallback(entry, lastErr)
			}
		}

		_, lastErr = s.db.ExecContext(ctx, insertQuery,
			entry.RequestID,
			entry.TenantID,
			entry.Action,
			entry.Reason,
			entry.Model,
			entry.Vendor,
			entry.PromptHash,
			entry.AnswerHash,
			entry.Aggregate,
			entry.Confidence,
			violationsJSON,
			entry.Cached,
			entry.RewriteAttempts,
			entry.LatencyMS,
			entry.CreatedAt,
		)
		if lastErr == nil {
			return nil
		}
	}

	return s.recordFallback(entry, lastErr)
}

func (s *PostgresSink) recordFallback(entry Entry, cause error) error {
	s.log.Error(entry.TenantID, entry.RequestID, "audit insert failed, using fallback", map[string]interface{}{
		"error": cause.Error(),
	})

	if s.fallback == nil {
		return fmt.Errorf("audit insert failed with no fallback: %w", cause)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit fallback entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.fallback, "%s\n", data); err != nil {
		return fmt.Errorf("write audit fallback: %w", err)
	}
	return s.fallback.Sync()
}

// Close releases the fallback file. The database handle is owned by
// the caller.
func (s *PostgresSink) Close() error {
	if s.fallback != nil {
		return s.fallback.Close()
	}
	return nil
}
