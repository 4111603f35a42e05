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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossaudit/gateway/evaluator"
)

func testEntry() Entry {
	return Entry{
		RequestID:  "req-123",
		TenantID:   "acme",
		Action:     "pass",
		Model:      "claude-3-5-sonnet-20241022",
		Vendor:     "anthropic",
		PromptHash: Digest("what is the return policy"),
		AnswerHash: Digest("30 days, full refund"),
		Aggregate:  0.92,
		Confidence: 1.0,
		LatencyMS:  840,
		Violations: []evaluator.Violation{},
	}
}

func newTestSink(t *testing.T, fallbackPath string) (*PostgresSink, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sink, err := NewPostgresSink(db, fallbackPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	return sink, mock
}

func TestRecordInserts(t *testing.T) {
	sink, mock := newTestSink(t, "")

	mock.ExpectExec("INSERT INTO governed_exchanges").
		WithArgs("req-123", "acme", "pass", "", "claude-3-5-sonnet-20241022", "anthropic",
			sqlmock.AnyArg(), sqlmock.AnyArg(), 0.92, 1.0, sqlmock.AnyArg(),
			false, 0, int64(840), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := sink.Record(context.Background(), testEntry())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRetriesTransientFailure(t *testing.T) {
	sink, mock := newTestSink(t, "")

	mock.ExpectExec("INSERT INTO governed_exchanges").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectExec("INSERT INTO governed_exchanges").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := sink.Record(context.Background(), testEntry())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFallsBackToFile(t *testing.T) {
	fallbackPath := filepath.Join(t.TempDir(), "audit-fallback.jsonl")
	sink, mock := newTestSink(t, fallbackPath)

	for i := 0; i < insertRetries; i++ {
		mock.ExpectExec("INSERT INTO governed_exchanges").
			WillReturnError(errors.New("database down"))
	}

	// Best effort: the entry survives in the fallback file and the
	// caller sees no error.
	err := sink.Record(context.Background(), testEntry())
	require.NoError(t, err)

	data, err := os.ReadFile(fallbackPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "req-123")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordNoFallbackReturnsError(t *testing.T) {
	sink, mock := newTestSink(t, "")

	for i := 0; i < insertRetries; i++ {
		mock.ExpectExec("INSERT INTO governed_exchanges").
			WillReturnError(errors.New("database down"))
	}

	err := sink.Record(context.Background(), testEntry())
	assert.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	sink, mock := newTestSink(t, "")

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS governed_exchanges").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, sink.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDigestStable(t *testing.T) {
	assert.Equal(t, Digest("hello"), Digest("hello"))
	assert.NotEqual(t, Digest("hello"), Digest("world"))
	assert.Len(t, Digest("hello"), 64)
}

func TestNopSink(t *testing.T) {
	var sink Sink = NopSink{}
	assert.NoError(t, sink.Record(context.Background(), testEntry()))
	assert.NoError(t, sink.Close())
}
