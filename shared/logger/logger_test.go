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

package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"strings"
	"testing"
	"time"
)

func captureEntry(t *testing.T, fn func(l *Logger)) LogEntry {
	t.Helper()

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	fn(New("test-component"))

	output := buf.String()
	jsonStart := strings.Index(output, "{")
	if jsonStart == -1 {
		t.Fatalf("no JSON found in log output: %q", output)
	}

	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(output[jsonStart:])), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\noutput: %s", err, output)
	}
	return entry
}

func TestNew(t *testing.T) {
	if err := os.Setenv("INSTANCE_ID", "gw-1"); err != nil {
		t.Fatalf("failed to set INSTANCE_ID: %v", err)
	}
	defer os.Unsetenv("INSTANCE_ID")

	l := New("gateway")
	if l.Component != "gateway" {
		t.Errorf("expected component gateway, got %s", l.Component)
	}
	if l.InstanceID != "gw-1" {
		t.Errorf("expected instance ID gw-1, got %s", l.InstanceID)
	}
	if l.Container == "" {
		t.Error("expected container to be set from hostname")
	}
}

func TestNewWithoutInstanceID(t *testing.T) {
	if err := os.Unsetenv("INSTANCE_ID"); err != nil {
		t.Fatalf("failed to unset INSTANCE_ID: %v", err)
	}

	l := New("gateway")
	if l.InstanceID != "unknown" {
		t.Errorf("expected instance ID unknown, got %s", l.InstanceID)
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(*Logger, string, string, string, map[string]interface{})
		level   LogLevel
	}{
		{"Info", (*Logger).Info, INFO},
		{"Error", (*Logger).Error, ERROR},
		{"Warn", (*Logger).Warn, WARN},
		{"Debug", (*Logger).Debug, DEBUG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := captureEntry(t, func(l *Logger) {
				tt.logFunc(l, "tenant-1", "req-1", "test message", map[string]interface{}{"key": "value"})
			})

			if entry.Level != tt.level {
				t.Errorf("expected level %s, got %s", tt.level, entry.Level)
			}
			if entry.TenantID != "tenant-1" {
				t.Errorf("expected tenant ID tenant-1, got %s", entry.TenantID)
			}
			if entry.RequestID != "req-1" {
				t.Errorf("expected request ID req-1, got %s", entry.RequestID)
			}
			if entry.Fields["key"] != "value" {
				t.Errorf("expected field key=value, got %v", entry.Fields["key"])
			}
			if _, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err != nil {
				t.Errorf("invalid timestamp format: %s", entry.Timestamp)
			}
		})
	}
}

func TestInfoWithDuration(t *testing.T) {
	entry := captureEntry(t, func(l *Logger) {
		l.InfoWithDuration("tenant-1", "req-1", "pipeline completed", 123.45, map[string]interface{}{
			"endpoint": "/api/v1/chat",
		})
	})

	if entry.Fields["duration_ms"] != 123.45 {
		t.Errorf("expected duration_ms 123.45, got %v", entry.Fields["duration_ms"])
	}
	if entry.Fields["endpoint"] != "/api/v1/chat" {
		t.Errorf("expected endpoint preserved, got %v", entry.Fields["endpoint"])
	}
	if entry.Level != INFO {
		t.Errorf("expected INFO level, got %s", entry.Level)
	}
}

func TestErrorWithCode(t *testing.T) {
	entry := captureEntry(t, func(l *Logger) {
		l.ErrorWithCode("tenant-1", "req-1", "upstream call failed", 502, &testError{"connection refused"}, nil)
	})

	code, ok := entry.Fields["status_code"].(float64)
	if !ok || int(code) != 502 {
		t.Errorf("expected status_code 502, got %v", entry.Fields["status_code"])
	}
	if entry.Fields["error"] != "connection refused" {
		t.Errorf("expected error field, got %v", entry.Fields["error"])
	}
	if entry.Level != ERROR {
		t.Errorf("expected ERROR level, got %s", entry.Level)
	}
}

func TestJSONMarshalError(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	// Channels cannot be marshaled to JSON
	New("test-component").Info("tenant-1", "req-1", "bad fields", map[string]interface{}{
		"channel": make(chan int),
	})

	if !strings.Contains(buf.String(), "Failed to marshal log entry") {
		t.Error("expected marshal failure to be reported")
	}
}

type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}
