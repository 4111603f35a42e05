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

package provider

import (
	"errors"
	"testing"
)

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{Vendor: VendorAnthropic, Code: ErrCodeServerError, Message: "boom", StatusCode: 500}
	want := "anthropic error (status 500): boom"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	err = &ProviderError{Vendor: VendorOpenAI, Code: ErrCodeUnavailable, Message: "down"}
	want = "openai error: down"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &ProviderError{Vendor: VendorOpenAI, Code: ErrCodeUnavailable, Message: "down", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestNewProviderErrorRetryable(t *testing.T) {
	tests := []struct {
		code      string
		retryable bool
	}{
		{ErrCodeRateLimit, true},
		{ErrCodeServerError, true},
		{ErrCodeTimeout, true},
		{ErrCodeUnavailable, true},
		{ErrCodeAuth, false},
		{ErrCodeInvalidRequest, false},
		{ErrCodeModelNotFound, false},
	}

	for _, tt := range tests {
		err := NewProviderError(VendorAnthropic, tt.code, "msg")
		if err.Retryable != tt.retryable {
			t.Errorf("code %s: retryable = %v, want %v", tt.code, err.Retryable, tt.retryable)
		}
	}
}

func TestCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{429, ErrCodeRateLimit},
		{401, ErrCodeAuth},
		{403, ErrCodeAuth},
		{404, ErrCodeModelNotFound},
		{408, ErrCodeTimeout},
		{500, ErrCodeServerError},
		{503, ErrCodeServerError},
		{400, ErrCodeInvalidRequest},
		{422, ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		if got := CodeForStatus(tt.status); got != tt.code {
			t.Errorf("CodeForStatus(%d) = %s, want %s", tt.status, got, tt.code)
		}
	}
}
