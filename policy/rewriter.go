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

package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/crossaudit/gateway/provider"
)

// Completer is the slice of the provider manager the rewriter needs.
type Completer interface {
	Complete(ctx context.Context, req provider.CompletionRequest) (*provider.CandidateAnswer, provider.Vendor, error)
}

// ProviderRewriter asks an upstream model to rewrite a failing answer
// so it addresses the original question without the flagged content.
type ProviderRewriter struct {
	completer Completer
	maxTokens int
}

// NewProviderRewriter builds a rewriter on top of the provider manager.
func NewProviderRewriter(completer Completer) *ProviderRewriter {
	return &ProviderRewriter{completer: completer, maxTokens: 1024}
}

// Rewrite implements RewriteGenerator.
func (r *ProviderRewriter) Rewrite(ctx context.Context, req RewriteRequest) (string, error) {
	answer, _, err := r.completer.Complete(ctx, provider.CompletionRequest{
		TenantID:     req.TenantID,
		Prompt:       r.buildPrompt(req),
		SystemPrompt: "You rewrite customer-facing answers so they comply with content policy. Reply with the rewritten answer only, no preamble.",
		Model:        req.Model,
		MaxTokens:    r.maxTokens,
		Temperature:  0.3,
	})
	if err != nil {
		return "", fmt.Errorf("rewrite completion: %w", err)
	}
	return strings.TrimSpace(answer.Content), nil
}

func (r *ProviderRewriter) buildPrompt(req RewriteRequest) string {
	var b strings.Builder

	b.WriteString("The following answer was flagged and must be rewritten.\n\n")
	fmt.Fprintf(&b, "Question:\n%s\n\n", req.Prompt)
	fmt.Fprintf(&b, "Flagged answer:\n%s\n\n", req.Original)

	if len(req.Violations) > 0 {
		b.WriteString("Problems to fix:\n")
		for _, v := range req.Violations {
			fmt.Fprintf(&b, "- [%s] %s\n", v.Type, v.Message)
		}
		b.WriteString("\n")
	}

	if req.Brand.Tone != "" {
		fmt.Fprintf(&b, "Use a %s tone.\n", req.Brand.Tone)
	}
	if len(req.Brand.BannedPhrases) > 0 {
		fmt.Fprintf(&b, "Never use these phrases: %s.\n", strings.Join(req.Brand.BannedPhrases, "; "))
	}
	if len(req.Brand.PreferredTerms) > 0 {
		fmt.Fprintf(&b, "Prefer this terminology where natural: %s.\n", strings.Join(req.Brand.PreferredTerms, "; "))
	}

	b.WriteString("\nRewrite the answer so it is accurate, professional, and free of the listed problems. Do not add claims that are not supported by the question.")
	return b.String()
}
