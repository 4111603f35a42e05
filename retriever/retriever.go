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

// Package retriever talks to the external context search service that
// supplies grounding documents for a question. The service owns
// ingestion and ranking; this client only queries it. Retrieval
// failures are non-fatal to the request pipeline.
package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultLimit   = 5
	defaultTimeout = 3 * time.Second
)

// Document is one ranked context item.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Relevance float64           `json:"relevance"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Query is a context search request.
type Query struct {
	TenantID           string  `json:"tenant_id"`
	Text               string  `json:"query"`
	Limit              int     `json:"limit"`
	RelevanceThreshold float64 `json:"relevance_threshold,omitempty"`
}

// Client searches for context documents.
type Client interface {
	Search(ctx context.Context, q Query) ([]Document, error)
}

// Nop always returns no documents. Used when no retriever endpoint is
// configured.
type Nop struct{}

func (Nop) Search(ctx context.Context, q Query) ([]Document, error) { return nil, nil }

// HTTPDoer matches *http.Client and lets tests inject a transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient queries a context search service over HTTP.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
}

// NewHTTPClient builds a client for the service at baseURL. apiKey may
// be empty when the service is unauthenticated.
func NewHTTPClient(baseURL, apiKey string, doer HTTPDoer) *HTTPClient {
	if doer == nil {
		doer = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPClient{baseURL: baseURL, apiKey: apiKey, client: doer}
}

type searchResponse struct {
	Documents []Document `json:"documents"`
}

// Search implements Client.
func (c *HTTPClient) Search(ctx context.Context, q Query) ([]Document, error) {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}

	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal context query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build context request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("context search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("context search returned %d: %s", resp.StatusCode, data)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode context response: %w", err)
	}

	if q.RelevanceThreshold > 0 {
		filtered := parsed.Documents[:0]
		for _, d := range parsed.Documents {
			if d.Relevance >= q.RelevanceThreshold {
				filtered = append(filtered, d)
			}
		}
		parsed.Documents = filtered
	}
	return parsed.Documents, nil
}

// Contents flattens documents into the plain strings the evaluators
// consume.
func Contents(docs []Document) []string {
	if len(docs) == 0 {
		return nil
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Content)
	}
	return out
}
