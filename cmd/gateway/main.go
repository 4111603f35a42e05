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

// Package main is the entry point for the CrossAudit gateway service.
//
// The gateway sits between applications and their LLM providers and:
// - Routes completions to the right vendor with rate-aware fallback
// - Evaluates every answer for toxicity, brand fit and factual support
// - Applies per-tenant policy: pass, block, rewrite or flag
// - Records an audit trail of every governed exchange
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	TENANT_CONFIG_PATH - YAML tenant configuration file
//	ANTHROPIC_API_KEY - Anthropic API key (optional)
//	OPENAI_API_KEY - OpenAI API key (optional)
//	BEDROCK_REGION - AWS Bedrock region (optional)
//	DATABASE_URL - PostgreSQL connection string for audit records
//	REDIS_URL - Redis URL for the response cache (optional)
//	CONTEXT_SERVICE_URL - context retrieval service endpoint (optional)
package main

import (
	"github.com/crossaudit/gateway/gateway"
)

func main() {
	gateway.Run()
}
