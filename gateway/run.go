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

package gateway

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/crossaudit/gateway/audit"
	"github.com/crossaudit/gateway/cache"
	"github.com/crossaudit/gateway/evaluator"
	"github.com/crossaudit/gateway/policy"
	"github.com/crossaudit/gateway/provider"
	"github.com/crossaudit/gateway/provider/anthropic"
	"github.com/crossaudit/gateway/provider/bedrock"
	"github.com/crossaudit/gateway/provider/openai"
	"github.com/crossaudit/gateway/retriever"
	"github.com/crossaudit/gateway/shared/logger"
	"github.com/crossaudit/gateway/tenant"
)

// Run wires every component from environment variables and serves the
// HTTP API. It blocks until the server exits.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8080)
//   - TENANT_CONFIG_PATH: YAML tenant configuration file (optional)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: vendor credentials (optional)
//   - BEDROCK_REGION, BEDROCK_MODEL: Bedrock configuration (optional)
//   - REDIS_URL: response cache (optional)
//   - DATABASE_URL: Postgres audit sink (optional)
//   - AUDIT_FALLBACK_PATH: JSONL file for failed audit inserts
//   - CONTEXT_SERVICE_URL, CONTEXT_SERVICE_API_KEY: context retriever
func Run() {
	appLog := logger.New("gateway")
	ctx := context.Background()

	tenants, err := tenant.NewStore(os.Getenv("TENANT_CONFIG_PATH"), appLog)
	if err != nil {
		log.Fatalf("tenant configuration: %v", err)
	}
	// Watch starts its reload loop in the background and returns.
	if err := tenants.Watch(ctx); err != nil {
		appLog.Warn("", "", "tenant config watcher unavailable", map[string]interface{}{"error": err.Error()})
	}

	manager := provider.NewManager(provider.ManagerConfig{
		Routes:        provider.DefaultRoutes(),
		DefaultVendor: provider.VendorAnthropic,
		Fallbacks: map[provider.Vendor]provider.Vendor{
			provider.VendorAnthropic: provider.VendorBedrock,
			provider.VendorOpenAI:    provider.VendorAnthropic,
			provider.VendorBedrock:   provider.VendorAnthropic,
		},
	}, appLog)

	registered := 0
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		p, err := anthropic.New(anthropic.Config{APIKey: key})
		if err != nil {
			log.Fatalf("anthropic adapter: %v", err)
		}
		manager.Register(p)
		registered++
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p, err := openai.New(openai.Config{APIKey: key})
		if err != nil {
			log.Fatalf("openai adapter: %v", err)
		}
		manager.Register(p)
		registered++
	}
	if region := os.Getenv("BEDROCK_REGION"); region != "" {
		p, err := bedrock.New(ctx, bedrock.Config{
			Region: region,
			Model:  os.Getenv("BEDROCK_MODEL"),
		})
		if err != nil {
			log.Fatalf("bedrock adapter: %v", err)
		}
		manager.Register(p)
		registered++
	}
	if registered == 0 {
		log.Fatal("no provider credentials configured, set ANTHROPIC_API_KEY, OPENAI_API_KEY or BEDROCK_REGION")
	}

	mesh := evaluator.NewMesh(appLog,
		evaluator.NewToxicity(),
		evaluator.NewBrandAlignment(),
		evaluator.NewFactualAccuracy(),
	)

	engine := policy.NewEngine(policy.NewProviderRewriter(manager), appLog)

	var contextClient retriever.Client = retriever.Nop{}
	if url := os.Getenv("CONTEXT_SERVICE_URL"); url != "" {
		contextClient = retriever.NewHTTPClient(url, os.Getenv("CONTEXT_SERVICE_API_KEY"), nil)
	}

	var answers AnswerCache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c, err := cache.New(redisURL)
		if err != nil {
			appLog.Warn("", "", "response cache unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			defer c.Close()
			answers = c
		}
	}

	var sink audit.Sink = audit.NopSink{}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := audit.Open(dsn)
		if err != nil {
			appLog.Warn("", "", "audit database unavailable, audit disabled", map[string]interface{}{"error": err.Error()})
		} else {
			defer db.Close()
			pgSink, err := audit.NewPostgresSink(db, os.Getenv("AUDIT_FALLBACK_PATH"), appLog)
			if err != nil {
				log.Fatalf("audit sink: %v", err)
			}
			defer pgSink.Close()
			if err := pgSink.EnsureSchema(ctx); err != nil {
				appLog.Warn("", "", "audit schema setup failed", map[string]interface{}{"error": err.Error()})
			}
			sink = pgSink
		}
	}

	orch := NewOrchestrator(tenants, manager, mesh, engine, contextClient, answers, sink, appLog)
	server := NewServer(orch, tenants, manager.Health, appLog)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	appLog.Info("", "", "gateway listening", map[string]interface{}{"port": port})
	log.Fatal(http.ListenAndServe(":"+port, server.Router()))
}
