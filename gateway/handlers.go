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
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/crossaudit/gateway/provider"
	"github.com/crossaudit/gateway/shared/logger"
	"github.com/crossaudit/gateway/tenant"
)

// VendorHealth reports adapter health, usually Manager.Health.
type VendorHealth func(ctx context.Context) map[provider.Vendor]provider.HealthStatus

// Server is the HTTP surface over the orchestrator.
type Server struct {
	orch    *Orchestrator
	tenants *tenant.Store
	health  VendorHealth
	log     *logger.Logger
}

// NewServer builds the HTTP layer. health may be nil when no provider
// manager is attached (tests).
func NewServer(orch *Orchestrator, tenants *tenant.Store, health VendorHealth, log *logger.Logger) *Server {
	if log == nil {
		log = logger.New("gateway-http")
	}
	return &Server{orch: orch, tenants: tenants, health: health, log: log}
}

// Router assembles the route table with CORS applied.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/metrics", s.metricsHandler).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/v1/chat", s.chatHandler).Methods("POST")
	r.HandleFunc("/api/v1/chat/stream", s.chatStreamHandler).Methods("POST")
	r.HandleFunc("/api/v1/tenants/{tenant_id}/policy", s.tenantPolicyHandler).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := s.orch.Process(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrUpstreamFailed) {
			s.sendError(w, err.Error(), http.StatusBadGateway)
			return
		}
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) chatStreamHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(event StreamEvent) error {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if _, err := s.orch.ProcessStream(r.Context(), req, emit); err != nil {
		// Headers are gone; the error becomes a terminal SSE event.
		data, _ := json.Marshal(map[string]string{"type": "error", "error": err.Error()})
		w.Write([]byte("data: "))
		w.Write(data)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	vendors := map[string]string{}

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		healthy := 0
		for vendor, vendorStatus := range s.health(ctx) {
			vendors[string(vendor)] = string(vendorStatus)
			if vendorStatus == provider.HealthStatusHealthy {
				healthy++
			}
		}
		switch {
		case len(vendors) == 0 || healthy == 0:
			status = "unhealthy"
		case healthy < len(vendors):
			status = "degraded"
		}
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}

	s.sendJSON(w, code, map[string]interface{}{
		"status":    status,
		"service":   "crossaudit-gateway",
		"vendors":   vendors,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, stats.snapshot())
}

// tenantPolicyHandler exposes the thresholds and evaluator settings in
// effect for a tenant, for the admin surface.
func (s *Server) tenantPolicyHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]
	if tenantID == "" {
		s.sendError(w, "tenant id is required", http.StatusBadRequest)
		return
	}

	cfg := s.tenants.Get(tenantID)
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id":            cfg.TenantID,
		"known":                s.tenants.Known(tenantID),
		"thresholds":           cfg.Thresholds,
		"evaluators":           cfg.Evaluators,
		"evaluator_weights":    cfg.EvaluatorWeights,
		"evaluator_timeout_ms": cfg.EvaluatorTimeoutMS,
		"cache_ttl_minutes":    cfg.CacheTTLMinutes,
		"rewrite_attempts":     cfg.RewriteAttempts,
		"rules":                cfg.Rules,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("", "", "failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, map[string]string{"error": message})
}
