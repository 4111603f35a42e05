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
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossaudit_gateway_requests_total",
			Help: "Governed requests by decision action",
		},
		[]string{"action"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crossaudit_gateway_stage_duration_milliseconds",
			Help:    "Pipeline stage duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"stage"},
	)
	evaluatorFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crossaudit_gateway_evaluator_failures_total",
			Help: "Evaluator timeouts and panics absorbed by the mesh",
		},
	)
	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crossaudit_gateway_cache_hits_total",
			Help: "Requests served from the response cache",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(stageDuration)
	prometheus.MustRegister(evaluatorFailures)
	prometheus.MustRegister(cacheHits)
}

// gatewayStats backs the JSON /metrics endpoint with per-action counts
// and latency percentiles over a sliding window.
type gatewayStats struct {
	mu        sync.RWMutex
	startTime time.Time
	actions   map[string]int64
	latencies []int64
}

var stats = &gatewayStats{
	startTime: time.Now(),
	actions:   make(map[string]int64),
	latencies: make([]int64, 0, 1000),
}

func recordOutcome(action string, latencyMS int64) {
	stats.mu.Lock()
	defer stats.mu.Unlock()

	stats.actions[action]++
	if len(stats.latencies) >= 1000 {
		stats.latencies = stats.latencies[1:]
	}
	stats.latencies = append(stats.latencies, latencyMS)
}

// Snapshot is the JSON metrics payload.
type Snapshot struct {
	UptimeSeconds float64          `json:"uptime_seconds"`
	TotalRequests int64            `json:"total_requests"`
	Actions       map[string]int64 `json:"actions"`
	P50MS         float64          `json:"p50_ms"`
	P95MS         float64          `json:"p95_ms"`
	P99MS         float64          `json:"p99_ms"`
	Timestamp     time.Time        `json:"timestamp"`
}

func (s *gatewayStats) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	actions := make(map[string]int64, len(s.actions))
	var total int64
	for action, count := range s.actions {
		actions[action] = count
		total += count
	}

	return Snapshot{
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		TotalRequests: total,
		Actions:       actions,
		P50MS:         percentile(s.latencies, 0.50),
		P95MS:         percentile(s.latencies, 0.95),
		P99MS:         percentile(s.latencies, 0.99),
		Timestamp:     time.Now().UTC(),
	}
}

func percentile(timings []int64, p float64) float64 {
	if len(timings) == 0 {
		return 0
	}

	sorted := make([]int64, len(timings))
	copy(sorted, timings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return float64(sorted[index])
}
