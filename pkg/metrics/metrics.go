// Package metrics exposes Prometheus instrumentation for the command plane.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Gateway metrics
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vox_gateway_active_connections",
		Help: "Number of live WebSocket sessions",
	})

	authAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vox_gateway_auth_attempts_total",
		Help: "AUTH handshake attempts by outcome",
	}, []string{"outcome"}) // outcome=ok|fail

	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vox_gateway_messages_received_total",
		Help: "Inbound WebSocket messages by type",
	}, []string{"type"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vox_gateway_rate_limited_total",
		Help: "Messages refused by the rate limiter, per limit",
	}, []string{"limit"})

	// Pipeline metrics
	pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vox_pipeline_runs_total",
		Help: "Inference pipeline runs by outcome",
	}, []string{"outcome"}) // outcome=draft|blocked|error

	pipelineStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vox_pipeline_stage_duration_seconds",
		Help:    "Wall time spent per pipeline stage",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	llmCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vox_llm_calls_total",
		Help: "LLM gateway calls by prompt purpose and outcome",
	}, []string{"purpose", "outcome"}) // outcome=ok|error|bypass_rejected

	// Dispatch metrics
	dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vox_dispatch_total",
		Help: "Dispatch attempts by status",
	}, []string{"status"})

	dispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vox_dispatch_latency_seconds",
		Help:    "End-to-end latency of bridge dispatch calls",
		Buckets: prometheus.DefBuckets,
	})

	executeBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vox_execute_blocked_total",
		Help: "Execute requests refused before dispatch, per block code",
	}, []string{"code"})
)

func SetActiveConnections(n int)       { activeConnections.Set(float64(n)) }
func IncAuthAttempt(outcome string)    { authAttempts.WithLabelValues(outcome).Inc() }
func IncMessageReceived(msgType string) {
	messagesReceived.WithLabelValues(msgType).Inc()
}
func IncRateLimited(limit string) { rateLimited.WithLabelValues(limit).Inc() }

func IncPipelineRun(outcome string) { pipelineRuns.WithLabelValues(outcome).Inc() }
func ObservePipelineStage(stage string, d time.Duration) {
	pipelineStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
func IncLLMCall(purpose, outcome string) { llmCalls.WithLabelValues(purpose, outcome).Inc() }

func IncDispatch(status string) { dispatches.WithLabelValues(status).Inc() }
func ObserveDispatchLatency(d time.Duration) {
	dispatchLatency.Observe(d.Seconds())
}
func IncExecuteBlocked(code string) { executeBlocked.WithLabelValues(code).Inc() }

// Handler serves the default registry for GET /metrics.
func Handler() http.Handler { return promhttp.Handler() }
