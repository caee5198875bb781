// Package metrics exposes Prometheus counters and histograms for the round
// engine's hot paths: round ticks, LLM calls, store operations, and HTTP
// requests. Registered on the default registry and served at /metrics on the
// API router when ServerConfig.EnableMetrics is set; ServerConfig.MetricsPort
// opens no separate listener.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RoundTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_round_ticks_total",
			Help: "Execution ticks run, by round id.",
		},
		[]string{"round_id"},
	)

	ParticipantsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_participants_processed_total",
			Help: "Per-symbol participant steps within a tick, by outcome (traded|skipped|error).",
		},
		[]string{"outcome"},
	)

	LLMCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_llm_calls_total",
			Help: "LLM Client calls, by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	LLMCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_llm_call_duration_seconds",
			Help:    "LLM Client upstream call latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	PriceFeedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_price_feed_requests_total",
			Help: "Price Feed lookups, by source (dex|spot|mock|cache).",
		},
		[]string{"source"},
	)

	StoreOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_store_ops_total",
			Help: "KV Store operations, by op and outcome (ok|error).",
		},
		[]string{"op", "outcome"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_http_requests_total",
			Help: "HTTP command requests, by command and status class.",
		},
		[]string{"command", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_http_request_duration_seconds",
			Help:    "HTTP command request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	WebSocketClientsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_websocket_clients",
			Help: "Connected WebSocket clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RoundTicksTotal,
		ParticipantsProcessedTotal,
		LLMCallsTotal,
		LLMCallDuration,
		PriceFeedRequestsTotal,
		StoreOpsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		WebSocketClientsGauge,
	)
}

// ObserveHTTPRequest records one command's status and latency.
func ObserveHTTPRequest(command string, status int, took time.Duration) {
	HTTPRequestsTotal.WithLabelValues(command, statusClass(status)).Inc()
	HTTPRequestDuration.WithLabelValues(command).Observe(took.Seconds())
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

// Handler returns the promhttp handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
