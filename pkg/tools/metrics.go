package tools

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch metrics.
//
//nolint:gochecknoglobals // Prometheus collectors are registered once per process
var (
	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_calls_total",
			Help: "Total number of tool calls by tool, provider, and status",
		},
		[]string{"tool", "provider", "status"},
	)

	toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tool_call_duration_seconds",
			Help:    "Duration of tool calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool", "provider"},
	)
)

func recordToolCall(tool string, provider Provider, status string, seconds float64) {
	toolCallsTotal.WithLabelValues(tool, string(provider), status).Inc()
	toolCallDuration.WithLabelValues(tool, string(provider)).Observe(seconds)
}
