// Package metrics records Prometheus metrics for LLM requests.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"shopassist/pkg/agent/llm"
	"shopassist/pkg/agent/llmerrors"
)

//nolint:gochecknoglobals // prometheus collectors are registered once per process
var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total LLM requests by model, status, and error type",
		},
		[]string{"model", "status", "error_type"},
	)
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)
	toolCallRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tool_call_responses_total",
			Help: "Responses that requested a tool call, by model and tool",
		},
		[]string{"model", "tool"},
	)
)

// Middleware returns middleware that observes every completion.
func Middleware() llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.WrapClient(next, func(ctx context.Context, in llm.Request) (llm.Response, error) {
			start := time.Now()
			resp, err := next.Complete(ctx, in)
			model := next.ModelName()
			requestDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())

			if err != nil {
				requestsTotal.WithLabelValues(model, "error", llmerrors.TypeOf(err).String()).Inc()
				return resp, err
			}
			requestsTotal.WithLabelValues(model, "success", "").Inc()
			for _, call := range resp.ToolCalls {
				toolCallRequests.WithLabelValues(model, call.Name).Inc()
			}
			return resp, nil
		})
	}
}
