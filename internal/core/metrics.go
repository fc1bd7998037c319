package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationTotal counts service operations by result.
	operationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "varianthunter_operation_total",
		Help: "Total session operations by operation and result",
	}, []string{"operation", "result"})

	// operationDuration tracks service operation latency.
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "varianthunter_operation_duration_seconds",
		Help:    "Session operation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
	}, []string{"operation"})

	// persistWriteTotal counts snapshot writes by result.
	persistWriteTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "varianthunter_persist_write_total",
		Help: "Total session snapshot writes by result",
	}, []string{"result"})

	// persistWriteDuration tracks snapshot write latency including retries.
	persistWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "varianthunter_persist_write_duration_seconds",
		Help:    "Session snapshot write duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	// persistCoalescedTotal counts change notifications folded into a pending write.
	persistCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "varianthunter_persist_coalesced_total",
		Help: "Change notifications coalesced into an already pending snapshot write",
	})
)

// PrometheusRecorder publishes operation outcomes to the default Prometheus registry.
type PrometheusRecorder struct{}

// NewPrometheusRecorder returns a MetricsRecorder backed by Prometheus.
func NewPrometheusRecorder() PrometheusRecorder { return PrometheusRecorder{} }

// Observe implements MetricsRecorder.
func (PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	result := "error"
	if success {
		result = "success"
	}
	operationTotal.WithLabelValues(operation, result).Inc()
	operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
