package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type lifecycleMetrics struct {
	transitions *prometheus.CounterVec
	withdrawals *prometheus.CounterVec
}

type rpcMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	lifecycleOnce     sync.Once
	lifecycleRegistry *lifecycleMetrics

	rpcOnce     sync.Once
	rpcRegistry *rpcMetrics
)

// Lifecycle returns the lazily-initialised registry tracking voucher state
// transitions and fund distributions.
func Lifecycle() *lifecycleMetrics {
	lifecycleOnce.Do(func() {
		lifecycleRegistry = &lifecycleMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vouchernet",
				Subsystem: "lifecycle",
				Name:      "transitions_total",
				Help:      "Count of voucher lifecycle events segmented by event type.",
			}, []string{"event"}),
			withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vouchernet",
				Subsystem: "cashier",
				Name:      "withdrawals_total",
				Help:      "Count of escrow distributions segmented by event type.",
			}, []string{"event"}),
		}
		prometheus.MustRegister(lifecycleRegistry.transitions, lifecycleRegistry.withdrawals)
	})
	return lifecycleRegistry
}

// RecordTransition increments the lifecycle counter for an emitted event type.
func (m *lifecycleMetrics) RecordTransition(eventType string) {
	if m == nil {
		return
	}
	if eventType = strings.TrimSpace(eventType); eventType == "" {
		eventType = "unknown"
	}
	m.transitions.WithLabelValues(eventType).Inc()
}

// RecordWithdrawal increments the distribution counter for an emitted cashier
// event type.
func (m *lifecycleMetrics) RecordWithdrawal(eventType string) {
	if m == nil {
		return
	}
	if eventType = strings.TrimSpace(eventType); eventType == "" {
		eventType = "unknown"
	}
	m.withdrawals.WithLabelValues(eventType).Inc()
}

// RPC returns the lazily-initialised registry tracking JSON-RPC handler
// activity.
func RPC() *rpcMetrics {
	rpcOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vouchernet",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vouchernet",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vouchernet",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.errors, rpcRegistry.latency)
	})
	return rpcRegistry
}

// Observe records the outcome of one JSON-RPC request.
func (m *rpcMetrics) Observe(method string, errCode int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if errCode != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", errCode)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}
