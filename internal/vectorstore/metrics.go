package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// backendCalls counts backend operations.
	// Labels: backend, op, result (ok, error)
	backendCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "islandd",
			Subsystem: "vectorstore",
			Name:      "calls_total",
			Help:      "Vector backend operations by backend, operation and result",
		},
		[]string{"backend", "op", "result"},
	)

	// backendLatency tracks backend call duration.
	backendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "islandd",
			Subsystem: "vectorstore",
			Name:      "call_duration_seconds",
			Help:      "Vector backend call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	// backendErrors counts retried and rejected calls.
	// Labels: op, kind (transient, circuit_open)
	backendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "islandd",
			Subsystem: "vectorstore",
			Name:      "retry_events_total",
			Help:      "Transient failures and circuit breaker rejections",
		},
		[]string{"op", "kind"},
	)

	// chromemQuarantined counts chromem collections moved aside on open.
	chromemQuarantined = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "islandd",
			Subsystem: "vectorstore",
			Name:      "chromem_quarantined_total",
			Help:      "Corrupt chromem collections quarantined while opening the store",
		},
	)
)
