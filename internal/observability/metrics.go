package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wabridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wabridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wabridge",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session lifecycle transitions.",
		},
		[]string{"from", "to"},
	)
	sessionStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "wabridge",
			Subsystem: "session",
			Name:      "status",
			Help:      "Current session status (1 for the active status).",
		},
		[]string{"status"},
	)
	sessionRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wabridge",
			Subsystem: "session",
			Name:      "retries_scheduled_total",
			Help:      "Re-initialization attempts scheduled after a failure.",
		},
		[]string{"cause"},
	)
	fetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wabridge",
			Subsystem: "fetch",
			Name:      "strategy_attempts_total",
			Help:      "Fetch strategy attempts by outcome.",
		},
		[]string{"kind", "strategy", "outcome"},
	)
	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wabridge",
			Subsystem: "fetch",
			Name:      "chain_duration_seconds",
			Help:      "Fetch chain duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			sessionTransitions,
			sessionStatus,
			sessionRetries,
			fetchAttempts,
			fetchDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordSessionTransition counts one transition and moves the status gauge.
func RecordSessionTransition(from, to string) {
	RegisterMetrics()
	sessionTransitions.WithLabelValues(from, to).Inc()
	if from != "" {
		sessionStatus.WithLabelValues(from).Set(0)
	}
	sessionStatus.WithLabelValues(to).Set(1)
}

func RecordSessionRetry(cause string) {
	RegisterMetrics()
	sessionRetries.WithLabelValues(cause).Inc()
}

func RecordFetchAttempt(kind, strategy, outcome string) {
	RegisterMetrics()
	fetchAttempts.WithLabelValues(kind, strategy, outcome).Inc()
}

func RecordFetchChain(kind, outcome string, duration time.Duration) {
	RegisterMetrics()
	fetchDuration.WithLabelValues(kind, outcome).Observe(duration.Seconds())
}
