package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RepositoryOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "datastore", Name: "repository_operations_total", Help: "Repository operations by collection, operation and result."},
		[]string{"collection", "operation", "result"},
	)
	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "datastore", Name: "repository_operation_duration_seconds", Help: "Repository operation latency.", Buckets: prometheus.DefBuckets},
		[]string{"collection", "operation"},
	)
	ConnectionUp = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "datastore", Name: "connection_up", Help: "1 while the database module holds an open store connection."},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "datastore", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "datastore", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

// ObserveOperation records one repository call.
func ObserveOperation(collection, operation, result string, elapsed time.Duration) {
	RepositoryOperations.WithLabelValues(collection, operation, result).Inc()
	RepositoryDuration.WithLabelValues(collection, operation).Observe(elapsed.Seconds())
}

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RepositoryOperations)
	reg.MustRegister(RepositoryDuration)
	reg.MustRegister(ConnectionUp)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
}
