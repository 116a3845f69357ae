package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks outbound calls to the marketplace and sink APIs.
	OutboundRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_api_requests_total",
			Help: "Total number of outbound API requests made (by api, endpoint and result).",
		},
		[]string{"api", "endpoint", "result"},
	)

	// Counts rate-limiter throttle events signalled by the server.
	ThrottleEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limiter_throttle_events_total",
			Help: "Number of server-signalled throttle events per endpoint.",
		},
		[]string{"endpoint"},
	)

	// Sync cycles by final session status.
	SyncCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_cycles_total",
			Help: "Completed sync cycles by final status.",
		},
		[]string{"status"},
	)

	// Products pushed to the sink in the last cycle.
	ProductsProcessed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_products_processed",
			Help: "Products written to the sink in the most recent cycle.",
		},
		[]string{"result"}, // ok | failed
	)

	// Sink batch write latency.
	BatchWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sink_batch_write_duration_seconds",
			Help:    "Duration of sink batch writes in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms → ~20s
		},
		[]string{"result"},
	)

	// Tracks NATS messages published by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages published.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// Tracks cache hits and misses for secrets / credentials.
	SecretsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secrets_cache_access_total",
			Help: "Number of cache hits/misses in secret cache.",
		},
		[]string{"result"}, // hit | miss
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_errors_total",
			Help: "Count of service-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Gauges the last successful sync time (seconds since epoch).
	LastSyncTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Timestamp (unix seconds) of the last successful sync cycle.",
		},
	)
)

// ObserveDuration records the time taken since start on the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
	}
}

func IncOutboundRequest(api, endpoint, result string) {
	OutboundRequestsTotal.WithLabelValues(api, endpoint, result).Inc()
}

func IncThrottle(endpoint string) {
	ThrottleEventsTotal.WithLabelValues(endpoint).Inc()
}

func IncSyncCycle(status string) {
	SyncCyclesTotal.WithLabelValues(status).Inc()
}

func SetProductsProcessed(ok, failed int) {
	ProductsProcessed.WithLabelValues("ok").Set(float64(ok))
	ProductsProcessed.WithLabelValues("failed").Set(float64(failed))
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncCacheHit(result string) {
	SecretsCacheHits.WithLabelValues(result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastSync(t time.Time) {
	LastSyncTimestamp.Set(float64(t.Unix()))
}
