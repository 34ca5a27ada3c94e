package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks engine runs by index, run type and final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "index_runs_total",
			Help: "Total number of index engine runs (by index, run type and status).",
		},
		[]string{"index", "run_type", "status"},
	)

	// Measures end-to-end run duration.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "index_run_duration_seconds",
			Help:    "Duration of index engine runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms → ~5min
		},
		[]string{"index", "run_type"},
	)

	// Latest published value per index.
	IndexValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "index_value",
			Help: "Latest published index value.",
		},
		[]string{"index"},
	)

	// Share of constituent weight with valid prices on the last computation.
	IndexCoverage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "index_coverage_ratio",
			Help: "Fraction of constituent weight priced on the last computation.",
		},
		[]string{"index"},
	)

	// Days skipped by the coverage gate.
	CoverageSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "index_coverage_skips_total",
			Help: "Number of days skipped for insufficient coverage.",
		},
		[]string{"index"},
	)

	// Eligibility exclusions by rule.
	Exclusions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "index_exclusions_total",
			Help: "Candidates excluded at rebalance, by failing rule.",
		},
		[]string{"index", "rule"},
	)

	// Resolved prices by provenance.
	PriceProvenance = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "index_price_provenance_total",
			Help: "Resolved prices by provenance (fresh, forward-filled, rejected-outlier, missing).",
		},
		[]string{"provenance"},
	)

	// Tracks NATS messages processed by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages processed.",
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

	// Outbound webhook calls.
	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Total number of operator webhook notifications sent.",
		},
		[]string{"status"},
	)

	// Tracks cache hits and misses for secrets and snapshots.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_access_total",
			Help: "Number of cache hits/misses by cache.",
		},
		[]string{"cache", "result"}, // hit | miss
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "index_errors_total",
			Help: "Count of engine errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Gauges the last successful run time (seconds since epoch).
	LastRunTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "index_last_run_timestamp",
			Help: "Timestamp (unix seconds) of the last successful run per component.",
		},
		[]string{"component"},
	)
)

// ObserveDuration records the time taken for a function and updates the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// silently ignore counters; they're not meant for duration tracking
	}
}

func IncRun(index, runType, status string) {
	RunsTotal.WithLabelValues(index, runType, status).Inc()
}

func SetIndexValue(index string, value, coverage float64) {
	IndexValue.WithLabelValues(index).Set(value)
	IndexCoverage.WithLabelValues(index).Set(coverage)
}

func IncCoverageSkip(index string) {
	CoverageSkips.WithLabelValues(index).Inc()
}

func IncExclusion(index, rule string) {
	Exclusions.WithLabelValues(index, rule).Inc()
}

func IncProvenance(provenance string) {
	PriceProvenance.WithLabelValues(provenance).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncWebhook(status string) {
	WebhookRequests.WithLabelValues(status).Inc()
}

func IncCacheHit(cache, result string) {
	CacheHits.WithLabelValues(cache, result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastRun(component string, t time.Time) {
	LastRunTimestamp.WithLabelValues(component).Set(float64(t.Unix()))
}
