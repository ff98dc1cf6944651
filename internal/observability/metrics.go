package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sync service.
type Metrics struct {
	// --- Parser ---
	ParserAppsParsed       prometheus.Counter
	ParserPositionsParsed  *prometheus.CounterVec
	ParserTokensParsed     prometheus.Counter
	ParserDepthTruncations prometheus.Counter
	ParserBalanceFallbacks prometheus.Counter
	ParserMetaTypeFallback *prometheus.CounterVec
	ParserFailures         prometheus.Counter

	// --- Queue ---
	QueueJobsEnqueued    *prometheus.CounterVec
	QueueEnqueueDegraded *prometheus.CounterVec
	QueueJobsCompleted   *prometheus.CounterVec
	QueueJobsFailed      *prometheus.CounterVec
	QueueJobsRetried     *prometheus.CounterVec
	QueueJobDuration     *prometheus.HistogramVec
	QueueBacklog         *prometheus.GaugeVec

	// --- Sync ---
	SyncWalletsCompleted prometheus.Counter
	SyncWalletsFailed    *prometheus.CounterVec
	SyncDuration         prometheus.Histogram
	SyncUpstreamDuration prometheus.Histogram

	// --- Positions ---
	PositionsUpserted    prometheus.Counter
	PositionsMarkedStale prometheus.Counter
	PositionsPurged      prometheus.Counter
	AppsUpserted         prometheus.Counter
	PersistErrors        *prometheus.CounterVec

	// --- Broadcast ---
	StreamConnections   prometheus.Gauge
	StreamEvicted       *prometheus.CounterVec
	StreamDelivered     *prometheus.CounterVec
	StreamDropped       *prometheus.CounterVec
	StreamHeartbeats    prometheus.Counter
	BusPublished        prometheus.Counter
	BusPublishErrors    prometheus.Counter
	BusMessagesReceived prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	jobBuckets := []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

	return &Metrics{
		// Parser
		ParserAppsParsed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "defitrack_parser_apps_parsed_total",
			Help: "App nodes parsed from aggregator responses",
		}),

		ParserPositionsParsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "defitrack_parser_positions_parsed_total",
			Help: "Position nodes parsed, by variant",
		}, []string{"position_type"}),

		ParserTokensParsed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "defitrack_parser_tokens_parsed_total",
			Help: "Token nodes parsed across all nesting levels",
		}),

		ParserDepthTruncations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "defitrack_parser_depth_truncations_total",
			Help: "Token subtrees dropped at the recursion depth cap",
		}),

		ParserBalanceFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "defitrack_parser_balance_fallbacks_total",
			Help: "Malformed balance strings defaulted to zero",
		}),

		ParserMetaTypeFallback: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "defitrack_parser_metatype_fallbacks_total",
			Help: "Unrecognized meta-type tags defaulted to SUPPLIED",
		}, []string{"meta_type"}),

		ParserFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "defitrack_parser_failures_total",
			Help: "Aggregator responses rejected as malformed",
		}),

		// Queue
		QueueJobsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "defitrack_queue_jobs_enqueued_total",
			Help: "Jobs accepted by the queue manager",
		}, []string{"queue", "priority"}),

		QueueEnqueueDegraded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "defitrack_queue_enqueue_degraded_total",
			Help: "Enqueue attempts dropped because the broker was unavailable",
		}, []string{"queue"}),

		QueueJobsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "defitrack_queue_jobs_completed_total",
			Help: "Jobs completed successfully",
		}, []string{"queue"}),

		QueueJobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "defitrack_queue_jobs_failed_total",
			Help: "Jobs terminally failed (attempts exhausted)",
		}, []string{"queue"}),

		QueueJobsRetried: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "defitrack_queue_jobs_retried_total",
			Help: "Job attempts that ended in a retryable failure",
		}, []string{"queue"}),

		QueueJobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "defitrack_queue_job_duration_seconds",
			Help:    "Job processing time",
			Buckets: jobBuckets,
		}, []string{"queue"}),

		QueueBacklog: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "defitrack_queue_backlog",
			Help: "Waiting jobs per queue",
		}, []string{"queue"}),

		// Sync
		SyncWalletsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "defitrack_sync_wallets_completed_total",
			Help: "Wallet syncs completed",
		}),

		SyncWalletsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "defitrack_sync_wallets_failed_total",
			Help: "Wallet syncs failed, by stage",
		}, []string{"stage"}),

		SyncDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "defitrack_sync_duration_seconds",
			Help:    "End-to-end wallet sync duration",
			Buckets: jobBuckets,
		}),

		SyncUpstreamDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "defitrack_sync_upstream_duration_seconds",
			Help:    "Aggregator API call duration",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		// Positions
		PositionsUpserted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "defitrack_positions_upserted_total",
			Help: "Position rows written (insert or update)",
		}),

		PositionsMarkedStale: promauto.NewCounter(prometheus.CounterOpts{
			Name: "defitrack_positions_marked_stale_total",
			Help: "Positions flipped to inactive by reconciliation",
		}),

		PositionsPurged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "defitrack_positions_purged_total",
			Help: "Inactive positions hard-deleted after the retention window",
		}),

		AppsUpserted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "defitrack_apps_upserted_total",
			Help: "Protocol app rows written",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "defitrack_persist_errors_total",
			Help: "Persistence errors by operation",
		}, []string{"op"}),

		// Broadcast
		StreamConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "defitrack_stream_connections",
			Help: "Live client connections on this process",
		}),

		StreamEvicted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "defitrack_stream_evicted_total",
			Help: "Connections evicted, by reason",
		}, []string{"reason"}),

		StreamDelivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "defitrack_stream_delivered_total",
			Help: "Events delivered to local connections",
		}, []string{"event_type"}),

		StreamDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "defitrack_stream_dropped_total",
			Help: "Events dropped without delivery, by reason",
		}, []string{"reason"}),

		StreamHeartbeats: promauto.NewCounter(prometheus.CounterOpts{
			Name: "defitrack_stream_heartbeats_total",
			Help: "Heartbeat events sent",
		}),

		BusPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "defitrack_bus_published_total",
			Help: "Events published to the broadcast channel",
		}),

		BusPublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "defitrack_bus_publish_errors_total",
			Help: "Broadcast channel publish failures",
		}),

		BusMessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "defitrack_bus_messages_received_total",
			Help: "Events received from the broadcast channel",
		}),
	}
}
