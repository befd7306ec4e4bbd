package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for SynthLedger.
type Metrics struct {
	// --- Engine ---
	OperationsApplied  *prometheus.CounterVec
	OperationsRejected *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	EngineSequence     prometheus.Gauge
	StateHashDur       prometheus.Histogram

	// --- Liquidation ---
	LiquidationsTotal   prometheus.Counter
	LiquidationRejected *prometheus.CounterVec

	// --- Oracle ---
	PriceUpdates *prometheus.CounterVec
	PriceStale   *prometheus.CounterVec

	// --- Channels & backpressure ---
	PersistBackpressure prometheus.Counter
	PublishDrops        prometheus.Counter

	// --- Persistence ---
	PersistOpsWritten   prometheus.Counter
	PersistBatchSize    prometheus.Histogram
	PersistBatchDur     prometheus.Histogram
	PersistErrors       *prometheus.CounterVec
	PersistRetry        prometheus.Counter
	PersistLastSequence prometheus.Gauge

	// --- Replay ---
	ReplayOpsTotal prometheus.Counter
	ReplayDuration prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all Prometheus metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all Prometheus metrics on an explicit registerer.
// Tests use a fresh registry to avoid duplicate-registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	auto := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OperationsApplied: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_operations_applied_total",
			Help: "Operations successfully committed by the engine",
		}, []string{"op_type"}),

		OperationsRejected: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_operations_rejected_total",
			Help: "Operations rejected before commit",
		}, []string{"op_type", "reason"}),

		OperationDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_operation_duration_seconds",
			Help:    "Time to validate and commit a single operation",
			Buckets: latencyBuckets,
		}, []string{"op_type"}),

		EngineSequence: auto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_engine_sequence",
			Help: "Current global operation sequence number",
		}),

		StateHashDur: auto.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_state_hash_duration_seconds",
			Help:    "Time to compute the state hash",
			Buckets: latencyBuckets,
		}),

		LiquidationsTotal: auto.NewCounter(prometheus.CounterOpts{
			Name: "synth_liquidations_total",
			Help: "Liquidations committed",
		}),

		LiquidationRejected: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_liquidations_rejected_total",
			Help: "Liquidation attempts rejected",
		}, []string{"reason"}),

		PriceUpdates: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_price_updates_total",
			Help: "Oracle price updates accepted",
		}, []string{"token"}),

		PriceStale: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_price_updates_dropped_total",
			Help: "Oracle price updates dropped (out-of-order sequence)",
		}, []string{"token"}),

		PersistBackpressure: auto.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		PublishDrops: auto.NewCounter(prometheus.CounterOpts{
			Name: "synth_publish_drops_total",
			Help: "Operations dropped due to full publish channel",
		}),

		PersistOpsWritten: auto.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_operations_written_total",
			Help: "Operations written to Postgres",
		}),

		PersistBatchSize: auto.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_persist_batch_size",
			Help:    "Operations per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: auto.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: auto.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: auto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		ReplayOpsTotal: auto.NewCounter(prometheus.CounterOpts{
			Name: "synth_replay_operations_total",
			Help: "Operations replayed on startup",
		}),

		ReplayDuration: auto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_replay_duration_seconds",
			Help: "Total replay time",
		}),

		QueryRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
