package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	capturesTotal *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	dedupSize     prometheus.Gauge

	batchAnalysisTotal    *prometheus.CounterVec
	batchAnalysisDuration *prometheus.HistogramVec
	batchItemsDropped     *prometheus.CounterVec

	recordsPersistedTotal *prometheus.CounterVec
	openRecords           prometheus.Gauge
	persistDuration       prometheus.Histogram

	reconciliationTotal *prometheus.CounterVec
	embeddingDuration   prometheus.Histogram
	entitiesTotal       prometheus.Gauge

	retentionDeletedTotal prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			capturesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "captures_total",
					Help: "Total captures submitted by verdict.",
				},
				[]string{"verdict"},
			),
			queueDepth: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "ingest_queue_depth",
					Help: "Current ingest queue depth.",
				},
			),
			dedupSize: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "dedup_window_size",
					Help: "Current recency window size in the deduplicator.",
				},
			),
			batchAnalysisTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "batch_analysis_total",
					Help: "Total batch analyses by provider and status.",
				},
				[]string{"provider", "status"},
			),
			batchAnalysisDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "batch_analysis_duration_seconds",
					Help:    "Batch analysis duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			batchItemsDropped: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "batch_items_dropped_total",
					Help: "Total analyzed items dropped by reason.",
				},
				[]string{"reason"},
			),
			recordsPersistedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "records_persisted_total",
					Help: "Total records persisted by kind (new or merge).",
				},
				[]string{"kind"},
			),
			openRecords: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "open_records",
					Help: "Records currently held in the open-set cache.",
				},
			),
			persistDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "persist_duration_seconds",
					Help:    "Record persistence duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			reconciliationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "entity_reconciliation_total",
					Help: "Total entity reconciliations by resolution tier.",
				},
				[]string{"tier"},
			),
			embeddingDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "embedding_duration_seconds",
					Help:    "Embedding computation duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			entitiesTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "entities_total",
					Help: "Total entities stored.",
				},
			),
			retentionDeletedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "retention_deleted_total",
					Help: "Total records deleted by the retention sweep.",
				},
			),
		}

		prometheus.MustRegister(
			m.capturesTotal,
			m.queueDepth,
			m.dedupSize,
			m.batchAnalysisTotal,
			m.batchAnalysisDuration,
			m.batchItemsDropped,
			m.recordsPersistedTotal,
			m.openRecords,
			m.persistDuration,
			m.reconciliationTotal,
			m.embeddingDuration,
			m.entitiesTotal,
			m.retentionDeletedTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordCapture(verdict string) {
	getMetrics().capturesTotal.WithLabelValues(verdict).Inc()
}

func SetQueueDepth(depth int) {
	getMetrics().queueDepth.Set(float64(depth))
}

func SetDedupSize(size int) {
	getMetrics().dedupSize.Set(float64(size))
}

func RecordBatchAnalysis(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.batchAnalysisTotal.WithLabelValues(provider, status).Inc()
	m.batchAnalysisDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordItemDropped(reason string) {
	getMetrics().batchItemsDropped.WithLabelValues(reason).Inc()
}

func RecordPersisted(kind string, count int) {
	getMetrics().recordsPersistedTotal.WithLabelValues(kind).Add(float64(count))
}

func SetOpenRecords(count int) {
	getMetrics().openRecords.Set(float64(count))
}

func RecordPersistDuration(duration time.Duration) {
	getMetrics().persistDuration.Observe(duration.Seconds())
}

func RecordReconciliation(tier string) {
	getMetrics().reconciliationTotal.WithLabelValues(tier).Inc()
}

func RecordEmbedding(duration time.Duration) {
	getMetrics().embeddingDuration.Observe(duration.Seconds())
}

func SetEntitiesTotal(count int) {
	getMetrics().entitiesTotal.Set(float64(count))
}

func RecordRetentionDeleted(count int) {
	getMetrics().retentionDeletedTotal.Add(float64(count))
}
