// Package metrics exposes prometheus counters for ingestion and billing runs.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "edge_billing_"

	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoRows  = "no_rows"
)

var (
	registerOnce sync.Once

	rowsIngested      *prometheus.CounterVec
	ingestErrors      *prometheus.CounterVec
	billingRuns       *prometheus.CounterVec
	billingLatency    *prometheus.HistogramVec
	productionLeakage *prometheus.CounterVec
	billedKWH         *prometheus.GaugeVec
	rowsDeleted       prometheus.Counter
)

// Init registers the metrics with the default registry. Safe to call twice.
func Init() {
	InitWith(prometheus.DefaultRegisterer)
}

// InitWith registers the metrics with reg. Only the first call has effect.
func InitWith(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		rowsIngested = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rows_ingested_total",
				Help: "Register rows stored by source",
			},
			[]string{"source"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Ingest errors by source",
			},
			[]string{"source"},
		)
		billingRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "billing_runs_total",
				Help: "Billing aggregation runs by edge and result",
			},
			[]string{"edge", "result"},
		)
		billingLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "billing_run_seconds",
				Help:    "Billing aggregation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"edge"},
		)
		productionLeakage = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "production_leakage_total",
				Help: "Billing runs where a billing meter registered production",
			},
			[]string{"edge", "meter"},
		)
		billedKWH = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "last_billed_kwh",
				Help: "Billed import of the latest run by share",
			},
			[]string{"edge", "meter", "share"},
		)
		rowsDeleted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "rows_deleted_total",
				Help: "Raw register cells removed by retention cleanup",
			},
		)

		reg.MustRegister(
			rowsIngested,
			ingestErrors,
			billingRuns,
			billingLatency,
			productionLeakage,
			billedKWH,
			rowsDeleted,
		)
	})
}

// IncRowsIngested counts a stored row.
func IncRowsIngested(source string) {
	if rowsIngested != nil {
		rowsIngested.WithLabelValues(source).Inc()
	}
}

// IncIngestError counts a failed ingest.
func IncIngestError(source string) {
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(source).Inc()
	}
}

// ObserveBillingRun records run result and duration.
func ObserveBillingRun(edge, result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if billingRuns != nil {
		billingRuns.WithLabelValues(edge, result).Inc()
	}
	if billingLatency != nil {
		billingLatency.WithLabelValues(edge).Observe(duration.Seconds())
	}
}

// IncProductionLeakage counts a run with leakage on a billing meter.
func IncProductionLeakage(edge, meter string) {
	if productionLeakage != nil {
		productionLeakage.WithLabelValues(edge, meter).Inc()
	}
}

// SetBilledKWH publishes the split of the latest run.
func SetBilledKWH(edge, meter string, fromProd, fromIntro float64) {
	if billedKWH == nil {
		return
	}
	billedKWH.WithLabelValues(edge, meter, "prod").Set(fromProd)
	billedKWH.WithLabelValues(edge, meter, "intro").Set(fromIntro)
}

// AddRowsDeleted counts cells removed by cleanup.
func AddRowsDeleted(n int64) {
	if rowsDeleted != nil && n > 0 {
		rowsDeleted.Add(float64(n))
	}
}
