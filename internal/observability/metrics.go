package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quake_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	// Source connector.
	PagesFetched  prometheus.Counter
	EventsFetched prometheus.Counter
	APIDuration   prometheus.Histogram

	// Raw archiver.
	ObjectsArchived *prometheus.CounterVec // labels: format={json,parquet}

	// Staging loader.
	RowsStaged        prometheus.Counter
	DuplicatesSkipped prometheus.Counter
	ObjectsSkipped    prometheus.Counter
	MalformedObjects  prometheus.Counter

	// Mart builder.
	MartRows *prometheus.GaugeVec // labels: mart={count,avg}

	// Stage lifecycle.
	StageRuns     *prometheus.CounterVec   // labels: stage, outcome={succeeded,failed}
	StageDuration *prometheus.HistogramVec // labels: stage
	RunInProgress prometheus.Gauge
	RunRetries    prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_pages_fetched_total",
			Help:      "Response pages received from the USGS event API.",
		}),
		EventsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_events_fetched_total",
			Help:      "Event features received from the USGS event API.",
		}),
		APIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "USGS event API request duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ObjectsArchived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_archived_total",
			Help:      "Objects written to the raw layer by format.",
		}, []string{"format"}),
		RowsStaged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_staged_total",
			Help:      "Rows appended to ods.fct_earthquake.",
		}),
		DuplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staging_duplicates_skipped_total",
			Help:      "Features not appended because their event id was already staged.",
		}),
		ObjectsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staging_objects_skipped_total",
			Help:      "Archived objects skipped because identical content was already loaded.",
		}),
		MalformedObjects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_objects_total",
			Help:      "Archived objects that could not be parsed.",
		}),
		MartRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mart_rows",
			Help:      "Rows in each mart after the last successful build.",
		}, []string{"mart"}),
		StageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Stage invocations by stage and outcome.",
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of a stage invocation.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"stage"}),
		RunInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_in_progress",
			Help:      "1 while a pipeline run is executing, 0 otherwise.",
		}),
		RunRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_retries_total",
			Help:      "Pipeline run attempts after the first.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PagesFetched,
		m.EventsFetched,
		m.APIDuration,
		m.ObjectsArchived,
		m.RowsStaged,
		m.DuplicatesSkipped,
		m.ObjectsSkipped,
		m.MalformedObjects,
		m.MartRows,
		m.StageRuns,
		m.StageDuration,
		m.RunInProgress,
		m.RunRetries,
	}
}
