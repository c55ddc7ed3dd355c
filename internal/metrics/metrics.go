package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SourceFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wqiforecast_source_fetches_total",
			Help: "Total dataset fetches from remote sources",
		},
		[]string{"scheme", "status"},
	)

	SourceFetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wqiforecast_source_fetch_latency_seconds",
			Help:    "Remote dataset fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheme"},
	)

	SamplesImported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wqiforecast_samples_imported_total",
			Help: "Total parameter samples successfully imported",
		},
		[]string{"site"},
	)

	ForecastFits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wqiforecast_forecast_fits_total",
			Help: "Total per-parameter forecast fits by method",
		},
		[]string{"parameter", "method"},
	)

	ForecastFitLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wqiforecast_forecast_fit_latency_seconds",
			Help:    "SARIMA fit latency in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"parameter"},
	)

	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wqiforecast_pipeline_runs_total",
			Help: "Total pipeline runs by outcome",
		},
		[]string{"site", "status"},
	)

	SkippedGroups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wqiforecast_skipped_groups_total",
			Help: "Seasonal groups skipped because no index could be computed",
		},
		[]string{"site"},
	)

	LatestWQI = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wqiforecast_latest_wqi",
			Help: "Most recent computed WQI per site and source",
		},
		[]string{"site", "source"},
	)
)
