package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilclimate_api_requests_total",
			Help: "Total AEMET OpenData HTTP requests by outcome",
		},
		[]string{"endpoint", "status"},
	)

	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soilclimate_api_latency_seconds",
			Help:    "AEMET OpenData request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilclimate_api_retries_total",
			Help: "Retried requests by failure reason",
		},
		[]string{"reason"},
	)

	PoolRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "soilclimate_http_pool_rotations_total",
			Help: "Times the HTTP connection pool was discarded and recreated",
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilclimate_cache_lookups_total",
			Help: "Payload cache lookups by result (hit, miss, corrupt)",
		},
		[]string{"result"},
	)

	StationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilclimate_stations_processed_total",
			Help: "Stations handled by the collector by outcome (done, failed, skipped)",
		},
		[]string{"outcome"},
	)

	PartitionLevel = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilclimate_partition_level_total",
			Help: "Granularity level at which a station-year first returned data",
		},
		[]string{"level"},
	)

	RecordsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "soilclimate_daily_records_fetched_total",
			Help: "Daily climate records retrieved from the remote archive",
		},
	)

	ImputedValues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilclimate_imputed_values_total",
			Help: "Missing values filled by imputation level",
		},
		[]string{"level"},
	)
)

// WriteTextfile dumps every registered collector in the Prometheus text
// format, for pickup by the node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
