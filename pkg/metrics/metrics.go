// Package metrics exposes the process-wide Prometheus registry and the
// run-level gauges. Component metrics live in their own packages (client,
// cache, ratelimit, pipeline) and register through promauto.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by every package.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back everything registered on Registry.
var Gatherer = prometheus.DefaultGatherer

var (
	lastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wxm_last_run_timestamp_seconds",
		Help: "Unix time the last fetch cycle finished",
	})

	lastRunSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wxm_last_run_success",
		Help: "1 if the last fetch cycle produced records, 0 otherwise",
	})

	lastRunRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wxm_last_run_records",
		Help: "Records persisted by the last fetch cycle",
	})

	lastRunSkipped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wxm_last_run_skipped_windows",
		Help: "Windows skipped in the last fetch cycle",
	})
)

// RecordRun updates the run-level gauges.
func RecordRun(finished time.Time, success bool, records, skipped int) {
	lastRunTimestamp.Set(float64(finished.Unix()))
	if success {
		lastRunSuccess.Set(1)
	} else {
		lastRunSuccess.Set(0)
	}
	lastRunRecords.Set(float64(records))
	lastRunSkipped.Set(float64(skipped))
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// WriteTextfile dumps the registry to path for the node_exporter textfile
// collector. Batch runs use this instead of serving /metrics.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Gatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - wxm_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - wxm_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - wxm_errors_total{class} (Counter): Errors by class (auth, client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - wxm_retries_total{error_class} (Counter): Retry attempts by error class
//   - wxm_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - wxm_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Cache Metrics (pkg/cache):
//   - wxm_cache_lookups_total{result} (Counter): Lookups by result (hit, miss, expired)
//   - wxm_cache_bytes_total{direction} (Counter): Page bytes stored or served
//   - wxm_cache_errors_total{operation} (Counter): Redis errors by operation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - wxm_rate_limit_remaining (Gauge): Requests left in the upstream quota window
//   - wxm_rate_limit_blocks_total (Counter): Requests blocked at the critical threshold
//   - wxm_rate_limit_throttles_total (Counter): Requests delayed at the warning threshold
//
// Pipeline Metrics (pkg/pipeline):
//   - wxm_windows_total{outcome} (Counter): Windows by outcome (ok, skipped)
//   - wxm_records_fetched_total (Counter): Records flattened from fetched pages
//   - wxm_token_refreshes_total (Counter): Token refreshes after 401
//   - wxm_pipeline_duration_seconds (Histogram): Full run duration
//
// Run Metrics (this package):
//   - wxm_last_run_timestamp_seconds, wxm_last_run_success,
//     wxm_last_run_records, wxm_last_run_skipped_windows (Gauges)
//
// Example Prometheus Queries:
//
//   # Window failure ratio
//   rate(wxm_windows_total{outcome="skipped"}[1h]) / rate(wxm_windows_total[1h])
//
//   # Stale data alert
//   time() - wxm_last_run_timestamp_seconds > 7200
//
//   # Cache hit ratio
//   sum(rate(wxm_cache_lookups_total{result="hit"}[1h])) / sum(rate(wxm_cache_lookups_total[1h]))
