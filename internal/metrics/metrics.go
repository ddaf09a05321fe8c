// Package metrics exposes the Prometheus collectors the ambient admin
// server publishes at /metrics, registered once via a singleton the
// way a Prometheus-instrumented service would.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the detection core touches.
type Metrics struct {
	// Database
	DatabaseQueryDuration prometheus.HistogramVec
	DatabaseQueriesTotal  prometheus.CounterVec

	// Pipeline stage timing (analyze, fingerprint, local_match,
	// external_recognize, resolve, track); fetch is traced but not timed
	PipelineStageDuration prometheus.HistogramVec

	// Detections
	DetectionsTotal prometheus.CounterVec

	// Recognition providers (C5)
	ProviderRequestsTotal prometheus.CounterVec
	ProviderRetriesTotal  prometheus.CounterVec
	ProviderLatency       prometheus.HistogramVec
	ProviderCircuitOpen   prometheus.GaugeVec

	// Notification sink (C10)
	NotificationsSentTotal    prometheus.CounterVec
	NotificationsDroppedTotal prometheus.CounterVec
	SubscribersActive         prometheus.GaugeVec

	// Station supervisor (C11)
	StationHealthcheckLatency prometheus.HistogramVec
	StationWorkersActive      prometheus.GaugeVec
	StationFailuresTotal      prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the process-wide metrics singleton, creating and
// registering it with the default Prometheus registry on first call.
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			DatabaseQueryDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "monitor_database_query_duration_seconds",
					Help:    "Database query duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"operation", "kind"},
			),
			DatabaseQueriesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "monitor_database_queries_total",
					Help: "Total database queries",
				},
				[]string{"operation", "kind", "status"},
			),
			PipelineStageDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "monitor_pipeline_stage_duration_seconds",
					Help:    "Duration of each recognition pipeline stage",
					Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
				},
				[]string{"stage", "station_id"},
			),
			DetectionsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "monitor_detections_total",
					Help: "Total finalized detections",
				},
				[]string{"station_id", "method"},
			),
			ProviderRequestsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "monitor_provider_requests_total",
					Help: "Total requests made to external recognition providers",
				},
				[]string{"provider", "status"},
			),
			ProviderRetriesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "monitor_provider_retries_total",
					Help: "Total retries against external recognition providers",
				},
				[]string{"provider"},
			),
			ProviderLatency: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "monitor_provider_latency_seconds",
					Help:    "External provider call latency",
					Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
				},
				[]string{"provider"},
			),
			ProviderCircuitOpen: *promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "monitor_provider_circuit_open",
					Help: "1 if the provider circuit breaker is open, 0 otherwise",
				},
				[]string{"provider"},
			),
			NotificationsSentTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "monitor_notifications_sent_total",
					Help: "Total events delivered to subscribers",
				},
				[]string{"event_type"},
			),
			NotificationsDroppedTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "monitor_notifications_dropped_total",
					Help: "Total events dropped because a subscriber's queue was full",
				},
				[]string{"event_type"},
			),
			SubscribersActive: *promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "monitor_subscribers_active",
					Help: "Active notification sink subscribers",
				},
				[]string{},
			),
			StationHealthcheckLatency: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "monitor_station_healthcheck_latency_seconds",
					Help:    "Latency of station stream health probes",
					Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
				},
				[]string{"station_id"},
			),
			StationWorkersActive: *promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "monitor_station_workers_active",
					Help: "Number of running per-station orchestrator workers",
				},
				[]string{},
			),
			StationFailuresTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "monitor_station_failures_total",
					Help: "Total consecutive-failure events observed per station",
				},
				[]string{"station_id"},
			),
		}
	})
	return instance
}
