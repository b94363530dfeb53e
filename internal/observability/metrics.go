// Package observability declares the Prometheus metrics exported on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "haulpay"

var (
	SegmentsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "segments_active", Help: "Number of open mileage segments"})
	SessionsOpen   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "sessions_open", Help: "Number of trip sessions held in memory"})
	FixesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "fixes_processed_total", Help: "GPS fixes handled by trip sessions"},
		[]string{"result"},
	)
	MilesTracked = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "miles_tracked_total", Help: "Miles folded into trips"},
		[]string{"source", "period"},
	)
	PayCorrections   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "pay_corrections_total", Help: "Stored totals rewritten after recomputation"})
	FlushesTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "segment_flushes_total", Help: "Periodic segment flushes"}, []string{"result"})
	EventsPublished  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Trip events handed to publishers"}, []string{"type", "result"})
	TripsFinished    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "trips_finished_total", Help: "Trips finished"})
	FixWaitDuration  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "fix_wait_seconds", Help: "Time spent waiting for a boundary fix", Buckets: prometheus.DefBuckets})
	LockContention   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "trip_lock_busy_total", Help: "Requests rejected because the trip lock was held"})
	SettingsCacheHit = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "settings_cache_total", Help: "Settings cache lookups"}, []string{"result"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
