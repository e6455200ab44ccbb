package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/media-catalog-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the artifact
// cache and the HTTP surface.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	artifactHits   prometheus.Counter
	artifactMisses prometheus.Counter
	buildOutcomes  *prometheus.CounterVec
	sweepDuration  *prometheus.HistogramVec
	expiredRows    prometheus.Counter
	evictedRows    *prometheus.CounterVec
	sweepErrors    *prometheus.CounterVec
	diskUsedBytes  prometheus.Gauge
	diskBudget     prometheus.Gauge

	memoLatency prometheus.Observer
	memoWrite   prometheus.Observer
	memoHits    prometheus.Counter
	memoMisses  prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	artifactHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zip_artifact_hits_total",
		Help: "Ready-artifact lookups served from the shared cache",
	})

	artifactMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zip_artifact_misses_total",
		Help: "Lookups that found no servable artifact",
	})

	buildOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zip_artifact_builds_total",
		Help: "Shared-cache build attempts by outcome",
	}, []string{"outcome"})

	sweepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zip_artifact_sweep_duration_seconds",
		Help:    "Duration of cleanup and prewarm sweeps",
		Buckets: prometheus.DefBuckets,
	}, []string{"sweep"})

	expiredRows := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zip_artifact_expired_rows_total",
		Help: "Registry rows removed by the expiry phase",
	})

	evictedRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zip_artifact_evicted_rows_total",
		Help: "Ready artifacts evicted under the disk budget",
	}, []string{"tier"})

	sweepErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zip_artifact_sweep_errors_total",
		Help: "Per-item failures tallied during sweeps",
	}, []string{"sweep"})

	diskUsedBytes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zip_artifact_disk_used_bytes",
		Help: "Bytes of ready artifacts as of the last cleanup sweep",
	})

	diskBudget := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zip_artifact_disk_budget_bytes",
		Help: "Configured disk budget as of the last cleanup sweep",
	})

	memoLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lookup_memo_latency_seconds",
		Help:    "Latency for lookup-memo reads",
		Buckets: prometheus.DefBuckets,
	})

	memoWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lookup_memo_write_seconds",
		Help:    "Latency for lookup-memo writes",
		Buckets: prometheus.DefBuckets,
	})

	memoHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lookup_memo_hits_total",
		Help: "Total lookup-memo hits",
	})

	memoMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lookup_memo_misses_total",
		Help: "Total lookup-memo misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, artifactHits, artifactMisses,
		buildOutcomes, sweepDuration, expiredRows, evictedRows, sweepErrors,
		diskUsedBytes, diskBudget, memoLatency, memoWrite, memoHits, memoMisses, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		artifactHits:    artifactHits,
		artifactMisses:  artifactMisses,
		buildOutcomes:   buildOutcomes,
		sweepDuration:   sweepDuration,
		expiredRows:     expiredRows,
		evictedRows:     evictedRows,
		sweepErrors:     sweepErrors,
		diskUsedBytes:   diskUsedBytes,
		diskBudget:      diskBudget,
		memoLatency:     memoLatency,
		memoWrite:       memoWrite,
		memoHits:        memoHits,
		memoMisses:      memoMisses,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordArtifactLookup tallies a shared-cache hit or miss.
func (m *MetricsService) RecordArtifactLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.artifactHits.Inc()
	} else {
		m.artifactMisses.Inc()
	}
}

// RecordBuildOutcome tallies one build attempt by outcome label.
func (m *MetricsService) RecordBuildOutcome(outcome string) {
	if m == nil {
		return
	}
	m.buildOutcomes.WithLabelValues(outcome).Inc()
}

// RecordCleanupSweep publishes the tallies of a completed cleanup pass.
func (m *MetricsService) RecordCleanupSweep(result models.CleanupSweepResult, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues("cleanup").Observe(duration.Seconds())
	m.expiredRows.Add(float64(result.ExpiredDeletedRows))
	m.sweepErrors.WithLabelValues("cleanup").Add(float64(result.ExpiredErrors + result.EvictionErrors))
	m.diskUsedBytes.Set(float64(result.DiskUsedBytes))
	m.diskBudget.Set(float64(result.DiskBudgetBytes))
}

// RecordEviction tallies evicted rows per tier.
func (m *MetricsService) RecordEviction(tier models.ZipArtifactTier, rows int) {
	if m == nil || rows <= 0 {
		return
	}
	m.evictedRows.WithLabelValues(string(tier)).Add(float64(rows))
}

// RecordPrewarmSweep publishes the tallies of a completed prewarm pass.
func (m *MetricsService) RecordPrewarmSweep(result models.PrewarmSweepResult, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues("prewarm").Observe(duration.Seconds())
	m.sweepErrors.WithLabelValues("prewarm").Add(float64(result.Failed))
}

// RecordCacheOperation records a lookup-memo read.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.memoLatency != nil {
		m.memoLatency.Observe(duration.Seconds())
	}
	if hit {
		m.memoHits.Inc()
	} else {
		m.memoMisses.Inc()
	}
}

// ObserveCacheWrite tracks the duration of lookup-memo writes.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.memoWrite == nil {
		return
	}
	m.memoWrite.Observe(duration.Seconds())
}
