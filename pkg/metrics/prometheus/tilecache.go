package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/officekit/wsdbroker/pkg/metrics"
	"github.com/officekit/wsdbroker/pkg/tilecache"
)

// tileCacheMetrics is the Prometheus implementation of tilecache.Metrics.
type tileCacheMetrics struct {
	lookups             *prometheus.CounterVec
	cacheSizeBytes      prometheus.Gauge
	evictions           prometheus.Counter
	pendingSubscribers  prometheus.Histogram
}

func init() {
	metrics.RegisterTileCacheMetricsConstructor(NewTileCacheMetrics)
}

// NewTileCacheMetrics creates a new Prometheus-backed tilecache.Metrics
// instance. Returns nil if metrics are not enabled.
func NewTileCacheMetrics() tilecache.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &tileCacheMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsdbroker_tilecache_lookups_total",
				Help: "Total tile cache lookups by outcome",
			},
			[]string{"outcome"}, // "hit", "miss"
		),
		cacheSizeBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "wsdbroker_tilecache_size_bytes",
				Help: "Current size of the completed-tile cache in bytes",
			},
		),
		evictions: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "wsdbroker_tilecache_evictions_total",
				Help: "Total number of tiles evicted to stay under the high-water mark",
			},
		),
		pendingSubscribers: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wsdbroker_tilecache_pending_subscribers",
				Help:    "Number of sessions waiting on a single in-flight tile render",
				Buckets: []float64{1, 2, 4, 8, 16, 32},
			},
		),
	}
}

func (m *tileCacheMetrics) RecordLookup(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.lookups.WithLabelValues(outcome).Inc()
}

func (m *tileCacheMetrics) RecordCacheSize(bytes uint64) {
	if m == nil {
		return
	}
	m.cacheSizeBytes.Set(float64(bytes))
}

func (m *tileCacheMetrics) RecordEviction(count int) {
	if m == nil {
		return
	}
	m.evictions.Add(float64(count))
}

func (m *tileCacheMetrics) RecordPendingSubscribers(count int) {
	if m == nil {
		return
	}
	m.pendingSubscribers.Observe(float64(count))
}
