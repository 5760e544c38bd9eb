package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/officekit/wsdbroker/pkg/broker"
	"github.com/officekit/wsdbroker/pkg/metrics"
)

// brokerMetrics is the Prometheus implementation of broker.Metrics.
type brokerMetrics struct {
	kitSpawnDuration     *prometheus.HistogramVec
	documentLoadDuration *prometheus.HistogramVec
	saveDuration         *prometheus.HistogramVec
	activeSessions       *prometheus.GaugeVec
}

func init() {
	metrics.RegisterBrokerMetricsConstructor(NewBrokerMetrics)
}

// NewBrokerMetrics creates a new Prometheus-backed broker.Metrics instance.
// Returns nil if metrics are not enabled.
func NewBrokerMetrics() broker.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &brokerMetrics{
		kitSpawnDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wsdbroker_kit_spawn_duration_seconds",
				Help:    "Duration of kit process spawn attempts, including retries",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
			[]string{"outcome"},
		),
		documentLoadDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wsdbroker_document_load_duration_seconds",
				Help:    "Duration of the full document load sequence",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),
		saveDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wsdbroker_save_duration_seconds",
				Help:    "Duration of document save uploads by outcome",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		activeSessions: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wsdbroker_active_sessions",
				Help: "Current number of attached sessions per document",
			},
			[]string{"doc_key"},
		),
	}
}

func (m *brokerMetrics) RecordKitSpawn(duration time.Duration, success bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "ok"
	}
	m.kitSpawnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *brokerMetrics) RecordDocumentLoad(duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.documentLoadDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *brokerMetrics) RecordSave(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.saveDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *brokerMetrics) SetActiveSessions(docKey string, count int) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(docKey).Set(float64(count))
}
