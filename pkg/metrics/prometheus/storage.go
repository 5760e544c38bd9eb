package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/officekit/wsdbroker/pkg/metrics"
	"github.com/officekit/wsdbroker/pkg/storage"
)

// storageMetrics is the Prometheus implementation of storage.Metrics.
type storageMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	lockOutcomes      *prometheus.CounterVec
}

func init() {
	metrics.RegisterStorageMetricsConstructor(NewStorageMetrics)
}

// NewStorageMetrics creates a new Prometheus-backed storage.Metrics
// instance. Returns nil if metrics are not enabled.
func NewStorageMetrics() storage.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &storageMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsdbroker_storage_operations_total",
				Help: "Total storage host operations by name and outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "wsdbroker_storage_operation_duration_seconds",
				Help: "Duration of storage host HTTP calls",
				Buckets: []float64{
					0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
				},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsdbroker_storage_bytes_total",
				Help: "Total bytes transferred to/from the storage host",
			},
			[]string{"operation"},
		),
		lockOutcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsdbroker_storage_lock_outcomes_total",
				Help: "Total lock/unlock outcomes by result kind",
			},
			[]string{"kind"},
		),
	}
}

func (m *storageMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *storageMetrics) RecordBytes(operation string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(operation).Add(float64(bytes))
}

func (m *storageMetrics) RecordLockOutcome(kind storage.LockResultKind) {
	if m == nil {
		return
	}
	m.lockOutcomes.WithLabelValues(kind.String()).Inc()
}
