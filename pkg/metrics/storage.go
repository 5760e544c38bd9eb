package metrics

import "github.com/officekit/wsdbroker/pkg/storage"

// NewStorageMetrics creates a Prometheus-backed storage.Metrics instance,
// or nil when metrics are disabled (InitRegistry not called). Pass the nil
// directly to Adapter.SetMetrics for zero overhead.
func NewStorageMetrics() storage.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusStorageMetrics()
}

// newPrometheusStorageMetrics is registered by
// pkg/metrics/prometheus/storage.go's init, avoiding an import cycle
// between this package and the prometheus subpackage.
var newPrometheusStorageMetrics func() storage.Metrics

// RegisterStorageMetricsConstructor is called by
// pkg/metrics/prometheus/storage.go during package initialization.
func RegisterStorageMetricsConstructor(constructor func() storage.Metrics) {
	newPrometheusStorageMetrics = constructor
}
