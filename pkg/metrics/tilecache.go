package metrics

import "github.com/officekit/wsdbroker/pkg/tilecache"

// NewTileCacheMetrics creates a Prometheus-backed tilecache.Metrics
// instance, or nil when metrics are disabled (InitRegistry not called).
// Pass the nil directly to Cache.SetMetrics for zero overhead.
func NewTileCacheMetrics() tilecache.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusTileCacheMetrics()
}

// newPrometheusTileCacheMetrics is registered by
// pkg/metrics/prometheus/tilecache.go's init, avoiding an import cycle
// between this package and the prometheus subpackage.
var newPrometheusTileCacheMetrics func() tilecache.Metrics

// RegisterTileCacheMetricsConstructor is called by
// pkg/metrics/prometheus/tilecache.go during package initialization.
func RegisterTileCacheMetricsConstructor(constructor func() tilecache.Metrics) {
	newPrometheusTileCacheMetrics = constructor
}
