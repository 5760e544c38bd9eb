package metrics

import "github.com/officekit/wsdbroker/pkg/broker"

// NewBrokerMetrics creates a Prometheus-backed broker.Metrics instance, or
// nil when metrics are disabled (InitRegistry not called). Pass the nil
// directly into Deps.Metrics for zero overhead.
func NewBrokerMetrics() broker.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusBrokerMetrics()
}

// newPrometheusBrokerMetrics is registered by
// pkg/metrics/prometheus/broker.go's init, avoiding an import cycle
// between this package and the prometheus subpackage.
var newPrometheusBrokerMetrics func() broker.Metrics

// RegisterBrokerMetricsConstructor is called by
// pkg/metrics/prometheus/broker.go during package initialization.
func RegisterBrokerMetricsConstructor(constructor func() broker.Metrics) {
	newPrometheusBrokerMetrics = constructor
}
