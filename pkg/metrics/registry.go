// Package metrics wires optional Prometheus observability into the
// broker's domain packages (tile cache, storage adapter, document broker)
// without forcing a dependency on Prometheus from any of them: each domain
// package declares its own small Metrics interface, and this package's
// constructors return nil when metrics are disabled, giving every call site
// a zero-overhead path (see pkg/tilecache.Metrics, pkg/storage.Metrics,
// pkg/broker.Metrics).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	enabled  bool
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection and creates the Prometheus
// registry backing every constructor in this package. Must be called
// before any NewXxxMetrics constructor to have effect; calling it again
// replaces the registry, which is only useful in tests.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	enabled = true
	registry = prometheus.NewRegistry()
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// GetRegistry returns the active registry, creating a default one if
// InitRegistry was never called explicitly.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return registry
}
