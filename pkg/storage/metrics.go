package storage

import "time"

// Metrics observes the adapter's HTTP calls to the storage host.
// Implementations must tolerate a nil receiver so an Adapter with no
// metrics configured has zero overhead.
type Metrics interface {
	ObserveOperation(operation string, duration time.Duration, err error)
	RecordBytes(operation string, bytes int64)
	RecordLockOutcome(kind LockResultKind)
}

// SetMetrics attaches m to the adapter.
func (a *Adapter) SetMetrics(m Metrics) {
	a.metrics = m
}

func (a *Adapter) observe(operation string, start time.Time, err error) {
	if a.metrics != nil {
		a.metrics.ObserveOperation(operation, time.Since(start), err)
	}
}
