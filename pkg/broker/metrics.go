package broker

import "time"

// Metrics observes broker-level lifecycle events: kit spawn latency,
// document load latency, save outcomes, and session occupancy.
// Implementations must tolerate a nil receiver so a broker with no
// metrics configured has zero overhead.
type Metrics interface {
	RecordKitSpawn(duration time.Duration, success bool)
	RecordDocumentLoad(duration time.Duration, err error)
	RecordSave(outcome string, duration time.Duration)
	SetActiveSessions(docKey string, count int)
}
