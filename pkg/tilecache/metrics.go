package tilecache

// Metrics observes cache lookups, evictions, and pending-render fan-out.
// Implementations must tolerate a nil receiver so a Cache with no metrics
// configured has zero overhead, matching the rest of the corpus's optional-
// metrics convention.
type Metrics interface {
	RecordLookup(hit bool)
	RecordCacheSize(bytes uint64)
	RecordEviction(count int)
	RecordPendingSubscribers(count int)
}

// SetMetrics attaches m to the cache. Call once before the cache starts
// serving lookups; not safe to call concurrently with cache use, matching
// the cache's single-owner-goroutine contract.
func (c *Cache[S]) SetMetrics(m Metrics) {
	c.metrics = m
}
