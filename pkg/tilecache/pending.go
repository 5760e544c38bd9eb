package tilecache

import (
	"time"
	"weak"

	"github.com/officekit/wsdbroker/pkg/tiledesc"
)

// SubscribeToTileRendering attaches session as a subscriber to the pending
// render for desc, creating a new pending entry if none exists. Returns true
// when the caller must (re)issue a render request to the kit: either
// because no render was in flight, or because a new subscriber joins an
// in-flight render older than renderTimeout, which must be reissued at the
// newer version. A session already subscribed only updates the pending
// version and gets false, however old the render is.
//
// Invariant P1: at most one pending entry per cache-equal descriptor.
func (c *Cache[S]) SubscribeToTileRendering(desc tiledesc.TileDesc, session *S, now time.Time, renderTimeout time.Duration) bool {
	key := desc.Key()

	entry, ok := c.pending[key]
	if !ok {
		c.pending[key] = &pendingEntry[S]{
			desc:        desc,
			startTime:   now,
			subscribers: []weak.Pointer[S]{weak.Make(session)},
		}
		return true
	}

	for _, wp := range entry.subscribers {
		if wp.Value() == session {
			entry.desc.Version = desc.Version
			return false
		}
	}

	entry.subscribers = append(entry.subscribers, weak.Make(session))
	if c.metrics != nil {
		c.metrics.RecordPendingSubscribers(len(entry.subscribers))
	}

	if now.Sub(entry.startTime) > renderTimeout {
		entry.desc.Version = desc.Version
		entry.startTime = now
		return true
	}

	return false
}

// NotifyFunc is invoked once per live subscriber when a render completes.
// cached is false for the first subscriber notified and true for every
// subsequent one, so clients can tell which copies came straight from the
// render versus the cache.
type NotifyFunc[S any] func(sub *S, desc tiledesc.TileDesc, bytes []byte, cached bool)

// SaveTileAndNotify inserts a completed render into the cache, evicting LRU
// entries if over the high-water mark, then fans the result out to every
// live subscriber of the matching pending entry. Subscribers whose weak
// reference has expired (session already torn down) are skipped silently.
//
// The pending entry is removed unless a newer version was requested while
// this render was in flight, in which case it is kept so that a subsequent,
// newer render reissues.
func (c *Cache[S]) SaveTileAndNotify(desc tiledesc.TileDesc, bytes []byte, notify NotifyFunc[S]) {
	c.insertTile(desc, bytes)

	key := desc.Key()
	entry, ok := c.pending[key]
	if !ok {
		return
	}

	first := true
	for _, wp := range entry.subscribers {
		sub := wp.Value()
		if sub == nil {
			continue
		}
		notify(sub, desc, bytes, !first)
		first = false
	}

	if entry.desc.Version <= desc.Version {
		delete(c.pending, key)
	}
}

// CancelTiles removes session from every pending entry's subscriber list.
// An entry left with no subscribers is dropped and its version recorded in
// the returned slice, for a "canceltiles <ver,ver,...>" message to the kit —
// unless the entry's request id marks it thumbnail-like (id >= 0), in which
// case it is never cancelled even when its subscriber list empties out.
func (c *Cache[S]) CancelTiles(session *S) []int {
	var versions []int

	for key, entry := range c.pending {
		remaining := entry.subscribers[:0]
		for _, wp := range entry.subscribers {
			v := wp.Value()
			if v == nil || v == session {
				continue
			}
			remaining = append(remaining, wp)
		}
		entry.subscribers = remaining

		if len(entry.subscribers) == 0 && entry.desc.ID < 0 {
			versions = append(versions, entry.desc.Version)
			delete(c.pending, key)
		}
	}

	return versions
}

// InvalidateTiles removes every completed and pending entry whose rectangle
// intersects area, optionally filtered to a specific part or normalized
// view id (ignored when negative). An empty area means "all".
func (c *Cache[S]) InvalidateTiles(area tiledesc.Rect, part, normalizedViewID int) {
	matches := func(desc tiledesc.TileDesc) bool {
		if part >= 0 && desc.Part != part {
			return false
		}
		if normalizedViewID >= 0 && desc.NormalizedViewID != normalizedViewID {
			return false
		}
		return desc.Intersects(area)
	}

	for key, entry := range c.completed {
		if matches(entry.desc) {
			c.totalSize -= uint64(entry.size)
			delete(c.completed, key)
		}
	}
	for key, entry := range c.pending {
		if matches(entry.desc) {
			delete(c.pending, key)
		}
	}
}

// PendingCount reports the number of in-flight renders, for tests and
// diagnostics.
func (c *Cache[S]) PendingCount() int {
	return len(c.pending)
}
