// Package tilecache implements the content-addressed render cache: a bounded
// map from tile descriptor to rendered bytes, in-flight render de-duplication
// with subscriber fan-out, and four auxiliary stream caches (font, style,
// command-values, misc).
//
// A Cache is owned by exactly one document broker and driven entirely from
// its poll-loop goroutine. It is not safe for concurrent use — the poll loop
// is the sole mutator, matching the rest of the per-document state the
// broker holds (lock context, file info, session map).
package tilecache

import (
	"sort"
	"time"
	"weak"

	"github.com/officekit/wsdbroker/pkg/tiledesc"
)

type completedEntry struct {
	desc       tiledesc.TileDesc
	bytes      []byte
	size       int
	lastAccess time.Time
}

// pendingEntry is generic over the subscriber type S so the cache holds weak
// references (runtime/weak) to sessions without importing the session
// package, avoiding a tilecache<->session dependency cycle and letting a
// subscribed session's own teardown proceed without waiting on the render.
type pendingEntry[S any] struct {
	desc        tiledesc.TileDesc
	startTime   time.Time
	subscribers []weak.Pointer[S]
}

// Cache is the per-document tile cache, parameterized over the session type
// S used as a render subscriber. The zero value is not usable; build one
// with New.
type Cache[S any] struct {
	completed map[tiledesc.CacheKey]*completedEntry
	pending   map[tiledesc.CacheKey]*pendingEntry[S]

	streams [numStreamKinds]map[string][]byte

	totalSize     uint64
	highWaterMark uint64

	metrics Metrics
}

// baseHighWaterMark is the per-session contribution to the high-water mark:
// 8KiB per tile, times 128 tiles of headroom, per connected session.
const baseHighWaterMark = 8 * 1024 * 128

// New creates an empty cache with an initial high-water mark sized for
// sessionCount connected sessions (see RecomputeHighWaterMark).
func New[S any](sessionCount int) *Cache[S] {
	c := &Cache[S]{
		completed: make(map[tiledesc.CacheKey]*completedEntry),
		pending:   make(map[tiledesc.CacheKey]*pendingEntry[S]),
	}
	for i := range c.streams {
		c.streams[i] = make(map[string][]byte)
	}
	c.RecomputeHighWaterMark(sessionCount)
	return c
}

// RecomputeHighWaterMark updates the eviction threshold for the current
// session count. Called on every session add/remove.
func (c *Cache[S]) RecomputeHighWaterMark(sessionCount int) {
	if sessionCount < 1 {
		sessionCount = 1
	}
	c.highWaterMark = uint64(baseHighWaterMark * sessionCount)
}

// TotalSize returns the approximate current byte size of the completed-tile
// cache (P7: never exceeds the high-water mark immediately after an
// insertion).
func (c *Cache[S]) TotalSize() uint64 {
	return c.totalSize
}

// LookupTile returns the cached bytes for a cache-equal descriptor, or
// (nil, false). Bumps LRU recency; no other side effects.
func (c *Cache[S]) LookupTile(desc tiledesc.TileDesc) ([]byte, bool) {
	entry, ok := c.completed[desc.Key()]
	if c.metrics != nil {
		c.metrics.RecordLookup(ok)
	}
	if !ok {
		return nil, false
	}
	entry.lastAccess = time.Now()
	return entry.bytes, true
}

// insertTile inserts bytes under desc's cache key and evicts LRU entries
// until under the high-water mark.
func (c *Cache[S]) insertTile(desc tiledesc.TileDesc, bytes []byte) {
	key := desc.Key()
	size := len(bytes)

	if existing, ok := c.completed[key]; ok {
		c.totalSize -= uint64(existing.size)
	}

	c.completed[key] = &completedEntry{
		desc:       desc,
		bytes:      bytes,
		size:       size,
		lastAccess: time.Now(),
	}
	c.totalSize += uint64(size)
	if c.metrics != nil {
		c.metrics.RecordCacheSize(c.totalSize)
	}

	c.evictUntilUnderMark()
}

func (c *Cache[S]) evictUntilUnderMark() {
	if c.totalSize <= c.highWaterMark {
		return
	}

	type candidate struct {
		key        tiledesc.CacheKey
		lastAccess time.Time
	}
	candidates := make([]candidate, 0, len(c.completed))
	for k, e := range c.completed {
		candidates = append(candidates, candidate{k, e.lastAccess})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastAccess.Before(candidates[j].lastAccess)
	})

	evicted := 0
	for _, cand := range candidates {
		if c.totalSize <= c.highWaterMark {
			break
		}
		entry := c.completed[cand.key]
		c.totalSize -= uint64(entry.size)
		delete(c.completed, cand.key)
		evicted++
	}
	if evicted > 0 && c.metrics != nil {
		c.metrics.RecordEviction(evicted)
	}
}
