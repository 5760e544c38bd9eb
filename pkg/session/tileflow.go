package session

import (
	"math"
	"time"

	"github.com/officekit/wsdbroker/pkg/tiledesc"
)

// initialLoadTileCap bounds the outstanding-tile window before the
// client's visible area is known (e.g. immediately after load).
const initialLoadTileCap = 200

// minTileWindow is the floor on the outstanding-tile window regardless of
// how small the visible area is.
const minTileWindow = 10

// tileFlowMultiplier gives the window a small margin over the exact
// visible-tile count so scrolling doesn't immediately stall.
const tileFlowMultiplier = 1.1

// onFlyEntry records a tile sent to the client, for round-trip timeout
// and reissue-count tracking.
type onFlyEntry struct {
	sentAt time.Time
	wireID int
}

type tileFlowControl struct {
	queue         []tiledesc.TileDesc
	onFly         map[tiledesc.CacheKey]onFlyEntry
	beingRendered map[tiledesc.CacheKey]int // cache key -> reissue count
}

func (tf *tileFlowControl) ensureInit() {
	if tf.onFly == nil {
		tf.onFly = make(map[tiledesc.CacheKey]onFlyEntry)
	}
	if tf.beingRendered == nil {
		tf.beingRendered = make(map[tiledesc.CacheKey]int)
	}
}

// SetVisibleArea records the client's visible area and tile dimensions in
// twips/pixels. Any change clears the wire-id dedup map, since previously
// sent tiles no longer describe what's on screen.
func (s *Session) SetVisibleArea(area tiledesc.Rect, part, pixelW, pixelH, twipW, twipH int) {
	s.visibleArea = area
	s.selectedPart = part
	s.tilePixelW = pixelW
	s.tilePixelH = pixelH
	s.tileTwipW = twipW
	s.tileTwipH = twipH
	s.wireIDs = make(map[tiledesc.CacheKey]int)
}

// visibleTileCount returns ceil(width/tileW) * ceil(height/tileH) for the
// current visible area, or the initial-load cap if no tile dimension is
// known yet.
func (s *Session) visibleTileCount() int {
	if s.tileTwipW <= 0 || s.tileTwipH <= 0 {
		return initialLoadTileCap
	}
	cols := int(math.Ceil(float64(s.visibleArea.Width) / float64(s.tileTwipW)))
	rows := int(math.Ceil(float64(s.visibleArea.Height) / float64(s.tileTwipH)))
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return cols * rows
}

// tileWindowLimit returns the current outstanding-tile budget.
func (s *Session) tileWindowLimit() int {
	limit := int(math.Ceil(float64(s.visibleTileCount()) * tileFlowMultiplier))
	if limit < minTileWindow {
		return minTileWindow
	}
	return limit
}

// QueueTileRequest appends a tile request to this session's pending queue.
func (s *Session) QueueTileRequest(desc tiledesc.TileDesc) {
	s.tileFlow.queue = append(s.tileFlow.queue, desc)
}

// outstandingCount is onFly + beingRendered.
func (s *Session) outstandingCount() int {
	s.tileFlow.ensureInit()
	return len(s.tileFlow.onFly) + len(s.tileFlow.beingRendered)
}

// DequeueReady pops queued tile requests while the outstanding-tile window
// has room, returning the descriptors to dispatch (cache lookup or render
// subscription is the caller's responsibility). A tile already dispatched
// twice (the first request plus one reissue) and not yet sent is rotated
// to the back of the queue instead of dispatched again;
// the loop is bounded by the queue's own length to prevent starvation when
// every remaining entry is a reissue-capped duplicate.
func (s *Session) DequeueReady() []tiledesc.TileDesc {
	s.tileFlow.ensureInit()

	var ready []tiledesc.TileDesc
	delayed := 0
	limit := s.tileWindowLimit()

	for len(s.tileFlow.queue) > 0 && s.outstandingCount() < limit && delayed < len(s.tileFlow.queue) {
		desc := s.tileFlow.queue[0]
		s.tileFlow.queue = s.tileFlow.queue[1:]

		key := desc.Key()
		if s.tileFlow.beingRendered[key] >= 2 {
			s.tileFlow.queue = append(s.tileFlow.queue, desc)
			delayed++
			continue
		}

		s.tileFlow.beingRendered[key]++
		ready = append(ready, desc)
	}

	return ready
}

// MarkTileSent records a tile as on-the-fly, deduplicating by wire id: if
// the same cache key most recently carried the same wire id, the caller
// should suppress the send (WasDuplicate reports this).
func (s *Session) MarkTileSent(desc tiledesc.TileDesc, wireID int, now time.Time) (wasDuplicate bool) {
	s.tileFlow.ensureInit()
	key := desc.Key()

	if lastWireID, ok := s.wireIDs[key]; ok && lastWireID == wireID {
		return true
	}
	s.wireIDs[key] = wireID

	delete(s.tileFlow.beingRendered, key)
	s.tileFlow.onFly[key] = onFlyEntry{sentAt: now, wireID: wireID}
	return false
}

// RemoveOutdatedOnFly forgets onFly entries older than roundTripTimeout.
func (s *Session) RemoveOutdatedOnFly(now time.Time, roundTripTimeout time.Duration) {
	s.tileFlow.ensureInit()
	for key, entry := range s.tileFlow.onFly {
		if now.Sub(entry.sentAt) >= roundTripTimeout {
			delete(s.tileFlow.onFly, key)
		}
	}
}

// AckTile removes a tile from the on-fly set once the client reports
// tileprocessed.
func (s *Session) AckTile(desc tiledesc.TileDesc) {
	s.tileFlow.ensureInit()
	delete(s.tileFlow.onFly, desc.Key())
}

// CancelTiles drops every queued and in-flight tile for this session, e.g.
// on a canceltiles client command.
func (s *Session) CancelTiles() {
	s.tileFlow.ensureInit()
	s.tileFlow.queue = nil
	clear(s.tileFlow.onFly)
	clear(s.tileFlow.beingRendered)
}
