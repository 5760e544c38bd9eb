package broker

import (
	"fmt"
	"strings"
	"time"

	"github.com/officekit/wsdbroker/internal/logger"
	"github.com/officekit/wsdbroker/pkg/session"
	"github.com/officekit/wsdbroker/pkg/tiledesc"
)

// tileRenderReissueTimeout bounds how long a pending render may sit without
// a response before a newly arriving subscriber forces a reissue, matching
// the ~5s command-timeout window the kit protocol budgets for a render.
const tileRenderReissueTimeout = 5 * time.Second

// tileCombineSeparator joins individual tile descriptors within a
// tilecombine wire message.
const tileCombineSeparator = ";"

// nextTileVersion hands out a monotonic version stamp for outgoing tile
// requests, so stale responses can be told apart from the current one.
func (b *DocumentBroker) nextTileVersion() int {
	b.tileVersion++
	return b.tileVersion
}

// tokenize splits a wire line into key=value tokens on whitespace.
func tokenize(line string) []string {
	return strings.Fields(line)
}

// parseTileCombine splits a "tilecombine[:]" line into its constituent tile
// descriptors, each serialized fields-only and joined by
// tileCombineSeparator.
func parseTileCombine(line string) ([]tiledesc.TileDesc, error) {
	_, rest, _ := strings.Cut(line, " ")
	var descs []tiledesc.TileDesc
	for _, part := range strings.Split(rest, tileCombineSeparator) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		desc, err := tiledesc.Parse(tokenize(part))
		if err != nil {
			return nil, err
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

// handleTileRequest serves a single "tile" client request: a cache hit is
// answered immediately, a miss subscribes the session to the in-flight (or
// freshly started) render and queues delivery once SaveTileAndNotify fires.
func (b *DocumentBroker) handleTileRequest(desc tiledesc.TileDesc, sess *session.Session) {
	desc.Version = b.nextTileVersion()

	if bytes, ok := b.cache.LookupTile(desc); ok {
		b.deliverTile(sess, desc, bytes, true)
		return
	}

	if desc.Broadcast {
		for _, s := range b.sessions {
			if s.State() != session.WaitDisconnect {
				b.cache.SubscribeToTileRendering(desc, s, time.Now(), tileRenderReissueTimeout)
			}
		}
	}

	if b.cache.SubscribeToTileRendering(desc, sess, time.Now(), tileRenderReissueTimeout) {
		if err := b.kitProc.Send(desc.Serialize("tile", ""), nil); err != nil {
			logger.Warn("send tile request failed", logger.KeyDocKey, b.DocKey, logger.Err(err))
		}
	}
}

// handleTileCombinedRequest serves a batched "tilecombine" request: each
// constituent tile is checked against the cache individually, and only the
// misses are re-issued to the kit as a fresh tilecombine.
func (b *DocumentBroker) handleTileCombinedRequest(descs []tiledesc.TileDesc, sess *session.Session) {
	var needsRendering []string

	for i := range descs {
		descs[i].Version = b.nextTileVersion()
		if bytes, ok := b.cache.LookupTile(descs[i]); ok {
			b.deliverTile(sess, descs[i], bytes, true)
			continue
		}
		b.cache.SubscribeToTileRendering(descs[i], sess, time.Now(), tileRenderReissueTimeout)
		needsRendering = append(needsRendering, strings.TrimSpace(descs[i].Serialize("", "")))
	}

	if len(needsRendering) == 0 {
		return
	}

	line := "tilecombine " + strings.Join(needsRendering, " "+tileCombineSeparator+" ")
	if err := b.kitProc.Send(line, nil); err != nil {
		logger.Warn("send tilecombine request failed", logger.KeyDocKey, b.DocKey, logger.Err(err))
	}
}

// deliverTile sends a rendered tile's descriptor line and raw image bytes
// to one session, assigning it a fresh wire id and suppressing the send
// entirely when that wire id duplicates the one last sent for this tile.
func (b *DocumentBroker) deliverTile(sess *session.Session, desc tiledesc.TileDesc, bytes []byte, cached bool) {
	desc.ImageSize = len(bytes)
	wireID := desc.Version

	if sess.MarkTileSent(desc, wireID, time.Now()) {
		return
	}

	suffix := ""
	if cached {
		suffix = "renderid=cached"
	}
	line := desc.Serialize("tile:", suffix)
	b.sendToSession(sess, line, bytes)
}

// handleTileResponse processes a rendered tile arriving from the kit on a
// "tile:" frame, saving it to the cache and fanning it out to every live
// subscriber.
func (b *DocumentBroker) handleTileResponse(line string, payload []byte) {
	desc, err := tiledesc.Parse(tokenize(line))
	if err != nil {
		logger.Warn("bad tile response", logger.KeyDocKey, b.DocKey, logger.Err(err))
		return
	}
	b.cache.SaveTileAndNotify(desc, payload, func(sub *session.Session, d tiledesc.TileDesc, bytes []byte, cached bool) {
		b.deliverTile(sub, d, bytes, cached)
	})
}

// handleTileCombinedResponse splits a "tilecombine:" frame's payload across
// each constituent tile's declared image size and processes each as an
// individual tile response.
func (b *DocumentBroker) handleTileCombinedResponse(line string, payload []byte) {
	descs, err := parseTileCombine(line)
	if err != nil {
		logger.Warn("bad tilecombine response", logger.KeyDocKey, b.DocKey, logger.Err(err))
		return
	}

	offset := 0
	for _, desc := range descs {
		end := offset + desc.ImageSize
		if end > len(payload) {
			logger.Warn("tilecombine payload truncated", logger.KeyDocKey, b.DocKey)
			return
		}
		chunk := payload[offset:end]
		offset = end

		b.cache.SaveTileAndNotify(desc, chunk, func(sub *session.Session, d tiledesc.TileDesc, bytes []byte, cached bool) {
			b.deliverTile(sub, d, bytes, cached)
		})
	}
}

// cancelTileRequests drops a session's queued and in-flight tiles, and
// forwards a "canceltiles" message to the kit for any render that now has
// no remaining subscriber, except thumbnail-like renders (request id >= 0),
// which are never cancelled.
func (b *DocumentBroker) cancelTileRequests(sess *session.Session) {
	sess.CancelTiles()

	versions := b.cache.CancelTiles(sess)
	if len(versions) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString("canceltiles")
	for _, v := range versions {
		fmt.Fprintf(&sb, " %d", v)
	}
	if err := b.kitProc.Send(sb.String(), nil); err != nil {
		logger.Warn("send canceltiles failed", logger.KeyDocKey, b.DocKey, logger.Err(err))
	}
}

// invalidateTiles drops cached and pending tiles intersecting area for the
// given part/view (a zero Rect means the whole document), e.g. after an
// edit or a reload.
func (b *DocumentBroker) invalidateTiles(area tiledesc.Rect, part, normalizedViewID int) {
	b.cache.InvalidateTiles(area, part, normalizedViewID)
}

// pumpTileQueues dispatches every session's ready (flow-control-admitted)
// queued tile requests. Called once per poll tick.
func (b *DocumentBroker) pumpTileQueues() {
	for _, sess := range b.sessions {
		for _, desc := range sess.DequeueReady() {
			b.handleTileRequest(desc, sess)
		}
	}
}
