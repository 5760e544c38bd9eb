package broker

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/officekit/wsdbroker/internal/logger"
	"github.com/officekit/wsdbroker/pkg/kit"
	"github.com/officekit/wsdbroker/pkg/session"
	"github.com/officekit/wsdbroker/pkg/tiledesc"
)

// clientForwardPrefix identifies a kit frame addressed to one client
// session, framed as "client-<sessionId> <rest>" (or "client-all <rest>"
// to broadcast).
const clientForwardPrefix = "client-"

// dispatchKitFrame routes one frame read from the kit: either forwarded
// to a specific (or every) client session, or handled as one of the
// broker-internal control messages (tile responses, global errors, cache
// invalidation, memory stats).
func (b *DocumentBroker) dispatchKitFrame(ctx context.Context, frame kit.Frame) {
	first, rest, _ := strings.Cut(frame.Line, " ")

	if target, ok := strings.CutPrefix(first, clientForwardPrefix); ok {
		b.forwardKitMessageToClient(target, rest, frame.Payload)
		return
	}

	switch {
	case first == "tile:":
		b.handleTileResponse(frame.Line, frame.Payload)
	case first == "tilecombine:":
		b.handleTileCombinedResponse(frame.Line, frame.Payload)
	case first == "errortoall:":
		b.handleErrorToAll(rest)
	case first == "procmemstats:":
		// Memory accounting is a metrics-surface concern; nothing in the
		// broker itself consumes dirty-page counts.
	case first == "invalidatetiles:":
		b.handleInvalidateTiles(rest)
	case session.ClassifyOutput(frame.Line) == session.OutputUnoCommandResult:
		b.handleUnoCommandResult(ctx, rest)
	default:
		logger.Warn("unexpected kit message", logger.KeyDocKey, b.DocKey, logger.KeyError, first)
	}
}

// forwardKitMessageToClient delivers a kit frame addressed to one session
// (or every session, for target "all") to its client socket, rewriting
// clipboard-bearing payloads to carry this broker's origin first.
func (b *DocumentBroker) forwardKitMessageToClient(target, msg string, payload []byte) {
	if target == "all" {
		for _, sess := range b.sessions {
			b.deliverToClient(sess, msg, payload)
		}
		return
	}

	sess, ok := b.sessions[target]
	if !ok {
		logger.Warn("kit message for unknown session", logger.KeyDocKey, b.DocKey, logger.KeySessionID, target)
		return
	}
	b.deliverToClient(sess, msg, payload)
}

// deliverToClient applies output-side side effects (clipboard origin
// rewriting, live-state tracking) before handing msg to the session's
// socket.
func (b *DocumentBroker) deliverToClient(sess *session.Session, msg string, payload []byte) {
	kind := session.ClassifyOutput(msg)
	if kind == session.OutputClipboardContent && payload != nil {
		rewritten := sess.RewriteClipboardOrigin(string(payload), b.PublicURI)
		payload = []byte(rewritten)
		if sess.HasClipboardSockets() {
			sess.FlushClipboardSockets("text/html", payload)
		}
		if sess.State() == session.WaitDisconnect && b.deps.ClipboardStore != nil {
			b.deps.ClipboardStore.Put(sess.CurrentClipboardKey(), sess.PreviousClipboardKey(), "text/html", payload)
		}
	}
	b.sendToSession(sess, msg, payload)
}

// handleErrorToAll implements the "errortoall: cmd=<c> kind=<k>" control
// message: broadcast an error of the given kind to every session.
func (b *DocumentBroker) handleErrorToAll(rest string) {
	tokens := tokenize(rest)
	cmd := tokenValuePrefixed(tokens, "cmd=")
	kind := tokenValuePrefixed(tokens, "kind=")
	if cmd == "" || kind == "" {
		logger.Warn("malformed errortoall", logger.KeyDocKey, b.DocKey)
		return
	}
	b.broadcastError(cmd, kind)
}

// handleInvalidateTiles implements the "invalidatetiles: <tile-fields>"
// control message emitted after an edit changes document content.
func (b *DocumentBroker) handleInvalidateTiles(rest string) {
	desc, err := tiledesc.Parse(tokenize(rest))
	if err != nil {
		// Any message tiledesc.Parse rejects invalidates every tile of
		// every part and view, without logging. That covers a bare
		// "EMPTY", "EMPTY,<part>" (the part is not honoured) and the
		// "part=N x= y= width= height=" form, which carries none of the
		// tile fields Parse requires, so its area is not honoured either.
		b.invalidateTiles(tiledesc.Rect{}, -1, -1)
		return
	}
	area := tiledesc.Rect{X: desc.PosX, Y: desc.PosY, Width: desc.TileWidth, Height: desc.TileHeight}
	b.invalidateTiles(area, desc.Part, desc.NormalizedViewID)
}

// handleUnoCommandResult reacts to a completed .uno:Save by uploading the
// saved file, per spec.md §4.6 "save" flow.
func (b *DocumentBroker) handleUnoCommandResult(ctx context.Context, rest string) {
	tokens := tokenize(rest)
	if tokenValuePrefixed(tokens, "commandname=") != ".uno:Save" {
		return
	}
	success := tokenValuePrefixed(tokens, "success=") == "true"
	result := tokenValuePrefixed(tokens, "result=")

	var sessionID string
	for id := range b.sessions {
		sessionID = id
		break
	}
	b.handleSaveResult(ctx, sessionID, saveOutcome{Success: success, Result: result}, false)
}

// tokenValuePrefixed returns the value following the first token that has
// prefix, or "" if none match.
func tokenValuePrefixed(tokens []string, prefix string) string {
	for _, tok := range tokens {
		if strings.HasPrefix(tok, prefix) {
			return strings.TrimPrefix(tok, prefix)
		}
	}
	return ""
}

// handleClientMessage processes one message received from a client
// socket: the input filter, tile/tilecombine parsing, canceltiles, and
// plain forwarding to the kit for everything else. Called via AddCallback
// from the HTTP admission surface's read loop.
func (b *DocumentBroker) handleClientMessage(sess *session.Session, line string) {
	tokens := tokenize(line)
	if len(tokens) == 0 {
		return
	}

	if result := sess.FilterInput(tokens); !result.Allow {
		b.sendToSession(sess, "error: cmd="+tokens[0]+" kind="+result.Reason, nil)
		return
	}

	switch tokens[0] {
	case "tile":
		desc, err := tiledesc.Parse(tokens[1:])
		if err != nil {
			logger.Warn("bad tile request", logger.KeyDocKey, b.DocKey, logger.Err(err))
			return
		}
		sess.QueueTileRequest(desc)
	case "tilecombine":
		descs, err := parseTileCombine(line)
		if err != nil {
			logger.Warn("bad tilecombine request", logger.KeyDocKey, b.DocKey, logger.Err(err))
			return
		}
		for _, d := range descs {
			sess.QueueTileRequest(d)
		}
	case "canceltiles":
		b.cancelTileRequests(sess)
	case "renamefile":
		encodedFilename := tokenValuePrefixed(tokens[1:], "filename=")
		if encodedFilename == "" {
			b.sendToSession(sess, "error: cmd=renamefile kind=syntax", nil)
			return
		}
		filename, err := url.QueryUnescape(encodedFilename)
		if err != nil {
			b.sendToSession(sess, "error: cmd=renamefile kind=syntax", nil)
			return
		}
		b.renameDocument(context.Background(), filename)
	default:
		if err := b.forwardToChild(sess.ID, line); err != nil {
			logger.Warn("forward to kit failed", logger.KeyDocKey, b.DocKey, logger.Err(err))
		}
		b.lastActivityTime = time.Now()
		if strings.HasPrefix(line, "uno .uno:") || tokens[0] == "save" {
			b.modified = true
		}
	}
}
