package wsdhttp

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/officekit/wsdbroker/internal/logger"
)

// hub tracks the live websocket connection for every admitted session,
// keyed by session id. It is the registry-wide analogue of a single
// broker's onSessionMessage hook: a broker only knows session ids, never
// physical sockets, so the hub is what actually writes bytes to a client.
type hub struct {
	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

func newHub() *hub {
	return &hub{conns: make(map[string]*websocket.Conn)}
}

// add registers conn under sessionID, replacing any previous connection
// for that id (a reconnect under the same id never happens in practice,
// since ids are minted per accepted socket, but this keeps add idempotent).
func (h *hub) add(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[sessionID] = conn
}

// remove drops sessionID's connection from the hub. Safe to call even if
// the session was never added or was already removed.
func (h *hub) remove(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, sessionID)
}

// send writes msg as a text frame, followed by payload as a binary frame
// when non-nil, mirroring the wire shape of messages like "tile: <desc>\n<png-bytes>"
// that original wsd packs into a single frame with an embedded newline.
// gorilla/websocket has no "frame with trailing binary section" primitive,
// so the two parts are sent as two frames in order; a reader simply treats
// a binary frame as "the payload that follows the most recent text frame".
func (h *hub) send(sessionID, msg string, payload []byte) {
	h.mu.RLock()
	conn := h.conns[sessionID]
	h.mu.RUnlock()
	if conn == nil {
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		logger.Warn("write to session failed", logger.KeySessionID, sessionID, logger.Err(err))
		return
	}
	if payload == nil {
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		logger.Warn("write payload to session failed", logger.KeySessionID, sessionID, logger.Err(err))
	}
}

// onSessionMessage builds the broker.Deps.OnSessionMessage-shaped closure
// for docKey; the registry calls this once per broker it creates.
func (h *hub) onSessionMessage(docKey string) func(sessionID, msg string, payload []byte) {
	return func(sessionID, msg string, payload []byte) {
		h.send(sessionID, msg, payload)
	}
}
