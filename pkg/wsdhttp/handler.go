// Package wsdhttp is the minimal HTTP admission surface clients connect
// through: a WebSocket upgrade that admits a session onto a document
// broker (spawning one via the registry on first contact with a URI) and
// a liveness probe for orchestration.
package wsdhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/officekit/wsdbroker/internal/logger"
	"github.com/officekit/wsdbroker/pkg/broker"
	"github.com/officekit/wsdbroker/pkg/clipboardstore"
	"github.com/officekit/wsdbroker/pkg/registry"
	"github.com/officekit/wsdbroker/pkg/session"
)

// serverInfo is echoed back in the "loolserver <json>" handshake line,
// identifying this broker build to the connecting client.
type serverInfo struct {
	Version string `json:"Version"`
	Id      string `json:"Id"`
}

// Handler wires the registry and hub together behind an http.Handler. It
// upgrades every request on its WebSocket route to a per-session socket,
// and is the production value of broker.Deps.OnSessionMessage's owner.
type Handler struct {
	reg        *registry.Registry
	hub        *hub
	upgrader   websocket.Upgrader
	serverInfo serverInfo
	nextViewID atomic.Int32
	clipStore  *clipboardstore.Store
}

// NewHandler constructs a Handler over reg. serverID is echoed in the
// handshake's loolserver "Id" field, letting a client distinguish which
// broker instance (behind a load balancer) it landed on. store serves
// clipboard reads that arrive after a session's broker is already gone;
// nil disables that fallback.
func NewHandler(reg *registry.Registry, serverID, version string, store *clipboardstore.Store) *Handler {
	return &Handler{
		reg: reg,
		hub: newHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		serverInfo: serverInfo{Version: version, Id: serverID},
		clipStore:  store,
	}
}

// OnSessionMessage is passed as registry.Deps.OnSessionMessage so every
// broker the registry creates delivers its output through this handler's
// hub.
func (h *Handler) OnSessionMessage(docKey string) func(sessionID, msg string, payload []byte) {
	return h.hub.onSessionMessage(docKey)
}

// ServeWS upgrades the request to a WebSocket and admits a new session
// onto the broker for the WOPISrc query parameter, creating the broker on
// first contact. Blocks for the lifetime of the connection.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wopiSrc := q.Get("WOPISrc")
	if wopiSrc == "" {
		http.Error(w, "missing WOPISrc", http.StatusBadRequest)
		return
	}

	storageURI, err := buildStorageURI(wopiSrc, q.Get("access_token"), q.Get("access_header"))
	if err != nil {
		http.Error(w, "invalid WOPISrc", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.Err(err))
		return
	}

	b, err := h.reg.GetOrCreate(r.Context(), storageURI, broker.LoadOptions{
		ReadOnly: q.Get("permission") == "readonly",
	})
	if err != nil {
		logger.Warn("admission failed", logger.KeyDocURI, storageURI, logger.Err(err))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("error: cmd=load kind=docunsupported"))
		_ = conn.Close()
		return
	}

	sessionID := uuid.NewString()
	sess := session.New(sessionID, b.DocKey, session.PublicURI{
		WopiSrc:      wopiSrc,
		ServerID:     h.serverInfo.Id,
		ViewID:       int(h.nextViewID.Add(1)),
		AccessToken:  q.Get("access_token"),
		AccessHeader: q.Get("access_header"),
	}, session.Permissions{ReadOnly: q.Get("permission") == "readonly"})

	h.hub.add(sessionID, conn)
	b.AttachSession(sess)
	logger.Info("session admitted", logger.KeyDocKey, b.DocKey, logger.KeySessionID, sessionID)

	h.sendHandshake(conn, sess)
	h.readLoop(r.Context(), conn, b, sessionID)
}

// sendHandshake writes the capability-handshake frames spec.md §6 says a
// client expects as soon as it connects: server/kit/os info and the
// session's initial clipboard key.
func (h *Handler) sendHandshake(conn *websocket.Conn, sess *session.Session) {
	serverJSON, _ := json.Marshal(h.serverInfo)
	_ = conn.WriteMessage(websocket.TextMessage, append([]byte("loolserver "), serverJSON...))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`lokitversion {}`))
	_ = conn.WriteMessage(websocket.TextMessage, []byte("osinfo linux"))
	_ = conn.WriteMessage(websocket.TextMessage, []byte("clipboardkey: "+sess.CurrentClipboardKey()))
}

// readLoop pumps client frames into the broker until the socket closes,
// then detaches the session and removes it from the hub.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, b *broker.DocumentBroker, sessionID string) {
	defer func() {
		h.hub.remove(sessionID)
		b.DetachSession(sessionID)
		_ = conn.Close()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		b.HandleClientMessage(sessionID, string(data))
	}
}

// buildStorageURI folds the access credential query parameters the client
// sent alongside WOPISrc into wopiSrc itself, so registry.GetOrCreate's
// access_token/access_header parsing (and broker.DeriveDocKey) see them on
// the same URI the storage host actually uses.
func buildStorageURI(wopiSrc, accessToken, accessHeader string) (string, error) {
	u, err := url.Parse(wopiSrc)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if accessToken != "" {
		q.Set("access_token", accessToken)
	}
	if accessHeader != "" {
		q.Set("access_header", accessHeader)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Liveness handles GET /health: always 200 while the process is up.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

// Readiness handles GET /health/ready: 200 once the registry is serving,
// reporting the number of currently open documents.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"documents": h.reg.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, fmt.Sprintf(`{"status":"error","error":%q}`, err.Error()), http.StatusInternalServerError)
	}
}
