package wsdhttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/officekit/wsdbroker/internal/logger"
	"github.com/officekit/wsdbroker/pkg/broker"
)

// clipboardWaitTimeout bounds how long ServeClipboard blocks waiting for a
// parked request to be served, either live from the kit or from the
// process-wide saved-clipboard store.
const clipboardWaitTimeout = 5 * time.Second

// clipboardResult is delivered through httpClipboardSocket.done once, either
// with content (ok=true) or empty (the broker found no matching session).
type clipboardResult struct {
	mimeType string
	data     []byte
	ok       bool
}

// httpClipboardSocket adapts one parked HTTP request to session.ClipboardSocket.
type httpClipboardSocket struct {
	done chan clipboardResult
}

func newHTTPClipboardSocket() *httpClipboardSocket {
	return &httpClipboardSocket{done: make(chan clipboardResult, 1)}
}

func (s *httpClipboardSocket) DeliverClipboard(mimeType string, data []byte) {
	select {
	case s.done <- clipboardResult{mimeType: mimeType, data: data, ok: true}:
	default:
	}
}

func (s *httpClipboardSocket) Close() {
	select {
	case s.done <- clipboardResult{}:
	default:
	}
}

// ServeClipboard handles GET /cool/clipboard: the URI a session's
// clipboardkey handshake line (and ClipboardURI) points an external client
// at to read the last-copied content, per spec.md §4.5. The request parks
// until the kit answers, the wait times out, or the broker reports no
// matching session, falling back to the process-wide saved-clipboard store
// in the latter two cases.
func (h *Handler) ServeClipboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wopiSrc := q.Get("WOPISrc")
	tag := q.Get("Tag")
	viewID, err := strconv.Atoi(q.Get("ViewId"))
	if wopiSrc == "" || tag == "" || err != nil {
		http.Error(w, "missing or invalid clipboard parameters", http.StatusBadRequest)
		return
	}

	storageURI, err := buildStorageURI(wopiSrc, q.Get("access_token"), q.Get("access_header"))
	if err != nil {
		http.Error(w, "invalid WOPISrc", http.StatusBadRequest)
		return
	}
	docKey, err := broker.DeriveDocKey(storageURI)
	if err != nil {
		http.Error(w, "invalid WOPISrc", http.StatusBadRequest)
		return
	}

	b, ok := h.reg.Get(docKey)
	if !ok {
		h.serveStoredClipboard(w, tag)
		return
	}

	sock := newHTTPClipboardSocket()
	b.RequestClipboard(viewID, tag, sock)

	select {
	case result := <-sock.done:
		if !result.ok {
			h.serveStoredClipboard(w, tag)
			return
		}
		writeClipboard(w, result.mimeType, result.data)
	case <-time.After(clipboardWaitTimeout):
		logger.Warn("clipboard request timed out", logger.KeyDocKey, docKey)
		h.serveStoredClipboard(w, tag)
	}
}

// serveStoredClipboard answers from the process-wide saved-clipboard store,
// the path taken once a session's broker is gone or never responded.
func (h *Handler) serveStoredClipboard(w http.ResponseWriter, tag string) {
	if h.clipStore == nil {
		http.Error(w, "clipboard not available", http.StatusNotFound)
		return
	}
	mimeType, data, ok := h.clipStore.Get(tag)
	if !ok {
		http.Error(w, "clipboard not available", http.StatusNotFound)
		return
	}
	writeClipboard(w, mimeType, data)
}

func writeClipboard(w http.ResponseWriter, mimeType string, data []byte) {
	w.Header().Set("Content-Type", mimeType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
