package broker

import (
	"time"

	"github.com/officekit/wsdbroker/internal/logger"
	"github.com/officekit/wsdbroker/pkg/session"
)

// AttachSession admits sess onto the broker's poll loop. Safe to call from
// any goroutine; the actual mutation happens via AddCallback.
func (b *DocumentBroker) AttachSession(sess *session.Session) {
	b.AddCallback(func() {
		b.addSession(sess)
	})
}

// DetachSession marks a session disconnected, starting its WaitDisconnect
// linger window rather than removing it immediately, so a final in-flight
// clipboard fetch from the kit can still complete. The broker itself is
// only scheduled for destruction once that linger window ends and the
// session is actually removed (sweepWaitDisconnect) — not here, and not
// merely because no *writable* session remains, since a lingering
// WaitDisconnect session (or a surviving readonly one) is still a session.
// Safe to call from any goroutine.
func (b *DocumentBroker) DetachSession(sessionID string) {
	b.AddCallback(func() {
		sess, ok := b.sessions[sessionID]
		if !ok {
			return
		}
		sess.Disconnect(time.Now())
		b.cancelTileRequests(sess)
		if err := b.forwardToChild(sess.ID, "getclipboard"); err != nil {
			logger.Warn("clipboard fetch on disconnect failed", logger.KeyDocKey, b.DocKey, logger.KeySessionID, sess.ID, logger.Err(err))
		}
		if err := b.forwardToChild(sess.ID, "disconnect"); err != nil {
			logger.Warn("disconnect notice to kit failed", logger.KeyDocKey, b.DocKey, logger.KeySessionID, sess.ID, logger.Err(err))
		}
	})
}

// HandleClientMessage queues a client-originated message for processing
// on the poll loop. Safe to call from any goroutine.
func (b *DocumentBroker) HandleClientMessage(sessionID, line string) {
	b.AddCallback(func() {
		sess, ok := b.sessions[sessionID]
		if !ok {
			return
		}
		b.handleClientMessage(sess, line)
	})
}

// RequestClose queues a graceful close request. Safe to call from any
// goroutine.
func (b *DocumentBroker) RequestClose(reason string) {
	b.AddCallback(func() {
		b.requestClose(reason)
	})
}

// RequestClipboard parks sock against the session identified by viewID,
// validating tag against that session's current/previous clipboard keys,
// and asks the kit for its clipboard content. If the session is still Live
// the request goes out immediately; if it is lingering in WaitDisconnect
// the socket is parked for delivery from the kit's final response. Safe to
// call from any goroutine (typically the admission HTTP surface).
func (b *DocumentBroker) RequestClipboard(viewID int, tag string, sock session.ClipboardSocket) {
	b.AddCallback(func() {
		var target *session.Session
		for _, sess := range b.sessions {
			if sess.MatchesClipboardKeys(viewID, tag) {
				target = sess
				break
			}
		}
		if target == nil {
			sock.Close()
			return
		}

		target.AddClipboardSocket(sock)
		if target.State() == session.Live {
			if err := b.forwardToChild(target.ID, "getclipboard"); err != nil {
				logger.Warn("clipboard fetch failed", logger.KeyDocKey, b.DocKey, logger.KeySessionID, target.ID, logger.Err(err))
			}
		}
		// In WaitDisconnect, the socket waits on the final getclipboard
		// already issued by the WaitDisconnect transition (§4.5); nothing
		// further to send here.
	})
}
