// Package session implements the client session state machine: the
// broker-side representation of one connected editing client, including
// its input/output message filters, clipboard key rotation, and tile
// flow-control window.
package session

import (
	"time"

	"github.com/officekit/wsdbroker/pkg/tiledesc"
)

// State is the session's lifecycle state.
type State int

const (
	Detached State = iota
	Loading
	Live
	WaitDisconnect
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Loading:
		return "loading"
	case Live:
		return "live"
	case WaitDisconnect:
		return "wait_disconnect"
	default:
		return "unknown"
	}
}

// WaitDisconnectTimeout is how long a session lingers in WaitDisconnect
// waiting for the kit to acknowledge disconnection before being hard
// removed.
const WaitDisconnectTimeout = 20 * time.Second

// Permissions captures the WOPI-derived restrictions that shape this
// session's input filter.
type Permissions struct {
	ReadOnly      bool
	DisableCopy   bool
	DisablePrint  bool
	DisableExport bool
}

// Session is one client's connection to a document broker. It is owned
// exclusively by the broker's poll-loop goroutine; none of its methods are
// safe for concurrent use.
type Session struct {
	ID      string
	DocKey  string
	Public  PublicURI
	Perms   Permissions

	state State

	KitViewID        int
	IsTextDocument   bool
	IsDocumentOwner  bool
	waitDisconnectAt time.Time

	clipboard clipboardKeys

	visibleArea  tiledesc.Rect
	selectedPart int
	tilePixelW   int
	tilePixelH   int
	tileTwipW    int
	tileTwipH    int

	wireIDs map[tiledesc.CacheKey]int

	tileFlow tileFlowControl

	clipSockets []ClipboardSocket
}

// PublicURI is the parsed form of the URI a client connected with: the
// WOPI source, server id, view id, and raw access credentials.
type PublicURI struct {
	WopiSrc      string
	ServerID     string
	ViewID       int
	AccessToken  string
	AccessHeader string
}

// ClipboardSocket is a parked HTTP connection waiting for clipboard
// content to become available, either live from the kit or from the
// process-wide saved-clipboard store after disconnect.
type ClipboardSocket interface {
	DeliverClipboard(mimeType string, data []byte)
	Close()
}

// New creates a session in the Detached state.
func New(id, docKey string, public PublicURI, perms Permissions) *Session {
	s := &Session{
		ID:           id,
		DocKey:       docKey,
		Public:       public,
		Perms:        perms,
		state:        Detached,
		selectedPart: -1,
		wireIDs:      make(map[tiledesc.CacheKey]int),
	}
	s.clipboard.rotate()
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// Attach transitions Detached -> Loading, when the session is attached to
// a broker.
func (s *Session) Attach() {
	if s.state == Detached {
		s.state = Loading
	}
}

// MarkLive transitions Loading -> Live on receipt of the kit's status:
// message, recording the view id and document kind it carries.
func (s *Session) MarkLive(kitViewID int, isTextDocument bool, selectedPart int) {
	s.state = Live
	s.KitViewID = kitViewID
	s.IsTextDocument = isTextDocument
	s.selectedPart = selectedPart
}

// Disconnect transitions into WaitDisconnect, starting the linger window
// during which a final clipboard fetch from the kit can still complete.
func (s *Session) Disconnect(now time.Time) {
	s.state = WaitDisconnect
	s.waitDisconnectAt = now
}

// ShouldHardRemove reports whether the linger window has elapsed without
// kit acknowledgement.
func (s *Session) ShouldHardRemove(now time.Time) bool {
	return s.state == WaitDisconnect && now.Sub(s.waitDisconnectAt) >= WaitDisconnectTimeout
}
