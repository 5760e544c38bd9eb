package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const clipboardKeyBytes = 16

// clipboardKeys holds the current and previous clipboard authorization
// tags for a session. Both remain valid so an in-flight copy operation
// started just before a rotation still authenticates.
type clipboardKeys struct {
	current  string
	previous string
}

// rotate moves current to previous and generates a fresh strong random
// hex tag. Called on connect and on each forced rotation.
func (k *clipboardKeys) rotate() {
	k.previous = k.current
	k.current = newClipboardTag()
}

func newClipboardTag() string {
	buf := make([]byte, clipboardKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is
		// broken, in which case nothing else in the process works
		// either; panicking here surfaces that immediately.
		panic("session: failed to generate clipboard key: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// Rotate forces a new clipboard key pair, e.g. on an explicit client
// request to invalidate outstanding clipboard URIs.
func (s *Session) Rotate() {
	s.clipboard.rotate()
}

// ClipboardURI returns a URL on the broker's own host carrying this
// session's WOPI source, server id, view id, and current clipboard key,
// so an external HTTP client can authenticate a clipboard read after this
// session's live connection has ended.
func (s *Session) ClipboardURI(baseURL string) string {
	return fmt.Sprintf("%s?WOPISrc=%s&ServerId=%s&ViewId=%d&Tag=%s",
		baseURL, s.Public.WopiSrc, s.Public.ServerID, s.Public.ViewID, s.clipboard.current)
}

// MatchesClipboardKeys reports whether tag is this session's current or
// previous clipboard key for the given view id.
func (s *Session) MatchesClipboardKeys(viewID int, tag string) bool {
	if viewID != s.Public.ViewID {
		return false
	}
	return tag == s.clipboard.current || (s.clipboard.previous != "" && tag == s.clipboard.previous)
}

// CurrentClipboardKey exposes the active tag, e.g. for broker-side storage
// keying.
func (s *Session) CurrentClipboardKey() string { return s.clipboard.current }

// PreviousClipboardKey exposes the prior tag, so a save into a process-wide
// store can be looked up under either key until it rotates out.
func (s *Session) PreviousClipboardKey() string { return s.clipboard.previous }
