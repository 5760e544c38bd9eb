// Package lockctx tracks WOPI lock state for a single document: whether the
// storage host supports locking, the current token, and the refresh cadence.
package lockctx

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Context holds a document's lock state. Not safe for concurrent use; owned
// exclusively by the document broker's poll thread, like every other piece
// of per-document state.
type Context struct {
	SupportsLocks bool
	IsLocked      bool
	LockToken     string
	LastRefresh   time.Time
	FailureReason string
}

// InitSupportsLocks records whether the storage host advertised lock
// support. Called once after CheckFileInfo.
func (c *Context) InitSupportsLocks(supports bool) {
	c.SupportsLocks = supports
}

// NeedsRefresh reports whether the lock is held and the refresh interval
// has elapsed since the last successful lock/unlock/refresh.
func (c *Context) NeedsRefresh(now time.Time, refreshInterval time.Duration) bool {
	if !c.IsLocked {
		return false
	}
	return now.Sub(c.LastRefresh) >= refreshInterval
}

// BumpTimer records a successful lock/unlock/refresh at now.
func (c *Context) BumpTimer(now time.Time) {
	c.LastRefresh = now
}

// EnsureToken generates a fresh lock token if one isn't already held,
// without claiming the lock is actually acquired. The token must exist
// before the first Lock request (it travels in the X-WOPI-Lock header),
// but only a confirmed HTTP_OK response may set IsLocked — call MarkLocked
// for that once the storage host has actually answered.
func (c *Context) EnsureToken() error {
	if c.LockToken != "" {
		return nil
	}
	token, err := newLockToken()
	if err != nil {
		return err
	}
	c.LockToken = token
	return nil
}

// MarkLocked records a successful lock acquisition, generating a fresh
// token if one isn't already held (idempotent: a second Lock call with no
// intervening Unlock is a refresh, and the original token is preserved).
// Call only after the storage host has confirmed the lock (HTTP_OK); never
// optimistically before the round trip.
func (c *Context) MarkLocked(now time.Time) error {
	if err := c.EnsureToken(); err != nil {
		return err
	}
	c.IsLocked = true
	c.FailureReason = ""
	c.BumpTimer(now)
	return nil
}

// MarkUnlocked clears lock state after a successful unlock.
func (c *Context) MarkUnlocked(now time.Time) {
	c.IsLocked = false
	c.LockToken = ""
	c.BumpTimer(now)
}

// MarkFailed records a lock/unlock/refresh failure without mutating token
// or IsLocked state, so the broker can fall back to the next scheduled tick.
func (c *Context) MarkFailed(reason string) {
	c.FailureReason = reason
}

const lockTokenBytes = 16

// newLockToken generates a strong random hex string for use as a WOPI lock
// token. crypto/rand is the standard library's CSPRNG; no third-party
// library in the corpus offers a token generator that improves on it for a
// bare byte-string use case.
func newLockToken() (string, error) {
	buf := make([]byte, lockTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
