// Package clipboardstore holds clipboard content saved from a session that
// has since disconnected, so a clipboard HTTP request that arrives after
// the originating broker's session map no longer has the session can still
// be served. It is process-wide (one instance shared across every
// document broker), unlike the rest of a broker's state which is owned by
// a single poll-loop goroutine.
package clipboardstore

import (
	"sync"
	"time"
)

// entryTTL bounds how long a saved clipboard entry survives before it is
// considered stale and evicted on next access.
const entryTTL = 10 * time.Minute

type entry struct {
	mimeType string
	data     []byte
	savedAt  time.Time
}

// Store is a concurrency-safe map from a clipboard tag pair to its saved
// content. The zero value is ready to use.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
}

// New constructs an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

// Put saves data under both the current and previous clipboard tags (either
// may be empty), so a lookup against either still resolves to the same
// content, mirroring Session.MatchesClipboardKeys' current-or-previous rule.
func (s *Store) Put(currentTag, previousTag, mimeType string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = make(map[string]entry)
	}
	e := entry{mimeType: mimeType, data: data, savedAt: time.Now()}
	if currentTag != "" {
		s.entries[currentTag] = e
	}
	if previousTag != "" {
		s.entries[previousTag] = e
	}
}

// Get returns the saved content for tag, if any and not yet expired.
func (s *Store) Get(tag string) (mimeType string, data []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, found := s.entries[tag]
	if !found {
		return "", nil, false
	}
	if time.Since(e.savedAt) > entryTTL {
		delete(s.entries, tag)
		return "", nil, false
	}
	return e.mimeType, e.data, true
}
