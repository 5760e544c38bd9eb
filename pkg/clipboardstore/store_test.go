package clipboardstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStore_PutGet_BothTagsResolve(t *testing.T) {
	s := New()
	s.Put("current", "previous", "text/html", []byte("<p>hi</p>"))

	for _, tag := range []string{"current", "previous"} {
		mimeType, data, ok := s.Get(tag)
		assert.True(t, ok)
		assert.Equal(t, "text/html", mimeType)
		assert.Equal(t, []byte("<p>hi</p>"), data)
	}
}

func TestStore_Get_UnknownTagNotFound(t *testing.T) {
	s := New()
	_, _, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestStore_Put_EmptyTagsSkipped(t *testing.T) {
	s := New()
	s.Put("", "", "text/plain", []byte("x"))
	assert.Empty(t, s.entries)
}

func TestStore_Get_ExpiredEntryEvicted(t *testing.T) {
	s := New()
	s.entries["stale"] = entry{mimeType: "text/plain", data: []byte("old"), savedAt: time.Now().Add(-entryTTL - time.Minute)}

	_, _, ok := s.Get("stale")

	assert.False(t, ok)
	_, found := s.entries["stale"]
	assert.False(t, found)
}
