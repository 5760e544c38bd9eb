package lockctx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkLocked_GeneratesToken(t *testing.T) {
	var c Context
	now := time.Now()

	require.NoError(t, c.MarkLocked(now))
	assert.True(t, c.IsLocked)
	assert.NotEmpty(t, c.LockToken)
}

func TestMarkLocked_IdempotentPreservesToken(t *testing.T) {
	var c Context
	now := time.Now()

	require.NoError(t, c.MarkLocked(now))
	firstToken := c.LockToken

	require.NoError(t, c.MarkLocked(now.Add(time.Second)))
	assert.Equal(t, firstToken, c.LockToken, "a second lock with no intervening unlock is a refresh")
	assert.True(t, c.IsLocked)
}

func TestMarkUnlocked_ClearsToken(t *testing.T) {
	var c Context
	now := time.Now()
	require.NoError(t, c.MarkLocked(now))

	c.MarkUnlocked(now)
	assert.False(t, c.IsLocked)
	assert.Empty(t, c.LockToken)
}

func TestNeedsRefresh(t *testing.T) {
	var c Context
	now := time.Now()
	require.NoError(t, c.MarkLocked(now))

	assert.False(t, c.NeedsRefresh(now.Add(10*time.Second), 30*time.Second))
	assert.True(t, c.NeedsRefresh(now.Add(31*time.Second), 30*time.Second))
}

func TestNeedsRefresh_NotLocked(t *testing.T) {
	var c Context
	assert.False(t, c.NeedsRefresh(time.Now(), 0))
}

func TestBumpTimer_PreservesTokenOnRefresh(t *testing.T) {
	var c Context
	now := time.Now()
	require.NoError(t, c.MarkLocked(now))
	token := c.LockToken

	c.BumpTimer(now.Add(time.Minute))
	assert.Equal(t, token, c.LockToken)
	assert.Equal(t, now.Add(time.Minute), c.LastRefresh)
}
