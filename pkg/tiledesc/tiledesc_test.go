package tiledesc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseTokens() []string {
	return []string{
		"part=0", "width=256", "height=256",
		"tileposx=0", "tileposy=0", "tilewidth=3840", "tileheight=3840",
	}
}

func TestParse_RequiredFields(t *testing.T) {
	d, err := Parse(baseTokens())
	require.NoError(t, err)
	assert.Equal(t, 256, d.Width)
	assert.Equal(t, 3840, d.TileWidth)
	assert.Equal(t, -1, d.Version, "unset optional fields default to -1")
}

func TestParse_MissingRequiredField(t *testing.T) {
	tokens := []string{"part=0", "width=256", "height=256"}
	_, err := Parse(tokens)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadArgument)
}

func TestParse_UnknownFieldIgnored(t *testing.T) {
	tokens := append(baseTokens(), "mysteryfield=42")
	d, err := Parse(tokens)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Part)
}

func TestParse_MalformedValue(t *testing.T) {
	tokens := append(baseTokens(), "ver=not-a-number")
	_, err := Parse(tokens)
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	d, err := Parse(append(baseTokens(), "ver=5", "id=7", "broadcast=1", "oldwid=2", "wid=3"))
	require.NoError(t, err)

	wire := d.Serialize("tile", "")
	tokens := strings.Fields(wire)[1:] // drop the "tile" prefix

	got, err := Parse(tokens)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestRoundTrip_OmitsUnsetOptionalFields(t *testing.T) {
	d, err := Parse(baseTokens())
	require.NoError(t, err)

	wire := d.Serialize("tile", "")
	assert.NotContains(t, wire, "ver=")
	assert.NotContains(t, wire, " id=")
	assert.NotContains(t, wire, "broadcast=")
}

func TestGenerateID(t *testing.T) {
	d, err := Parse(baseTokens())
	require.NoError(t, err)
	assert.Equal(t, "0:0:0:3840:3840:0", d.GenerateID())
}

func TestIntersects(t *testing.T) {
	d, err := Parse(baseTokens())
	require.NoError(t, err)

	assert.True(t, d.Intersects(Rect{}), "empty rect means 'all'")
	assert.True(t, d.Intersects(Rect{X: -100, Y: -100, Width: 200, Height: 200}))
	assert.False(t, d.Intersects(Rect{X: 10000, Y: 10000, Width: 100, Height: 100}))
}

func TestCanCombine(t *testing.T) {
	a, err := Parse(baseTokens())
	require.NoError(t, err)

	nearTokens := []string{
		"part=0", "width=256", "height=256",
		"tileposx=38400", "tileposy=0", "tilewidth=3840", "tileheight=3840",
	}
	near, err := Parse(nearTokens)
	require.NoError(t, err)
	assert.True(t, a.CanCombine(near), "10 columns apart, within the distance 16 bound")

	farTokens := []string{
		"part=0", "width=256", "height=256",
		"tileposx=76800", "tileposy=0", "tilewidth=3840", "tileheight=3840",
	}
	far, err := Parse(farTokens)
	require.NoError(t, err)
	assert.False(t, a.CanCombine(far), "20 columns apart, beyond the distance 16 bound")

	diffPart, err := Parse(append(baseTokens()[1:], "part=1"))
	require.NoError(t, err)
	assert.False(t, a.CanCombine(diffPart))
}

func TestOnSameRow(t *testing.T) {
	a, err := Parse(baseTokens())
	require.NoError(t, err)

	sameRowTokens := []string{
		"part=0", "width=256", "height=256",
		"tileposx=3840", "tileposy=100", "tilewidth=3840", "tileheight=3840",
	}
	sameRow, err := Parse(sameRowTokens)
	require.NoError(t, err)
	assert.True(t, a.OnSameRow(sameRow))

	diffRowTokens := []string{
		"part=0", "width=256", "height=256",
		"tileposx=0", "tileposy=5000", "tilewidth=3840", "tileheight=3840",
	}
	diffRow, err := Parse(diffRowTokens)
	require.NoError(t, err)
	assert.False(t, a.OnSameRow(diffRow))
}

func TestCacheKey_IgnoresIdentityFields(t *testing.T) {
	a, err := Parse(append(baseTokens(), "ver=1", "wid=1"))
	require.NoError(t, err)
	b, err := Parse(append(baseTokens(), "ver=2", "wid=2"))
	require.NoError(t, err)

	assert.Equal(t, a.Key(), b.Key(), "cache-equality ignores version and wire-id")
}
