// Package tiledesc implements the tile descriptor value type: parsing and
// serialization of the wire form used in tile/tilecombine messages, and the
// geometric predicates the broker and cache use to de-duplicate and batch
// render requests.
package tiledesc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadArgument is returned when a required field is missing or malformed
// while parsing a tile descriptor from its wire tokens.
var ErrBadArgument = errors.New("tiledesc: bad argument")

// TileDesc identifies a single rendered tile.
//
// Key returns the CacheKey, the subset of fields used for cache-equality; the
// remaining fields (Version, ID, Broadcast, OldWireID, WireID) carry extra
// identity used for flow control and wire de-duplication, never consulted
// by the cache.
type TileDesc struct {
	NormalizedViewID int
	Part             int
	Width            int // render width, pixels
	Height           int // render height, pixels
	PosX             int // tile origin, twips
	PosY             int
	TileWidth        int // tile size, twips
	TileHeight       int
	Version          int // monotonic per broker; -1 if unset
	ImageSize        int // byte length of the rendered image, responses only
	ID               int // client-correlation request id; -1 if unset
	Broadcast        bool
	OldWireID        int // -1 if unset
	WireID           int // -1 if unset
}

// CacheKey is the subset of TileDesc fields that determine cache-equality.
type CacheKey struct {
	NormalizedViewID int
	Part             int
	Width            int
	Height           int
	PosX             int
	PosY             int
	TileWidth        int
	TileHeight       int
}

// Key returns the cache-equality key for this descriptor.
func (d TileDesc) Key() CacheKey {
	return CacheKey{
		NormalizedViewID: d.NormalizedViewID,
		Part:             d.Part,
		Width:            d.Width,
		Height:           d.Height,
		PosX:             d.PosX,
		PosY:             d.PosY,
		TileWidth:        d.TileWidth,
		TileHeight:       d.TileHeight,
	}
}

// field names recognized on the wire, documented in spec §6.
const (
	fieldNormalizedViewID = "nviewid"
	fieldPart             = "part"
	fieldWidth            = "width"
	fieldHeight           = "height"
	fieldPosX             = "tileposx"
	fieldPosY             = "tileposy"
	fieldTileWidth        = "tilewidth"
	fieldTileHeight       = "tileheight"
	fieldVersion          = "ver"
	fieldImageSize        = "imgsize"
	fieldID               = "id"
	fieldBroadcast        = "broadcast"
	fieldOldWireID        = "oldwid"
	fieldWireID           = "wid"
)

// Parse builds a TileDesc from space-separated `key=value` wire tokens.
// Unknown fields are ignored. Width, Height, PosX, PosY, TileWidth and
// TileHeight are required; all other fields are optional and default to
// -1 (unset) or 0/false.
func Parse(tokens []string) (TileDesc, error) {
	d := TileDesc{Version: -1, ID: -1, OldWireID: -1, WireID: -1}

	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		key, val, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		seen[key] = true

		var err error
		switch key {
		case fieldNormalizedViewID:
			d.NormalizedViewID, err = strconv.Atoi(val)
		case fieldPart:
			d.Part, err = strconv.Atoi(val)
		case fieldWidth:
			d.Width, err = strconv.Atoi(val)
		case fieldHeight:
			d.Height, err = strconv.Atoi(val)
		case fieldPosX:
			d.PosX, err = strconv.Atoi(val)
		case fieldPosY:
			d.PosY, err = strconv.Atoi(val)
		case fieldTileWidth:
			d.TileWidth, err = strconv.Atoi(val)
		case fieldTileHeight:
			d.TileHeight, err = strconv.Atoi(val)
		case fieldVersion:
			d.Version, err = strconv.Atoi(val)
		case fieldImageSize:
			d.ImageSize, err = strconv.Atoi(val)
		case fieldID:
			d.ID, err = strconv.Atoi(val)
		case fieldBroadcast:
			d.Broadcast = val == "1" || val == "true"
		case fieldOldWireID:
			d.OldWireID, err = strconv.Atoi(val)
		case fieldWireID:
			d.WireID, err = strconv.Atoi(val)
		default:
			// unknown field, ignored per contract
		}
		if err != nil {
			return TileDesc{}, fmt.Errorf("%w: field %q: %v", ErrBadArgument, key, err)
		}
	}

	for _, required := range []string{fieldWidth, fieldHeight, fieldPosX, fieldPosY, fieldTileWidth, fieldTileHeight} {
		if !seen[required] {
			return TileDesc{}, fmt.Errorf("%w: missing field %q", ErrBadArgument, required)
		}
	}

	return d, nil
}

// Serialize emits the canonical wire form, e.g. "tile nviewid=0 part=0 ...",
// omitting default/unset optional fields. prefix is the leading token
// ("tile", "tilecombine", ...); suffix, if non-empty, is appended verbatim
// (used for a trailing "renderid=cached" marker).
func (d TileDesc) Serialize(prefix, suffix string) string {
	var b strings.Builder
	b.WriteString(prefix)

	fmt.Fprintf(&b, " %s=%d", fieldNormalizedViewID, d.NormalizedViewID)
	fmt.Fprintf(&b, " %s=%d", fieldPart, d.Part)
	fmt.Fprintf(&b, " %s=%d", fieldWidth, d.Width)
	fmt.Fprintf(&b, " %s=%d", fieldHeight, d.Height)
	fmt.Fprintf(&b, " %s=%d", fieldPosX, d.PosX)
	fmt.Fprintf(&b, " %s=%d", fieldPosY, d.PosY)
	fmt.Fprintf(&b, " %s=%d", fieldTileWidth, d.TileWidth)
	fmt.Fprintf(&b, " %s=%d", fieldTileHeight, d.TileHeight)

	if d.Version >= 0 {
		fmt.Fprintf(&b, " %s=%d", fieldVersion, d.Version)
	}
	if d.ImageSize > 0 {
		fmt.Fprintf(&b, " %s=%d", fieldImageSize, d.ImageSize)
	}
	if d.ID >= 0 {
		fmt.Fprintf(&b, " %s=%d", fieldID, d.ID)
	}
	if d.Broadcast {
		fmt.Fprintf(&b, " %s=1", fieldBroadcast)
	}
	if d.OldWireID >= 0 {
		fmt.Fprintf(&b, " %s=%d", fieldOldWireID, d.OldWireID)
	}
	if d.WireID >= 0 {
		fmt.Fprintf(&b, " %s=%d", fieldWireID, d.WireID)
	}
	if suffix != "" {
		b.WriteByte(' ')
		b.WriteString(suffix)
	}

	return b.String()
}

// GenerateID returns the key used in a session's per-tile wire-id
// de-duplication map.
func (d TileDesc) GenerateID() string {
	return fmt.Sprintf("%d:%d:%d:%d:%d:%d", d.Part, d.PosX, d.PosY, d.TileWidth, d.TileHeight, d.NormalizedViewID)
}

// Rect is an axis-aligned rectangle in document twips.
type Rect struct {
	X, Y, Width, Height int
}

// Empty reports whether r has no area, used to mean "all" in invalidation.
func (r Rect) Empty() bool {
	return r.Width == 0 && r.Height == 0
}

// Intersects reports whether the tile's rectangle intersects rect. An empty
// rect is treated as covering the whole plane.
func (d TileDesc) Intersects(rect Rect) bool {
	if rect.Empty() {
		return true
	}
	ax1, ay1 := d.PosX, d.PosY
	ax2, ay2 := d.PosX+d.TileWidth, d.PosY+d.TileHeight
	bx1, by1 := rect.X, rect.Y
	bx2, by2 := rect.X+rect.Width, rect.Y+rect.Height

	return ax1 < bx2 && ax2 > bx1 && ay1 < by2 && ay2 > by1
}

// OnSameRow reports whether d and other occupy the same tile row: same
// part, same normalized view, and the same vertical grid cell.
func (d TileDesc) OnSameRow(other TileDesc) bool {
	if d.Part != other.Part || d.NormalizedViewID != other.NormalizedViewID {
		return false
	}
	if d.TileHeight == 0 || other.TileHeight == 0 {
		return d.PosY == other.PosY
	}
	return d.PosY/d.TileHeight == other.PosY/other.TileHeight
}

// maxCombineGridDistance bounds how far apart two tiles may be (in grid
// columns) and still be combined into one tilecombine request.
const maxCombineGridDistance = 16

// CanCombine reports whether d and other may be batched into a single
// tilecombine request: same part, render dimensions, tile dimensions and
// normalized view, with a grid-column distance no greater than
// maxCombineGridDistance.
func (d TileDesc) CanCombine(other TileDesc) bool {
	if d.Part != other.Part {
		return false
	}
	if d.Width != other.Width || d.Height != other.Height {
		return false
	}
	if d.TileWidth != other.TileWidth || d.TileHeight != other.TileHeight {
		return false
	}
	if d.NormalizedViewID != other.NormalizedViewID {
		return false
	}
	if d.TileWidth == 0 {
		return false
	}

	colA := d.PosX / d.TileWidth
	colB := other.PosX / other.TileWidth
	dist := colA - colB
	if dist < 0 {
		dist = -dist
	}
	return dist <= maxCombineGridDistance
}
