// Package zoom holds the polymorphic "zoom level" description every
// dezoomer produces and the download pipeline consumes: tile geometry,
// per-tile URLs, and the rectangle each decoded tile paints into.
package zoom

import (
	"context"
	"fmt"
	"net/http"
)

// Rect is a destination rectangle in canvas pixel space, half-open on
// the high end: it covers [X0,X0+W) x [Y0,Y0+H).
type Rect struct {
	X0, Y0 int
	W, H   int
}

// TileReference is the coordinates and absolute URL of a single tile
// within a zoom level's grid. Immutable once produced.
type TileReference struct {
	Col, Row int
	URL      string
	// Headers carries per-tile headers declared by the owning ZoomLevel
	// (e.g. an auth token embedded in the tile descriptor).
	Headers http.Header
	// PostProcess, when set, transforms the raw fetched bytes before
	// decoding (e.g. Google Arts & Culture's per-tile decryption, §6).
	// Most dezoomers leave this nil.
	PostProcess func([]byte) ([]byte, error)
}

// Key returns a stable identity for logging and for the tile cache.
func (t TileReference) Key() string {
	return fmt.Sprintf("%s[%d,%d]", t.URL, t.Col, t.Row)
}

// ZoomLevel is an opaque description of one resolution of one image.
// Implementations are produced by a Dezoomer (internal/dezoomer) and
// consumed by the download orchestrator (internal/orchestrate).
//
// A ZoomLevel is invariant: Width,Height >= 1; the union of
// destination rectangles yielded by TileRect over every reference from
// Tiles partitions [0,Width) x [0,Height) exactly; each rectangle's
// (W,H) equals the corresponding decoded tile's pixel size.
type ZoomLevel interface {
	// Name is a short human-readable label shown in the level selector.
	Name() string
	// Width and Height are the full pixel dimensions of this level.
	Width() int
	Height() int
	// TileCount is the total number of tiles in this level's grid, or
	// -1 if unknown up front.
	TileCount() int
	// Tiles yields every TileReference in this level's grid, stopping
	// early when yield returns false. The Generic dezoomer discovers its
	// grid in ZoomableImage.Levels, before its level exists, so Tiles
	// performs no discovery and reports no errors.
	Tiles(ctx context.Context, yield func(TileReference) bool)
	// TileRect returns the destination rectangle a tile paints into,
	// given its reference and its decoded pixel size.
	TileRect(ref TileReference, decodedW, decodedH int) Rect
}

// ZoomableImage is an addressable image as seen by the user: a title
// plus a non-empty ordered sequence of ZoomLevels (lowest to highest
// resolution, by convention, though callers must not rely on order
// beyond "non-empty").
type ZoomableImage struct {
	Title  string
	Levels func(ctx context.Context) ([]ZoomLevel, error)
}

// ImageURL is a single entry of a DezoomerResult's ImageUrls variant:
// a sibling URI the resolver must re-resolve, plus an optional title
// hint (e.g. an IIIF canvas label).
type ImageURL struct {
	URL   string
	Title string
}

// DezoomerResult is the tagged union a Dezoomer.Resolve returns.
// Exactly one of Images or ImageUrls is non-nil/non-empty.
type DezoomerResult struct {
	Images    []ZoomableImage
	ImageUrls []ImageURL
}

// IsTerminal reports whether this result is directly usable (Images)
// rather than requiring further resolution (ImageUrls).
func (r DezoomerResult) IsTerminal() bool {
	return len(r.Images) > 0
}
