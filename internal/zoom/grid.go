package zoom

import (
	"context"
	"net/http"
)

// RegularGrid implements the common case of a ZoomLevel tiled on a
// regular grid where every tile but the last row/column shares a fixed
// tile size. It generalizes the teacher's geographic TileRange
// (internal/tile/coords.go in the source project) to arbitrary pixel
// grids with no geographic meaning.
type RegularGrid struct {
	TitleStr      string
	WidthPx       int
	HeightPx      int
	TileW, TileH  int
	URLFunc       func(col, row int) string
	HeaderFunc    func(col, row int) map[string]string
}

func (g RegularGrid) Name() string { return g.TitleStr }
func (g RegularGrid) Width() int   { return g.WidthPx }
func (g RegularGrid) Height() int  { return g.HeightPx }

// Cols and Rows return the grid dimensions in tiles.
func (g RegularGrid) Cols() int { return ceilDiv(g.WidthPx, g.TileW) }
func (g RegularGrid) Rows() int { return ceilDiv(g.HeightPx, g.TileH) }

func (g RegularGrid) TileCount() int {
	return g.Cols() * g.Rows()
}

func (g RegularGrid) Tiles(ctx context.Context, yield func(TileReference) bool) {
	cols, rows := g.Cols(), g.Rows()
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			ref := TileReference{Col: col, Row: row, URL: g.URLFunc(col, row)}
			if g.HeaderFunc != nil {
				ref.Headers = toHeader(g.HeaderFunc(col, row))
			}
			if !yield(ref) {
				return
			}
		}
	}
}

func (g RegularGrid) TileRect(ref TileReference, decodedW, decodedH int) Rect {
	x0 := ref.Col * g.TileW
	y0 := ref.Row * g.TileH
	w := decodedW
	h := decodedH
	// Clip the last row/column to the declared image bounds rather than
	// trusting the decoder blindly (§4.2: decoder may disagree with the
	// level's declared size; the canvas clips).
	if x0+w > g.WidthPx {
		w = g.WidthPx - x0
	}
	if y0+h > g.HeightPx {
		h = g.HeightPx - y0
	}
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return Rect{X0: x0, Y0: y0, W: w, H: h}
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func toHeader(m map[string]string) http.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
