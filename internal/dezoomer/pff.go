package dezoomer

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// PFF implements the "Pyramid File Format" dezoomer (Zoom.it /
// PhotoSynth, §6): the descriptor is itself a binary .pff file fetched
// via a URL containing requestType=1. This reads just enough of its
// header — image size and tile side length — to build the grid; the
// actual tile payloads are then fetched with requestType=2&index=N.
type PFF struct{}

func (PFF) Name() string { return "pff" }

const pffMagic = uint32(0x75698160)

func (d PFF) Resolve(ctx context.Context, in Input) (zoom.DezoomerResult, error) {
	if !strings.Contains(in.URI, "requestType=1") {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	if len(in.Body) < 36 {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	magic := binary.LittleEndian.Uint32(in.Body[0:4])
	if magic != pffMagic {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}

	tileSide := int(binary.LittleEndian.Uint32(in.Body[8:12]))
	width := int(binary.LittleEndian.Uint32(in.Body[24:28]))
	height := int(binary.LittleEndian.Uint32(in.Body[28:32]))
	if tileSide <= 0 || width <= 0 || height <= 0 {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}

	base := strings.SplitN(in.URI, "?", 2)[0]
	cols := ceilDiv(width, tileSide)

	level := zoom.RegularGrid{
		TitleStr: "pff image",
		WidthPx:  width, HeightPx: height,
		TileW: tileSide, TileH: tileSide,
		URLFunc: func(col, row int) string {
			index := row*cols + col
			return fmt.Sprintf("%s?requestType=2&index=%d", base, index)
		},
	}

	return zoom.DezoomerResult{Images: []zoom.ZoomableImage{{
		Title: "pff image",
		Levels: func(context.Context) ([]zoom.ZoomLevel, error) {
			return []zoom.ZoomLevel{level}, nil
		},
	}}}, nil
}
