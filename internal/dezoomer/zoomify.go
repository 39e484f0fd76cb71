package dezoomer

import (
	"context"
	"encoding/xml"
	"fmt"
	"math"
	"strings"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// zoomifyProperties is the ImageProperties.xml document Zoomify
// serves alongside its tile groups.
type zoomifyProperties struct {
	XMLName    xml.Name `xml:"IMAGE_PROPERTIES"`
	Width      int      `xml:"WIDTH,attr"`
	Height     int      `xml:"HEIGHT,attr"`
	TileSize   int      `xml:"TILESIZE,attr"`
	NumTiles   int      `xml:"NUMTILES,attr"`
	NumImages  int      `xml:"NUMIMAGES,attr"`
}

// Zoomify implements the Zoomify Image Format dezoomer (§6 file
// formats consumed). It only needs the contract: parse
// ImageProperties.xml, derive the tile pyramid, and produce URLs of
// the classic TileGroup{n}/{level}-{col}-{row}.jpg layout.
type Zoomify struct{}

func (Zoomify) Name() string { return "zoomify" }

func (z Zoomify) Resolve(ctx context.Context, in Input) (zoom.DezoomerResult, error) {
	if !strings.Contains(in.URI, "ImageProperties.xml") && !bytesLookLikeZoomify(in.Body) {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}

	var props zoomifyProperties
	if err := xml.Unmarshal(in.Body, &props); err != nil || props.Width == 0 || props.Height == 0 {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	if props.TileSize == 0 {
		props.TileSize = 256
	}

	base := strings.TrimSuffix(in.URI, "ImageProperties.xml")
	levels := zoomifyLevels(base, props.Width, props.Height, props.TileSize)
	title := "zoomify image"

	return zoom.DezoomerResult{
		Images: []zoom.ZoomableImage{{
			Title: title,
			Levels: func(context.Context) ([]zoom.ZoomLevel, error) {
				return levels, nil
			},
		}},
	}, nil
}

func bytesLookLikeZoomify(body []byte) bool {
	return strings.Contains(string(body), "IMAGE_PROPERTIES")
}

// zoomifyLevels builds the classic Zoomify pyramid: level 0 is the
// single-tile thumbnail, and each successive level doubles resolution
// until the full W x H is reached. Tile groups are numbered
// sequentially across the whole pyramid, 256 tiles per group.
func zoomifyLevels(base string, width, height, tileSize int) []zoom.ZoomLevel {
	maxLevel := 0
	for w, h := width, height; w > tileSize || h > tileSize; {
		w = (w + 1) / 2
		h = (h + 1) / 2
		maxLevel++
	}

	levels := make([]zoom.ZoomLevel, 0, maxLevel+1)
	tileGroupStart := 0
	for level := 0; level <= maxLevel; level++ {
		shift := maxLevel - level
		w := int(math.Ceil(float64(width) / math.Pow(2, float64(shift))))
		h := int(math.Ceil(float64(height) / math.Pow(2, float64(shift))))
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		cols := ceilDiv(w, tileSize)
		rows := ceilDiv(h, tileSize)
		group := tileGroupStart
		lvl := level
		levels = append(levels, zoom.RegularGrid{
			TitleStr: fmt.Sprintf("level %d (%dx%d)", lvl, w, h),
			WidthPx:  w, HeightPx: h,
			TileW: tileSize, TileH: tileSize,
			URLFunc: func(col, row int) string {
				tileIndex := col + row*cols
				return fmt.Sprintf("%sTileGroup%d/%d-%d-%d.jpg", base, tileGroupForIndex(group, tileIndex), lvl, col, row)
			},
		})
		tileGroupStart += cols * rows
	}
	return levels
}

// tileGroupForIndex groups tiles 256 at a time, the Zoomify default,
// numbering continuing from this level's starting tile count.
func tileGroupForIndex(levelStart, indexWithinLevel int) int {
	return (levelStart + indexWithinLevel) / 256
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
