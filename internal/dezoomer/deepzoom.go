package dezoomer

import (
	"context"
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// dziDocument is a Microsoft DeepZoom .dzi descriptor.
type dziDocument struct {
	XMLName    xml.Name `xml:"Image"`
	Format     string   `xml:"Format,attr"`
	TileSize   int      `xml:"TileSize,attr"`
	Overlap    int      `xml:"Overlap,attr"`
	Size       dziSize  `xml:"Size"`
}

type dziSize struct {
	Width  int `xml:"Width,attr"`
	Height int `xml:"Height,attr"`
}

// DeepZoom implements the DeepZoom/DZI dezoomer (§6). A .dzi document
// only declares the full-resolution size and tile size; the pyramid
// levels are the implicit halvings down to a 1x1-pixel level 0, addressed as
// {base}_files/{level}/{col}_{row}.{format}.
type DeepZoom struct{}

func (DeepZoom) Name() string { return "deepzoom" }

func (d DeepZoom) Resolve(ctx context.Context, in Input) (zoom.DezoomerResult, error) {
	if !strings.HasSuffix(in.URI, ".dzi") && !strings.Contains(string(in.Body), "<Image") {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}

	var doc dziDocument
	if err := xml.Unmarshal(in.Body, &doc); err != nil || doc.Size.Width == 0 || doc.Size.Height == 0 {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	if doc.TileSize == 0 {
		doc.TileSize = 254
	}
	format := doc.Format
	if format == "" {
		format = "jpg"
	}

	base := strings.TrimSuffix(in.URI, ".dzi")
	filesBase := base + "_files"

	maxLevel := int(math.Ceil(math.Log2(float64(max(doc.Size.Width, doc.Size.Height)))))
	levels := make([]zoom.ZoomLevel, 0, maxLevel+1)
	for level := 0; level <= maxLevel; level++ {
		scale := math.Pow(2, float64(maxLevel-level))
		w := int(math.Ceil(float64(doc.Size.Width) / scale))
		h := int(math.Ceil(float64(doc.Size.Height) / scale))
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		lvl := level
		levels = append(levels, zoom.RegularGrid{
			TitleStr: "level " + strconv.Itoa(lvl) + " (" + strconv.Itoa(w) + "x" + strconv.Itoa(h) + ")",
			WidthPx:  w, HeightPx: h,
			TileW: doc.TileSize, TileH: doc.TileSize,
			URLFunc: func(col, row int) string {
				return fmt.Sprintf("%s/%d/%d_%d.%s", filesBase, lvl, col, row, format)
			},
		})
	}

	return zoom.DezoomerResult{
		Images: []zoom.ZoomableImage{{
			Title: "deepzoom image",
			Levels: func(context.Context) ([]zoom.ZoomLevel, error) {
				return levels, nil
			},
		}},
	}, nil
}
