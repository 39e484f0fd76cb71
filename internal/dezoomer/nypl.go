package dezoomer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// NYPL implements the New York Public Library digital collections
// viewer dezoomer (§6): the viewer page embeds a JSON blob describing
// a DeepZoom-style tile source; this dezoomer scrapes that blob out of
// the HTML. A blob served from a separate API endpoint is not fetched.
type NYPL struct{}

func (NYPL) Name() string { return "nypl" }

var nyplTileSourceRe = regexp.MustCompile(`(?s)"highResTileSource"\s*:\s*(\{.*?\})\s*[,}]`)

type nyplTileSource struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	TileSize int    `json:"tileSize"`
	BaseURL  string `json:"tileSourceUrl"`
}

func (d NYPL) Resolve(ctx context.Context, in Input) (zoom.DezoomerResult, error) {
	if !strings.Contains(in.URI, "digitalcollections.nypl.org") {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}

	m := nyplTileSourceRe.FindSubmatch(in.Body)
	if m == nil {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	var src nyplTileSource
	if err := json.Unmarshal(m[1], &src); err != nil || src.Width == 0 || src.Height == 0 {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	if src.TileSize == 0 {
		src.TileSize = 256
	}

	maxLevel := 0
	for w, h := src.Width, src.Height; w > src.TileSize || h > src.TileSize; {
		w, h = (w+1)/2, (h+1)/2
		maxLevel++
	}
	baseURL := strings.TrimSuffix(src.BaseURL, "_files")

	levels := make([]zoom.ZoomLevel, 0, maxLevel+1)
	for level := 0; level <= maxLevel; level++ {
		shift := maxLevel - level
		w, h := src.Width>>uint(shift), src.Height>>uint(shift)
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		lvl := level
		levels = append(levels, zoom.RegularGrid{
			TitleStr: "level " + strconv.Itoa(lvl),
			WidthPx:  w, HeightPx: h,
			TileW: src.TileSize, TileH: src.TileSize,
			URLFunc: func(col, row int) string {
				return fmt.Sprintf("%s_files/%d/%d_%d.jpg", baseURL, lvl, col, row)
			},
		})
	}

	return zoom.DezoomerResult{Images: []zoom.ZoomableImage{{
		Title: "nypl image",
		Levels: func(context.Context) ([]zoom.ZoomLevel, error) {
			return levels, nil
		},
	}}}, nil
}
