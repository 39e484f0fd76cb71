package dezoomer

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// krpanoXML is the subset of a Krpano <image> descriptor this
// dezoomer needs: one or more <level> blocks, each carrying per-side
// tile templates for cube-map panoramas (§4.5.6, §6).
type krpanoXML struct {
	XMLName xml.Name    `xml:"krpano"`
	Image   krpanoImage `xml:"image"`
}

type krpanoImage struct {
	TileSize int           `xml:"tilesize,attr"`
	Levels   []krpanoLevel `xml:"level"`
}

type krpanoLevel struct {
	TiledImageWidth  int          `xml:"tiledimagewidth,attr"`
	TiledImageHeight int          `xml:"tiledimageheight,attr"`
	// Sides uses ",any" because encoding/xml field tags only ever match
	// on the first comma-separated token as an element name; a tag like
	// `xml:"left,right,front,back,up,down"` binds only <left> and leaves
	// the rest as (ignored) options. Capturing every child and filtering
	// by XMLName.Local in Resolve is what actually yields one side per
	// cube face.
	Sides []krpanoSide `xml:",any"`
}

type krpanoSide struct {
	XMLName xml.Name
	URL     string `xml:"url,attr"`
}

// krpanoSideNames are the cube-map faces a Krpano <level> element can
// carry tile templates for (§4.5.6).
var krpanoSideNames = map[string]bool{
	"left": true, "right": true, "front": true,
	"back": true, "up": true, "down": true,
}

// Krpano implements the Krpano panorama viewer dezoomer, grouping
// tile planes by logical scene/side and returning one image per scene
// (§4.5.6).
type Krpano struct{}

func (Krpano) Name() string { return "krpano" }

func (d Krpano) Resolve(ctx context.Context, in Input) (zoom.DezoomerResult, error) {
	if !strings.Contains(string(in.Body), "<krpano") {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}

	var doc krpanoXML
	if err := xml.Unmarshal(in.Body, &doc); err != nil || len(doc.Image.Levels) == 0 {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	tileSize := doc.Image.TileSize
	if tileSize == 0 {
		tileSize = 512
	}

	var images []zoom.ZoomableImage
	for _, side := range doc.Image.Levels[len(doc.Image.Levels)-1].Sides {
		sideName := side.XMLName.Local
		if !krpanoSideNames[sideName] {
			continue
		}
		template := side.URL
		var levels []zoom.ZoomLevel
		for li, lvl := range doc.Image.Levels {
			if lvl.TiledImageWidth == 0 || lvl.TiledImageHeight == 0 {
				continue
			}
			level := li
			w, h := lvl.TiledImageWidth, lvl.TiledImageHeight
			levels = append(levels, zoom.RegularGrid{
				TitleStr: fmt.Sprintf("%s level %d", sideName, level),
				WidthPx:  w, HeightPx: h,
				TileW: tileSize, TileH: tileSize,
				URLFunc: func(col, row int) string {
					return krpanoTileURL(template, sideName, level, col, row)
				},
			})
		}
		if len(levels) == 0 {
			continue
		}
		scene := sideName
		lv := levels
		images = append(images, zoom.ZoomableImage{
			Title: scene,
			Levels: func(context.Context) ([]zoom.ZoomLevel, error) {
				return lv, nil
			},
		})
	}

	if len(images) == 0 {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	return zoom.DezoomerResult{Images: images}, nil
}

// krpanoTileURL substitutes Krpano's %v/%s/%c/%r template placeholders
// (level/side/col/row) with their concrete values.
func krpanoTileURL(template, side string, level, col, row int) string {
	r := strings.NewReplacer(
		"%v", strconv.Itoa(level),
		"%s", side,
		"%c", strconv.Itoa(col),
		"%r", strconv.Itoa(row),
	)
	return r.Replace(template)
}
