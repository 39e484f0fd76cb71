package dezoomer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// iiifInfo is the subset of an IIIF Image API 2.x/3.x info.json this
// dezoomer needs: full pixel size and the tile size/scale factors it
// advertises (falling back to a fixed tile grid when absent).
type iiifInfo struct {
	ID      string `json:"@id"`
	ID3     string `json:"id"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Tiles   []iiifTileInfo `json:"tiles"`
}

type iiifTileInfo struct {
	Width        int   `json:"width"`
	Height       int   `json:"height"`
	ScaleFactors []int `json:"scaleFactors"`
}

// iiifManifest is the minimal subset of a Presentation API manifest
// (v2 or v3) needed to enumerate per-canvas info.json URLs (§4.5.5).
type iiifManifest struct {
	Context  interface{}   `json:"@context"`
	Sequences []iiifSequence `json:"sequences"` // v2
	Items     []iiifCanvas   `json:"items"`      // v3
	Label     interface{}    `json:"label"`
}

type iiifSequence struct {
	Canvases []iiifCanvas `json:"canvases"`
}

type iiifCanvas struct {
	Label  interface{}   `json:"label"`
	Images []iiifV2Image `json:"images"`
	Items  []iiifV3Item  `json:"items"`
}

type iiifV2Image struct {
	Resource struct {
		Service struct {
			ID  string `json:"@id"`
			ID2 string `json:"id"`
		} `json:"service"`
	} `json:"resource"`
}

type iiifV3Item struct {
	Items []struct {
		Body struct {
			Service []struct {
				ID string `json:"id"`
			} `json:"service"`
		} `json:"body"`
	} `json:"items"`
}

// IIIF implements the International Image Interoperability Framework
// dezoomer: distinguishes a single-image info.json from a
// multi-canvas Presentation manifest and handles both (§4.5.5).
type IIIF struct{}

func (IIIF) Name() string { return "iiif" }

func (d IIIF) Resolve(ctx context.Context, in Input) (zoom.DezoomerResult, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(in.Body, &probe); err != nil {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}

	if _, hasSequences := probe["sequences"]; hasSequences {
		return d.resolveManifest(in)
	}
	if _, hasItems := probe["items"]; hasItems {
		if _, hasWidth := probe["width"]; !hasWidth {
			return d.resolveManifest(in)
		}
	}

	var info iiifInfo
	if err := json.Unmarshal(in.Body, &info); err != nil || info.Width == 0 || info.Height == 0 {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	id := info.ID
	if id == "" {
		id = info.ID3
	}
	if id == "" {
		id = strings.TrimSuffix(in.URI, "/info.json")
	}

	tileW, tileH := 512, 512
	if len(info.Tiles) > 0 {
		tileW = info.Tiles[0].Width
		tileH = info.Tiles[0].Height
		if tileH == 0 {
			tileH = tileW
		}
	}

	level := zoom.RegularGrid{
		TitleStr: "full resolution",
		WidthPx:  info.Width, HeightPx: info.Height,
		TileW: tileW, TileH: tileH,
		URLFunc: func(col, row int) string {
			x0, y0 := col*tileW, row*tileH
			w := min(tileW, info.Width-x0)
			h := min(tileH, info.Height-y0)
			return fmt.Sprintf("%s/%d,%d,%d,%d/%d,%d/0/default.jpg", id, x0, y0, w, h, w, h)
		},
	}

	return zoom.DezoomerResult{
		Images: []zoom.ZoomableImage{{
			Title: id,
			Levels: func(context.Context) ([]zoom.ZoomLevel, error) {
				return []zoom.ZoomLevel{level}, nil
			},
		}},
	}, nil
}

func (d IIIF) resolveManifest(in Input) (zoom.DezoomerResult, error) {
	var manifest iiifManifest
	if err := json.Unmarshal(in.Body, &manifest); err != nil {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}

	var urls []zoom.ImageURL
	addService := func(serviceID, label string) {
		if serviceID == "" {
			return
		}
		infoURL := strings.TrimSuffix(serviceID, "/") + "/info.json"
		urls = append(urls, zoom.ImageURL{URL: infoURL, Title: label})
	}

	for _, seq := range manifest.Sequences {
		for _, c := range seq.Canvases {
			label := labelString(c.Label)
			for _, img := range c.Images {
				id := img.Resource.Service.ID
				if id == "" {
					id = img.Resource.Service.ID2
				}
				addService(id, label)
			}
		}
	}
	for _, c := range manifest.Items {
		label := labelString(c.Label)
		for _, item := range c.Items {
			for _, sub := range item.Items {
				for _, svc := range sub.Body.Service {
					addService(svc.ID, label)
				}
			}
		}
	}

	if len(urls) == 0 {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	return zoom.DezoomerResult{ImageUrls: urls}, nil
}

// labelString flattens IIIF's polymorphic label (plain string in v2,
// a language-map in v3) into a single display string.
func labelString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		for _, vals := range t {
			if arr, ok := vals.([]interface{}); ok && len(arr) > 0 {
				if s, ok := arr[0].(string); ok {
					return s
				}
			}
		}
	}
	return ""
}
