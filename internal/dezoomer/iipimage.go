package dezoomer

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// IIPImage implements the IIPImage server's CVT/JTL protocol dezoomer
// (§6): the descriptor URL names the source file via a `FIF=` query
// parameter; a sibling `FIF=...&obj=Max-size&obj=Tile-size` request
// (fetched via NeedsData) reports the full size and tile size.
type IIPImage struct{}

func (IIPImage) Name() string { return "iipimage" }

func (d IIPImage) Resolve(ctx context.Context, in Input) (zoom.DezoomerResult, error) {
	u, err := url.Parse(in.URI)
	if err != nil || !strings.Contains(u.RawQuery, "FIF=") {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	fif := u.Query().Get("FIF")
	if fif == "" {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}

	base := u.Scheme + "://" + u.Host + u.Path
	metaURL := fmt.Sprintf("%s?FIF=%s&obj=Max-size&obj=Tile-size", base, url.QueryEscape(fif))
	if len(in.Body) == 0 {
		return zoom.DezoomerResult{}, &NeedsDataError{URI: metaURL}
	}

	meta := string(in.Body)
	width, height, ok1 := parseIIPField(meta, "Max-size:")
	tileW, tileH, ok2 := parseIIPField(meta, "Tile-size:")
	if !ok1 || !ok2 {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}

	level := zoom.RegularGrid{
		TitleStr: fif,
		WidthPx:  width, HeightPx: height,
		TileW: tileW, TileH: tileH,
		URLFunc: func(col, row int) string {
			cols := ceilDiv(width, tileW)
			index := row*cols + col
			return fmt.Sprintf("%s?FIF=%s&JTL=0,%d", base, url.QueryEscape(fif), index)
		},
	}

	return zoom.DezoomerResult{Images: []zoom.ZoomableImage{{
		Title: fif,
		Levels: func(context.Context) ([]zoom.ZoomLevel, error) {
			return []zoom.ZoomLevel{level}, nil
		},
	}}}, nil
}

// parseIIPField reads a "Label:W,H" line out of an IIP server's
// plain-text protocol response.
func parseIIPField(body, label string) (int, int, bool) {
	idx := strings.Index(body, label)
	if idx < 0 {
		return 0, 0, false
	}
	rest := body[idx+len(label):]
	if nl := strings.IndexAny(rest, "\r\n"); nl >= 0 {
		rest = rest[:nl]
	}
	parts := strings.SplitN(strings.TrimSpace(rest), ",", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return w, h, true
}
