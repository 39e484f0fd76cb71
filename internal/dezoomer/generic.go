package dezoomer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/dezoomify-go/internal/decode"
	"github.com/MeKo-Tech/dezoomify-go/internal/fetch"
	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
	"gopkg.in/yaml.v3"
)

var tokenPattern = regexp.MustCompile(`\{\{(\w+)(?::0(\d+))?\}\}`)

// substitute replaces every {{NAME}} or zero-padded {{NAME:0N}} token
// in template with values[NAME] (§6 URL template).
func substitute(template string, values map[string]int) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(tok string) string {
		m := tokenPattern.FindStringSubmatch(tok)
		name, pad := m[1], m[2]
		v, ok := values[strings.ToUpper(name)]
		if !ok {
			v, ok = values[name]
		}
		if !ok {
			return tok
		}
		if pad != "" {
			width, _ := strconv.Atoi(pad)
			return fmt.Sprintf("%0*d", width, v)
		}
		return strconv.Itoa(v)
	})
}

// customDescriptor is the declarative Custom YAML format (§6): a
// single tiled level described explicitly rather than discovered.
// Named variables besides X/Y are substituted as fixed single values
// — covering the common case of a custom template with a baked-in
// zoom index — since full named-range pyramids are format-specific
// plumbing out of spec.md §1's scope.
type customDescriptor struct {
	URL       string            `yaml:"url"`
	Width     int               `yaml:"width"`
	Height    int               `yaml:"height"`
	TileSize  int               `yaml:"tile_size"`
	TileWidth int               `yaml:"tile_width"`
	TileHeight int              `yaml:"tile_height"`
	Headers   map[string]string `yaml:"headers"`
	Variables map[string]int    `yaml:"variables"`
	Title     string            `yaml:"title"`
}

// Generic implements both the bare URL-template dezoomer (the
// INPUT_URI literally contains {{X}}/{{Y}} tokens) and the Custom YAML
// descriptor variant (§4.5, §6).
type Generic struct {
	// ProberFetcher is the fetcher used for grid-edge discovery
	// (Resolver.SetProberFetchConfig sets it). nil uses a fetch.Fetcher
	// built from fetch.DefaultConfig() with NoRetry().
	ProberFetcher *fetch.Fetcher
}

func (Generic) Name() string { return "generic" }

func (g Generic) Resolve(ctx context.Context, in Input) (zoom.DezoomerResult, error) {
	if len(in.Body) == 0 {
		if !strings.Contains(in.URI, "{{") {
			return zoom.DezoomerResult{}, ErrNotApplicable
		}
		return g.resolveTemplate(in.URI, nil, "custom image"), nil
	}

	if !looksLikeCustomYAML(in.Body) {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	var desc customDescriptor
	if err := yaml.Unmarshal(in.Body, &desc); err != nil || desc.URL == "" {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}

	tileW, tileH := desc.TileWidth, desc.TileHeight
	if tileW == 0 {
		tileW = desc.TileSize
	}
	if tileH == 0 {
		tileH = desc.TileSize
	}
	title := desc.Title
	if title == "" {
		title = "custom image"
	}

	if desc.Width > 0 && desc.Height > 0 && tileW > 0 && tileH > 0 {
		level := zoom.RegularGrid{
			TitleStr: title,
			WidthPx:  desc.Width, HeightPx: desc.Height,
			TileW: tileW, TileH: tileH,
			URLFunc: func(col, row int) string {
				return substitute(desc.URL, mergedVars(desc.Variables, col, row))
			},
			HeaderFunc: func(col, row int) map[string]string { return desc.Headers },
		}
		return zoom.DezoomerResult{Images: []zoom.ZoomableImage{{
			Title: title,
			Levels: func(context.Context) ([]zoom.ZoomLevel, error) {
				return []zoom.ZoomLevel{level}, nil
			},
		}}}, nil
	}

	return g.resolveTemplateWithVars(desc.URL, desc.Variables, desc.Headers, title), nil
}

func looksLikeCustomYAML(body []byte) bool {
	s := string(body)
	return strings.Contains(s, "url:") && (strings.Contains(s, "tile_size") || strings.Contains(s, "variables") || strings.Contains(s, "width:"))
}

func mergedVars(base map[string]int, col, row int) map[string]int {
	v := make(map[string]int, len(base)+2)
	for k, val := range base {
		v[k] = val
	}
	v["X"] = col
	v["Y"] = row
	return v
}

func (g Generic) resolveTemplate(template string, headers map[string]string, title string) zoom.DezoomerResult {
	return g.resolveTemplateWithVars(template, nil, headers, title)
}

// resolveTemplateWithVars produces a ZoomableImage whose Levels
// callback performs the grid-edge discovery described in §4.4.5: the
// first 404 on each axis marks that axis's boundary. This runs when
// the selector (C7) requests levels, before the orchestrator (C5)
// begins painting — satisfying the "size known before canvas
// construction" requirement documented in internal/canvas.
func (g Generic) resolveTemplateWithVars(template string, vars map[string]int, headers map[string]string, title string) zoom.DezoomerResult {
	return zoom.DezoomerResult{Images: []zoom.ZoomableImage{{
		Title: title,
		Levels: func(ctx context.Context) ([]zoom.ZoomLevel, error) {
			f := g.ProberFetcher
			if f == nil {
				cfg := fetch.DefaultConfig()
				cfg.Retry = fetch.NoRetry() // §9 Open Question: probe ignores global --retries
				f = fetch.New(cfg)
			}
			level, err := discoverGrid(ctx, f, template, vars, headers, title)
			if err != nil {
				return nil, err
			}
			return []zoom.ZoomLevel{level}, nil
		},
	}}}
}

// discoverGrid walks column 0..N of row 0 and row 0..M of column 0,
// fetching (not merely HEAD-ing) each tile so its decoded pixel size
// contributes to the running width/height sum, stopping each axis at
// its first 404 (§4.4.5, §8 scenario 5).
func discoverGrid(ctx context.Context, f *fetch.Fetcher, template string, vars map[string]int, headers map[string]string, title string) (zoom.ZoomLevel, error) {
	probe := func(col, row int) ([]byte, bool, error) {
		url := substitute(template, mergedVars(vars, col, row))
		ref := zoom.TileReference{Col: col, Row: row, URL: url, Headers: toHTTPHeader(headers)}
		data, err := f.Fetch(ctx, ref, nil)
		if err == nil {
			return data, true, nil
		}
		if fe, ok := err.(*zoom.FetchError); ok && fe.Terminal404() {
			return nil, false, nil
		}
		return nil, false, err
	}

	first, ok, err := probe(0, 0)
	if err != nil {
		return nil, &zoom.ResolverError{Kind: zoom.ResolverNoApplicableDezoomer, Msg: "generic: probing (0,0) failed", Cause: err}
	}
	if !ok {
		return nil, &zoom.InputError{Msg: "generic: no tile found at (0,0)"}
	}
	img0, err := decode.Decode(zoom.TileReference{URL: template}, first)
	if err != nil {
		return nil, &zoom.InputError{Msg: "generic: decoding (0,0) failed", Cause: err}
	}
	tileW, tileH := img0.Image.Bounds().Dx(), img0.Image.Bounds().Dy()

	width := tileW
	for col := 1; ; col++ {
		data, ok, err := probe(col, 0)
		if err != nil {
			return nil, &zoom.ResolverError{Kind: zoom.ResolverNoApplicableDezoomer, Msg: "generic: probing row-0 grid edge failed", Cause: err}
		}
		if !ok {
			break
		}
		dec, err := decode.Decode(zoom.TileReference{URL: template}, data)
		if err != nil {
			break
		}
		width += dec.Image.Bounds().Dx()
	}

	height := tileH
	for row := 1; ; row++ {
		data, ok, err := probe(0, row)
		if err != nil {
			return nil, &zoom.ResolverError{Kind: zoom.ResolverNoApplicableDezoomer, Msg: "generic: probing column-0 grid edge failed", Cause: err}
		}
		if !ok {
			break
		}
		dec, err := decode.Decode(zoom.TileReference{URL: template}, data)
		if err != nil {
			break
		}
		height += dec.Image.Bounds().Dy()
	}

	return zoom.RegularGrid{
		TitleStr: title,
		WidthPx:  width, HeightPx: height,
		TileW: tileW, TileH: tileH,
		URLFunc: func(col, row int) string {
			return substitute(template, mergedVars(vars, col, row))
		},
		HeaderFunc: func(col, row int) map[string]string { return headers },
	}, nil
}

func toHTTPHeader(m map[string]string) map[string][]string {
	if len(m) == 0 {
		return nil
	}
	h := make(map[string][]string, len(m))
	for k, v := range m {
		h[k] = []string{v}
	}
	return h
}
