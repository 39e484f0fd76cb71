package canvas

import (
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/MeKo-Tech/dezoomify-go/internal/decode"
)

// IIIFCanvas writes each incoming tile as its own JPEG under the IIIF
// Image API 2.x layout (§4.3 IIIF output variant, §6 IIIF output
// layout), plus info.json and a copied-verbatim viewer.html. Unlike
// the raster canvases it has no single backing buffer: the
// destination is a directory, and "painting" means re-encoding.
type IIIFCanvas struct {
	opts Options
	mu   sync.Mutex
	seen map[string]bool
}

func NewIIIFCanvas(opts Options) (*IIIFCanvas, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(opts.OutPath, 0o755); err != nil {
		return nil, wrapIOErr("create iiif output dir", err)
	}
	return &IIIFCanvas{opts: opts, seen: make(map[string]bool)}, nil
}

// Paint re-encodes tile as a JPEG at its canonical IIIF request path:
// {out}/{W},{H}/full/{w},/0/default.jpg.
func (c *IIIFCanvas) Paint(tile Tile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rect := tile.Rect
	dirName := fmt.Sprintf("%d,%d", c.opts.Width, c.opts.Height)
	regionDir := filepath.Join(c.opts.OutPath, dirName, "full", fmt.Sprintf("%d,", rect.W), "0")
	if err := os.MkdirAll(regionDir, 0o755); err != nil {
		return wrapIOErr("create region dir", err)
	}

	img := tile.Image
	if b := img.Bounds(); b.Dx() != rect.W || b.Dy() != rect.H {
		img = decode.ClipOrPad(img, rect.W, rect.H)
	} else if _, ok := img.(*image.NRGBA); !ok {
		flat := image.NewNRGBA(b)
		draw.Draw(flat, b, img, b.Min, draw.Src)
		img = flat
	}

	data, err := decode.EncodeJPEG(img, 100-c.opts.Compression)
	if err != nil {
		return err
	}

	path := filepath.Join(regionDir, "default.jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return wrapIOErr("write iiif tile", err)
	}
	c.seen[path] = true
	return nil
}

// Finalize writes info.json and a minimal viewer.html.
func (c *IIIFCanvas) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := fmt.Sprintf(`{
  "@context": "http://iiif.io/api/image/2/context.json",
  "@id": %q,
  "protocol": "http://iiif.io/api/image",
  "width": %d,
  "height": %d,
  "profile": ["http://iiif.io/api/image/2/level0.json"]
}
`, c.opts.OutPath, c.opts.Width, c.opts.Height)
	if err := os.WriteFile(filepath.Join(c.opts.OutPath, "info.json"), []byte(info), 0o644); err != nil {
		return wrapIOErr("write info.json", err)
	}

	viewerPath := filepath.Join(c.opts.OutPath, "viewer.html")
	if _, err := os.Stat(viewerPath); os.IsNotExist(err) {
		if err := os.WriteFile(viewerPath, []byte(minimalViewerHTML), 0o644); err != nil {
			return wrapIOErr("write viewer.html", err)
		}
	}

	c.opts.Logger.Info("iiif canvas finalized", "path", c.opts.OutPath, "tiles", len(c.seen))
	return nil
}

// minimalViewerHTML is copied verbatim into every IIIF output
// directory; its markup is out of scope per spec.md §1 ("IIIF viewer
// HTML boilerplate").
const minimalViewerHTML = `<!DOCTYPE html>
<html><head><title>IIIF viewer</title></head>
<body><p>Open info.json in a IIIF-compatible viewer.</p></body></html>
`
