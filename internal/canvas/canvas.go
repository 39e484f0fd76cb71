// Package canvas composites decoded tiles into the final output image
// and emits PNG/JPEG/IIIF tiles (§4.3). It adapts the teacher's
// internal/composite (alpha-blend compositing for watercolor layers)
// and internal/pipeline generator finalize step (mkdir + encode +
// write, with structured logging around it) to a generic tile-paint
// canvas that doesn't know anything about geography or map styling.
package canvas

import (
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// Tile is a decoded pixel buffer ready to be painted, plus its
// destination rectangle and optional ICC profile (§3 CanvasTile).
type Tile struct {
	Rect  zoom.Rect
	Image image.Image
	ICC   []byte
}

// Canvas is the write-side abstraction the orchestrator paints into.
// It is mutated by exactly one task (the painter); all others only
// call Paint through a channel handoff (§4.4, §5).
type Canvas interface {
	// Paint copies tile's pixels into the canvas at tile.Rect,
	// clipping any portion that falls outside the canvas bounds. It
	// never panics on out-of-bounds input.
	Paint(tile Tile) error
	// Finalize completes the output: encodes and writes the in-memory
	// variant, or flushes the remaining band and closes the file for
	// the streaming variant. It is called exactly once.
	Finalize() error
}

// Options configures canvas construction.
type Options struct {
	OutPath     string
	Width       int // 0 if unknown up front
	Height      int
	Compression int // 0..100, §4.3
	Logger      *slog.Logger
}

// JPEGDimensionLimit is the format limit beyond which JPEG cannot be
// used and the encoder falls back to PNG (§4.3, §8 boundary).
const JPEGDimensionLimit = 65535

// Select picks the canvas variant for opts, implementing the policy
// of §4.3: JPEG (or PNG for small images) when dimensions are known
// and within the JPEG limit and output path suggests raster output;
// the streaming PNG canvas when the image is huge, size is unknown up
// front, or the output extension is explicitly .png and dimensions
// exceed the in-memory comfort threshold.
func Select(opts Options) (Canvas, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ext := strings.ToLower(filepath.Ext(opts.OutPath))

	if ext == "" && opts.OutPath != "" && isIIIFDir(opts.OutPath) {
		return NewIIIFCanvas(opts)
	}

	unknownSize := opts.Width <= 0 || opts.Height <= 0
	overJPEGLimit := !unknownSize && (opts.Width > JPEGDimensionLimit || opts.Height > JPEGDimensionLimit)
	huge := overJPEGLimit || (!unknownSize && int64(opts.Width)*int64(opts.Height) > inMemoryPixelBudget)

	wantsJPEG := ext == ".jpg" || ext == ".jpeg"
	if wantsJPEG && overJPEGLimit {
		opts.Logger.Warn("image exceeds JPEG format limit; switching to PNG", "width", opts.Width, "height", opts.Height)
		wantsJPEG = false
	}
	if wantsJPEG && !unknownSize {
		return NewMemoryCanvas(opts, formatJPEG)
	}

	if unknownSize || huge {
		return NewStreamingPNGCanvas(opts)
	}
	return NewMemoryCanvas(opts, formatPNG)
}

// inMemoryPixelBudget is the pixel-count threshold above which PNG
// output uses the streaming PNG canvas even for images under the JPEG
// dimension limit, keeping peak memory bounded (§4.3, §8). JPEG output
// within the JPEG dimension limit always uses the in-memory canvas.
const inMemoryPixelBudget = 4096 * 4096 * 4 // ~64M pixels

func isIIIFDir(path string) bool {
	return strings.HasSuffix(path, "/") || strings.Contains(filepath.Base(path), "iiif")
}

type outputFormat int

const (
	formatPNG outputFormat = iota
	formatJPEG
)

func clipRect(r zoom.Rect, w, h int) (zoom.Rect, bool) {
	x0, y0 := r.X0, r.Y0
	x1, y1 := r.X0+r.W, r.Y0+r.H
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > w {
		x1 = w
	}
	if y1 > h {
		y1 = h
	}
	if x1 <= x0 || y1 <= y0 {
		return zoom.Rect{}, false
	}
	return zoom.Rect{X0: x0, Y0: y0, W: x1 - x0, H: y1 - y0}, true
}

// iccAgreement applies §4.3's ICC policy: embed only when every tile
// that carried a profile agrees byte-for-byte; otherwise drop it.
type iccAgreement struct {
	profile []byte
	seen    bool
	agree   bool
}

func (a *iccAgreement) observe(icc []byte) {
	if len(icc) == 0 {
		return
	}
	if !a.seen {
		a.profile = icc
		a.seen = true
		a.agree = true
		return
	}
	if a.agree && !bytesEqual(a.profile, icc) {
		a.agree = false
	}
}

func (a *iccAgreement) resolved() []byte {
	if a.seen && a.agree {
		return a.profile
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func wrapEncodeErr(err error) error {
	return &zoom.CanvasError{Kind: zoom.CanvasEncodeFailed, Msg: "encode failed", Cause: err}
}

func wrapIOErr(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}
