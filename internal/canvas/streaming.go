package canvas

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

const bytesPerPixel = 4 // RGBA, 8-bit

// StreamingPNGCanvas buffers only the currently open horizontal band
// of rows: tiles arrive in any order, and as soon as every row in the
// band is fully covered those rows are fed to the PNG encoder and the
// band slides downward (§4.3 streaming PNG canvas, the hardest
// subsystem per spec.md §9).
//
// Invariant maintained at all times: the set of not-yet-flushed rows
// is the contiguous suffix [yNext, Height). A tile landing entirely
// above yNext is a bug in the caller (out-of-order-but-non-regressing
// is violated) and fails with CanvasError{RowRegression}.
type StreamingPNGCanvas struct {
	opts Options

	mu       sync.Mutex
	yNext    int
	rows     map[int][]byte // row -> partially-filled RGBA scanline, present only while in the open band
	coverage map[int]int    // row -> covered pixel count (sum of non-overlapping rect widths)
	icc      iccAgreement
	pngw     *pngWriter
	file     *os.File
	final    bool
}

// NewStreamingPNGCanvas opens opts.OutPath and prepares to stream rows
// as they complete. Width/Height must be finalized by the time this is
// called: the Generic dezoomer's grid-edge discovery (§4.4.5) always
// completes before the orchestrator starts painting, so "size unknown
// up front" describes the dezoomer-resolution phase, not canvas
// construction.
func NewStreamingPNGCanvas(opts Options) (*StreamingPNGCanvas, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("streaming canvas requires known width/height, got %dx%d", opts.Width, opts.Height)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if dir := filepath.Dir(opts.OutPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, wrapIOErr("create output dir", err)
		}
	}
	f, err := os.Create(opts.OutPath)
	if err != nil {
		return nil, wrapIOErr("create output file", err)
	}

	return &StreamingPNGCanvas{
		opts:     opts,
		rows:     make(map[int][]byte),
		coverage: make(map[int]int),
		file:     f,
	}, nil
}

// Paint accepts a decoded tile in any order. Rows it completes are
// flushed top-to-bottom within the band; the encoder is only ever
// written to in increasing row order (§5 ordering guarantee).
func (c *StreamingPNGCanvas) Paint(tile Tile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rect, ok := clipRect(tile.Rect, c.opts.Width, c.opts.Height)
	if !ok {
		return nil
	}

	if rect.Y0+rect.H <= c.yNext {
		return &zoom.CanvasError{Kind: zoom.CanvasRowRegression, Msg: fmt.Sprintf("tile at rows [%d,%d) entirely above flushed row %d", rect.Y0, rect.Y0+rect.H, c.yNext)}
	}

	c.icc.observe(tile.ICC)

	stride := c.opts.Width * bytesPerPixel
	for y := rect.Y0; y < rect.Y0+rect.H; y++ {
		if y < c.yNext {
			continue // this particular row already flushed; only the tile's lower rows matter
		}
		row, exists := c.rows[y]
		if !exists {
			row = make([]byte, stride)
			c.rows[y] = row
		}
		srcY := tile.Image.Bounds().Min.Y + (y - tile.Rect.Y0)
		copyRowRGBA(row, rect.X0, rect.W, tile.Image, srcY, tile.Rect.X0)
		c.coverage[y] += rect.W
	}

	return c.flushReady()
}

// flushReady writes every row starting at yNext that is now fully
// covered, in order, stopping at the first incomplete or missing row.
// Must be called with c.mu held.
func (c *StreamingPNGCanvas) flushReady() error {
	for {
		cov, ok := c.coverage[c.yNext]
		if !ok || cov < c.opts.Width {
			return nil
		}
		if err := c.ensureEncoder(); err != nil {
			return err
		}
		row := c.rows[c.yNext]
		if err := c.pngw.WriteRow(row); err != nil {
			return &zoom.CanvasError{Kind: zoom.CanvasEncodeFailed, Msg: "write scanline", Cause: err}
		}
		delete(c.rows, c.yNext)
		delete(c.coverage, c.yNext)
		c.yNext++
	}
}

func (c *StreamingPNGCanvas) ensureEncoder() error {
	if c.pngw != nil {
		return nil
	}
	pw, err := newPNGWriter(c.file, c.opts.Width, c.opts.Height, c.icc.resolved())
	if err != nil {
		return wrapEncodeErr(err)
	}
	c.pngw = pw
	return nil
}

// Finalize flushes the currently-complete prefix and pads any
// remaining rows with zeros (transparent), satisfying the
// best-effort-finalize contract used both on cancellation (§5) and on
// ordinary completion when some tiles never arrived (§4.4.4).
func (c *StreamingPNGCanvas) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.final {
		return nil
	}
	c.final = true

	if err := c.ensureEncoder(); err != nil {
		return err
	}

	stride := c.opts.Width * bytesPerPixel
	for c.yNext < c.opts.Height {
		row, ok := c.rows[c.yNext]
		if !ok {
			row = make([]byte, stride) // fully transparent: zero alpha
		}
		if err := c.pngw.WriteRow(row); err != nil {
			return &zoom.CanvasError{Kind: zoom.CanvasEncodeFailed, Msg: "write padding scanline", Cause: err}
		}
		delete(c.rows, c.yNext)
		delete(c.coverage, c.yNext)
		c.yNext++
	}

	if err := c.pngw.Close(); err != nil {
		return &zoom.CanvasError{Kind: zoom.CanvasEncodeFailed, Msg: "close png stream", Cause: err}
	}
	if err := c.file.Close(); err != nil {
		return wrapIOErr("close output file", err)
	}

	c.opts.Logger.Info("streaming canvas finalized", "path", c.opts.OutPath, "width", c.opts.Width, "height", c.opts.Height)
	return nil
}

// copyRowRGBA copies w pixels from src's row srcY, starting at source
// column srcX0, into dst's row starting at pixel column dstX0. dst is
// a tightly-packed RGBA scanline.
func copyRowRGBA(dst []byte, dstX0, w int, src image.Image, srcY, srcX0 int) {
	nrgba, isNRGBA := src.(*image.NRGBA)
	for i := 0; i < w; i++ {
		var c color.NRGBA
		if isNRGBA {
			c = nrgba.NRGBAAt(srcX0+i, srcY)
		} else {
			c = color.NRGBAModel.Convert(src.At(srcX0+i, srcY)).(color.NRGBA)
		}
		off := (dstX0 + i) * bytesPerPixel
		if off+4 > len(dst) {
			break
		}
		dst[off+0] = c.R
		dst[off+1] = c.G
		dst[off+2] = c.B
		dst[off+3] = c.A
	}
}
