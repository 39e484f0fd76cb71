package canvas

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// MemoryCanvas is a single RGBA pixel buffer of size W x H, encoded
// and written once on Finalize (§4.3 in-memory canvas).
type MemoryCanvas struct {
	opts   Options
	format outputFormat
	buf    *image.NRGBA
	icc    iccAgreement
	mu     sync.Mutex
	log    *slog.Logger
}

// NewMemoryCanvas allocates a W x H buffer. Unfilled regions default
// to fully transparent (RGBA) and are rendered black when the chosen
// format doesn't support alpha (JPEG) at Finalize time (§4.4.4).
func NewMemoryCanvas(opts Options, format outputFormat) (*MemoryCanvas, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("memory canvas requires known width/height, got %dx%d", opts.Width, opts.Height)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &MemoryCanvas{
		opts:   opts,
		format: format,
		buf:    image.NewNRGBA(image.Rect(0, 0, opts.Width, opts.Height)),
		log:    opts.Logger,
	}, nil
}

// Paint copies tile pixels into the destination rectangle, clipping
// any out-of-bounds portion (§4.3, never panics).
func (c *MemoryCanvas) Paint(tile Tile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rect, ok := clipRect(tile.Rect, c.opts.Width, c.opts.Height)
	if !ok {
		return nil
	}
	c.icc.observe(tile.ICC)

	dstRect := image.Rect(rect.X0, rect.Y0, rect.X0+rect.W, rect.Y0+rect.H)
	srcPoint := image.Point{
		X: tile.Image.Bounds().Min.X + (rect.X0 - tile.Rect.X0),
		Y: tile.Image.Bounds().Min.Y + (rect.Y0 - tile.Rect.Y0),
	}
	draw.Draw(c.buf, dstRect, tile.Image, srcPoint, draw.Src)
	return nil
}

// Finalize encodes the buffer and writes it to opts.OutPath.
func (c *MemoryCanvas) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dir := filepath.Dir(c.opts.OutPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return wrapIOErr("create output dir", err)
		}
	}

	f, err := os.Create(c.opts.OutPath)
	if err != nil {
		return wrapIOErr("create output file", err)
	}
	defer f.Close()

	switch c.format {
	case formatJPEG:
		if c.buf.Bounds().Dx() > JPEGDimensionLimit || c.buf.Bounds().Dy() > JPEGDimensionLimit {
			return &zoom.CanvasError{Kind: zoom.CanvasFormatLimitExceeded, Msg: "image exceeds JPEG dimension limit"}
		}
		quality := 100 - c.opts.Compression
		if err := jpeg.Encode(f, flattenToRGB(c.buf), &jpeg.Options{Quality: quality}); err != nil {
			return wrapEncodeErr(err)
		}
	default:
		if icc := c.icc.resolved(); icc != nil {
			c.log.Debug("embedding agreed ICC profile in PNG output")
			if err := c.encodePNGWithICC(f, icc); err != nil {
				return wrapEncodeErr(err)
			}
			break
		}
		enc := &png.Encoder{CompressionLevel: pngCompressionLevel(c.opts.Compression)}
		if err := enc.Encode(f, c.buf); err != nil {
			return wrapEncodeErr(err)
		}
	}

	c.log.Info("canvas finalized", "path", c.opts.OutPath, "width", c.buf.Bounds().Dx(), "height", c.buf.Bounds().Dy())
	return nil
}

// encodePNGWithICC writes c.buf through the streaming pngWriter instead
// of image/png's Encoder, since that encoder has no hook for an iCCP
// chunk at all. This is the only path that actually honors §4.3's
// "embed when the format supports it" for the in-memory canvas.
func (c *MemoryCanvas) encodePNGWithICC(w io.Writer, icc []byte) error {
	b := c.buf.Bounds()
	width, height := b.Dx(), b.Dy()
	pw, err := newPNGWriter(w, width, height, icc)
	if err != nil {
		return err
	}
	rowBytes := width * 4
	for y := 0; y < height; y++ {
		off := y * c.buf.Stride
		if err := pw.WriteRow(c.buf.Pix[off : off+rowBytes]); err != nil {
			return err
		}
	}
	return pw.Close()
}

// flattenToRGB composites the NRGBA buffer over black, since JPEG has
// no alpha channel (unfilled regions render black per §4.4.4).
func flattenToRGB(src *image.NRGBA) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(dst, b, src, b.Min, draw.Over)
	return dst
}

// pngCompressionLevel maps the spec's single compression byte [0,100]
// to Go's png.CompressionLevel buckets (§4.3).
func pngCompressionLevel(compression int) png.CompressionLevel {
	switch {
	case compression <= 0:
		return png.NoCompression
	case compression < 40:
		return png.BestSpeed
	case compression < 80:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}
