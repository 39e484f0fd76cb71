// Package decode turns fetched tile bytes into a pixel raster (§4.2).
// It adapts the teacher's texture loader/processor
// (internal/texture/loader.go, internal/texture/processor.go): that
// package decoded fixed local texture PNGs and tiled/masked them for
// watercolor rendering; this one decodes arbitrary remote tile bytes
// in any common raster format and clips/pads the result to the
// destination rectangle the zoom level declared.
package decode

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png"

	"github.com/disintegration/gift"
	gwebp "github.com/gen2brain/webp"
	"golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

func init() {
	image.RegisterFormat("bmp", "BM", bmp.Decode, bmp.DecodeConfig)
}

// Decoded is a tile's pixel raster plus whatever ICC profile bytes
// were embedded in the source format.
type Decoded struct {
	Image image.Image
	ICC   []byte
}

// Decode decodes raw tile bytes into a Decoded raster. It is stateless
// and safe to call from many goroutines concurrently (§4.2).
func Decode(ref zoom.TileReference, data []byte) (Decoded, error) {
	if len(data) == 0 {
		return Decoded{}, &zoom.DecodeError{Ref: ref, Reason: "empty body"}
	}

	if ref.PostProcess != nil {
		processed, err := ref.PostProcess(data)
		if err != nil {
			return Decoded{}, &zoom.DecodeError{Ref: ref, Reason: "post-processing failed", Cause: err}
		}
		data = processed
	}

	// WebP gets the higher-fidelity gen2brain decoder first (handles
	// lossless + alpha + animation frame 0 reliably); the registered
	// golang.org/x/image/webp decoder is the fallback for anything that
	// trips up gen2brain's cgo-free but stricter parser.
	if looksLikeWebP(data) {
		if img, err := gwebp.Decode(bytes.NewReader(data)); err == nil {
			return Decoded{Image: img, ICC: extractICC(data)}, nil
		}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Decoded{}, &zoom.DecodeError{Ref: ref, Reason: "unsupported or corrupt image", Cause: err}
	}

	return Decoded{Image: img, ICC: extractICC(data)}, nil
}

func looksLikeWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

// extractICC pulls an embedded ICC profile out of a JPEG APP2 segment
// or a PNG iCCP chunk, if present. Returns nil when absent or when the
// format carries none (plumbing detail; best-effort only per §4.2).
// Both paths return the profile zlib-compressed, matching the
// representation PNG's iCCP chunk stores it in (compression method 0),
// so canvas.iccpPayload can embed either source's bytes unchanged.
func extractICC(data []byte) []byte {
	if icc := extractJPEGICC(data); icc != nil {
		return icc
	}
	return extractPNGICC(data)
}

// extractJPEGICC returns the profile zlib-compressed: unlike a PNG
// iCCP chunk, a JPEG APP2 ICC_PROFILE segment carries the profile raw,
// so it's compressed here to match extractPNGICC's representation.
func extractJPEGICC(data []byte) []byte {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil
	}
	const marker = "ICC_PROFILE\x00"
	var chunks [][]byte
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			break
		}
		seg := data[i+1]
		if seg == 0xD9 || seg == 0xDA { // EOI / SOS: stop, compressed data follows
			break
		}
		if i+4 > len(data) {
			break
		}
		segLen := int(data[i+2])<<8 | int(data[i+3])
		if segLen < 2 || i+2+segLen > len(data) {
			break
		}
		payload := data[i+4 : i+2+segLen]
		if seg == 0xE2 && len(payload) > len(marker)+2 && string(payload[:len(marker)]) == marker {
			chunks = append(chunks, payload[len(marker)+2:])
		}
		i += 2 + segLen
	}
	if len(chunks) == 0 {
		return nil
	}
	raw := bytes.Join(chunks, nil)

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil
	}
	if err := zw.Close(); err != nil {
		return nil
	}
	return buf.Bytes()
}

func extractPNGICC(data []byte) []byte {
	// Minimal iCCP chunk scan: not a full PNG parser (parsing internals
	// are out of scope per spec.md §1), just enough to locate the
	// profile bytes when present.
	const sig = "\x89PNG\r\n\x1a\n"
	if len(data) < 8 || string(data[:8]) != sig {
		return nil
	}
	i := 8
	for i+8 <= len(data) {
		length := int(data[i])<<24 | int(data[i+1])<<16 | int(data[i+2])<<8 | int(data[i+3])
		typ := string(data[i+4 : i+8])
		if i+8+length+4 > len(data) {
			return nil
		}
		body := data[i+8 : i+8+length]
		if typ == "iCCP" {
			nul := bytes.IndexByte(body, 0)
			if nul < 0 || nul+2 > len(body) {
				return nil
			}
			// body[nul+1] is the compression method (always 0=deflate);
			// the profile itself is zlib-compressed and left compressed
			// here since callers only need byte-equality comparison
			// across tiles (§4.3), not the decompressed bytes.
			return body[nul+2:]
		}
		if typ == "IDAT" || typ == "IEND" {
			return nil
		}
		i += 8 + length + 4
	}
	return nil
}

// ClipOrPad reconciles a decoded tile's actual pixel size with the
// size its destination rectangle declares (§4.2 edge case: the decoder
// still returns the buffer even on disagreement; this is where the
// canvas-facing clip/pad happens). Uses gift's Crop/resize machinery
// rather than hand-rolled pixel copies.
func ClipOrPad(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w <= 0 || h <= 0 {
		return out
	}

	cw, ch := b.Dx(), b.Dy()
	if cw > w {
		cw = w
	}
	if ch > h {
		ch = h
	}

	g := gift.New(gift.Crop(image.Rect(b.Min.X, b.Min.Y, b.Min.X+cw, b.Min.Y+ch)))
	cropped := image.NewNRGBA(g.Bounds(b))
	g.Draw(cropped, img)

	draw.Draw(out, cropped.Bounds(), cropped, image.Point{}, draw.Src)
	return out
}

// EncodeJPEG is a small convenience used by the IIIF canvas output
// variant (§4.3) to re-encode a painted region at a requested size.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
