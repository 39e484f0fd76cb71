package canvas

import (
	"bufio"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"io"
)

// pngWriter emits a PNG file one scanline at a time without ever
// holding the full raster in memory — the hard requirement behind the
// streaming canvas (§4.3, §8: "a generated... larger than RAM"). The
// stdlib image/png package only exposes whole-image Encode, so this is
// a minimal from-scratch encoder: 8-bit RGBA, non-interlaced, filter
// type 0 (None) on every scanline. Correctness over ratio: we trade a
// little compression for a trivially-correct streaming implementation.
type pngWriter struct {
	w      io.Writer
	width  int
	height int
	zw     *zlib.Writer
	idat   *idatChunkWriter
	closed bool
}

const idatChunkSize = 32 * 1024

func newPNGWriter(w io.Writer, width, height int, icc []byte) (*pngWriter, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write([]byte("\x89PNG\r\n\x1a\n")); err != nil {
		return nil, err
	}
	if err := writeChunk(bw, "IHDR", ihdrPayload(width, height)); err != nil {
		return nil, err
	}
	if len(icc) > 0 {
		if err := writeChunk(bw, "iCCP", iccpPayload(icc)); err != nil {
			return nil, err
		}
	}

	idat := &idatChunkWriter{w: bw}
	zw := zlib.NewWriter(idat)

	return &pngWriter{w: bw, width: width, height: height, zw: zw, idat: idat}, nil
}

// WriteRow writes one fully-formed RGBA scanline (len == width*4).
func (p *pngWriter) WriteRow(row []byte) error {
	if _, err := p.zw.Write([]byte{0}); err != nil { // filter type: None
		return err
	}
	_, err := p.zw.Write(row)
	return err
}

// Close flushes the compressed stream, emits the final IDAT(s) and the
// IEND chunk, and flushes the underlying buffered writer.
func (p *pngWriter) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.zw.Close(); err != nil {
		return err
	}
	if err := p.idat.flush(); err != nil {
		return err
	}
	bw := p.w.(*bufio.Writer)
	if err := writeChunk(bw, "IEND", nil); err != nil {
		return err
	}
	return bw.Flush()
}

func ihdrPayload(width, height int) []byte {
	b := make([]byte, 13)
	binary.BigEndian.PutUint32(b[0:4], uint32(width))
	binary.BigEndian.PutUint32(b[4:8], uint32(height))
	b[8] = 8    // bit depth
	b[9] = 6    // color type: truecolor with alpha
	b[10] = 0   // compression method
	b[11] = 0   // filter method
	b[12] = 0   // interlace method: none
	return b
}

func iccpPayload(icc []byte) []byte {
	// Profile name "icc", null separator, compression method 0, then
	// the profile itself, which decode.extractICC always returns
	// already zlib-compressed (both the PNG and JPEG extraction paths).
	payload := append([]byte("icc\x00\x00"), icc...)
	return payload
}

func writeChunk(w io.Writer, typ string, data []byte) error {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(data)
	if _, err := io.WriteString(w, typ); err != nil {
		return err
	}
	if len(data) > 0 {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	_, err := w.Write(sum[:])
	return err
}

// idatChunkWriter buffers compressed bytes up to idatChunkSize and
// flushes each buffer as one complete IDAT chunk, so the PNG stream is
// written incrementally rather than as one giant in-memory chunk.
type idatChunkWriter struct {
	w   io.Writer
	buf []byte
}

func (c *idatChunkWriter) Write(p []byte) (int, error) {
	c.buf = append(c.buf, p...)
	for len(c.buf) >= idatChunkSize {
		if err := writeChunk(c.w, "IDAT", c.buf[:idatChunkSize]); err != nil {
			return 0, err
		}
		c.buf = c.buf[idatChunkSize:]
	}
	return len(p), nil
}

func (c *idatChunkWriter) flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	err := writeChunk(c.w, "IDAT", c.buf)
	c.buf = nil
	return err
}
