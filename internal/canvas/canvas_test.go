package canvas

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

func solidTile(x0, y0, w, h int, c color.NRGBA) Tile {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return Tile{Rect: zoom.Rect{X0: x0, Y0: y0, W: w, H: h}, Image: img}
}

func readPNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode png %s: %v", path, err)
	}
	return img
}

func TestMemoryCanvas_PaintsTilesInGrid(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.png")

	c, err := Select(Options{OutPath: out, Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	tiles := []Tile{
		solidTile(0, 0, 2, 2, color.NRGBA{R: 255, A: 255}),
		solidTile(2, 0, 2, 2, color.NRGBA{G: 255, A: 255}),
		solidTile(0, 2, 2, 2, color.NRGBA{B: 255, A: 255}),
		solidTile(2, 2, 2, 2, color.NRGBA{R: 255, G: 255, A: 255}),
	}
	for _, tl := range tiles {
		if err := c.Paint(tl); err != nil {
			t.Fatalf("Paint: %v", err)
		}
	}
	if err := c.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	img := readPNG(t, out)
	if got := img.At(0, 0); !sameColor(got, color.NRGBA{R: 255, A: 255}) {
		t.Errorf("top-left quadrant: got %+v", got)
	}
	if got := img.At(3, 3); !sameColor(got, color.NRGBA{R: 255, G: 255, A: 255}) {
		t.Errorf("bottom-right quadrant: got %+v", got)
	}
}

func TestMemoryCanvas_ClipsOutOfBoundsTile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.png")

	c, err := Select(Options{OutPath: out, Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	// Tile straddles the right/bottom edge; must clip, not panic or error.
	if err := c.Paint(solidTile(2, 2, 4, 4, color.NRGBA{R: 255, A: 255})); err != nil {
		t.Fatalf("Paint of overhanging tile: %v", err)
	}
	if err := c.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

func TestStreamingPNGCanvas_OutOfOrderArrival(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.png")

	// Construct the streaming variant directly, since Select only picks
	// it for huge/unknown sizes; the two bands arrive in shuffled order.
	c, err := NewStreamingPNGCanvas(Options{OutPath: out, Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("NewStreamingPNGCanvas: %v", err)
	}

	order := []Tile{
		solidTile(0, 2, 4, 2, color.NRGBA{B: 255, A: 255}), // bottom band
		solidTile(0, 0, 4, 2, color.NRGBA{R: 255, A: 255}), // top band
	}
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	for _, tl := range order {
		if err := c.Paint(tl); err != nil {
			t.Fatalf("Paint: %v", err)
		}
	}
	if err := c.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	img := readPNG(t, out)
	if got := img.At(0, 0); !sameColor(got, color.NRGBA{R: 255, A: 255}) {
		t.Errorf("top band: got %+v", got)
	}
	if got := img.At(0, 3); !sameColor(got, color.NRGBA{B: 255, A: 255}) {
		t.Errorf("bottom band: got %+v", got)
	}
}

func TestStreamingPNGCanvas_RowRegressionRejected(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.png")

	c, err := NewStreamingPNGCanvas(Options{OutPath: out, Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("NewStreamingPNGCanvas: %v", err)
	}

	// Complete and flush rows [0,2) first.
	if err := c.Paint(solidTile(0, 0, 4, 2, color.NRGBA{R: 255, A: 255})); err != nil {
		t.Fatalf("Paint: %v", err)
	}
	// A tile landing entirely within already-flushed rows must fail.
	err = c.Paint(solidTile(0, 0, 4, 1, color.NRGBA{G: 255, A: 255}))
	if err == nil {
		t.Fatal("expected row-regression error, got nil")
	}
	var canvasErr *zoom.CanvasError
	if !asCanvasError(err, &canvasErr) || canvasErr.Kind != zoom.CanvasRowRegression {
		t.Fatalf("expected CanvasRowRegression, got %v", err)
	}
}

func TestStreamingPNGCanvas_MissingTilesPadTransparent(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.png")

	c, err := NewStreamingPNGCanvas(Options{OutPath: out, Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("NewStreamingPNGCanvas: %v", err)
	}
	// Only the top band ever arrives (e.g. a cancelled download).
	if err := c.Paint(solidTile(0, 0, 4, 2, color.NRGBA{R: 255, A: 255})); err != nil {
		t.Fatalf("Paint: %v", err)
	}
	if err := c.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	img := readPNG(t, out)
	if got := img.At(0, 3); !sameColor(got, color.NRGBA{}) {
		t.Errorf("missing row should be fully transparent, got %+v", got)
	}
}

func TestMemoryCanvas_EmbedsAgreedICCProfile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.png")

	c, err := NewMemoryCanvas(Options{OutPath: out, Width: 2, Height: 2}, formatPNG)
	if err != nil {
		t.Fatalf("NewMemoryCanvas: %v", err)
	}

	profile := []byte("fake-zlib-compressed-icc-bytes")
	tile := solidTile(0, 0, 2, 2, color.NRGBA{R: 255, A: 255})
	tile.ICC = profile
	if err := c.Paint(tile); err != nil {
		t.Fatalf("Paint: %v", err)
	}
	if err := c.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Contains(raw, []byte("iCCP")) {
		t.Fatal("expected an iCCP chunk in the PNG output")
	}
	if !bytes.Contains(raw, profile) {
		t.Fatal("expected the profile bytes to be embedded verbatim")
	}

	// The encoder we hand-roll for this path must still produce a PNG
	// the standard decoder (and therefore any downstream consumer) can
	// read back, iCCP chunk or not.
	img := readPNG(t, out)
	if got := img.At(0, 0); !sameColor(got, color.NRGBA{R: 255, A: 255}) {
		t.Errorf("pixel data: got %+v", got)
	}
}

func TestICCAgreement_DisagreementDropsProfile(t *testing.T) {
	var a iccAgreement
	a.observe([]byte{1, 2, 3})
	a.observe([]byte{1, 2, 3})
	if a.resolved() == nil {
		t.Fatal("expected profile to survive matching observations")
	}
	a.observe([]byte{9, 9, 9})
	if a.resolved() != nil {
		t.Fatal("expected profile to be dropped after disagreement")
	}
}

func TestSelect_JPEGOverDimensionLimitFallsBackToPNG(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.jpg")

	c, err := Select(Options{OutPath: out, Width: JPEGDimensionLimit + 1, Height: 10})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if _, ok := c.(*StreamingPNGCanvas); !ok {
		t.Fatalf("expected streaming PNG canvas fallback, got %T", c)
	}
}

func sameColor(a, b color.Color) bool {
	ar, ag, ab, aa := a.RGBA()
	br, bg, bb, ba := b.RGBA()
	return ar == br && ag == bg && ab == bb && aa == ba
}

func asCanvasError(err error, target **zoom.CanvasError) bool {
	ce, ok := err.(*zoom.CanvasError)
	if !ok {
		return false
	}
	*target = ce
	return true
}
