package selector

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

type fakeLevel struct {
	name       string
	w, h       int
	tileW, tileH int
}

func (l fakeLevel) Name() string    { return l.name }
func (l fakeLevel) Width() int      { return l.w }
func (l fakeLevel) Height() int     { return l.h }
func (l fakeLevel) TileCount() int  { return 1 }
func (l fakeLevel) Tiles(ctx context.Context, yield func(zoom.TileReference) bool) {}
func (l fakeLevel) TileRect(ref zoom.TileReference, dw, dh int) zoom.Rect {
	return zoom.Rect{W: l.w, H: l.h}
}

func levels() []zoom.ZoomLevel {
	return []zoom.ZoomLevel{
		fakeLevel{name: "level 0", w: 100, h: 80},
		fakeLevel{name: "level 1", w: 400, h: 320},
		fakeLevel{name: "level 2", w: 1600, h: 1280},
	}
}

func TestSelectImage_ExplicitIndexClamps(t *testing.T) {
	images := []zoom.ZoomableImage{{Title: "a"}, {Title: "b"}}
	idx, err := SelectImage(images, 5, false, nil)
	if err != nil {
		t.Fatalf("SelectImage: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected clamp to last index 1, got %d", idx)
	}
}

func TestSelectImage_SingleImageShortcut(t *testing.T) {
	images := []zoom.ZoomableImage{{Title: "only"}}
	idx, err := SelectImage(images, -1, true, nil)
	if err != nil {
		t.Fatalf("SelectImage: %v", err)
	}
	if idx != 0 {
		t.Fatalf("expected index 0, got %d", idx)
	}
}

func TestSelectImage_NonInteractiveDefaultsFirst(t *testing.T) {
	images := []zoom.ZoomableImage{{Title: "a"}, {Title: "b"}, {Title: "c"}}
	idx, err := SelectImage(images, -1, false, nil)
	if err != nil {
		t.Fatalf("SelectImage: %v", err)
	}
	if idx != 0 {
		t.Fatalf("expected default first image, got %d", idx)
	}
}

func TestSelectLevel_ExplicitZoomLevelClamps(t *testing.T) {
	idx, err := SelectLevel(levels(), LevelOptions{ZoomLevel: 99}, false, nil, nil)
	if err != nil {
		t.Fatalf("SelectLevel: %v", err)
	}
	if idx != 2 {
		t.Fatalf("expected clamp to last level, got %d", idx)
	}
}

func TestSelectLevel_MaxWidthHeightPicksLargestFitting(t *testing.T) {
	idx, err := SelectLevel(levels(), LevelOptions{MaxWidth: 500, MaxHeight: 400}, false, nil, nil)
	if err != nil {
		t.Fatalf("SelectLevel: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected level 1 (400x320) to be the largest fit, got %d", idx)
	}
}

func TestSelectLevel_MaxWidthHeightNoneFitFallsBackToSmallest(t *testing.T) {
	idx, err := SelectLevel(levels(), LevelOptions{MaxWidth: 10, MaxHeight: 10}, false, nil, nil)
	if err != nil {
		t.Fatalf("SelectLevel: %v", err)
	}
	if idx != 0 {
		t.Fatalf("expected smallest level 0 as fallback, got %d", idx)
	}
}

func TestSelectLevel_LargestPicksHighestPixelCount(t *testing.T) {
	idx, err := SelectLevel(levels(), LevelOptions{Largest: true}, false, nil, nil)
	if err != nil {
		t.Fatalf("SelectLevel: %v", err)
	}
	if idx != 2 {
		t.Fatalf("expected largest level 2, got %d", idx)
	}
}

func TestSelectLevel_NonInteractiveDefaultsToLargest(t *testing.T) {
	idx, err := SelectLevel(levels(), LevelOptions{ZoomLevel: -1}, false, nil, nil)
	if err != nil {
		t.Fatalf("SelectLevel: %v", err)
	}
	if idx != 2 {
		t.Fatalf("expected largest as non-interactive default, got %d", idx)
	}
}

type stubPrompter struct {
	imageChoice int
	levelChoice int
}

func (s stubPrompter) PromptImage(images []zoom.ZoomableImage) (int, error) { return s.imageChoice, nil }
func (s stubPrompter) PromptLevel(levels []zoom.ZoomLevel, previews []string) (int, error) {
	return s.levelChoice, nil
}

func TestSelectLevel_InteractiveUsesPrompter(t *testing.T) {
	idx, err := SelectLevel(levels(), LevelOptions{ZoomLevel: -1}, true, stubPrompter{levelChoice: 1}, nil)
	if err != nil {
		t.Fatalf("SelectLevel: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected prompter's choice 1, got %d", idx)
	}
}

func TestStdPrompter_ReadsValidChoice(t *testing.T) {
	var out bytes.Buffer
	p := NewStdPrompter(strings.NewReader("1\n"), &out)
	idx, err := p.PromptImage([]zoom.ZoomableImage{{Title: "a"}, {Title: "b"}})
	if err != nil {
		t.Fatalf("PromptImage: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected choice 1, got %d", idx)
	}
	if !strings.Contains(out.String(), "a") || !strings.Contains(out.String(), "b") {
		t.Fatalf("expected both titles listed, got %q", out.String())
	}
}

func TestStdPrompter_RejectsOutOfRangeChoice(t *testing.T) {
	var out bytes.Buffer
	p := NewStdPrompter(strings.NewReader("9\n"), &out)
	if _, err := p.PromptImage([]zoom.ZoomableImage{{Title: "a"}}); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestRenderASCIIPreview_ProducesExpectedGrid(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	preview := RenderASCIIPreview(img, 8, 4)
	lines := strings.Split(strings.TrimRight(preview, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(lines))
	}
	for _, line := range lines {
		if len(line) != 8 {
			t.Fatalf("expected 8 cols, got %d (%q)", len(line), line)
		}
	}
	// A solid white image should render as the brightest ramp character.
	if !strings.Contains(preview, string(asciiRamp[len(asciiRamp)-1])) {
		t.Fatalf("expected brightest ramp char in all-white preview, got %q", preview)
	}
}

func TestHasExplicitRule(t *testing.T) {
	cases := []struct {
		opts LevelOptions
		want bool
	}{
		{LevelOptions{ZoomLevel: -1}, false},
		{LevelOptions{ZoomLevel: 0}, true},
		{LevelOptions{MaxWidth: 100}, true},
		{LevelOptions{Largest: true}, true},
	}
	for _, c := range cases {
		if got := c.opts.HasExplicitRule(); got != c.want {
			t.Fatalf("HasExplicitRule(%+v) = %v, want %v", c.opts, got, c.want)
		}
	}
}
