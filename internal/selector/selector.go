// Package selector picks one image and one zoom level out of a
// resolved image/level list (§4.6). Non-interactive rules are plain
// functions; the interactive fallback renders a small ASCII preview of
// each candidate using gift's resize pipeline, the way the teacher's
// internal/worker/progress.go renders an ASCII progress bar rather than
// reaching for a terminal-graphics library.
package selector

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"math"
	"sort"

	"github.com/disintegration/gift"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// LevelOptions mirrors the level-selecting flags of §6: at most one of
// ZoomLevel/MaxWidth+MaxHeight/Largest is meaningfully set; the first
// matching rule below wins.
type LevelOptions struct {
	ZoomLevel          int // -1 = unset
	MaxWidth, MaxHeight int // 0 = unset
	Largest            bool
}

// HasExplicitRule reports whether opts names a non-interactive rule,
// used by the bulk driver to decide whether to imply --largest (§4.8).
func (o LevelOptions) HasExplicitRule() bool {
	return o.ZoomLevel >= 0 || o.MaxWidth > 0 || o.MaxHeight > 0 || o.Largest
}

// Prompter asks the user to choose among images or levels. Production
// code uses StdPrompter; tests inject a scripted stub.
type Prompter interface {
	PromptImage(images []zoom.ZoomableImage) (int, error)
	PromptLevel(levels []zoom.ZoomLevel, previews []string) (int, error)
}

// SelectImage implements §4.6's image-selector rule chain.
func SelectImage(images []zoom.ZoomableImage, imageIndex int, interactive bool, p Prompter) (int, error) {
	if len(images) == 0 {
		return 0, fmt.Errorf("selector: no images to choose from")
	}
	if imageIndex >= 0 {
		return min(imageIndex, len(images)-1), nil
	}
	if len(images) == 1 {
		return 0, nil
	}
	if !interactive {
		return 0, nil
	}
	return p.PromptImage(images)
}

// SelectLevel implements §4.6's level-selector rule chain. thumbnail,
// if non-nil, renders a level's first tile for the interactive prompt
// preview; it may return (nil, err) when no preview is available, which
// SelectLevel treats as "no preview" rather than a fatal error.
func SelectLevel(levels []zoom.ZoomLevel, opts LevelOptions, interactive bool, p Prompter, thumbnail func(zoom.ZoomLevel) (image.Image, error)) (int, error) {
	if len(levels) == 0 {
		return 0, fmt.Errorf("selector: no levels to choose from")
	}

	if opts.ZoomLevel >= 0 {
		return min(opts.ZoomLevel, len(levels)-1), nil
	}

	if opts.MaxWidth > 0 || opts.MaxHeight > 0 {
		idx := bestFitIndex(levels, opts.MaxWidth, opts.MaxHeight)
		if idx >= 0 {
			return idx, nil
		}
		// No level satisfies both bounds; fall back to the smallest.
		return smallestIndex(levels), nil
	}

	if opts.Largest {
		return largestIndex(levels), nil
	}

	if !interactive {
		return largestIndex(levels), nil
	}

	previews := make([]string, len(levels))
	if thumbnail != nil {
		for i, lvl := range levels {
			img, err := thumbnail(lvl)
			if err != nil || img == nil {
				continue
			}
			previews[i] = RenderASCIIPreview(img, 24, 12)
		}
	}
	return p.PromptLevel(levels, previews)
}

// bestFitIndex returns the largest level whose Width/Height each stay
// within the given bounds (a bound of 0 is unconstrained), or -1 if
// none qualifies.
func bestFitIndex(levels []zoom.ZoomLevel, maxW, maxH int) int {
	best := -1
	bestArea := -1
	for i, lvl := range levels {
		if maxW > 0 && lvl.Width() > maxW {
			continue
		}
		if maxH > 0 && lvl.Height() > maxH {
			continue
		}
		area := lvl.Width() * lvl.Height()
		if area > bestArea {
			bestArea = area
			best = i
		}
	}
	return best
}

func largestIndex(levels []zoom.ZoomLevel) int {
	best := 0
	bestArea := levels[0].Width() * levels[0].Height()
	for i, lvl := range levels[1:] {
		area := lvl.Width() * lvl.Height()
		if area > bestArea {
			bestArea = area
			best = i + 1
		}
	}
	return best
}

func smallestIndex(levels []zoom.ZoomLevel) int {
	idx := make([]int, len(levels))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		la, lb := levels[idx[a]], levels[idx[b]]
		return la.Width()*la.Height() < lb.Width()*lb.Height()
	})
	return idx[0]
}

// StdPrompter prompts on stdin/stdout.
type StdPrompter struct {
	In  io.Reader
	Out io.Writer
}

func NewStdPrompter(in io.Reader, out io.Writer) *StdPrompter {
	return &StdPrompter{In: in, Out: out}
}

func (p *StdPrompter) PromptImage(images []zoom.ZoomableImage) (int, error) {
	for i, img := range images {
		fmt.Fprintf(p.Out, "%3d) %s\n", i, img.Title)
	}
	return p.readChoice(len(images))
}

func (p *StdPrompter) PromptLevel(levels []zoom.ZoomLevel, previews []string) (int, error) {
	for i, lvl := range levels {
		fmt.Fprintf(p.Out, "%3d) %s (%dx%d)\n", i, lvl.Name(), lvl.Width(), lvl.Height())
		if i < len(previews) && previews[i] != "" {
			fmt.Fprintln(p.Out, previews[i])
		}
	}
	return p.readChoice(len(levels))
}

func (p *StdPrompter) readChoice(n int) (int, error) {
	fmt.Fprintf(p.Out, "select [0-%d]: ", n-1)
	sc := bufio.NewScanner(p.In)
	if !sc.Scan() {
		return 0, fmt.Errorf("selector: no input")
	}
	var choice int
	if _, err := fmt.Sscanf(sc.Text(), "%d", &choice); err != nil {
		return 0, fmt.Errorf("selector: invalid choice %q: %w", sc.Text(), err)
	}
	if choice < 0 || choice >= n {
		return 0, fmt.Errorf("selector: choice %d out of range [0,%d]", choice, n-1)
	}
	return choice, nil
}

// asciiRamp is ordered from darkest to lightest, mirroring the block
// characters the teacher's progress bar already uses for "done" vs
// "remaining" (internal/worker/progress.go).
var asciiRamp = []rune(" .:-=+*#%@")

// RenderASCIIPreview downsamples img to cols x rows cells via gift's
// resize (box-sampling averages each output pixel, which doubles as a
// cheap per-cell luminance average) and maps each cell to a ramp
// character.
func RenderASCIIPreview(img image.Image, cols, rows int) string {
	g := gift.New(gift.Resize(cols, rows, gift.BoxResampling))
	small := image.NewNRGBA(g.Bounds(img.Bounds()))
	g.Draw(small, img)

	out := make([]byte, 0, (cols+1)*rows)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			r, gr, b, _ := small.At(x, y).RGBA()
			lum := (0.299*float64(r) + 0.587*float64(gr) + 0.114*float64(b)) / 0xffff
			idx := int(math.Round(lum * float64(len(asciiRamp)-1)))
			out = append(out, byte(asciiRamp[idx]))
		}
		out = append(out, '\n')
	}
	return string(out)
}
