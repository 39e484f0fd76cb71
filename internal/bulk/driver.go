// Package bulk sequences the single-image download pipeline over a
// resolved list of images (§4.8), owning per-image outfile naming, the
// "[k/n]" progress prefix, and the resume ledger (internal/bulk.Ledger,
// a supplemental feature beyond spec.md).
package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// DownloadFunc runs the single-image pipeline (resolve level, fetch,
// decode, paint, finalize) for one image and reports its outcome.
type DownloadFunc func(ctx context.Context, img zoom.ZoomableImage, outfile string) error

// Options configures a bulk run.
type Options struct {
	OutfileTemplate string
	Logger          *slog.Logger
	Ledger          *Ledger // nil disables resume tracking
	ShowProgress    bool
}

// ImageResult records one image's outcome.
type ImageResult struct {
	Title   string
	Outfile string
	Skipped bool // already StatusDone in the ledger
	Err     error
}

// Result summarizes a bulk run; Failed is non-empty iff any image
// failed, which callers translate to a non-zero process exit (§4.8).
type Result struct {
	Total   int
	Done    []ImageResult
	Failed  []ImageResult
}

// Run iterates images, deriving each one's outfile from opts template
// and invoking download for it. Per-image failures are logged and
// accumulated rather than aborting the run.
func Run(ctx context.Context, images []zoom.ZoomableImage, opts Options, download DownloadFunc) Result {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var bar *progressbar.ProgressBar
	if opts.ShowProgress {
		bar = progressbar.Default(int64(len(images)), "downloading")
	}

	result := Result{Total: len(images)}
	for i, img := range images {
		outfile := outfileFor(opts.OutfileTemplate, i+1, len(images))
		prefix := fmt.Sprintf("[%d/%d]", i+1, len(images))

		if opts.Ledger != nil {
			status, known, err := opts.Ledger.Status(ledgerKey(img), outfile)
			if err != nil {
				logger.Warn("ledger status lookup failed", "prefix", prefix, "error", err)
			} else if known && status == StatusDone {
				logger.Info("skipping already-completed image", "prefix", prefix, "title", img.Title, "outfile", outfile)
				result.Done = append(result.Done, ImageResult{Title: img.Title, Outfile: outfile, Skipped: true})
				if bar != nil {
					bar.Add(1)
				}
				continue
			}
		}

		logger.Info("downloading image", "prefix", prefix, "title", img.Title, "outfile", outfile)
		err := download(ctx, img, outfile)

		if opts.Ledger != nil {
			if err != nil {
				if lerr := opts.Ledger.MarkFailed(ledgerKey(img), outfile, err); lerr != nil {
					logger.Warn("ledger update failed", "prefix", prefix, "error", lerr)
				}
			} else if lerr := opts.Ledger.MarkDone(ledgerKey(img), outfile); lerr != nil {
				logger.Warn("ledger update failed", "prefix", prefix, "error", lerr)
			}
		}

		if err != nil {
			logger.Error("image download failed", "prefix", prefix, "title", img.Title, "error", err)
			result.Failed = append(result.Failed, ImageResult{Title: img.Title, Outfile: outfile, Err: err})
		} else {
			result.Done = append(result.Done, ImageResult{Title: img.Title, Outfile: outfile})
		}

		if bar != nil {
			bar.Add(1)
		}
	}

	return result
}

// ledgerKey identifies an image across runs; titles aren't guaranteed
// unique or stable, so callers that need ledger resume should prefer
// wiring the originating URI through ZoomableImage construction. Until
// then, the title is the best identity a ZoomableImage carries.
func ledgerKey(img zoom.ZoomableImage) string {
	return img.Title
}

// outfileFor derives the i'th (1-based) image's output path from a
// template. With a single image the template is used verbatim; with
// several, a zero-padded "_NNNN" suffix is inserted before the
// extension (§4.8).
func outfileFor(template string, index, total int) string {
	if total <= 1 {
		return template
	}
	ext := filepath.Ext(template)
	base := strings.TrimSuffix(template, ext)
	return fmt.Sprintf("%s_%04d%s", base, index, ext)
}
