// Package orchestrate drives a single ZoomLevel to completion: a
// bounded-concurrency pipeline of fetch -> decode -> paint (§4.4). It
// generalizes the teacher's worker.Pool (internal/worker/pool.go) from
// "one generator callback per grid tile" to the three-stage handoff
// this domain needs, while keeping the same progress-callback and
// context-cancellation shape.
package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MeKo-Tech/dezoomify-go/internal/cache"
	"github.com/MeKo-Tech/dezoomify-go/internal/canvas"
	"github.com/MeKo-Tech/dezoomify-go/internal/decode"
	"github.com/MeKo-Tech/dezoomify-go/internal/fetch"
	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// Config configures a download run.
type Config struct {
	Parallelism int
	Fetcher     *fetch.Fetcher
	Cache       *cache.Cache // nil disables the tile cache
	Logger      *slog.Logger
	// OnProgress is called after each tile (success or failure)
	// completes. total may be -1 if the level's tile count is unknown
	// up front (§3 ZoomLevel).
	OnProgress func(done, total int)
}

// Result is the structured outcome of a download (§4.4.4).
type Result struct {
	Successes int
	Failures  []zoom.TileFailure
	Total     int
}

// Download drives level to completion, painting every tile it yields
// onto cv. stop, when closed, stops new fetches (in-flight ones run to
// their own timeout) and the canvas is finalized with whatever was
// painted so far (§4.4.6); Download then returns zoom.ErrCanceled, as
// it does when ctx is done.
func Download(ctx context.Context, cfg Config, level zoom.ZoomLevel, cv canvas.Canvas, stop <-chan struct{}) (Result, error) {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	type paintJob struct {
		tile    canvas.Tile
		failure *zoom.TileFailure
	}

	sem := make(chan struct{}, cfg.Parallelism)
	paintCh := make(chan paintJob, cfg.Parallelism)
	var wg sync.WaitGroup

	var (
		mu       sync.Mutex
		done     int
		failures []zoom.TileFailure
	)
	total := level.TileCount()

	// The painter is the single goroutine permitted to mutate cv (§3
	// Ownership, §4.4.2). A CanvasError is fatal; the first one halts
	// further painting and is surfaced once every in-flight tile
	// finishes, via paintErr. The Tiles callback below reads paintErr
	// from a different goroutine, so every access goes through mu.
	var paintErr error
	painterDone := make(chan struct{})
	go func() {
		defer close(painterDone)
		for job := range paintCh {
			if job.failure != nil {
				mu.Lock()
				failures = append(failures, *job.failure)
				done++
				d, t := done, total
				mu.Unlock()
				if cfg.OnProgress != nil {
					cfg.OnProgress(d, t)
				}
				continue
			}
			if err := cv.Paint(job.tile); err != nil {
				cfg.Logger.Error("canvas paint failed; aborting download", "error", err)
				mu.Lock()
				if paintErr == nil {
					paintErr = err
				}
				done++
				d, t := done, total
				mu.Unlock()
				if cfg.OnProgress != nil {
					cfg.OnProgress(d, t)
				}
				continue
			}
			mu.Lock()
			done++
			d, t := done, total
			mu.Unlock()
			if cfg.OnProgress != nil {
				cfg.OnProgress(d, t)
			}
		}
	}()

	level.Tiles(ctx, func(ref zoom.TileReference) bool {
		select {
		case <-stop:
			return false
		case <-ctx.Done():
			return false
		default:
		}
		mu.Lock()
		pErr := paintErr
		mu.Unlock()
		if pErr != nil {
			return false
		}

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			data, fromCache, err := fetchOne(ctx, cfg, ref, stop)
			if err != nil {
				paintCh <- paintJob{failure: &zoom.TileFailure{Ref: ref, Kind: "fetch", Err: err}}
				return
			}
			if cfg.Cache != nil && !fromCache {
				ext := extensionFor(ref.URL)
				if err := cfg.Cache.Put(ref, ext, data); err != nil {
					cfg.Logger.Warn("tile cache write failed", "tile", ref.Key(), "error", err)
				}
			}

			dec, err := decode.Decode(ref, data)
			if err != nil {
				paintCh <- paintJob{failure: &zoom.TileFailure{Ref: ref, Kind: "decode", Err: err}}
				return
			}

			b := dec.Image.Bounds()
			rect := level.TileRect(ref, b.Dx(), b.Dy())
			paintCh <- paintJob{tile: canvas.Tile{Rect: rect, Image: dec.Image, ICC: dec.ICC}}
		}()
		return true
	})

	wg.Wait()
	close(paintCh)
	<-painterDone

	mu.Lock()
	res := Result{Successes: done - len(failures), Failures: failures, Total: total}
	mu.Unlock()
	if res.Total < 0 {
		res.Total = done
	}

	if paintErr != nil {
		return res, paintErr
	}

	if err := cv.Finalize(); err != nil {
		return res, fmt.Errorf("finalize canvas: %w", err)
	}

	select {
	case <-stop:
		return res, zoom.ErrCanceled
	case <-ctx.Done():
		return res, zoom.ErrCanceled
	default:
	}

	if len(res.Failures) > 0 {
		return res, &zoom.PartialDownloadError{Failures: res.Failures, Total: res.Total}
	}
	return res, nil
}

// fetchOne consults the cache before hitting the network, per the
// cache-first policy resolving spec.md §9's open question: a cache hit
// suppresses what would otherwise be a 404 (the tile is simply never
// refetched).
func fetchOne(ctx context.Context, cfg Config, ref zoom.TileReference, stop <-chan struct{}) (data []byte, fromCache bool, err error) {
	if cfg.Cache != nil {
		if b, ok := cfg.Cache.Lookup(ref); ok {
			return b, true, nil
		}
	}
	b, err := cfg.Fetcher.Fetch(ctx, ref, stop)
	if err != nil {
		return nil, false, err
	}
	return b, false, nil
}

func extensionFor(rawURL string) string {
	ext := filepath.Ext(rawURL)
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	if ext == "" {
		return ".bin"
	}
	return ext
}
