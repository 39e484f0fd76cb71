package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/dezoomify-go/internal/bulk"
	"github.com/MeKo-Tech/dezoomify-go/internal/cache"
	"github.com/MeKo-Tech/dezoomify-go/internal/canvas"
	"github.com/MeKo-Tech/dezoomify-go/internal/dezoomer"
	"github.com/MeKo-Tech/dezoomify-go/internal/fetch"
	"github.com/MeKo-Tech/dezoomify-go/internal/orchestrate"
	"github.com/MeKo-Tech/dezoomify-go/internal/selector"
	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// runDownload is the root command's RunE (§6): resolve INPUT_URI into
// one or more images, select an image and a zoom level for each, and
// run the download pipeline, following the teacher's
// internal/cmd/generate.go shape (read viper config, build a
// cancellable context wired to SIGINT/SIGTERM, run, report).
func runDownload(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	bulkSource := viper.GetString("bulk")
	if bulkSource != "" {
		// --bulk names the list to resolve; a positional argument, if
		// any, is then the outfile template.
		args = append([]string{bulkSource}, args...)
	}
	input, outfile, err := parseArgs(args)
	if err != nil {
		return &exitError{code: 3, err: err}
	}

	headers, err := parseHeaders(viper.GetStringSlice("header"))
	if err != nil {
		return &exitError{code: 3, err: err}
	}

	fetchCfg := fetch.Config{
		Headers:            headers,
		Timeout:            viper.GetDuration("timeout"),
		ConnectTimeout:     viper.GetDuration("connect-timeout"),
		MaxIdlePerHost:     viper.GetInt("max-idle-per-host"),
		AcceptInvalidCerts: viper.GetBool("accept-invalid-certs"),
		MinInterval:        viper.GetDuration("min-interval"),
		Retry: fetch.RetryConfig{
			Retries: viper.GetInt("retries"),
			Delay:   viper.GetDuration("retry-delay"),
		},
		Logger: logger,
	}
	fetcher := fetch.New(fetchCfg)

	var tileCache *cache.Cache
	if dir := viper.GetString("tile-cache"); dir != "" {
		tileCache, err = cache.Open(dir)
		if err != nil {
			return &exitError{code: 1, err: fmt.Errorf("open tile cache: %w", err)}
		}
	}

	resolver := dezoomer.NewResolver(logger)
	resolver.HTTPClient = &http.Client{Timeout: viper.GetDuration("timeout")}
	resolver.SetProberFetchConfig(fetchCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received interrupt, cancelling")
		cancel()
	}()

	nonInteractive := bulkSource != ""

	levelOpts := selector.LevelOptions{
		ZoomLevel: viper.GetInt("zoom-level"),
		MaxWidth:  viper.GetInt("max-width"),
		MaxHeight: viper.GetInt("max-height"),
		Largest:   viper.GetBool("largest"),
	}

	images, err := resolver.Resolve(ctx, input, viper.GetString("dezoomer"))
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	opts := pipelineOptions{
		Fetcher:        fetcher,
		Cache:          tileCache,
		Parallelism:    viper.GetInt("parallelism"),
		Compression:    viper.GetInt("compression"),
		LevelOpts:      levelOpts,
		Interactive:    !nonInteractive,
		NonInteractive: nonInteractive,
	}

	if bulkSource != "" {
		return runBulk(ctx, images, outfile, opts)
	}

	imageIdx, err := selector.SelectImage(images, viper.GetInt("image-index"), opts.Interactive, selector.NewStdPrompter(os.Stdin, os.Stderr))
	if err != nil {
		return &exitError{code: 3, err: err}
	}
	img := images[imageIdx]

	if outfile == "" {
		outfile = defaultOutfile(img.Title)
	}

	return downloadOne(ctx, img, outfile, opts)
}

// pipelineOptions bundles the per-run configuration shared between the
// single-image and bulk code paths.
type pipelineOptions struct {
	Fetcher        *fetch.Fetcher
	Cache          *cache.Cache
	Parallelism    int
	Compression    int
	LevelOpts      selector.LevelOptions
	Interactive    bool
	NonInteractive bool
}

// downloadOne runs the single-image pipeline (§4.4): resolve levels,
// select one, build the canvas, and drive the orchestrator.
func downloadOne(ctx context.Context, img zoom.ZoomableImage, outfile string, opts pipelineOptions) error {
	levels, err := img.Levels(ctx)
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("resolve zoom levels for %q: %w", img.Title, err)}
	}

	levelOpts := opts.LevelOpts
	if opts.NonInteractive && !levelOpts.HasExplicitRule() {
		levelOpts.Largest = true // §4.8: bulk mode implies --largest absent an explicit rule
	}
	levelIdx, err := selector.SelectLevel(levels, levelOpts, opts.Interactive, selector.NewStdPrompter(os.Stdin, os.Stderr), nil)
	if err != nil {
		return &exitError{code: 3, err: err}
	}
	level := levels[levelIdx]

	cv, err := canvas.Select(canvas.Options{
		OutPath:     outfile,
		Width:       level.Width(),
		Height:      level.Height(),
		Compression: opts.Compression,
		Logger:      logger,
	})
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("create output canvas: %w", err)}
	}

	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	result, err := orchestrate.Download(ctx, orchestrate.Config{
		Parallelism: opts.Parallelism,
		Fetcher:     opts.Fetcher,
		Cache:       opts.Cache,
		Logger:      logger,
	}, level, cv, stop)

	var partial *zoom.PartialDownloadError
	if errors.As(err, &partial) {
		logger.Warn("download completed with failures", "failed", len(partial.Failures), "total", partial.Total, "outfile", outfile)
		return &exitError{code: 2, err: err}
	}
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	logger.Info("download complete", "outfile", outfile, "tiles", result.Successes, "title", img.Title)
	return nil
}

// runBulk drives internal/bulk over the resolved image list.
func runBulk(ctx context.Context, images []zoom.ZoomableImage, outfileTemplate string, opts pipelineOptions) error {
	if outfileTemplate == "" {
		outfileTemplate = "image.png"
	}

	var ledger *bulk.Ledger
	if opts.Cache != nil {
		if l, err := bulk.OpenLedger(filepath.Join(filepath.Dir(outfileTemplate), ".dezoomify-bulk.db")); err == nil {
			ledger = l
			defer ledger.Close()
		} else {
			logger.Warn("bulk resume ledger unavailable", "error", err)
		}
	}

	result := bulk.Run(ctx, images, bulk.Options{
		OutfileTemplate: outfileTemplate,
		Logger:          logger,
		Ledger:          ledger,
		ShowProgress:    true,
	}, func(ctx context.Context, img zoom.ZoomableImage, outfile string) error {
		return downloadOne(ctx, img, outfile, opts)
	})

	logger.Info("bulk run complete", "done", len(result.Done), "failed", len(result.Failed), "total", result.Total)
	if len(result.Failed) > 0 {
		return &exitError{code: 2, err: fmt.Errorf("%d/%d images failed", len(result.Failed), result.Total)}
	}
	return nil
}

func parseArgs(args []string) (input, outfile string, err error) {
	switch len(args) {
	case 0:
		return "", "", fmt.Errorf("INPUT_URI is required")
	case 1:
		return args[0], "", nil
	default:
		return args[0], args[1], nil
	}
}

func parseHeaders(raw []string) (http.Header, error) {
	h := make(http.Header)
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("invalid --header %q: expected \"Name: Value\"", line)
		}
		h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return h, nil
}

func defaultOutfile(title string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, title)
	if name == "" {
		name = "image"
	}
	return name + ".png"
}

// exitError carries the process exit code a RunE wants alongside its
// wrapped error (§6 exit codes 0/1/2/3).
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}
