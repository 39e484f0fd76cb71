// Package dezoomer resolves an input URI (or local file) into a list
// of ZoomableImages, auto-detecting the source format or honoring an
// explicit dezoomer name (§4.5). Format parsing itself is plumbing;
// each Dezoomer only needs to satisfy the small Resolve contract. The
// shape is grounded on the teacher's OverpassDataSource
// (internal/datasource/overpass.go): fetch-or-read a body, parse it,
// return typed results, wrap every failure with context.
package dezoomer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/MeKo-Tech/dezoomify-go/internal/fetch"
	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// Input is what a Dezoomer inspects to decide applicability.
type Input struct {
	URI  string
	Body []byte
}

// ErrNotApplicable is returned by Resolve when this dezoomer's format
// signature isn't present in Input.
var ErrNotApplicable = errors.New("dezoomer: not applicable")

// NeedsDataError signals that this dezoomer recognized the input but
// needs a sibling document before it can produce a result; the
// resolver fetches URI and calls Resolve again with that body (§4.5.2).
type NeedsDataError struct {
	URI string
}

func (e *NeedsDataError) Error() string { return fmt.Sprintf("dezoomer: needs data from %s", e.URI) }

// Dezoomer maps a format-specific descriptor into zoom levels or into
// further URLs the resolver must re-resolve (§4.5, GLOSSARY).
type Dezoomer interface {
	Name() string
	Resolve(ctx context.Context, in Input) (zoom.DezoomerResult, error)
}

// DefaultMaxDepth caps DezoomerResult.ImageUrls recursion (§4.5.3).
const DefaultMaxDepth = 4

// Resolver accepts a URI and drives dezoomer auto-detection and
// recursive ImageUrls expansion.
type Resolver struct {
	Dezoomers []Dezoomer
	MaxDepth  int
	Logger    *slog.Logger
	// HTTPClient fetches remote descriptor bodies; overridable for tests.
	HTTPClient *http.Client
}

// NewResolver builds a Resolver over the standard registry (§4.5).
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		Dezoomers:  StandardRegistry(),
		MaxDepth:   DefaultMaxDepth,
		Logger:     logger,
		HTTPClient: http.DefaultClient,
	}
}

// SetProberFetchConfig rebuilds this resolver's Generic dezoomer entry
// so its grid-discovery prober (§4.4.5) shares the run's headers, TLS,
// timeout, and rate-limit settings instead of a bare
// fetch.DefaultConfig(). Retries stay disabled on the prober regardless
// of cfg: a retried probe would conflate a genuine grid-edge 404 with a
// transient failure that happened to also 404 (§9 Open Question).
func (r *Resolver) SetProberFetchConfig(cfg fetch.Config) {
	cfg.Retry = fetch.NoRetry()
	prober := fetch.New(cfg)
	for i, d := range r.Dezoomers {
		if _, ok := d.(Generic); ok {
			r.Dezoomers[i] = Generic{ProberFetcher: prober}
		}
	}
}

// Names lists registered dezoomer names, for the `dezoomers` CLI
// subcommand (SPEC_FULL.md §6).
func (r *Resolver) Names() []string {
	names := make([]string, len(r.Dezoomers))
	for i, d := range r.Dezoomers {
		names[i] = d.Name()
	}
	return names
}

// Resolve fetches uri, applies dezoomerName (or auto-detects), and
// recursively expands ImageUrls results into a flat image list.
func (r *Resolver) Resolve(ctx context.Context, uri, dezoomerName string) ([]zoom.ZoomableImage, error) {
	return r.resolve(ctx, uri, dezoomerName, 0)
}

func (r *Resolver) resolve(ctx context.Context, uri, dezoomerName string, depth int) ([]zoom.ZoomableImage, error) {
	if depth > r.MaxDepth {
		return nil, &zoom.ResolverError{Kind: zoom.ResolverDepthExceeded, Msg: fmt.Sprintf("exceeded max recursion depth %d at %s", r.MaxDepth, uri)}
	}

	// Some dezoomers (Generic's URL template)
	// are self-contained in the URI itself and don't name a fetchable
	// document; try them body-less first so a template like
	// "http://x/{{X}}-{{Y}}.jpg" is never itself requested over HTTP.
	result, err := r.apply(ctx, Input{URI: uri}, dezoomerName)
	if err != nil {
		var resolverErr *zoom.ResolverError
		if !errors.As(err, &resolverErr) || resolverErr.Kind != zoom.ResolverNoApplicableDezoomer {
			return nil, err
		}
		body, ferr := r.fetchBody(ctx, uri)
		if ferr != nil {
			return nil, &zoom.InputError{Msg: fmt.Sprintf("fetch %s", uri), Cause: ferr}
		}
		result, err = r.apply(ctx, Input{URI: uri, Body: body}, dezoomerName)
		if err != nil {
			return nil, err
		}
	}

	if result.IsTerminal() {
		return result.Images, nil
	}

	if len(result.ImageUrls) == 0 {
		return nil, &zoom.InputError{Msg: fmt.Sprintf("no applicable dezoomer for %s", uri)}
	}

	var images []zoom.ZoomableImage
	for _, u := range result.ImageUrls {
		sub, err := r.resolve(ctx, u.URL, dezoomerName, depth+1)
		if err != nil {
			return nil, err
		}
		for i := range sub {
			if sub[i].Title == "" && u.Title != "" {
				sub[i].Title = u.Title
			}
		}
		images = append(images, sub...)
	}
	return images, nil
}

// apply tries dezoomerName (if set) or every registered dezoomer in
// order, following NeedsData by fetching the requested sibling and
// retrying the same dezoomer once (§4.5.2).
func (r *Resolver) apply(ctx context.Context, in Input, dezoomerName string) (zoom.DezoomerResult, error) {
	candidates := r.Dezoomers
	if dezoomerName != "" && dezoomerName != "auto" {
		candidates = nil
		for _, d := range r.Dezoomers {
			if d.Name() == dezoomerName {
				candidates = []Dezoomer{d}
				break
			}
		}
		if candidates == nil {
			return zoom.DezoomerResult{}, &zoom.InputError{Msg: fmt.Sprintf("unknown dezoomer %q", dezoomerName)}
		}
	}

	for _, d := range candidates {
		res, err := d.Resolve(ctx, in)
		if err == nil {
			return res, nil
		}
		var needs *NeedsDataError
		if errors.As(err, &needs) {
			sibling, ferr := r.fetchBody(ctx, needs.URI)
			if ferr != nil {
				return zoom.DezoomerResult{}, &zoom.InputError{Msg: fmt.Sprintf("fetch sibling %s", needs.URI), Cause: ferr}
			}
			res, err = d.Resolve(ctx, Input{URI: needs.URI, Body: sibling})
			if err == nil {
				return res, nil
			}
		}
		if errors.Is(err, ErrNotApplicable) {
			continue
		}
		r.Logger.Debug("dezoomer resolve failed", "dezoomer", d.Name(), "error", err)
	}
	return zoom.DezoomerResult{}, &zoom.ResolverError{Kind: zoom.ResolverNoApplicableDezoomer, Msg: fmt.Sprintf("no applicable dezoomer for %s", in.URI)}
}

// fetchBody reads a local file path or performs an HTTP GET.
func (r *Resolver) fetchBody(ctx context.Context, uri string) ([]byte, error) {
	if u, err := url.Parse(uri); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, err
		}
		client := r.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: status %d", uri, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
	return os.ReadFile(strings.TrimPrefix(uri, "file://"))
}
