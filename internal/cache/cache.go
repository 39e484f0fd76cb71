// Package cache is a directory-backed, content-addressed store for
// fetched tile bytes (§4.7). It has no analogue in the teacher's
// mbtiles writer (that's a single SQLite file keyed by z/x/y); this is
// instead grounded on the teacher's temp-file-then-rename write
// pattern used throughout internal/pipeline for atomic output writes,
// generalized to per-tile cache entries keyed by a URL hash.
package cache

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// Cache is a directory of content-addressed tile files.
type Cache struct {
	dir string
}

// Open returns a Cache rooted at dir, creating it if necessary.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Key derives the cache's stable key for a tile reference: a hash of
// the URL plus normalized headers, per §4.7. The extension is left for
// the caller to append via Path, since the fetched bytes' format isn't
// known until after decode.
func Key(ref zoom.TileReference) string {
	h := sha256.New()
	h.Write([]byte(ref.URL))
	for _, k := range sortedHeaderKeys(ref.Headers) {
		h.Write([]byte(k))
		for _, v := range ref.Headers[k] {
			h.Write([]byte(v))
		}
	}
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func sortedHeaderKeys(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Path returns the path a cache entry for ref would live at, given the
// file extension to use once its bytes are known (e.g. ".jpg").
func (c *Cache) Path(ref zoom.TileReference, ext string) string {
	name := Key(ref)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(c.dir, name+ext)
}

// Get reads a cached entry if present. ext must match what Put was
// called with; callers that don't know the extension ahead of time
// should glob (see Lookup).
func (c *Cache) Get(ref zoom.TileReference, ext string) ([]byte, bool) {
	data, err := os.ReadFile(c.Path(ref, ext))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Lookup finds a cached entry for ref regardless of extension, used
// when the caller (the orchestrator) doesn't yet know the tile's
// format. Returns ok=false on a cache miss.
func (c *Cache) Lookup(ref zoom.TileReference) ([]byte, bool) {
	matches, err := filepath.Glob(filepath.Join(c.dir, Key(ref)+".*"))
	if err != nil || len(matches) == 0 {
		return nil, false
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put writes data through to the cache via a temp-file-then-rename,
// so a process killed mid-write never leaves a partial entry behind
// (§4.7: "partial files... are ignored"). Put failures are for the
// caller to log; they never fail the tile (§4.7).
func (c *Cache) Put(ref zoom.TileReference, ext string, data []byte) error {
	dst := c.Path(ref, ext)
	tmp, err := os.CreateTemp(c.dir, "tile-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp cache file: %w", err)
	}
	return nil
}

// Info reports occupancy: entry count and total bytes, for the
// `cache-info` CLI convenience (SPEC_FULL.md §6).
type Info struct {
	Entries int
	Bytes   int64
}

func (c *Cache) Info() (Info, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return Info{}, fmt.Errorf("read cache dir: %w", err)
	}
	var info Info
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		info.Entries++
		info.Bytes += fi.Size()
	}
	return info, nil
}
