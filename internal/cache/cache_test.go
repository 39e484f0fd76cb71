package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

func TestCache_PutThenGetRoundTrips(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ref := zoom.TileReference{Col: 0, Row: 0, URL: "https://example.com/tile/0/0.jpg"}

	if _, ok := c.Get(ref, ".jpg"); ok {
		t.Fatal("expected miss before Put")
	}

	want := []byte("tile bytes")
	if err := c.Put(ref, ".jpg", want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := c.Get(ref, ".jpg")
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCache_LookupIgnoresExtension(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ref := zoom.TileReference{URL: "https://example.com/tile/1/2.png"}
	if err := c.Put(ref, ".png", []byte("png bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, ok := c.Lookup(ref)
	if !ok {
		t.Fatal("expected Lookup hit")
	}
	if string(data) != "png bytes" {
		t.Fatalf("got %q", data)
	}
}

func TestCache_NoPartialEntryOnInterruptedWrite(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ref := zoom.TileReference{URL: "https://example.com/x.jpg"}
	if err := c.Put(ref, ".jpg", []byte("ok")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("leftover temp file: %s", e.Name())
		}
	}
}

func TestCache_DifferentHeadersProduceDifferentKeys(t *testing.T) {
	a := zoom.TileReference{URL: "https://example.com/x.jpg"}
	b := zoom.TileReference{URL: "https://example.com/x.jpg", Headers: map[string][]string{"Authorization": {"secret"}}}
	if Key(a) == Key(b) {
		t.Fatal("expected differing headers to change the cache key")
	}
}

func TestCache_Info(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ref1 := zoom.TileReference{URL: "https://example.com/1.jpg"}
	ref2 := zoom.TileReference{URL: "https://example.com/2.jpg"}
	_ = c.Put(ref1, ".jpg", []byte("abc"))
	_ = c.Put(ref2, ".jpg", []byte("de"))

	info, err := c.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Entries != 2 {
		t.Fatalf("expected 2 entries, got %d", info.Entries)
	}
	if info.Bytes != 5 {
		t.Fatalf("expected 5 bytes, got %d", info.Bytes)
	}
}
