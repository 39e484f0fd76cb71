package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

func TestFetcher_SuccessOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tile-bytes"))
	}))
	defer srv.Close()

	f := New(DefaultConfig())
	ref := zoom.TileReference{Col: 0, Row: 0, URL: srv.URL + "/0-0.jpg"}

	data, err := f.Fetch(context.Background(), ref, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "tile-bytes" {
		t.Fatalf("unexpected body: %q", data)
	}
}

func TestFetcher_404NeverRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Retry = RetryConfig{Retries: 3, Delay: time.Millisecond}
	f := New(cfg)
	ref := zoom.TileReference{URL: srv.URL + "/x.jpg"}

	_, err := f.Fetch(context.Background(), ref, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	fe, ok := err.(*zoom.FetchError)
	if !ok || !fe.Terminal404() {
		t.Fatalf("expected terminal 404, got %#v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected exactly 1 attempt on 404, got %d", hits.Load())
	}
}

func TestFetcher_RetriesOn500ThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Retry = RetryConfig{Retries: 3, Delay: time.Millisecond}
	f := New(cfg)
	ref := zoom.TileReference{URL: srv.URL + "/x.jpg"}

	data, err := f.Fetch(context.Background(), ref, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "ok" {
		t.Fatalf("unexpected body: %q", data)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestFetcher_DefaultHeadersInjected(t *testing.T) {
	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(DefaultConfig())
	ref := zoom.TileReference{URL: srv.URL + "/x.jpg"}
	_, err := f.Fetch(context.Background(), ref, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUA != defaultUserAgent {
		t.Fatalf("expected default UA, got %q", gotUA)
	}
	if gotReferer == "" {
		t.Fatal("expected synthesized Referer")
	}
}

func TestFetcher_RejectsOversizedBody(t *testing.T) {
	orig := maxBodyBytes
	maxBodyBytes = 8
	defer func() { maxBodyBytes = orig }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this response is way over the cap"))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Retry = NoRetry()
	f := New(cfg)
	ref := zoom.TileReference{URL: srv.URL + "/x.jpg"}

	_, err := f.Fetch(context.Background(), ref, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	fe, ok := err.(*zoom.FetchError)
	if !ok || fe.Kind != zoom.FetchBodyTooLarge {
		t.Fatalf("expected FetchBodyTooLarge, got %#v", err)
	}
}

func TestHostLimiter_EnforcesMinInterval(t *testing.T) {
	l := NewHostLimiter(30 * time.Millisecond)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if !l.Wait("example.com", nil) {
			t.Fatal("unexpected stop")
		}
	}
	elapsed := time.Since(start)
	if elapsed < 60*time.Millisecond {
		t.Fatalf("expected at least 60ms for 3 starts at 30ms interval, got %v", elapsed)
	}
}
