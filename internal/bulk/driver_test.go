package bulk

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

func testImages(n int) []zoom.ZoomableImage {
	images := make([]zoom.ZoomableImage, n)
	for i := range images {
		images[i] = zoom.ZoomableImage{Title: filepath.Join("image", string(rune('a'+i)))}
	}
	return images
}

func TestOutfileFor_SingleImageUsesTemplateVerbatim(t *testing.T) {
	if got := outfileFor("out.png", 1, 1); got != "out.png" {
		t.Fatalf("expected out.png, got %s", got)
	}
}

func TestOutfileFor_MultipleImagesGetZeroPaddedSuffix(t *testing.T) {
	cases := []struct {
		index int
		want  string
	}{
		{1, "out_0001.png"},
		{2, "out_0002.png"},
		{42, "out_0042.png"},
	}
	for _, c := range cases {
		if got := outfileFor("out.png", c.index, 3); got != c.want {
			t.Fatalf("outfileFor(index=%d) = %s, want %s", c.index, got, c.want)
		}
	}
}

func TestRun_AccumulatesSuccessesAndFailures(t *testing.T) {
	images := testImages(3)
	var seen []string
	download := func(ctx context.Context, img zoom.ZoomableImage, outfile string) error {
		seen = append(seen, outfile)
		if img.Title == images[1].Title {
			return errors.New("boom")
		}
		return nil
	}

	result := Run(context.Background(), images, Options{OutfileTemplate: "out.png"}, download)

	if len(result.Done) != 2 {
		t.Fatalf("expected 2 successes, got %d", len(result.Done))
	}
	if len(result.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(result.Failed))
	}
	if len(seen) != 3 {
		t.Fatalf("expected download invoked for all 3 images, got %d", len(seen))
	}
}

func TestRun_SkipsImagesAlreadyDoneInLedger(t *testing.T) {
	dir := t.TempDir()
	ledger, err := OpenLedger(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	defer ledger.Close()

	images := testImages(2)
	outfile0 := outfileFor("out.png", 1, 2)
	if err := ledger.MarkDone(ledgerKey(images[0]), outfile0); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	var invoked []string
	download := func(ctx context.Context, img zoom.ZoomableImage, outfile string) error {
		invoked = append(invoked, outfile)
		return nil
	}

	result := Run(context.Background(), images, Options{OutfileTemplate: "out.png", Ledger: ledger}, download)

	if len(invoked) != 1 {
		t.Fatalf("expected only the non-done image to invoke download, got %d calls", len(invoked))
	}
	if len(result.Done) != 2 {
		t.Fatalf("expected 2 done entries (1 skipped + 1 fresh), got %d", len(result.Done))
	}
	if !result.Done[0].Skipped {
		t.Fatal("expected first result to be marked skipped")
	}
}

func TestLedger_MarkFailedThenDoneOverwritesStatus(t *testing.T) {
	dir := t.TempDir()
	ledger, err := OpenLedger(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	defer ledger.Close()

	if err := ledger.MarkFailed("url", "out.png", errors.New("transient")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	status, known, err := ledger.Status("url", "out.png")
	if err != nil || !known || status != StatusFailed {
		t.Fatalf("expected StatusFailed, got %v known=%v err=%v", status, known, err)
	}

	if err := ledger.MarkDone("url", "out.png"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	status, known, err = ledger.Status("url", "out.png")
	if err != nil || !known || status != StatusDone {
		t.Fatalf("expected StatusDone after retry, got %v known=%v err=%v", status, known, err)
	}
}

func TestLedger_UnknownKeyReportsPending(t *testing.T) {
	dir := t.TempDir()
	ledger, err := OpenLedger(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	defer ledger.Close()

	status, known, err := ledger.Status("missing", "out.png")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if known {
		t.Fatal("expected unknown key to report known=false")
	}
	if status != StatusPending {
		t.Fatalf("expected StatusPending, got %v", status)
	}
}
