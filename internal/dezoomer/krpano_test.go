package dezoomer

import (
	"context"
	"testing"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

func TestKrpano_ReturnsOneImagePerSide(t *testing.T) {
	body := []byte(`<krpano>
		<image tilesize="256">
			<level tiledimagewidth="512" tiledimageheight="512">
				<left url="left_%v_%s_%c_%r.jpg"/>
				<right url="right_%v_%c_%r.jpg"/>
				<front url="front_%v_%c_%r.jpg"/>
				<back url="back_%v_%c_%r.jpg"/>
				<up url="up_%v_%c_%r.jpg"/>
				<down url="down_%v_%c_%r.jpg"/>
			</level>
		</image>
	</krpano>`)

	res, err := Krpano{}.Resolve(context.Background(), Input{URI: "https://example.com/pano.xml", Body: body})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Images) != 6 {
		t.Fatalf("expected 6 images (one per cube face), got %d", len(res.Images))
	}

	seen := map[string]bool{}
	for _, img := range res.Images {
		seen[img.Title] = true
	}
	for _, side := range []string{"left", "right", "front", "back", "up", "down"} {
		if !seen[side] {
			t.Fatalf("expected a %q image, got titles %v", side, seen)
		}
	}
}

func TestKrpano_TileURLSubstitutesSideToken(t *testing.T) {
	body := []byte(`<krpano>
		<image tilesize="256">
			<level tiledimagewidth="512" tiledimageheight="512">
				<left url="tiles/%s/l%v_%c_%r.jpg"/>
			</level>
		</image>
	</krpano>`)

	res, err := Krpano{}.Resolve(context.Background(), Input{URI: "https://example.com/pano.xml", Body: body})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(res.Images))
	}

	levels, err := res.Images[0].Levels(context.Background())
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	if len(levels) != 1 {
		t.Fatalf("expected 1 level, got %d", len(levels))
	}

	var urls []string
	levels[0].Tiles(context.Background(), func(ref zoom.TileReference) bool {
		urls = append(urls, ref.URL)
		return true
	})
	if len(urls) == 0 {
		t.Fatal("expected at least one tile")
	}
	if got := urls[0]; got != "tiles/left/l0_0_0.jpg" {
		t.Fatalf("expected side token substituted, got %q", got)
	}
}

func TestKrpano_IgnoresNonCubeFaceChildren(t *testing.T) {
	body := []byte(`<krpano>
		<image tilesize="256">
			<level tiledimagewidth="512" tiledimageheight="512">
				<left url="left_%v_%c_%r.jpg"/>
				<preview url="preview.jpg"/>
			</level>
		</image>
	</krpano>`)

	res, err := Krpano{}.Resolve(context.Background(), Input{URI: "https://example.com/pano.xml", Body: body})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Images) != 1 || res.Images[0].Title != "left" {
		t.Fatalf("expected exactly the left face, got %+v", res.Images)
	}
}
