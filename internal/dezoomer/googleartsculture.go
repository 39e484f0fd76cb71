package dezoomer

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// GoogleArtsAndCulture implements the Google Arts & Culture viewer
// dezoomer (§6). Tiles are served AES-CTR-encrypted; this dezoomer
// scrapes the per-image tile grid descriptor and the decryption key
// out of the viewer page, then attaches a decryption PostProcess hook
// to every TileReference it produces rather than decrypting eagerly —
// the hook runs inside C3 right before the format decoder, per spec.md
// §6's "tile-post-processing hook" contract.
type GoogleArtsAndCulture struct{}

func (GoogleArtsAndCulture) Name() string { return "googleartsculture" }

var gacDescriptorRe = regexp.MustCompile(`(?s)"tileInfo"\s*:\s*(\{.*?\})\s*,\s*"`)

type gacTileInfo struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	TileWidth int    `json:"tileWidth"`
	TileHeight int   `json:"tileHeight"`
	BaseURL   string `json:"baseUrl"`
	KeyHex    string `json:"key"`
	IVHex     string `json:"iv"`
}

func (d GoogleArtsAndCulture) Resolve(ctx context.Context, in Input) (zoom.DezoomerResult, error) {
	if !strings.Contains(in.URI, "artsandculture.google.com") {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	m := gacDescriptorRe.FindSubmatch(in.Body)
	if m == nil {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	var info gacTileInfo
	if err := json.Unmarshal(m[1], &info); err != nil || info.Width == 0 || info.Height == 0 {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	if info.TileWidth == 0 {
		info.TileWidth = 512
	}
	if info.TileHeight == 0 {
		info.TileHeight = info.TileWidth
	}

	decrypt, err := gacDecrypter(info.KeyHex, info.IVHex)
	if err != nil {
		return zoom.DezoomerResult{}, &zoom.InputError{Msg: "googleartsculture: invalid tile key", Cause: err}
	}

	level := zoom.RegularGrid{
		TitleStr: "full resolution",
		WidthPx:  info.Width, HeightPx: info.Height,
		TileW: info.TileWidth, TileH: info.TileHeight,
		URLFunc: func(col, row int) string {
			return fmt.Sprintf("%s=x%d-y%d-z0", info.BaseURL, col, row)
		},
	}

	// Wrap the level's Tiles iterator so every yielded reference carries
	// the decryption hook, without changing RegularGrid itself.
	wrapped := decryptingLevel{RegularGrid: level, decrypt: decrypt}

	return zoom.DezoomerResult{Images: []zoom.ZoomableImage{{
		Title: "google arts & culture image",
		Levels: func(context.Context) ([]zoom.ZoomLevel, error) {
			return []zoom.ZoomLevel{wrapped}, nil
		},
	}}}, nil
}

// decryptingLevel decorates RegularGrid.Tiles, attaching a decrypt
// PostProcess hook to every reference it yields.
type decryptingLevel struct {
	zoom.RegularGrid
	decrypt func([]byte) ([]byte, error)
}

func (l decryptingLevel) Tiles(ctx context.Context, yield func(zoom.TileReference) bool) {
	l.RegularGrid.Tiles(ctx, func(ref zoom.TileReference) bool {
		ref.PostProcess = l.decrypt
		return yield(ref)
	})
}

func gacDecrypter(keyHex, ivHex string) (func([]byte) ([]byte, error), error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	return func(data []byte) ([]byte, error) {
		if len(iv) != block.BlockSize() {
			return nil, fmt.Errorf("iv length %d != block size %d", len(iv), block.BlockSize())
		}
		out := make([]byte, len(data))
		cipher.NewCTR(block, iv).XORKeyStream(out, data)
		return out, nil
	}, nil
}

