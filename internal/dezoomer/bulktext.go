package dezoomer

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MeKo-Tech/dezoomify-go/internal/zoom"
)

// BulkText implements the bulk URL-list dezoomer (§4.5.4): its input
// is a UTF-8 text file, one URL per line, blank lines and `#` comments
// ignored, with an optional title following the first whitespace.
type BulkText struct{}

func (BulkText) Name() string { return "bulktext" }

func (d BulkText) Resolve(ctx context.Context, in Input) (zoom.DezoomerResult, error) {
	if len(in.Body) == 0 || !utf8.Valid(in.Body) {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}

	var urls []zoom.ImageURL
	sc := bufio.NewScanner(bytes.NewReader(in.Body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		url, title := line, ""
		if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
			url, title = line[:i], line[i:]
		}
		if !strings.Contains(url, "://") {
			return zoom.DezoomerResult{}, ErrNotApplicable
		}
		urls = append(urls, zoom.ImageURL{URL: url, Title: strings.TrimSpace(title)})
	}
	if err := sc.Err(); err != nil {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	if len(urls) == 0 {
		return zoom.DezoomerResult{}, ErrNotApplicable
	}
	return zoom.DezoomerResult{ImageUrls: urls}, nil
}
