// Package extraction converts uploaded documents to plain text locally.
package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/docintel/internal/core"
)

// DocconvExtractor implements core.DocumentExtractor with sajari/docconv.
type DocconvExtractor struct {
	useReadability bool
}

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

// ExtractText converts data and counts pages by form feed, minimum 1.
func (e *DocconvExtractor) ExtractText(ctx context.Context, data []byte, contentType string) (*core.ExtractedText, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var text string
	meta := map[string]string{}
	if IsPlainText(contentType) {
		text = string(data)
	} else {
		res, err := docconv.Convert(bytes.NewReader(data), contentType, e.useReadability)
		if err != nil {
			return nil, fmt.Errorf("docconv: extraction failed for content type %q: %w", contentType, err)
		}
		text = res.Body
		for k, v := range res.Meta {
			meta[k] = v
		}
	}

	// docconv emits \f between pages for formats that have them
	pages := strings.Count(text, "\f") + 1
	text = strings.TrimSpace(normalize(text))

	return &core.ExtractedText{Text: text, Pages: pages, Metadata: meta}, nil
}

// normalize drops form feeds and collapses runs of blank lines.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\f", "\n")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)
