package core

import "context"

// ExtractedText represents the result of text extraction, potentially with metadata.
type ExtractedText struct {
	Text     string
	Pages    int
	Metadata map[string]string
}

// DocumentExtractor converts non-scanned documents (text, office formats, html) locally.
// The contentType hint helps the extractor choose the right parsing strategy.
type DocumentExtractor interface {
	ExtractText(ctx context.Context, data []byte, contentType string) (*ExtractedText, error)
}
