package extraction

import (
	"context"
	"testing"
)

func TestExtractTextPlainCountsFormFeeds(t *testing.T) {
	e := NewDocconvExtractor(false)
	data := []byte("Page one\r\n\r\n\r\nstill one\fPage two\fPage three\n")
	out, err := e.ExtractText(context.Background(), data, "text/plain; charset=utf-8")
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if out.Pages != 3 {
		t.Errorf("pages = %d, want 3", out.Pages)
	}
	want := "Page one\n\nstill one\nPage two\nPage three"
	if out.Text != want {
		t.Errorf("text = %q, want %q", out.Text, want)
	}
}

func TestExtractTextHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDocconvExtractor(false).ExtractText(ctx, []byte("x"), MimePlain); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestNeedsOCR(t *testing.T) {
	tests := map[string]bool{
		"application/pdf":          true,
		"image/png":                true,
		"IMAGE/JPEG":               true,
		"text/plain":               false,
		"text/html; charset=utf-8": false,
		"application/msword":       false,
	}
	for ct, want := range tests {
		if got := NeedsOCR(ct); got != want {
			t.Errorf("NeedsOCR(%q) = %v, want %v", ct, got, want)
		}
	}
}

func TestDetectContentType(t *testing.T) {
	if got := DetectContentType("application/octet-stream", "notes.md"); got != "text/markdown" {
		t.Errorf("got %q", got)
	}
	if got := DetectContentType("application/pdf", "x.bin"); got != MimePDF {
		t.Errorf("got %q", got)
	}
	if got := DetectContentType("", "plan.pdf"); got != MimePDF {
		t.Errorf("got %q", got)
	}
}

func TestPDFPageCountRejectsGarbage(t *testing.T) {
	if _, err := PDFPageCount([]byte("not a pdf")); err == nil {
		t.Fatal("expected error")
	}
}
