package extraction

import (
	"mime"
	"path"
	"strings"
)

const (
	MimePDF   = "application/pdf"
	MimePlain = "text/plain"
)

// NeedsOCR reports whether the content type goes to hosted OCR instead of local conversion.
func NeedsOCR(contentType string) bool {
	ct := baseType(contentType)
	return ct == MimePDF || strings.HasPrefix(ct, "image/")
}

func IsPDF(contentType string) bool { return baseType(contentType) == MimePDF }

func IsPlainText(contentType string) bool {
	ct := baseType(contentType)
	return ct == MimePlain || ct == "text/markdown" || ct == "text/csv"
}

// Supported lists the content types the service accepts for upload.
var Supported = map[string]bool{
	MimePDF:              true,
	MimePlain:            true,
	"text/markdown":      true,
	"text/csv":           true,
	"text/html":          true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/vnd.oasis.opendocument.text":                                   true,
	"application/rtf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"image/tiff":      true,
}

// DetectContentType prefers the declared type and falls back to the file extension.
func DetectContentType(declared, fileName string) string {
	ct := baseType(declared)
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	switch strings.ToLower(path.Ext(fileName)) {
	case ".md":
		return "text/markdown"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	}
	if byExt := mime.TypeByExtension(path.Ext(fileName)); byExt != "" {
		return baseType(byExt)
	}
	return "application/octet-stream"
}

func baseType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}
