package storage

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DetectContentType sniffs the MIME type from magic bytes, without parameters.
func DetectContentType(data []byte) string {
	mime := mimetype.Detect(data).String()
	if idx := strings.Index(mime, ";"); idx != -1 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}

// ExtensionFor returns the canonical file extension (with dot) for a MIME type.
func ExtensionFor(mimeType string) string {
	switch mimeType {
	case "video/mp4":
		return ".mp4"
	case "image/jpeg":
		return ".jpg"
	}
	if m := mimetype.Lookup(mimeType); m != nil {
		return m.Extension()
	}
	return ""
}
