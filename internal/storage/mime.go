package storage

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DetectContentType sniffs data's magic bytes and returns the media type
// without parameters and its canonical file extension. Unknown content
// yields application/octet-stream and an empty extension.
func DetectContentType(data []byte) (contentType, ext string) {
	m := mimetype.Detect(data)
	contentType, _, _ = strings.Cut(m.String(), ";")
	return strings.TrimSpace(contentType), m.Extension()
}

// ResultType maps a media type to a result type (image, video, audio or file).
func ResultType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	default:
		return "file"
	}
}
