package storage

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidDataURL is returned for malformed data: URLs.
var ErrInvalidDataURL = errors.New("invalid data URL")

// sniffPrefix is the base64 prefix length decoded for content sniffing.
const sniffPrefix = 4096

// IsDataURL reports whether u is a data: URL.
func IsDataURL(u string) bool {
	return strings.HasPrefix(u, "data:")
}

// DataURLFromBase64 wraps raw base64 content in a data: URL whose media
// type is sniffed from the decoded bytes.
func DataURLFromBase64(b64 string) (string, error) {
	b64 = strings.TrimSpace(b64)
	head := b64
	if len(head) > sniffPrefix {
		head = head[:sniffPrefix]
	}
	raw, err := base64.StdEncoding.DecodeString(head)
	if err != nil {
		return "", ErrInvalidDataURL
	}
	contentType, _ := DetectContentType(raw)
	return "data:" + contentType + ";base64," + b64, nil
}

// DecodeDataURL returns the payload and declared media type of a base64 data: URL.
func DecodeDataURL(u string) ([]byte, string, error) {
	if !IsDataURL(u) {
		return nil, "", ErrInvalidDataURL
	}
	meta, payload, ok := strings.Cut(strings.TrimPrefix(u, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, "", ErrInvalidDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", ErrInvalidDataURL
	}
	return data, strings.TrimSuffix(meta, ";base64"), nil
}
