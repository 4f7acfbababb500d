// Package storage provides durable object storage for generated artifacts.
// It defines the ObjectStore port, S3 and local-disk implementations, and the
// retrying Uploader that owns the backoff and error-classification policy.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// ObjectStore defines the interface for a put-object capable backend.
// Implementations perform exactly one attempt per call; retries are owned
// by the Uploader.
type ObjectStore interface {
	// Put stores body under key and returns the public URL of the object.
	Put(ctx context.Context, key string, body []byte, contentType string) (url string, err error)
}

// ObjectKey builds the storage key for the index-th artifact of taskID.
// Format: <prefix>/<taskID>/<index>-<unique><ext>
func ObjectKey(prefix, taskID string, index int, unique, ext string) string {
	name := fmt.Sprintf("%d-%s%s", index, unique, ext)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return path.Join(taskID, name)
	}
	return path.Join(prefix, taskID, name)
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
