package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidKey is returned when a key escapes the storage root.
var ErrInvalidKey = errors.New("invalid storage key")

// Compile-time check that LocalStore implements ObjectStore.
var _ ObjectStore = (*LocalStore)(nil)

// LocalStore implements ObjectStore on local disk. Objects are served by
// the HTTP server under the configured public base URL.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates a new LocalStore instance.
// If dir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "mediagen")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	return &LocalStore{dir: dir, baseURL: baseURL}, nil
}

// Dir returns the storage root.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Put writes body to <dir>/<key> and returns its public URL.
func (s *LocalStore) Put(ctx context.Context, key string, body []byte, _ string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dest := filepath.Join(s.dir, filepath.FromSlash(key))
	if !strings.HasPrefix(dest, filepath.Clean(s.dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(dest), ".upload_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename object: %w", err)
	}

	return joinURL(s.baseURL, key), nil
}
