package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/mediagen-api/internal/config"
)

func testConfig(t *testing.T, cacheMB int64) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port:                 8080,
		CatalogFile:          filepath.Join(dir, "catalog.yaml"),
		StorageDir:           filepath.Join(dir, "files"),
		StoragePublicBaseURL: "http://localhost:8080/files",
		UploadMaxAttempts:    5,
		UploadBaseDelay:      time.Second,
		UploadMaxDelay:       time.Minute,
		UploadJitter:         0.25,
		PollInterval:         5 * time.Second,
		PollTimeout:          30 * time.Minute,
		PollMaxConcurrent:    4,
		TaskCacheMB:          cacheMB,
		ResultMaxBytes:       1 << 20,
	}
}

func TestDependencies_Lifecycle(t *testing.T) {
	tests := []struct {
		name        string
		cacheMB     int64
		wantClosers int
	}{
		{name: "without task cache", cacheMB: 0, wantClosers: 1},
		{name: "with task cache", cacheMB: 1, wantClosers: 2},
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			d, err := NewDependencies(ctx, testConfig(t, tt.cacheMB), logger)
			require.NoError(t, err)

			// Telemetry always registers a closer; the cache adds one when enabled.
			assert.Len(t, d.closers, tt.wantClosers)
			assert.Nil(t, d.nats)
			require.NotNil(t, d.Router)

			require.NoError(t, d.Start(ctx))

			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			require.NoError(t, d.Shutdown(shutdownCtx))
		})
	}
}
