package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"mediaguard/internal/config"
	"mediaguard/internal/services"
)

// ErrObjectNotFound reports a missing key. It matches services.ErrNotFound.
var ErrObjectNotFound = fmt.Errorf("object %w", services.ErrNotFound)

// Store puts, gets and deletes objects by key.
type Store interface {
	// Upload stores src under key. size may be -1 when unknown.
	Upload(ctx context.Context, key string, src io.Reader, size int64) error
	// Download writes the object into dst and returns the byte count.
	Download(ctx context.Context, key string, dst io.WriterAt) (int64, error)
	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Backend names the implementation for logs.
	Backend() string
}

// Key joins the configured prefix and a bare filename.
func Key(prefix, filename string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	filename = strings.TrimLeft(filename, "/")
	if prefix == "" {
		return filename
	}
	return prefix + "/" + filename
}

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.Storage, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case config.StorageS3:
		return NewS3(ctx, cfg, logger)
	case config.StorageMinio:
		return NewMinio(cfg, logger)
	case config.StorageLocal, "":
		return NewLocal(cfg.LocalDir)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "new", fmt.Sprintf("unknown backend %q", cfg.Backend), nil)
	}
}

// transient tags err as retryable unless it already reports a missing key.
func transient(backend, operation, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrObjectNotFound) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return services.Wrap(services.ErrTransient, backend, operation, key, err)
}

const mib = 1 << 20
