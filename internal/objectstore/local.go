package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"mediaguard/internal/fileutil"
)

// Local stores objects as files below a root directory.
type Local struct {
	root string
}

// NewLocal creates root if needed.
func NewLocal(root string) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("local object store: empty root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("local object store: %w", err)
	}
	return &Local{root: root}, nil
}

// Backend implements Store.
func (l *Local) Backend() string { return "local" }

func (l *Local) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("local object store: invalid key %q", key)
	}
	return filepath.Join(l.root, clean), nil
}

// Upload implements Store.
func (l *Local) Upload(ctx context.Context, key string, src io.Reader, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return transient("local", "upload", key, err)
	}
	if _, err := fileutil.WriteAtomic(path, src, 0o644); err != nil {
		return transient("local", "upload", key, err)
	}
	return nil
}

// Download implements Store.
func (l *Local) Download(ctx context.Context, key string, dst io.WriterAt) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	path, err := l.path(key)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return 0, transient("local", "download", key, err)
	}
	defer f.Close()
	n, err := io.Copy(io.NewOffsetWriter(dst, 0), f)
	if err != nil {
		return n, transient("local", "download", key, err)
	}
	return n, nil
}

// Delete implements Store.
func (l *Local) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if _, err := fileutil.RemoveIfExists(path); err != nil {
		return transient("local", "delete", key, err)
	}
	return nil
}

// Exists implements Store.
func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	path, err := l.path(key)
	if err != nil {
		return false, err
	}
	return fileutil.Exists(path), nil
}
