package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// PartSuffix marks in-progress writes that have not been renamed into place.
const PartSuffix = ".part"

// WriteAtomic streams r into dst through a sibling .part file that is
// fsynced and renamed over dst. On any failure the partial file is removed
// and dst is left untouched.
func WriteAtomic(dst string, r io.Reader, mode os.FileMode) (int64, error) {
	if mode == 0 {
		mode = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create parent: %w", err)
	}
	part := dst + PartSuffix
	out, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, err
	}
	cleanup := func() {
		_ = out.Close()
		_ = os.Remove(part)
	}

	written, err := io.Copy(out, r)
	if err != nil {
		cleanup()
		return written, err
	}
	if err := out.Sync(); err != nil {
		cleanup()
		return written, fmt.Errorf("sync %s: %w", part, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(part)
		return written, err
	}
	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return written, fmt.Errorf("rename into place: %w", err)
	}
	return written, nil
}

// SyncFile flushes path to stable storage.
func SyncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return f.Close()
}

// RemoveIfExists deletes path, treating an already missing file as success.
// It reports whether a file was removed.
func RemoveIfExists(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// HashFile returns the hex SHA-256 digest of path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
