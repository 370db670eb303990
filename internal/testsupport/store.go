package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"mediaguard/internal/config"
	"mediaguard/internal/uploads"
)

// MustOpenStore opens an uploads.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *uploads.Store {
	t.Helper()

	store, err := uploads.Open(cfg)
	if err != nil {
		t.Fatalf("uploads.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewUser creates an account for tests using the provided store.
func NewUser(t testing.TB, store *uploads.Store, email string) int64 {
	t.Helper()

	id, err := store.InsertUser(context.Background(), uploads.NewUser{Email: email})
	if err != nil {
		t.Fatalf("store.InsertUser: %v", err)
	}
	return id
}

// NewUpload inserts a pending record whose primary file is written into the
// configured upload directory with size bytes.
func NewUpload(t testing.TB, cfg *config.Config, store *uploads.Store, owner *int64, filename, mime string, size int64) *uploads.Record {
	t.Helper()

	path := filepath.Join(cfg.Paths.UploadDir, filename)
	WriteFile(t, path, size)
	rec, err := store.Insert(context.Background(), uploads.NewRecord{
		UserID:    owner,
		Filename:  filename,
		Path:      path,
		Mime:      mime,
		SizeBytes: size,
	})
	if err != nil {
		t.Fatalf("store.Insert: %v", err)
	}
	return rec
}

// NewVariantUpload inserts a pending static image record with sm, md and lg
// variants written to the upload directory.
func NewVariantUpload(t testing.TB, cfg *config.Config, store *uploads.Store, owner *int64, stem string) *uploads.Record {
	t.Helper()

	variants := map[string]string{}
	for _, label := range uploads.VariantLabels {
		name := stem + "_" + label + ".jpg"
		WriteFile(t, filepath.Join(cfg.Paths.UploadDir, name), 64)
		variants[label] = name
	}
	primary := variants[uploads.VariantSmall]
	rec, err := store.Insert(context.Background(), uploads.NewRecord{
		UserID:   owner,
		Filename: primary,
		Path:     filepath.Join(cfg.Paths.UploadDir, primary),
		Mime:     "image/jpeg",
		Variants: variants,
	})
	if err != nil {
		t.Fatalf("store.Insert: %v", err)
	}
	return rec
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
