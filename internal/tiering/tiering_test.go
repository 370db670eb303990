package tiering_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mediaguard/internal/config"
	"mediaguard/internal/objectstore"
	"mediaguard/internal/services"
	"mediaguard/internal/testsupport"
	"mediaguard/internal/tiering"
	"mediaguard/internal/uploads"
)

type countingStore struct {
	objectstore.Store
	uploads   atomic.Int32
	downloads atomic.Int32
	failGet   bool
}

func (c *countingStore) Upload(ctx context.Context, key string, src io.Reader, size int64) error {
	c.uploads.Add(1)
	return c.Store.Upload(ctx, key, src, size)
}

func (c *countingStore) Download(ctx context.Context, key string, dst io.WriterAt) (int64, error) {
	c.downloads.Add(1)
	if c.failGet {
		// Write a few bytes first so a leftover partial file would be visible.
		_, _ = dst.WriteAt([]byte("partial"), 0)
		return 0, services.Wrap(services.ErrTransient, "test", "download", "connection reset", nil)
	}
	return c.Store.Download(ctx, key, dst)
}

type fixture struct {
	cfg     *config.Config
	store   *uploads.Store
	objects *countingStore
	manager *tiering.Manager
}

func newFixture(t *testing.T, locker tiering.Locker) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	local, err := objectstore.NewLocal(cfg.Storage.LocalDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	objects := &countingStore{Store: local}
	opts := tiering.OptionsFromConfig(cfg)
	opts.Store = store
	opts.Objects = objects
	opts.Locker = locker
	opts.Prefix = "uploads"
	manager, err := tiering.New(opts)
	if err != nil {
		t.Fatalf("tiering.New: %v", err)
	}
	return &fixture{cfg: cfg, store: store, objects: objects, manager: manager}
}

func (f *fixture) approve(t *testing.T, rec *uploads.Record) {
	t.Helper()
	if _, err := f.store.SetStatus(context.Background(), rec.ID, uploads.StatusApproved); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
}

func TestBackupRecordsVariantKeys(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec := testsupport.NewVariantUpload(t, f.cfg, f.store, nil, "20260101000000_abc")
	f.approve(t, rec)

	report, err := f.manager.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if report.BackedUp != 1 || report.Uploaded != 3 {
		t.Fatalf("unexpected report %s", report)
	}
	got, err := f.store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.DurableVariants) != 3 || got.DurablePath != "" {
		t.Fatalf("expected three durable variants, got %+v", got.DurableVariants)
	}
	if got.DurableVariants[uploads.VariantMedium] != "uploads/20260101000000_abc_md.jpg" {
		t.Fatalf("unexpected md key %q", got.DurableVariants[uploads.VariantMedium])
	}
}

func TestBackupTwiceUploadsNothingNew(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec := testsupport.NewUpload(t, f.cfg, f.store, nil, "clip.mp4", "video/mp4", 2048)
	f.approve(t, rec)

	if _, err := f.manager.Backup(ctx); err != nil {
		t.Fatalf("first Backup: %v", err)
	}
	first := f.objects.uploads.Load()
	report, err := f.manager.Backup(ctx)
	if err != nil {
		t.Fatalf("second Backup: %v", err)
	}
	if f.objects.uploads.Load() != first {
		t.Fatalf("second run uploaded %d more objects", f.objects.uploads.Load()-first)
	}
	if report.Examined != 0 {
		t.Fatalf("expected no candidates on second run, got %d", report.Examined)
	}
}

func TestBackupSkipsRecordWithMissingVariant(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec := testsupport.NewVariantUpload(t, f.cfg, f.store, nil, "20260101000000_def")
	f.approve(t, rec)
	if err := os.Remove(filepath.Join(f.cfg.Paths.UploadDir, rec.Variants[uploads.VariantLarge])); err != nil {
		t.Fatal(err)
	}

	report, err := f.manager.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if report.Damaged != 1 || report.BackedUp != 0 {
		t.Fatalf("unexpected report %s", report)
	}
	if f.objects.uploads.Load() != 0 {
		t.Fatalf("damaged record should not upload anything")
	}
	got, _ := f.store.Get(ctx, rec.ID)
	if got.HasDurable() {
		t.Fatalf("damaged record must not get a durable key")
	}
}

func TestBackupIgnoresPendingRecords(t *testing.T) {
	f := newFixture(t, nil)
	testsupport.NewUpload(t, f.cfg, f.store, nil, "pending.jpg", "image/jpeg", 10)
	report, err := f.manager.Backup(context.Background())
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if report.Examined != 0 {
		t.Fatalf("pending record should not be a candidate")
	}
}

func TestRehydrateRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec := testsupport.NewUpload(t, f.cfg, f.store, nil, "photo.bin", "video/mp4", 70000)
	f.approve(t, rec)
	path := filepath.Join(f.cfg.Paths.UploadDir, "photo.bin")
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.manager.Backup(ctx); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.MarkNotLocal(ctx, []int64{rec.ID}); err != nil {
		t.Fatalf("MarkNotLocal: %v", err)
	}

	got, err := f.manager.Rehydrate(ctx, "photo.bin")
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	restored, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("read restored: %v", err)
	}
	if !bytes.Equal(restored, original) {
		t.Fatal("restored bytes differ from the original upload")
	}
	after, _ := f.store.Get(ctx, rec.ID)
	if !after.IsLocal {
		t.Fatal("expected record to be marked local")
	}
	if _, err := os.Stat(path + ".part"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial file left behind: %v", err)
	}
}

func (f *fixture) evictVariants(t *testing.T, rec *uploads.Record) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.manager.Backup(ctx); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	for _, name := range rec.Variants {
		if err := os.Remove(filepath.Join(f.cfg.Paths.UploadDir, name)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.store.MarkNotLocal(ctx, []int64{rec.ID}); err != nil {
		t.Fatalf("MarkNotLocal: %v", err)
	}
}

func TestRehydrateVariantRestoresSiblings(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec := testsupport.NewVariantUpload(t, f.cfg, f.store, nil, "20260101000000_ghi")
	f.approve(t, rec)
	f.evictVariants(t, rec)

	if _, err := f.manager.Rehydrate(ctx, rec.Variants[uploads.VariantMedium]); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	for label, name := range rec.Variants {
		if _, err := os.Stat(filepath.Join(f.cfg.Paths.UploadDir, name)); err != nil {
			t.Fatalf("variant %s not restored: %v", label, err)
		}
	}
	after, _ := f.store.Get(ctx, rec.ID)
	if !after.IsLocal {
		t.Fatal("record with every variant restored must be local")
	}
}

func TestRehydrateKeepsRecordNotLocalWhenSiblingMissing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec := testsupport.NewVariantUpload(t, f.cfg, f.store, nil, "20260101000000_jkl")
	f.approve(t, rec)
	f.evictVariants(t, rec)

	backed, _ := f.store.Get(ctx, rec.ID)
	if err := f.objects.Store.Delete(ctx, backed.DurableVariants[uploads.VariantLarge]); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	path, err := f.manager.Rehydrate(ctx, rec.Variants[uploads.VariantMedium])
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("requested variant not restored: %v", err)
	}
	after, _ := f.store.Get(ctx, rec.ID)
	if after.IsLocal {
		t.Fatal("record missing a variant must stay not local")
	}
	candidates, err := f.store.ListPruneCandidates(ctx, time.Now().Add(time.Hour), 0, 10)
	if err != nil {
		t.Fatalf("ListPruneCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != rec.ID {
		t.Fatalf("restored variants must stay reclaimable by the prune sweep, got %d candidates", len(candidates))
	}
}

func TestRehydrateFailureLeavesNoPartialFile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec := testsupport.NewUpload(t, f.cfg, f.store, nil, "lost.mp4", "video/mp4", 100)
	f.approve(t, rec)
	if _, err := f.manager.Backup(ctx); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	path := filepath.Join(f.cfg.Paths.UploadDir, "lost.mp4")
	_ = os.Remove(path)
	f.objects.failGet = true

	if _, err := f.manager.Rehydrate(ctx, "lost.mp4"); !services.Retryable(err) {
		t.Fatalf("expected retryable failure, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("failed rehydration must not leave the target file")
	}
	if _, err := os.Stat(path + ".part"); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("failed rehydration must remove the partial file")
	}
}

func TestRehydrateWithoutDurableCopyIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	rec := testsupport.NewUpload(t, f.cfg, f.store, nil, "nocopy.jpg", "image/jpeg", 10)
	f.approve(t, rec)
	_ = os.Remove(filepath.Join(f.cfg.Paths.UploadDir, "nocopy.jpg"))
	if _, err := f.manager.Rehydrate(context.Background(), "nocopy.jpg"); !tiering.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentRehydrationsDownloadOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, tiering.NewRedisLocker(client))
	ctx := context.Background()
	rec := testsupport.NewUpload(t, f.cfg, f.store, nil, "shared.mp4", "video/mp4", 4096)
	f.approve(t, rec)
	if _, err := f.manager.Backup(ctx); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	_ = os.Remove(filepath.Join(f.cfg.Paths.UploadDir, "shared.mp4"))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Rehydrate(ctx, "shared.mp4")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Rehydrate: %v", err)
		}
	}
	if n := f.objects.downloads.Load(); n != 1 {
		t.Fatalf("expected one download, got %d", n)
	}
	if mr.Exists("mediaguard:rehydrate:shared.mp4") {
		t.Fatal("lock should be released after rehydration")
	}
}

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := tiering.NewRedisLocker(client)
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first Acquire: ok=%v err=%v", ok, err)
	}
	if _, ok, err := locker.Acquire(ctx, "k", time.Minute); err != nil || ok {
		t.Fatalf("second Acquire should fail: ok=%v err=%v", ok, err)
	}
	release()
	if _, ok, _ := locker.Acquire(ctx, "k", time.Minute); !ok {
		t.Fatal("lock should be free after release")
	}
}
