package janitor_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mediaguard/internal/config"
	"mediaguard/internal/janitor"
	"mediaguard/internal/notifications"
	"mediaguard/internal/objectstore"
	"mediaguard/internal/testsupport"
	"mediaguard/internal/uploads"
)

type failingDeletes struct {
	objectstore.Store
}

func (failingDeletes) Delete(context.Context, string) error {
	return errors.New("bucket unreachable")
}

// attachAfterList links the listed records to a post once they have been
// listed, as a request racing the sweep would.
type attachAfterList struct {
	*uploads.Store
	postID int64
}

func (s attachAfterList) ListOrphans(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]*uploads.Record, error) {
	records, err := s.Store.ListOrphans(ctx, cutoff, afterID, limit)
	for _, rec := range records {
		if attachErr := s.Attach(ctx, uploads.AttachPost, s.postID, rec.ID); attachErr != nil {
			return nil, attachErr
		}
	}
	return records, err
}

type fixture struct {
	cfg      *config.Config
	store    *uploads.Store
	objects  objectstore.Store
	recorder *notifications.Recorder
	janitor  *janitor.Janitor
}

func newFixture(t *testing.T, wrap func(objectstore.Store) objectstore.Store) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	local, err := objectstore.NewLocal(cfg.Storage.LocalDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	var objects objectstore.Store = local
	if wrap != nil {
		objects = wrap(local)
	}
	recorder := &notifications.Recorder{}
	opts := janitor.OptionsFromConfig(cfg)
	opts.Store = store
	opts.Objects = objects
	opts.Notifier = recorder
	j, err := janitor.New(opts)
	if err != nil {
		t.Fatalf("janitor.New: %v", err)
	}
	return &fixture{cfg: cfg, store: store, objects: local, recorder: recorder, janitor: j}
}

func (f *fixture) backdate(d time.Duration) func() {
	f.store.SetClock(func() time.Time { return time.Now().Add(-d) })
	return func() { f.store.SetClock(nil) }
}

func (f *fixture) withDurable(t *testing.T, rec *uploads.Record) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.store.SetStatus(ctx, rec.ID, uploads.StatusApproved); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	key := "uploads/" + rec.Filename
	if err := f.objects.Upload(ctx, key, bytes.NewReader([]byte("copy")), 4); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := f.store.RecordDurable(ctx, rec.ID, uploads.DurableCopy{Path: key}); err != nil {
		t.Fatalf("RecordDurable: %v", err)
	}
}

func TestPurgeOrphansRemovesFilesAndRows(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	restore := f.backdate(2 * time.Hour)
	orphan := testsupport.NewUpload(t, f.cfg, f.store, nil, "orphan.gif", "image/gif", 16)
	gone := testsupport.NewUpload(t, f.cfg, f.store, nil, "gone.gif", "image/gif", 16)
	restore()
	fresh := testsupport.NewUpload(t, f.cfg, f.store, nil, "fresh.gif", "image/gif", 16)

	if err := os.Remove(filepath.Join(f.cfg.Paths.UploadDir, "gone.gif")); err != nil {
		t.Fatal(err)
	}

	report, err := f.janitor.PurgeOrphans(ctx)
	if err != nil {
		t.Fatalf("PurgeOrphans: %v", err)
	}
	if report.Removed != 2 || report.Files != 1 {
		t.Fatalf("unexpected report %s", report)
	}
	for _, id := range []int64{orphan.ID, gone.ID} {
		if _, err := f.store.Get(ctx, id); !errors.Is(err, uploads.ErrNotFound) {
			t.Fatalf("expected record %d removed, got %v", id, err)
		}
	}
	if _, err := f.store.Get(ctx, fresh.ID); err != nil {
		t.Fatalf("record inside grace window must survive: %v", err)
	}
	if f.recorder.Count(notifications.EventSweepCompleted) != 1 {
		t.Fatalf("expected one sweep notification, got %d", f.recorder.Count(notifications.EventSweepCompleted))
	}
}

func TestPurgeOrphansKeepsRowWhenDurableDeleteFails(t *testing.T) {
	f := newFixture(t, func(s objectstore.Store) objectstore.Store { return failingDeletes{s} })
	ctx := context.Background()
	restore := f.backdate(2 * time.Hour)
	rec := testsupport.NewUpload(t, f.cfg, f.store, nil, "kept.mp4", "video/mp4", 16)
	restore()
	f.withDurable(t, rec)

	report, err := f.janitor.PurgeOrphans(ctx)
	if err != nil {
		t.Fatalf("PurgeOrphans: %v", err)
	}
	if report.Kept != 1 || report.Removed != 0 {
		t.Fatalf("unexpected report %s", report)
	}
	if _, err := f.store.Get(ctx, rec.ID); err != nil {
		t.Fatalf("record should be kept: %v", err)
	}

	owner := testsupport.NewUser(t, f.store, "owner@example.com")
	postID, err := f.store.InsertPost(ctx, owner)
	if err != nil {
		t.Fatalf("InsertPost: %v", err)
	}
	if err := f.store.Attach(ctx, uploads.AttachPost, postID, rec.ID); err != nil {
		t.Fatalf("kept record must be released for attachment: %v", err)
	}
}

func TestPurgeOrphansSparesRecordAttachedAfterListing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	owner := testsupport.NewUser(t, f.store, "owner@example.com")
	postID, err := f.store.InsertPost(ctx, owner)
	if err != nil {
		t.Fatalf("InsertPost: %v", err)
	}
	restore := f.backdate(2 * time.Hour)
	rec := testsupport.NewUpload(t, f.cfg, f.store, &owner, "racing.gif", "image/gif", 16)
	restore()

	opts := janitor.OptionsFromConfig(f.cfg)
	opts.Store = attachAfterList{Store: f.store, postID: postID}
	opts.Objects = f.objects
	opts.Notifier = f.recorder
	j, err := janitor.New(opts)
	if err != nil {
		t.Fatalf("janitor.New: %v", err)
	}

	report, err := j.PurgeOrphans(ctx)
	if err != nil {
		t.Fatalf("PurgeOrphans: %v", err)
	}
	if report.Removed != 0 || report.Files != 0 || report.Kept != 1 {
		t.Fatalf("unexpected report %s", report)
	}
	if _, err := f.store.Get(ctx, rec.ID); err != nil {
		t.Fatalf("attached record must survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.cfg.Paths.UploadDir, "racing.gif")); err != nil {
		t.Fatalf("attached record's file must survive: %v", err)
	}
}

func TestPurgeOrphansDeletesDurableCopy(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	restore := f.backdate(2 * time.Hour)
	rec := testsupport.NewUpload(t, f.cfg, f.store, nil, "backed.mp4", "video/mp4", 16)
	restore()
	f.withDurable(t, rec)

	if _, err := f.janitor.PurgeOrphans(ctx); err != nil {
		t.Fatalf("PurgeOrphans: %v", err)
	}
	if ok, _ := f.objects.Exists(ctx, "uploads/backed.mp4"); ok {
		t.Fatal("durable copy should be deleted with the orphan")
	}
}

func TestPruneLocalIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	owner := testsupport.NewUser(t, f.store, "owner@example.com")
	restore := f.backdate(4 * 24 * time.Hour)
	old := testsupport.NewUpload(t, f.cfg, f.store, &owner, "old.mp4", "video/mp4", 32)
	restore()
	recent := testsupport.NewUpload(t, f.cfg, f.store, &owner, "recent.mp4", "video/mp4", 32)
	f.withDurable(t, old)
	f.withDurable(t, recent)

	report, err := f.janitor.PruneLocal(ctx)
	if err != nil {
		t.Fatalf("PruneLocal: %v", err)
	}
	if report.Removed != 1 || report.Files != 1 {
		t.Fatalf("unexpected report %s", report)
	}
	got, _ := f.store.Get(ctx, old.ID)
	if got.IsLocal {
		t.Fatal("expected is_local cleared")
	}
	if _, err := os.Stat(filepath.Join(f.cfg.Paths.UploadDir, "old.mp4")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected local file removed")
	}
	if ok, _ := f.objects.Exists(ctx, "uploads/old.mp4"); !ok {
		t.Fatal("durable copy must remain")
	}
	if _, err := os.Stat(filepath.Join(f.cfg.Paths.UploadDir, "recent.mp4")); err != nil {
		t.Fatal("record inside retention must keep its file")
	}

	again, err := f.janitor.PruneLocal(ctx)
	if err != nil {
		t.Fatalf("second PruneLocal: %v", err)
	}
	if again.Examined != 0 || again.Removed != 0 {
		t.Fatalf("second run should be a no-op, got %s", again)
	}
}

func TestPruneLocalReclaimsPartiallyRestoredFiles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	owner := testsupport.NewUser(t, f.store, "owner@example.com")
	restore := f.backdate(4 * 24 * time.Hour)
	rec := testsupport.NewUpload(t, f.cfg, f.store, &owner, "partial.mp4", "video/mp4", 32)
	restore()
	f.withDurable(t, rec)
	if _, err := f.store.MarkNotLocal(ctx, []int64{rec.ID}); err != nil {
		t.Fatalf("MarkNotLocal: %v", err)
	}
	path := filepath.Join(f.cfg.Paths.UploadDir, "partial.mp4")

	idle, err := f.janitor.PruneLocal(ctx)
	if err != nil {
		t.Fatalf("PruneLocal: %v", err)
	}
	if idle.Examined != 0 {
		t.Fatalf("record not local must not be examined, got %s", idle)
	}

	if err := f.store.MarkPartiallyLocal(ctx, rec.ID); err != nil {
		t.Fatalf("MarkPartiallyLocal: %v", err)
	}
	report, err := f.janitor.PruneLocal(ctx)
	if err != nil {
		t.Fatalf("PruneLocal: %v", err)
	}
	if report.Removed != 1 || report.Files != 1 {
		t.Fatalf("unexpected report %s", report)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected restored file removed")
	}
	got, _ := f.store.Get(ctx, rec.ID)
	if got.IsLocal {
		t.Fatal("record must stay not local")
	}

	again, err := f.janitor.PruneLocal(ctx)
	if err != nil {
		t.Fatalf("second PruneLocal: %v", err)
	}
	if again.Examined != 0 {
		t.Fatalf("second run should be a no-op, got %s", again)
	}
}

func TestPruneLocalSkipsRecordsWithoutDurableCopy(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	restore := f.backdate(4 * 24 * time.Hour)
	rec := testsupport.NewUpload(t, f.cfg, f.store, nil, "solo.mp4", "video/mp4", 8)
	restore()
	if _, err := f.store.SetStatus(ctx, rec.ID, uploads.StatusApproved); err != nil {
		t.Fatal(err)
	}
	if _, err := f.janitor.PruneLocal(ctx); err != nil {
		t.Fatalf("PruneLocal: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.cfg.Paths.UploadDir, "solo.mp4")); err != nil {
		t.Fatal("file without durable copy must not be pruned")
	}
}

func TestPurgeAccounts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	doomed, err := f.store.InsertUser(ctx, uploads.NewUser{
		Email: "gone@example.com", Suspended: true, ToBeDeleted: true,
		DeleteRequestDate: time.Now().Add(-20 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	waiting, err := f.store.InsertUser(ctx, uploads.NewUser{
		Email: "wait@example.com", Suspended: true, ToBeDeleted: true,
		DeleteRequestDate: time.Now().Add(-2 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	friend := testsupport.NewUser(t, f.store, "friend@example.com")
	thread, err := f.store.InsertThread(ctx, doomed, friend)
	if err != nil {
		t.Fatalf("InsertThread: %v", err)
	}

	report, err := f.janitor.PurgeAccounts(ctx)
	if err != nil {
		t.Fatalf("PurgeAccounts: %v", err)
	}
	if report.Removed != 1 {
		t.Fatalf("unexpected report %s", report)
	}
	if _, err := f.store.GetUser(ctx, doomed); !errors.Is(err, uploads.ErrNotFound) {
		t.Fatalf("expected account removed, got %v", err)
	}
	if _, err := f.store.GetUser(ctx, waiting); err != nil {
		t.Fatalf("account inside grace period must survive: %v", err)
	}
	if ok, _ := f.store.ThreadExists(ctx, thread); ok {
		t.Fatal("thread left with one member should be removed")
	}
}

func TestCleanPartials(t *testing.T) {
	f := newFixture(t, nil)
	stale := filepath.Join(f.cfg.Paths.UploadDir, "a.mp4.part")
	fresh := filepath.Join(f.cfg.Paths.UploadDir, "b.mp4.part")
	keep := filepath.Join(f.cfg.Paths.UploadDir, "c.mp4")
	for _, path := range []string{stale, fresh, keep} {
		testsupport.WriteFile(t, path, 4)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(keep, old, old); err != nil {
		t.Fatal(err)
	}

	report, err := f.janitor.CleanPartials(context.Background())
	if err != nil {
		t.Fatalf("CleanPartials: %v", err)
	}
	if report.Files != 1 {
		t.Fatalf("unexpected report %s", report)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("stale partial should be removed")
	}
	for _, path := range []string{fresh, keep} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("%s should survive: %v", path, err)
		}
	}
}
