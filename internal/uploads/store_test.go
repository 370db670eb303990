package uploads_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"mediaguard/internal/testsupport"
	"mediaguard/internal/uploads"
)

func TestInsertAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	owner := testsupport.NewUser(t, store, "owner@example.com")
	rec := testsupport.NewVariantUpload(t, cfg, store, &owner, "1700000000_abcd")
	if rec.ID == 0 {
		t.Fatal("expected record ID to be assigned")
	}
	if rec.Status != uploads.StatusPending {
		t.Fatalf("expected pending status, got %q", rec.Status)
	}
	if !rec.IsLocal {
		t.Fatal("expected new record to be local")
	}
	if rec.UserID == nil || *rec.UserID != owner {
		t.Fatalf("unexpected owner %v", rec.UserID)
	}
	if got := rec.Variants[uploads.VariantLarge]; got != "1700000000_abcd_lg.jpg" {
		t.Fatalf("unexpected lg variant %q", got)
	}

	files := rec.Files()
	if len(files) != 3 || files[0].Label != uploads.VariantSmall || files[2].Label != uploads.VariantLarge {
		t.Fatalf("unexpected file order %#v", files)
	}

	found, err := store.FindByFilename(ctx, "1700000000_abcd_md.jpg")
	if err != nil {
		t.Fatalf("FindByFilename: %v", err)
	}
	if found.ID != rec.ID {
		t.Fatalf("expected record %d, got %d", rec.ID, found.ID)
	}

	if _, err := store.Get(ctx, rec.ID+100); !errors.Is(err, uploads.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertRequiresFilename(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.Insert(context.Background(), uploads.NewRecord{Path: "/tmp/x", Mime: "image/png"}); err == nil {
		t.Fatal("expected error when filename missing")
	}
}

func TestSetStatusOnlyLeavesPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	rec := testsupport.NewUpload(t, cfg, store, nil, "clip.mp4", "video/mp4", 128)

	changed, err := store.SetStatus(ctx, rec.ID, uploads.StatusRejected)
	if err != nil || !changed {
		t.Fatalf("first SetStatus changed=%v err=%v", changed, err)
	}
	changed, err = store.SetStatus(ctx, rec.ID, uploads.StatusApproved)
	if err != nil {
		t.Fatalf("second SetStatus: %v", err)
	}
	if changed {
		t.Fatal("expected terminal status to be preserved")
	}
	fetched, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched.Status != uploads.StatusRejected {
		t.Fatalf("expected rejected, got %q", fetched.Status)
	}

	if _, err := store.SetStatus(ctx, rec.ID+50, uploads.StatusApproved); !errors.Is(err, uploads.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing record, got %v", err)
	}
	if _, err := store.SetStatus(ctx, rec.ID, uploads.StatusPending); err == nil {
		t.Fatal("expected error for non-terminal status")
	}
}

func TestStatusForOwnerFiltersByUser(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	owner := testsupport.NewUser(t, store, "a@example.com")
	other := testsupport.NewUser(t, store, "b@example.com")
	rec := testsupport.NewUpload(t, cfg, store, &owner, "doc.pdf", "application/pdf", 32)

	view, err := store.StatusForOwner(ctx, rec.ID, owner)
	if err != nil {
		t.Fatalf("StatusForOwner: %v", err)
	}
	if view.Status != uploads.StatusPending || view.Mime != "application/pdf" {
		t.Fatalf("unexpected view %#v", view)
	}
	if _, err := store.StatusForOwner(ctx, rec.ID, other); !errors.Is(err, uploads.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user, got %v", err)
	}
}

func TestRecordDurableIsWrittenOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	rec := testsupport.NewUpload(t, cfg, store, nil, "anim.gif", "image/gif", 64)
	if _, err := store.SetStatus(ctx, rec.ID, uploads.StatusApproved); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	candidates, err := store.ListBackupCandidates(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListBackupCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != rec.ID {
		t.Fatalf("unexpected candidates %#v", candidates)
	}

	changed, err := store.RecordDurable(ctx, rec.ID, uploads.DurableCopy{Path: "anim.gif"})
	if err != nil || !changed {
		t.Fatalf("RecordDurable changed=%v err=%v", changed, err)
	}
	changed, err = store.RecordDurable(ctx, rec.ID, uploads.DurableCopy{Path: "other.gif"})
	if err != nil {
		t.Fatalf("second RecordDurable: %v", err)
	}
	if changed {
		t.Fatal("expected existing durable copy to be preserved")
	}

	fetched, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched.DurablePath != "anim.gif" || !fetched.HasDurable() {
		t.Fatalf("unexpected durable path %q", fetched.DurablePath)
	}
	candidates, err = store.ListBackupCandidates(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListBackupCandidates: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates after backup, got %d", len(candidates))
	}
}

func TestBackupCandidatesSkipUnapproved(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	pending := testsupport.NewUpload(t, cfg, store, nil, "a.gif", "image/gif", 8)
	rejected := testsupport.NewUpload(t, cfg, store, nil, "b.gif", "image/gif", 8)
	if _, err := store.SetStatus(ctx, rejected.ID, uploads.StatusRejected); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	candidates, err := store.ListBackupCandidates(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListBackupCandidates: %v", err)
	}
	for _, c := range candidates {
		if c.ID == pending.ID || c.ID == rejected.ID {
			t.Fatalf("unexpected candidate %d", c.ID)
		}
	}
}

func TestPruneCandidatesAndMarkNotLocal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	past := time.Now().Add(-96 * time.Hour)
	store.SetClock(func() time.Time { return past })
	old := testsupport.NewVariantUpload(t, cfg, store, nil, "old")
	noCopy := testsupport.NewUpload(t, cfg, store, nil, "nocopy.gif", "image/gif", 8)
	store.SetClock(nil)
	fresh := testsupport.NewUpload(t, cfg, store, nil, "fresh.gif", "image/gif", 8)

	for _, rec := range []*uploads.Record{old, noCopy, fresh} {
		if _, err := store.SetStatus(ctx, rec.ID, uploads.StatusApproved); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
	}
	if _, err := store.RecordDurable(ctx, old.ID, uploads.DurableCopy{Variants: old.Variants}); err != nil {
		t.Fatalf("RecordDurable: %v", err)
	}
	if _, err := store.RecordDurable(ctx, fresh.ID, uploads.DurableCopy{Path: "fresh.gif"}); err != nil {
		t.Fatalf("RecordDurable: %v", err)
	}

	cutoff := time.Now().Add(-72 * time.Hour)
	candidates, err := store.ListPruneCandidates(ctx, cutoff, 0, 10)
	if err != nil {
		t.Fatalf("ListPruneCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != old.ID {
		t.Fatalf("expected only old record, got %#v", candidates)
	}
	if keys := candidates[0].DurableKeys(); len(keys) != 3 {
		t.Fatalf("expected three durable keys, got %v", keys)
	}

	updated, err := store.MarkNotLocal(ctx, []int64{old.ID, noCopy.ID})
	if err != nil {
		t.Fatalf("MarkNotLocal: %v", err)
	}
	if updated != 1 {
		t.Fatalf("expected one record updated, got %d", updated)
	}
	fetched, err := store.Get(ctx, noCopy.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !fetched.IsLocal {
		t.Fatal("record without durable copy must stay local")
	}

	if err := store.MarkLocal(ctx, old.ID); err != nil {
		t.Fatalf("MarkLocal: %v", err)
	}
	fetched, err = store.Get(ctx, old.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !fetched.IsLocal {
		t.Fatal("expected record to be local after MarkLocal")
	}
}

func TestListOrphans(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	owner := testsupport.NewUser(t, store, "owner@example.com")
	postID, err := store.InsertPost(ctx, owner)
	if err != nil {
		t.Fatalf("InsertPost: %v", err)
	}

	store.SetClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	ownerless := testsupport.NewUpload(t, cfg, store, nil, "ownerless.gif", "image/gif", 8)
	rejected := testsupport.NewUpload(t, cfg, store, &owner, "rejected.gif", "image/gif", 8)
	unreferenced := testsupport.NewUpload(t, cfg, store, &owner, "loose.gif", "image/gif", 8)
	attached := testsupport.NewUpload(t, cfg, store, &owner, "attached.gif", "image/gif", 8)
	rejectedAttached := testsupport.NewUpload(t, cfg, store, &owner, "bad.gif", "image/gif", 8)
	store.SetClock(nil)
	recent := testsupport.NewUpload(t, cfg, store, nil, "recent.gif", "image/gif", 8)

	for _, id := range []int64{rejected.ID, rejectedAttached.ID} {
		if _, err := store.SetStatus(ctx, id, uploads.StatusRejected); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
	}
	for _, id := range []int64{attached.ID, rejectedAttached.ID} {
		if err := store.Attach(ctx, uploads.AttachPost, postID, id); err != nil {
			t.Fatalf("Attach: %v", err)
		}
	}

	orphans, err := store.ListOrphans(ctx, time.Now().Add(-time.Hour), 0, 100)
	if err != nil {
		t.Fatalf("ListOrphans: %v", err)
	}
	got := map[int64]bool{}
	for _, rec := range orphans {
		got[rec.ID] = true
	}
	for _, want := range []int64{ownerless.ID, rejected.ID, unreferenced.ID, rejectedAttached.ID} {
		if !got[want] {
			t.Fatalf("expected record %d in orphans %v", want, got)
		}
	}
	if got[attached.ID] || got[recent.ID] {
		t.Fatalf("unexpected orphan set %v", got)
	}

	deleted, err := store.DeleteRecords(ctx, []int64{ownerless.ID, rejected.ID})
	if err != nil {
		t.Fatalf("DeleteRecords: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deletions, got %d", deleted)
	}
}

func TestClaimOrphansRechecksAttachments(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	owner := testsupport.NewUser(t, store, "owner@example.com")
	postID, err := store.InsertPost(ctx, owner)
	if err != nil {
		t.Fatalf("InsertPost: %v", err)
	}

	store.SetClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	loose := testsupport.NewUpload(t, cfg, store, &owner, "loose.gif", "image/gif", 8)
	late := testsupport.NewUpload(t, cfg, store, &owner, "late.gif", "image/gif", 8)
	store.SetClock(nil)
	cutoff := time.Now().Add(-time.Hour)

	// late gets attached between listing and claiming.
	if err := store.Attach(ctx, uploads.AttachPost, postID, late.ID); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	claimed, err := store.ClaimOrphans(ctx, []int64{loose.ID, late.ID}, cutoff)
	if err != nil {
		t.Fatalf("ClaimOrphans: %v", err)
	}
	if len(claimed) != 1 || claimed[0] != loose.ID {
		t.Fatalf("expected only %d claimed, got %v", loose.ID, claimed)
	}

	err = store.Attach(ctx, uploads.AttachPost, postID, loose.ID)
	if !errors.Is(err, uploads.ErrPurging) {
		t.Fatalf("expected ErrPurging attaching a claimed record, got %v", err)
	}

	deleted, err := store.DeleteClaimed(ctx, []int64{loose.ID, late.ID})
	if err != nil {
		t.Fatalf("DeleteClaimed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}
	if _, err := store.Get(ctx, late.ID); err != nil {
		t.Fatalf("attached record must survive: %v", err)
	}
}

func TestReleaseOrphansAllowsAttach(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	owner := testsupport.NewUser(t, store, "owner@example.com")
	postID, err := store.InsertPost(ctx, owner)
	if err != nil {
		t.Fatalf("InsertPost: %v", err)
	}
	store.SetClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	rec := testsupport.NewUpload(t, cfg, store, &owner, "kept.gif", "image/gif", 8)
	store.SetClock(nil)

	if _, err := store.ClaimOrphans(ctx, []int64{rec.ID}, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("ClaimOrphans: %v", err)
	}
	if err := store.ReleaseOrphans(ctx, []int64{rec.ID}); err != nil {
		t.Fatalf("ReleaseOrphans: %v", err)
	}
	if err := store.Attach(ctx, uploads.AttachPost, postID, rec.ID); err != nil {
		t.Fatalf("Attach after release: %v", err)
	}
	deleted, err := store.DeleteClaimed(ctx, []int64{rec.ID})
	if err != nil {
		t.Fatalf("DeleteClaimed: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("released record must not be deleted, got %d", deleted)
	}
}

func TestAccountPurgeQueries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	requested := time.Now().Add(-20 * 24 * time.Hour)
	doomed, err := store.InsertUser(ctx, uploads.NewUser{
		Email: "gone@example.com", Suspended: true, ToBeDeleted: true, DeleteRequestDate: requested,
	})
	if err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	recent, err := store.InsertUser(ctx, uploads.NewUser{
		Email: "recent@example.com", Suspended: true, ToBeDeleted: true, DeleteRequestDate: time.Now(),
	})
	if err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	notSuspended, err := store.InsertUser(ctx, uploads.NewUser{
		Email: "active@example.com", ToBeDeleted: true, DeleteRequestDate: requested,
	})
	if err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	friend := testsupport.NewUser(t, store, "friend@example.com")

	thread, err := store.InsertThread(ctx, doomed, friend)
	if err != nil {
		t.Fatalf("InsertThread: %v", err)
	}
	msg, err := store.InsertMessage(ctx, thread, doomed)
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if _, err := store.InsertReaction(ctx, msg, friend, "+1"); err != nil {
		t.Fatalf("InsertReaction: %v", err)
	}
	upload := testsupport.NewUpload(t, cfg, store, &doomed, "x.gif", "image/gif", 8)

	cutoff := time.Now().Add(-15 * 24 * time.Hour)
	ids, err := store.ListPurgeableAccounts(ctx, cutoff, 0, 10)
	if err != nil {
		t.Fatalf("ListPurgeableAccounts: %v", err)
	}
	if len(ids) != 1 || ids[0] != doomed {
		t.Fatalf("expected only %d, got %v (recent=%d active=%d)", doomed, ids, recent, notSuspended)
	}

	deleted, err := store.DeleteUsers(ctx, ids)
	if err != nil {
		t.Fatalf("DeleteUsers: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected one user deleted, got %d", deleted)
	}
	rec, err := store.Get(ctx, upload.ID)
	if err != nil {
		t.Fatalf("Get upload: %v", err)
	}
	if rec.UserID != nil {
		t.Fatalf("expected upload owner cleared, got %v", *rec.UserID)
	}

	removed, err := store.DeleteSparseThreads(ctx)
	if err != nil {
		t.Fatalf("DeleteSparseThreads: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected sparse thread removed, got %d", removed)
	}
	exists, err := store.ThreadExists(ctx, thread)
	if err != nil {
		t.Fatalf("ThreadExists: %v", err)
	}
	if exists {
		t.Fatal("expected thread to be gone")
	}
}

func TestDeleteUsersExplicit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	user := testsupport.NewUser(t, store, "u@example.com")
	post, err := store.InsertPost(ctx, user)
	if err != nil {
		t.Fatalf("InsertPost: %v", err)
	}
	if _, err := store.InsertComment(ctx, post, user); err != nil {
		t.Fatalf("InsertComment: %v", err)
	}

	deleted, err := store.DeleteUsersExplicit(ctx, []int64{user})
	if err != nil {
		t.Fatalf("DeleteUsersExplicit: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected one deletion, got %d", deleted)
	}
	if _, err := store.GetUser(ctx, user); !errors.Is(err, uploads.ErrNotFound) {
		t.Fatalf("expected user gone, got %v", err)
	}
}

func TestCountByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.NewUpload(t, cfg, store, nil, "a.gif", "image/gif", 8)
	testsupport.NewUpload(t, cfg, store, nil, "b.gif", "image/gif", 8)
	if _, err := store.SetStatus(ctx, a.ID, uploads.StatusApproved); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[uploads.StatusApproved] != 1 || counts[uploads.StatusPending] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}
