package janitor

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mediaguard/internal/fileutil"
	"mediaguard/internal/logging"
	"mediaguard/internal/metrics"
	"mediaguard/internal/services"
	"mediaguard/internal/uploads"
)

// PurgeOrphans deletes records that are rejected, owner-less or attached to
// nothing, once they are older than the grace window. Each batch is claimed
// before any file is touched, so a record attached after listing survives.
// Local files and durable copies go first; a record whose removal fails is
// released and stays for the next run.
func (j *Janitor) PurgeOrphans(ctx context.Context) (Report, error) {
	started := time.Now()
	report := Report{Sweep: SweepOrphans}
	cutoff := j.now().Add(-time.Duration(j.settings.OrphanGraceMinutes) * time.Minute)
	batchSize := j.settings.OrphanBatchSize

	var after int64
	for {
		records, err := j.store.ListOrphans(ctx, cutoff, after, batchSize)
		if err != nil {
			return report, services.Wrap(services.ErrTransient, "janitor", SweepOrphans, "list orphans", err)
		}
		if len(records) == 0 {
			break
		}
		report.Batches++
		report.Examined += len(records)
		after = records[len(records)-1].ID

		claimed, err := j.claim(ctx, records, cutoff)
		if err != nil {
			return report, err
		}
		report.Kept += len(records) - len(claimed)

		removable, files := j.removeAll(ctx, claimed)
		report.Files += files
		report.Kept += len(claimed) - len(removable)
		if len(removable) > 0 {
			deleted, err := j.store.DeleteClaimed(ctx, removable)
			if err != nil {
				return report, services.Wrap(services.ErrTransient, "janitor", SweepOrphans, "delete records", err)
			}
			report.Removed += int(deleted)
		}
		if kept := keptIDs(claimed, removable); len(kept) > 0 {
			if err := j.store.ReleaseOrphans(ctx, kept); err != nil {
				return report, services.Wrap(services.ErrTransient, "janitor", SweepOrphans, "release records", err)
			}
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if len(records) < batchSize {
			break
		}
	}
	j.finish(ctx, report, started)
	return report, nil
}

// claim flags the listed records for purging and drops any that stopped
// matching the orphan predicate since they were listed. Attachments against a
// claimed record are refused until it is deleted or released.
func (j *Janitor) claim(ctx context.Context, records []*uploads.Record, cutoff time.Time) ([]*uploads.Record, error) {
	ids := make([]int64, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	claimedIDs, err := j.store.ClaimOrphans(ctx, ids, cutoff)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "janitor", SweepOrphans, "claim orphans", err)
	}
	claimed := make([]*uploads.Record, 0, len(claimedIDs))
	for _, rec := range records {
		if slices.Contains(claimedIDs, rec.ID) {
			claimed = append(claimed, rec)
			continue
		}
		logging.WithContext(ctx, j.logger).Debug("orphan no longer eligible",
			logging.Int64(logging.FieldUploadID, rec.ID))
	}
	return claimed, nil
}

func keptIDs(claimed []*uploads.Record, removable []int64) []int64 {
	var kept []int64
	for _, rec := range claimed {
		if !slices.Contains(removable, rec.ID) {
			kept = append(kept, rec.ID)
		}
	}
	return kept
}

// removeAll deletes each record's files on the bounded worker pool and
// returns the ids whose files are all gone.
func (j *Janitor) removeAll(ctx context.Context, records []*uploads.Record) ([]int64, int) {
	var (
		mu        sync.Mutex
		removable []int64
		files     int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.settings.DeleteWorkers)
	for _, rec := range records {
		g.Go(func() error {
			n, ok := j.removeRecordFiles(gctx, rec)
			mu.Lock()
			defer mu.Unlock()
			files += n
			if ok {
				removable = append(removable, rec.ID)
			}
			return nil
		})
	}
	_ = g.Wait()
	return removable, files
}

func (j *Janitor) removeRecordFiles(ctx context.Context, rec *uploads.Record) (int, bool) {
	ok := true
	removed := 0
	for _, file := range rec.Files() {
		existed, err := fileutil.RemoveIfExists(j.localPath(file.Name))
		if err != nil {
			ok = false
			logging.WarnWithContext(j.logger, "local delete failed", "janitor_delete_failed",
				logging.Int64(logging.FieldUploadID, rec.ID),
				logging.String("file", file.Name),
				logging.Error(err),
			)
			continue
		}
		if existed {
			removed++
		}
	}
	if j.objects == nil {
		return removed, ok
	}
	for _, key := range rec.DurableKeys() {
		if err := j.objects.Delete(ctx, key); err != nil {
			ok = false
			metrics.TieringOperations.WithLabelValues("delete", metrics.ResultFailed).Inc()
			logging.WarnWithContext(j.logger, "durable delete failed", "janitor_durable_delete_failed",
				logging.Int64(logging.FieldUploadID, rec.ID),
				logging.String("key", key),
				logging.Error(err),
				logging.String(logging.FieldImpact, "record kept for the next sweep"),
			)
			continue
		}
		metrics.TieringOperations.WithLabelValues("delete", metrics.ResultOK).Inc()
	}
	return removed, ok
}
