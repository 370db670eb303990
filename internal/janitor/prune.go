package janitor

import (
	"context"
	"time"

	"mediaguard/internal/fileutil"
	"mediaguard/internal/logging"
	"mediaguard/internal/services"
)

// PruneLocal deletes the local bytes of approved records older than the
// retention window that already have a durable copy, then clears is_local.
// Files left behind by a partial rehydration are reclaimed the same way.
// The durable copy is the copy of record and is never touched here.
func (j *Janitor) PruneLocal(ctx context.Context) (Report, error) {
	started := time.Now()
	report := Report{Sweep: SweepPrune}
	cutoff := j.now().Add(-j.retention)
	batchSize := j.settings.PruneBatchSize

	var after int64
	for {
		records, err := j.store.ListPruneCandidates(ctx, cutoff, after, batchSize)
		if err != nil {
			return report, services.Wrap(services.ErrTransient, "janitor", SweepPrune, "list candidates", err)
		}
		if len(records) == 0 {
			break
		}
		report.Batches++
		report.Examined += len(records)
		after = records[len(records)-1].ID

		var pruned []int64
		for _, rec := range records {
			if !rec.HasDurable() {
				report.Kept++
				continue
			}
			clean := true
			for _, file := range rec.Files() {
				existed, err := fileutil.RemoveIfExists(j.localPath(file.Name))
				if err != nil {
					clean = false
					logging.WarnWithContext(j.logger, "prune delete failed", "janitor_prune_failed",
						logging.Int64(logging.FieldUploadID, rec.ID),
						logging.String("file", file.Name),
						logging.Error(err),
					)
					continue
				}
				if existed {
					report.Files++
				}
			}
			if clean {
				pruned = append(pruned, rec.ID)
			} else {
				report.Kept++
			}
		}
		if len(pruned) > 0 {
			updated, err := j.store.MarkNotLocal(ctx, pruned)
			if err != nil {
				return report, services.Wrap(services.ErrTransient, "janitor", SweepPrune, "mark not local", err)
			}
			report.Removed += int(updated)
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
