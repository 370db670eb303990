package janitor

import (
	"context"
	"fmt"
	"time"

	"mediaguard/internal/logging"
	"mediaguard/internal/services"
)

// PurgeAccounts deletes suspended accounts flagged for deletion whose request
// is older than the grace period. Each batch first relies on cascading
// deletes and falls back to deleting dependents explicitly. A batch that
// fails both ways stops the sweep.
func (j *Janitor) PurgeAccounts(ctx context.Context) (Report, error) {
	started := time.Now()
	report := Report{Sweep: SweepAccounts}
	cutoff := j.now().Add(-time.Duration(j.settings.AccountGraceDays) * 24 * time.Hour)
	batchSize := j.settings.AccountBatchSize

	if n, err := j.store.DeleteSparseThreads(ctx); err != nil {
		return report, services.Wrap(services.ErrTransient, "janitor", SweepAccounts, "delete sparse threads", err)
	} else if n > 0 {
		j.logger.Debug("sparse threads removed", logging.Int64("threads", n))
	}

	var after int64
	for {
		ids, err := j.store.ListPurgeableAccounts(ctx, cutoff, after, batchSize)
		if err != nil {
			return report, services.Wrap(services.ErrTransient, "janitor", SweepAccounts, "list accounts", err)
		}
		if len(ids) == 0 {
			break
		}
		report.Batches++
		report.Examined += len(ids)

		deleted, err := j.store.DeleteUsers(ctx, ids)
		if err != nil {
			logging.WarnWithContext(j.logger, "cascading account delete failed", "account_purge_retry",
				logging.Int("accounts", len(ids)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "retrying with explicit dependent deletes"),
			)
			deleted, err = j.store.DeleteUsersExplicit(ctx, ids)
		}
		if err != nil {
			report.Kept += len(ids)
			j.finish(ctx, report, started)
			return report, services.Wrap(services.ErrTransient, "janitor", SweepAccounts,
				fmt.Sprintf("batch after id %d failed twice", after), err)
		}
		report.Removed += int(deleted)
		// Rows that survived a successful delete would be listed again.
		after = ids[len(ids)-1]
		if len(ids) < batchSize {
			break
		}
	}

	if n, err := j.store.DeleteSparseThreads(ctx); err != nil {
		return report, services.Wrap(services.ErrTransient, "janitor", SweepAccounts, "delete sparse threads", err)
	} else if n > 0 {
		j.logger.Debug("sparse threads removed", logging.Int64("threads", n))
	}
	j.finish(ctx, report, started)
	return report, nil
}
