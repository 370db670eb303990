package tiering

import (
	"context"
	"errors"
	"fmt"
	"os"

	"mediaguard/internal/fileutil"
	"mediaguard/internal/logging"
	"mediaguard/internal/metrics"
	"mediaguard/internal/objectstore"
	"mediaguard/internal/services"
	"mediaguard/internal/uploads"
)

// BackupReport summarizes one backup run.
type BackupReport struct {
	Examined int
	BackedUp int
	Damaged  int
	Failed   int
	Uploaded int
	Bytes    int64
}

func (r BackupReport) String() string {
	return fmt.Sprintf("examined=%d backed_up=%d damaged=%d failed=%d uploaded=%d bytes=%d",
		r.Examined, r.BackedUp, r.Damaged, r.Failed, r.Uploaded, r.Bytes)
}

// Backup copies approved records without a durable copy to object storage.
// Failed records are retried on the next run; the returned error is
// transient when any record failed.
func (m *Manager) Backup(ctx context.Context) (BackupReport, error) {
	var (
		report BackupReport
		errs   []error
		after  int64
	)
	for report.Examined < m.backupLimit {
		page := min(m.pageSize, m.backupLimit-report.Examined)
		records, err := m.store.ListBackupCandidates(ctx, after, page)
		if err != nil {
			return report, services.Wrap(services.ErrTransient, "tiering", "backup", "list candidates", err)
		}
		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			after = rec.ID
			report.Examined++
			if err := m.backupRecord(ctx, rec, &report); err != nil {
				report.Failed++
				errs = append(errs, err)
				metrics.TieringOperations.WithLabelValues("backup", metrics.ResultFailed).Inc()
				logging.WarnWithContext(m.logger, "backup failed", "backup_failed",
					logging.Int64(logging.FieldUploadID, rec.ID),
					logging.Error(err),
					logging.String(logging.FieldImpact, "record stays local only until the next run"),
				)
			}
		}
		if len(records) < page {
			break
		}
	}
	m.logger.Info("backup run complete",
		logging.Int("examined", report.Examined),
		logging.Int("backed_up", report.BackedUp),
		logging.Int("damaged", report.Damaged),
		logging.Int("failed", report.Failed),
		logging.Int64("bytes", report.Bytes),
	)
	if len(errs) > 0 {
		return report, services.Wrap(services.ErrTransient, "tiering", "backup",
			fmt.Sprintf("%d records failed", len(errs)), errors.Join(errs...))
	}
	return report, nil
}

func (m *Manager) backupRecord(ctx context.Context, rec *uploads.Record, report *BackupReport) error {
	// Re-read so a copy recorded by a concurrent run is seen before uploading.
	current, err := m.store.Get(ctx, rec.ID)
	if err != nil {
		return err
	}
	if current.HasDurable() || current.Status != uploads.StatusApproved {
		metrics.TieringOperations.WithLabelValues("backup", metrics.ResultSkipped).Inc()
		return nil
	}

	files := current.Files()
	var missing []string
	for _, file := range files {
		if !fileutil.Exists(m.localPath(file.Name)) {
			missing = append(missing, file.Name)
		}
	}
	if len(files) == 0 || len(missing) > 0 {
		report.Damaged++
		metrics.TieringOperations.WithLabelValues("backup", metrics.ResultSkipped).Inc()
		logging.WarnWithContext(m.logger, "record has missing local files", "backup_damaged",
			logging.Int64(logging.FieldUploadID, current.ID),
			logging.Any("missing", missing),
			logging.String(logging.FieldErrorHint, "local bytes were lost before a durable copy existed"),
		)
		return nil
	}

	durable := uploads.DurableCopy{}
	for _, file := range files {
		key := objectstore.Key(m.prefix, file.Name)
		n, err := m.uploadFile(ctx, key, m.localPath(file.Name))
		if err != nil {
			return err
		}
		report.Uploaded++
		report.Bytes += n
		switch file.Label {
		case uploads.LabelPrimary:
			durable.Path = key
		case uploads.LabelThumbnail:
			durable.Thumbnail = key
		default:
			if durable.Variants == nil {
				durable.Variants = map[string]string{}
			}
			durable.Variants[file.Label] = key
		}
	}

	changed, err := m.store.RecordDurable(ctx, current.ID, durable)
	if err != nil {
		return services.Wrap(services.ErrIntegrity, "tiering", "record durable", fmt.Sprintf("record %d", current.ID), err)
	}
	if !changed {
		m.logger.Info("durable copy already recorded",
			logging.Int64(logging.FieldUploadID, current.ID),
			logging.String(logging.FieldDecisionType, "backup_skip"),
		)
		metrics.TieringOperations.WithLabelValues("backup", metrics.ResultSkipped).Inc()
		return nil
	}
	report.BackedUp++
	metrics.TieringOperations.WithLabelValues("backup", metrics.ResultOK).Inc()
	m.logger.Debug("record backed up",
		logging.Int64(logging.FieldUploadID, current.ID),
		logging.Int("files", len(files)),
	)
	return nil
}

func (m *Manager) uploadFile(ctx context.Context, key, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := m.objects.Upload(ctx, key, f, info.Size()); err != nil {
		return 0, err
	}
	metrics.TieringBytes.WithLabelValues("upload").Add(float64(info.Size()))
	return info.Size(), nil
}
