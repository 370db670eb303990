package uploads

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// DurableCopy names the durable objects written for a record. Exactly one
// of Path or Variants is set; Thumbnail is optional.
type DurableCopy struct {
	Path      string
	Variants  map[string]string
	Thumbnail string
}

// ListBackupCandidates returns approved records with no durable copy yet,
// ordered by id and starting after afterID.
func (s *Store) ListBackupCandidates(ctx context.Context, afterID int64, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+recordColumns+` FROM file_uploads
         WHERE status = ? AND durable_path IS NULL AND durable_variants IS NULL AND id > ?
         ORDER BY id LIMIT ?`,
		StatusApproved, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list backup candidates: %w", err)
	}
	return scanRecords(rows)
}

// RecordDurable stores durable object names for a record. The write only
// applies while no durable copy is recorded, so concurrent backups of the
// same record leave the first result in place. It reports whether the row
// changed.
func (s *Store) RecordDurable(ctx context.Context, id int64, durable DurableCopy) (bool, error) {
	if durable.Path == "" && len(durable.Variants) == 0 {
		return false, fmt.Errorf("record %d: durable copy is empty", id)
	}
	variants, err := encodeVariants(durable.Variants)
	if err != nil {
		return false, fmt.Errorf("encode durable variants: %w", err)
	}
	path := durable.Path
	if variants != nil {
		path = ""
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE file_uploads SET durable_path = ?, durable_variants = ?, durable_thumbnail = ?, updated_at = ?
         WHERE id = ? AND durable_path IS NULL AND durable_variants IS NULL`,
		nullableString(path), variants, nullableString(durable.Thumbnail), s.timestamp(), id)
	if err != nil {
		return false, fmt.Errorf("record durable copy: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("durable rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListPruneCandidates returns approved records created before cutoff that
// have a durable copy and still hold local bytes, either as a local record or
// as files left by a partial rehydration.
func (s *Store) ListPruneCandidates(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+recordColumns+` FROM file_uploads
         WHERE status = ? AND (is_local = 1 OR partial_local = 1) AND created_at < ?
           AND (durable_path IS NOT NULL OR durable_variants IS NOT NULL)
           AND id > ?
         ORDER BY id LIMIT ?`,
		StatusApproved, formatTime(cutoff), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list prune candidates: %w", err)
	}
	return scanRecords(rows)
}

// MarkNotLocal clears the local flag on records that have a durable copy.
// Records without one are skipped and the number updated is returned.
func (s *Store) MarkNotLocal(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{s.timestamp()}, int64Args(ids)...)
	res, err := s.execWithRetry(ctx,
		`UPDATE file_uploads SET is_local = 0, partial_local = 0, updated_at = ?
         WHERE id IN (`+makePlaceholders(len(ids))+`)
           AND (durable_path IS NOT NULL OR durable_variants IS NOT NULL)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("mark not local: %w", err)
	}
	return res.RowsAffected()
}

// MarkLocal sets the local flag after a rehydration restored the bytes.
func (s *Store) MarkLocal(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(ctx,
		"UPDATE file_uploads SET is_local = 1, partial_local = 0, updated_at = ? WHERE id = ?",
		s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("mark local: %w", err)
	}
	return requireAffected(res, id)
}

// MarkPartiallyLocal records that some files of a non-local record were
// restored, so the prune sweep removes them again after retention.
func (s *Store) MarkPartiallyLocal(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(ctx,
		"UPDATE file_uploads SET partial_local = 1, updated_at = ? WHERE id = ? AND is_local = 0",
		s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("mark partially local: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark partially local rows affected: %w", err)
	}
	return nil
}

// ErrPurging reports an attachment against a record claimed for purging.
var ErrPurging = errors.New("file upload is being purged")

// orphanPredicate matches records with no owner, a rejected status, or no
// row in any attachment table. It expects the file_uploads alias f.
const orphanPredicate = `(
             f.user_id IS NULL
             OR f.status = ?
             OR (
               NOT EXISTS (SELECT 1 FROM bio_attachments a WHERE a.file_upload_id = f.id)
               AND NOT EXISTS (SELECT 1 FROM post_attachments a WHERE a.file_upload_id = f.id)
               AND NOT EXISTS (SELECT 1 FROM comment_attachments a WHERE a.file_upload_id = f.id)
               AND NOT EXISTS (SELECT 1 FROM message_attachments a WHERE a.file_upload_id = f.id)
             )
           )`

// ListOrphans returns records created before cutoff that have no owner, were
// rejected, or are referenced by no attachment table.
func (s *Store) ListOrphans(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+recordColumns+` FROM file_uploads f
         WHERE f.id > ? AND f.created_at < ? AND `+orphanPredicate+`
         ORDER BY f.id LIMIT ?`,
		afterID, formatTime(cutoff), StatusRejected, limit)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	return scanRecords(rows)
}

// ClaimOrphans flags the listed records for purging when they still match the
// orphan predicate and returns the ids it claimed. Attachment inserts against
// a claimed record fail with ErrPurging until ReleaseOrphans clears the flag
// or DeleteClaimed removes the row.
func (s *Store) ClaimOrphans(ctx context.Context, ids []int64, cutoff time.Time) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx = ensureContext(ctx)
	args := append(int64Args(ids), formatTime(cutoff), StatusRejected)
	query := `UPDATE file_uploads AS f SET purging = 1
         WHERE f.id IN (` + makePlaceholders(len(ids)) + `) AND f.created_at < ? AND ` + orphanPredicate + `
         RETURNING id`

	var claimed []int64
	err := retryOnBusy(ctx, func() error {
		claimed = claimed[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			claimed = append(claimed, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("claim orphans: %w", err)
	}
	slices.Sort(claimed)
	return claimed, nil
}

// ReleaseOrphans clears the purge flag on records the janitor decided to keep.
func (s *Store) ReleaseOrphans(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.execWithRetry(ctx,
		"UPDATE file_uploads SET purging = 0 WHERE id IN ("+makePlaceholders(len(ids))+")",
		int64Args(ids)...); err != nil {
		return fmt.Errorf("release orphans: %w", err)
	}
	return nil
}

// DeleteClaimed removes records previously flagged by ClaimOrphans. Ids that
// were never claimed are left alone.
func (s *Store) DeleteClaimed(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.execWithRetry(ctx,
		"DELETE FROM file_uploads WHERE purging = 1 AND id IN ("+makePlaceholders(len(ids))+")",
		int64Args(ids)...)
	if err != nil {
		return 0, fmt.Errorf("delete claimed records: %w", err)
	}
	return res.RowsAffected()
}

// DeleteRecords removes records by id and returns the number deleted.
func (s *Store) DeleteRecords(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.execWithRetry(ctx,
		"DELETE FROM file_uploads WHERE id IN ("+makePlaceholders(len(ids))+")",
		int64Args(ids)...)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return res.RowsAffected()
}
