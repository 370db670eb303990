package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediaguard/internal/services"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = services.ErrNotFound

// Insert persists a new pending record and returns it.
func (s *Store) Insert(ctx context.Context, in NewRecord) (*Record, error) {
	if strings.TrimSpace(in.Filename) == "" || strings.TrimSpace(in.Path) == "" {
		return nil, errors.New("filename and path are required")
	}
	if strings.TrimSpace(in.Mime) == "" {
		return nil, errors.New("mime is required")
	}
	variants, err := encodeVariants(in.Variants)
	if err != nil {
		return nil, fmt.Errorf("encode variants: %w", err)
	}
	now := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO file_uploads (user_id, filename, path, mime, status, size_bytes, width, height, duration_sec, is_animated, variants, thumbnail, is_local, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		nullableInt64(in.UserID),
		in.Filename,
		in.Path,
		in.Mime,
		StatusPending,
		nullablePositive(in.SizeBytes),
		nullablePositive(in.Width),
		nullablePositive(in.Height),
		nullablePositive(in.DurationSec),
		boolToInt(in.Animated),
		variants,
		nullableString(in.Thumbnail),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("fetch insert id: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches a record by id. Missing records return ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+recordColumns+" FROM file_uploads WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", id, err)
	}
	return rec, nil
}

// GetForOwner fetches a record only when it belongs to userID.
func (s *Store) GetForOwner(ctx context.Context, id, userID int64) (*Record, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+recordColumns+" FROM file_uploads WHERE id = ? AND user_id = ?", id, userID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %d for user %d: %w", id, userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", id, err)
	}
	return rec, nil
}

// FindByFilename returns the record owning name as its primary file, a
// variant, or its thumbnail.
func (s *Store) FindByFilename(ctx context.Context, name string) (*Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("empty filename: %w", ErrNotFound)
	}
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+recordColumns+` FROM file_uploads
         WHERE filename = ? OR thumbnail = ?
            OR EXISTS (SELECT 1 FROM json_each(file_uploads.variants) WHERE json_each.value = ?)
         ORDER BY id LIMIT 1`, name, name, name)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find file %q: %w", name, err)
	}
	return rec, nil
}

// SetJobID records the job reference assigned to a record's moderation.
func (s *Store) SetJobID(ctx context.Context, id int64, jobID string) error {
	res, err := s.execWithRetry(ctx,
		"UPDATE file_uploads SET job_id = ?, updated_at = ? WHERE id = ?",
		nullableString(jobID), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("set job id: %w", err)
	}
	return requireAffected(res, id)
}

// SetStatus moves a pending record to a terminal status. It reports whether
// the row changed; a record already in a terminal status is left untouched
// and reports false with a nil error.
func (s *Store) SetStatus(ctx context.Context, id int64, status Status) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}
	res, err := s.execWithRetry(ctx,
		"UPDATE file_uploads SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		status, s.timestamp(), id, StatusPending)
	if err != nil {
		return false, fmt.Errorf("set status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("status rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// SetSize records the primary file size, used after a PDF is rewritten in
// place.
func (s *Store) SetSize(ctx context.Context, id int64, sizeBytes int64) error {
	res, err := s.execWithRetry(ctx,
		"UPDATE file_uploads SET size_bytes = ?, updated_at = ? WHERE id = ?",
		nullablePositive(sizeBytes), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("set size: %w", err)
	}
	return requireAffected(res, id)
}

// StatusForOwner returns the owner-facing projection of a record.
func (s *Store) StatusForOwner(ctx context.Context, id, userID int64) (*StatusView, error) {
	rec, err := s.GetForOwner(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return rec.View(), nil
}

// ListPending returns pending records oldest first, used to re-enqueue
// moderation after a broker outage.
func (s *Store) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT "+recordColumns+" FROM file_uploads WHERE status = ? AND created_at < ? ORDER BY id LIMIT ?",
		StatusPending, formatTime(olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return scanRecords(rows)
}

// CountByStatus returns record totals per status.
func (s *Store) CountByStatus(ctx context.Context) (Counts, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT status, COUNT(1) FROM file_uploads GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()
	counts := Counts{}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

// List returns records filtered by status, newest first.
func (s *Store) List(ctx context.Context, statuses []Status, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + recordColumns + " FROM file_uploads"
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(statuses)) + ")"
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return scanRecords(rows)
}

func requireAffected(res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	return nil
}
