package uploads

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

const recordColumns = "id, user_id, filename, path, mime, status, job_id, size_bytes, width, height, duration_sec, is_animated, variants, thumbnail, durable_path, durable_variants, durable_thumbnail, is_local, created_at, updated_at"

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		id              int64
		userID          sql.NullInt64
		filename        string
		path            string
		mime            string
		statusStr       string
		jobID           sql.NullString
		sizeBytes       sql.NullInt64
		width           sql.NullInt64
		height          sql.NullInt64
		duration        sql.NullFloat64
		animated        int
		variants        sql.NullString
		thumbnail       sql.NullString
		durablePath     sql.NullString
		durableVariants sql.NullString
		durableThumb    sql.NullString
		isLocal         int
		createdRaw      string
		updatedRaw      string
	)

	if err := scanner.Scan(
		&id,
		&userID,
		&filename,
		&path,
		&mime,
		&statusStr,
		&jobID,
		&sizeBytes,
		&width,
		&height,
		&duration,
		&animated,
		&variants,
		&thumbnail,
		&durablePath,
		&durableVariants,
		&durableThumb,
		&isLocal,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	rec := &Record{
		ID:               id,
		Filename:         filename,
		Path:             path,
		Mime:             mime,
		Status:           Status(statusStr),
		JobID:            jobID.String,
		SizeBytes:        sizeBytes.Int64,
		Width:            int(width.Int64),
		Height:           int(height.Int64),
		DurationSec:      duration.Float64,
		Animated:         animated != 0,
		Thumbnail:        thumbnail.String,
		DurablePath:      durablePath.String,
		DurableThumbnail: durableThumb.String,
		IsLocal:          isLocal != 0,
		CreatedAt:        parseTimeString(createdRaw),
		UpdatedAt:        parseTimeString(updatedRaw),
	}
	if userID.Valid {
		uid := userID.Int64
		rec.UserID = &uid
	}
	var err error
	if rec.Variants, err = decodeVariants(variants); err != nil {
		return nil, err
	}
	if rec.DurableVariants, err = decodeVariants(durableVariants); err != nil {
		return nil, err
	}
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func decodeVariants(raw sql.NullString) (map[string]string, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func encodeVariants(values map[string]string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullablePositive[T int | int64 | float64](value T) any {
	if value <= 0 {
		return nil
	}
	return value
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
