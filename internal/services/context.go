package services

import "context"

type contextKey int

const (
	uploadIDKey contextKey = iota
	jobKey
	laneKey
	requestIDKey
	taskIDKey
)

// WithUploadID annotates ctx with the media record being processed.
func WithUploadID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, uploadIDKey, id)
}

// UploadIDFromContext reports the media record id carried by ctx.
func UploadIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(uploadIDKey).(int64)
	return id, ok
}

// WithJob annotates ctx with a task name such as moderation:file.
func WithJob(ctx context.Context, job string) context.Context {
	return withString(ctx, jobKey, job)
}

// JobFromContext reports the task name carried by ctx.
func JobFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, jobKey)
}

// WithLane annotates ctx with the queue lane handling the task.
func WithLane(ctx context.Context, lane string) context.Context {
	return withString(ctx, laneKey, lane)
}

// LaneFromContext reports the queue lane carried by ctx.
func LaneFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, laneKey)
}

// WithRequestID annotates ctx with an HTTP correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext reports the correlation id carried by ctx.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, requestIDKey)
}

// WithTaskID annotates ctx with the broker's task id.
func WithTaskID(ctx context.Context, id string) context.Context {
	return withString(ctx, taskIDKey, id)
}

// TaskIDFromContext reports the broker task id carried by ctx.
func TaskIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, taskIDKey)
}

// withString leaves ctx untouched for empty values so lookups never report
// a present but blank field.
func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	value, ok := ctx.Value(key).(string)
	return value, ok && value != ""
}
