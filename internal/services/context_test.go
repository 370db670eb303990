package services_test

import (
	"context"
	"testing"

	"mediaguard/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithUploadID(ctx, 42)
	ctx = services.WithJob(ctx, "moderation:file")
	ctx = services.WithLane(ctx, "moderation")
	ctx = services.WithRequestID(ctx, "req-123")
	ctx = services.WithTaskID(ctx, "moderation:42")

	if id, ok := services.UploadIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected upload id: %v %v", id, ok)
	}
	if job, ok := services.JobFromContext(ctx); !ok || job != "moderation:file" {
		t.Fatalf("unexpected job: %v %v", job, ok)
	}
	if lane, ok := services.LaneFromContext(ctx); !ok || lane != "moderation" {
		t.Fatalf("unexpected lane: %v %v", lane, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
	if tid, ok := services.TaskIDFromContext(ctx); !ok || tid != "moderation:42" {
		t.Fatalf("unexpected task id: %v %v", tid, ok)
	}
}

func TestJobBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJob(ctx, "")
	if _, ok := services.JobFromContext(ctx); ok {
		t.Fatal("expected no job value")
	}
}
