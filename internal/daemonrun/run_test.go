package daemonrun

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"mediaguard/internal/config"
	"mediaguard/internal/jobs"
	"mediaguard/internal/logging"
	"mediaguard/internal/services"
	"mediaguard/internal/testsupport"
)

func runtimeConfig(t *testing.T) *config.Config {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRedis(mr.Addr()))
	cfg.Email.VerificationSecret = "verify"
	cfg.Email.PasswordSecret = "password"
	cfg.Email.DeleteSecret = "delete"
	return cfg
}

func TestOpenWiresPipeline(t *testing.T) {
	cfg := runtimeConfig(t)
	rt, err := Open(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rt.Close()

	if rt.Pipeline == nil || rt.Pipeline.Moderator == nil || rt.Pipeline.Mailer == nil {
		t.Fatal("expected moderation and email handlers to be wired")
	}
	if rt.Pipeline.Backupper == nil || rt.Pipeline.Sweeper == nil {
		t.Fatal("expected maintenance handlers to be wired")
	}
	if rt.Objects.Backend() != config.StorageLocal {
		t.Fatalf("expected local object store, got %s", rt.Objects.Backend())
	}

	// Sweeps run against an empty store without touching the broker.
	if err := rt.Pipeline.RunMaintenance(context.Background(), jobs.TaskCleanPartials); err != nil {
		t.Fatalf("RunMaintenance: %v", err)
	}
}

func TestOpenWithoutEmailSecrets(t *testing.T) {
	cfg := runtimeConfig(t)
	cfg.Email.DeleteSecret = ""

	cfg.Email.Enabled = false
	rt, err := Open(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("disabled email should not block startup: %v", err)
	}
	if rt.Pipeline.Mailer != nil {
		t.Fatal("expected no mailer without secrets")
	}
	err = rt.Pipeline.Handlers().Email(context.Background(), jobs.TaskEmailVerification, jobs.EmailPayload{UserID: 1})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	_ = rt.Close()

	cfg.Email.Enabled = true
	if _, err := Open(context.Background(), cfg, logging.NewNop()); err == nil {
		t.Fatal("expected error when email is enabled without secrets")
	}
}

func TestOpenRejectsUnreadablePrompts(t *testing.T) {
	cfg := runtimeConfig(t)
	cfg.Moderation.PromptsPath = filepath.Join(t.TempDir(), "missing.toml")
	_, err := Open(context.Background(), cfg, logging.NewNop())
	if err == nil || !strings.Contains(err.Error(), "prompts") {
		t.Fatalf("expected prompts error, got %v", err)
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaguard.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("unexpected pid file contents %q", data)
	}
	if err := writePIDFile(""); err != nil {
		t.Fatalf("empty path should be a no-op: %v", err)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error without config")
	}
}
