package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"mediaguard/internal/config"
)

// ConfigOption adjusts a generated test configuration. base is the temp
// directory every configured path lives under.
type ConfigOption func(t testing.TB, cfg *config.Config, base string)

// NewConfig returns a config rooted in a fresh temp directory with local
// durable storage, CPU scoring and notifications off. Options run before the
// directories are created.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.UploadDir = filepath.Join(base, "uploads")
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Database.Path = filepath.Join(cfg.Paths.DataDir, "mediaguard.db")
	cfg.Storage.Backend = config.StorageLocal
	cfg.Storage.LocalDir = filepath.Join(base, "durable")
	cfg.Moderation.Device = config.DeviceCPU
	cfg.Notifications.NtfyTopic = ""

	for _, opt := range opts {
		opt(t, &cfg, base)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// BaseDir returns the temp directory backing a config from NewConfig.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.UploadDir)
}

// WithRedis points the broker and lock client at addr.
func WithRedis(addr string) ConfigOption {
	return func(_ testing.TB, cfg *config.Config, _ string) {
		cfg.Redis.Addr = addr
	}
}

// WithPublicURL sets the base URL used in emailed and status links.
func WithPublicURL(url string) ConfigOption {
	return func(_ testing.TB, cfg *config.Config, _ string) {
		cfg.API.PublicBaseURL = url
	}
}

// WithStubbedBinaries puts executables for names (ffmpeg and ffprobe by
// default) first on PATH for the rest of the test. Each stub prints
// "<name> version stub" and exits 0.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(t testing.TB, _ *config.Config, base string) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(base, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			t.Fatalf("mkdir bin dir: %v", err)
		}
		for _, name := range names {
			script := "#!/bin/sh\necho \"" + name + " version stub\"\n"
			if err := os.WriteFile(filepath.Join(binDir, name), []byte(script), 0o755); err != nil {
				t.Fatalf("write stub %s: %v", name, err)
			}
		}
		t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}
