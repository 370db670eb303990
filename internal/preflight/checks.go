package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"

	"mediaguard/internal/config"
	"mediaguard/internal/deps"
	"mediaguard/internal/objectstore"
	"mediaguard/internal/services/inference"
)

// CheckInference verifies that the scoring sidecar is reachable and ready.
// It uses a 10-second timeout and a single attempt.
func CheckInference(ctx context.Context, cfg config.Inference) Result {
	const name = "Inference service"

	if strings.TrimSpace(cfg.BaseURL) == "" {
		return Result{Name: name, Detail: "missing base url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := inference.NewClient(inference.Config{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		TimeoutSeconds: 10,
	})
	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError(err, "inference service")}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckRedis verifies the job broker answers PING.
func CheckRedis(ctx context.Context, cfg config.Redis) Result {
	const name = "Redis"

	if strings.TrimSpace(cfg.Addr) == "" {
		return Result{Name: name, Detail: "missing address"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	defer client.Close()

	if err := client.Ping(checkCtx).Err(); err != nil {
		return Result{Name: name, Detail: summarizeError(err, "redis")}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (ping ok)", cfg.Addr)}
}

// CheckObjectStore verifies the durable backend answers a metadata request
// for a probe key. A missing object is the expected answer.
func CheckObjectStore(ctx context.Context, store objectstore.Store, prefix string) Result {
	name := "Object storage"
	if store == nil {
		return Result{Name: name, Detail: "not configured"}
	}
	name = fmt.Sprintf("Object storage (%s)", store.Backend())

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := store.Exists(checkCtx, objectstore.Key(prefix, ".mediaguard-preflight")); err != nil {
		return Result{Name: name, Detail: summarizeError(err, "object storage")}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckSMTP verifies the SMTP host accepts TCP connections.
func CheckSMTP(ctx context.Context, cfg config.Email) Result {
	const name = "SMTP"

	host := strings.TrimSpace(cfg.SMTPHost)
	if host == "" {
		return Result{Name: name, Detail: "missing host"}
	}
	addr := net.JoinHostPort(host, strconv.Itoa(cfg.SMTPPort))
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err, "smtp")}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (connect ok)", addr)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the media binaries for the given config. Both
// the daemon and the CLI status command use this to avoid duplicating the
// requirements list.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     deps.Resolve(cfg.FFmpegBinary()),
			Description: "Required for frame sampling and video thumbnails",
		},
		{
			Name:        "FFprobe",
			Command:     deps.Resolve(cfg.FFprobeBinary()),
			Description: "Required for container validation",
		},
	}
	return deps.CheckVersioned(ctx, requirements)
}

// summarizeError produces a human-readable summary for connectivity failures.
func summarizeError(err error, service string) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("check timed out (%s unresponsive)", service)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("check timed out (%s unreachable)", service)
	}
	return err.Error()
}
