package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"mediaguard/internal/cascade"
	"mediaguard/internal/config"
	"mediaguard/internal/daemon"
	"mediaguard/internal/email"
	"mediaguard/internal/janitor"
	"mediaguard/internal/jobs"
	"mediaguard/internal/logging"
	"mediaguard/internal/media/ffprobe"
	"mediaguard/internal/moderation"
	"mediaguard/internal/notifications"
	"mediaguard/internal/objectstore"
	"mediaguard/internal/preflight"
	"mediaguard/internal/sampler"
	"mediaguard/internal/services/inference"
	"mediaguard/internal/tiering"
	"mediaguard/internal/uploads"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Runtime holds the client handles and domain services shared by the job
// lanes. Handles are created once per process and released by Close.
type Runtime struct {
	Store     *uploads.Store
	Objects   objectstore.Store
	Redis     *redis.Client
	Notifier  notifications.Service
	Tiering   *tiering.Manager
	Janitor   *janitor.Janitor
	Mailer    *email.Mailer
	Moderator *moderation.Orchestrator
	Pipeline  *daemon.Pipeline
}

// Open builds every domain service from cfg.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	rt := &Runtime{Notifier: notifications.NewService(cfg)}

	store, err := uploads.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	rt.Store = store

	objects, err := objectstore.New(ctx, cfg.Storage, logger)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("open object store: %w", err)
	}
	rt.Objects = objects

	rt.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	tierOpts := tiering.OptionsFromConfig(cfg)
	tierOpts.Store = store
	tierOpts.Objects = objects
	tierOpts.Locker = tiering.NewRedisLocker(rt.Redis)
	tierOpts.Logger = logger
	if rt.Tiering, err = tiering.New(tierOpts); err != nil {
		_ = rt.Close()
		return nil, err
	}

	janOpts := janitor.OptionsFromConfig(cfg)
	janOpts.Store = store
	janOpts.Objects = objects
	janOpts.Notifier = rt.Notifier
	janOpts.Logger = logger
	if rt.Janitor, err = janitor.New(janOpts); err != nil {
		_ = rt.Close()
		return nil, err
	}

	if rt.Mailer, err = email.New(cfg, email.Options{Users: store, Logger: logger}); err != nil {
		if cfg.Email.Enabled {
			_ = rt.Close()
			return nil, err
		}
		// Tokens cannot be signed; email jobs fail as configuration errors.
		logging.WarnWithContext(logger, "email lane disabled", "email_unconfigured",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "set the email token secrets"),
			logging.String(logging.FieldImpact, "account emails are not sent"),
		)
		rt.Mailer = nil
	}

	if rt.Moderator, err = newModerator(cfg, store, rt.Notifier, logger); err != nil {
		_ = rt.Close()
		return nil, err
	}

	rt.Pipeline = &daemon.Pipeline{
		Moderator: rt.Moderator,
		Backupper: rt.Tiering,
		Sweeper:   rt.Janitor,
		Logger:    logger,
	}
	if rt.Mailer != nil {
		rt.Pipeline.Mailer = rt.Mailer
	}
	return rt, nil
}

func newModerator(cfg *config.Config, store *uploads.Store, notifier notifications.Service, logger *slog.Logger) (*moderation.Orchestrator, error) {
	prompts, err := cascade.LoadPrompts(cfg.Moderation.PromptsPath)
	if err != nil {
		return nil, err
	}
	workers := cfg.Moderation.CPUWorkers
	if cfg.UseGPU() {
		workers = 1
	}
	backend := inference.NewClient(inference.Config{
		BaseURL:        cfg.Inference.BaseURL,
		APIKey:         cfg.Inference.APIKey,
		TimeoutSeconds: cfg.Inference.TimeoutSeconds,
		MaxRetries:     cfg.Inference.MaxRetries,
	})
	scorer, err := cascade.New(backend, cascade.Options{
		Policy:      cascade.NewPolicy(cfg.Moderation.Thresholds),
		Prompts:     prompts,
		BatchSize:   cfg.Moderation.BatchSize,
		UnsafeLimit: cfg.Moderation.UnsafeLimit,
		Workers:     workers,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	ffprobeBinary := cfg.FFprobeBinary()
	return moderation.New(moderation.Options{
		Store:  store,
		Scorer: scorer,
		Frames: sampler.New(cfg.FFmpegBinary(), logger),
		Probe: func(ctx context.Context, path string) (ffprobe.Result, error) {
			return ffprobe.Inspect(ctx, ffprobeBinary, path)
		},
		Stride:   cfg.Moderation.FrameStride,
		Notifier: notifier,
		Logger:   logger,
	})
}

// Close releases the client handles.
func (r *Runtime) Close() error {
	var errs []error
	if r.Redis != nil {
		errs = append(errs, r.Redis.Close())
	}
	if r.Store != nil {
		errs = append(errs, r.Store.Close())
	}
	return errors.Join(errs...)
}

// Run starts the mediaguard daemon runtime loop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logCfg := *cfg
	if strings.TrimSpace(opts.LogLevel) != "" {
		logCfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(&logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if opts.Development {
		logger = logger.With(logging.Bool("development", true))
	}

	pidPath := filepath.Join(cfg.Paths.DataDir, "mediaguard.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	rt, err := Open(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open runtime", logging.Error(err))
		return err
	}
	defer rt.Close()

	logDependencySnapshot(signalCtx, logger, cfg, rt.Objects)

	scheduler, err := jobs.NewScheduler(cfg, logger)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	worker := jobs.NewWorker(cfg, rt.Pipeline.Handlers(), rt.Notifier, logger)

	d, err := daemon.New(cfg, daemon.Options{
		Records:   rt.Store,
		Files:     rt.Tiering,
		Worker:    worker,
		Scheduler: scheduler,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check redis connectivity and that no other instance holds the lock"),
			logging.String(logging.FieldImpact, "no jobs will be processed"),
		)
		return err
	}
	logger.Info("mediaguard daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.Int("pid", os.Getpid()),
		logging.String("api_bind", cfg.Paths.APIBind),
	)

	<-signalCtx.Done()
	logger.Info("mediaguard daemon shutting down")
	d.Stop()
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// logDependencySnapshot runs preflight once and logs each failed check. The
// daemon starts regardless so lanes recover when a dependency returns.
func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config, objects objectstore.Store) {
	if logger == nil || cfg == nil {
		return
	}
	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	results := preflight.RunAll(checkCtx, cfg, objects)
	failed := preflight.Failed(results)
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Int("checks", len(results)),
		logging.Int("failed", len(failed)),
		logging.String("storage_backend", cfg.Storage.Backend),
		logging.Bool("email_enabled", cfg.Email.Enabled),
		logging.Bool("gpu", cfg.UseGPU()),
	)
	for _, r := range failed {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "verify the service is running and reachable"),
		)
	}
}
