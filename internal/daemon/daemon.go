package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"mediaguard/internal/config"
	"mediaguard/internal/deps"
	"mediaguard/internal/logging"
	"mediaguard/internal/preflight"
	"mediaguard/internal/uploads"
)

// Runner is a background service with a start/shutdown lifecycle, such as
// the job lanes or the maintenance scheduler.
type Runner interface {
	Start() error
	Shutdown()
}

// RecordReader is the read side of the record store the daemon exposes.
type RecordReader interface {
	Get(ctx context.Context, id int64) (*uploads.Record, error)
	GetForOwner(ctx context.Context, id, userID int64) (*uploads.Record, error)
	CountByStatus(ctx context.Context) (uploads.Counts, error)
	Ping(ctx context.Context) error
}

// Rehydrator resolves a filename to a readable local path, restoring it from
// durable storage when needed.
type Rehydrator interface {
	Rehydrate(ctx context.Context, name string) (string, error)
}

// Options wires the daemon's collaborators. Worker and Scheduler may be nil
// when a process only serves the API.
type Options struct {
	Records   RecordReader
	Files     Rehydrator
	Worker    Runner
	Scheduler Runner
	Logger    *slog.Logger
}

// Daemon coordinates the job lanes, the scheduler and the operator API and
// enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	records   RecordReader
	worker    Runner
	scheduler Runner
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	LockFilePath string
	DatabasePath string
	Counts       uploads.Counts
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil || opts.Records == nil || opts.Files == nil {
		return nil, errors.New("daemon requires config, record store, and rehydrator")
	}
	logger := logging.NewComponentLogger(opts.Logger, "daemon")
	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		records:   opts.Records,
		worker:    opts.Worker,
		scheduler: opts.Scheduler,
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg, d, opts.Records, opts.Files, logger)
	return d, nil
}

// Start acquires the daemon lock and launches lanes, scheduler and API.
// Anything started before a failure is stopped again.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mediaguard daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.worker != nil {
		if err := d.worker.Start(); err != nil {
			d.abort(cancel)
			return fmt.Errorf("start job lanes: %w", err)
		}
	}
	if d.scheduler != nil {
		if err := d.scheduler.Start(); err != nil {
			if d.worker != nil {
				d.worker.Shutdown()
			}
			d.abort(cancel)
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	if err := d.api.start(runCtx); err != nil {
		d.stopRunners()
		d.abort(cancel)
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("mediaguard daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api_bind", d.cfg.Paths.APIBind),
	)
	return nil
}

func (d *Daemon) abort(cancel context.CancelFunc) {
	cancel()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

func (d *Daemon) stopRunners() {
	if d.scheduler != nil {
		d.scheduler.Shutdown()
	}
	if d.worker != nil {
		d.worker.Shutdown()
	}
}

// Stop stops background processing and releases the daemon lock. The
// scheduler stops before the lanes so no new maintenance run is enqueued
// while in-flight jobs drain.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.api.stop()
	d.stopRunners()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("mediaguard daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns the current daemon status. Count failures are logged and
// leave Counts empty.
func (d *Daemon) Status(ctx context.Context) Status {
	counts, err := d.records.CountByStatus(ctx)
	if err != nil {
		d.logger.Warn("count records failed", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		DatabasePath: d.cfg.Database.Path,
		Counts:       counts,
		Dependencies: preflight.CheckSystemDeps(ctx, d.cfg),
	}
}
