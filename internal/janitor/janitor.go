package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"mediaguard/internal/config"
	"mediaguard/internal/logging"
	"mediaguard/internal/metrics"
	"mediaguard/internal/notifications"
	"mediaguard/internal/objectstore"
	"mediaguard/internal/uploads"
)

// RecordStore is the slice of the record store the sweeps use.
type RecordStore interface {
	ListOrphans(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]*uploads.Record, error)
	ClaimOrphans(ctx context.Context, ids []int64, cutoff time.Time) ([]int64, error)
	ReleaseOrphans(ctx context.Context, ids []int64) error
	DeleteClaimed(ctx context.Context, ids []int64) (int64, error)
	ListPruneCandidates(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]*uploads.Record, error)
	MarkNotLocal(ctx context.Context, ids []int64) (int64, error)
	ListPurgeableAccounts(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]int64, error)
	DeleteUsers(ctx context.Context, ids []int64) (int64, error)
	DeleteUsersExplicit(ctx context.Context, ids []int64) (int64, error)
	DeleteSparseThreads(ctx context.Context) (int64, error)
}

// Sweep names, used in logs, metrics and alerts.
const (
	SweepOrphans  = "cleanup_uploads"
	SweepPrune    = "delete_backed_up_files"
	SweepAccounts = "cleanup_db"
	SweepPartials = "clean_partials"
)

// Report summarizes one sweep run.
type Report struct {
	Sweep    string
	Examined int
	Removed  int
	Files    int
	Kept     int
	Batches  int
}

func (r Report) String() string {
	return fmt.Sprintf("examined=%d removed=%d files=%d kept=%d batches=%d",
		r.Examined, r.Removed, r.Files, r.Kept, r.Batches)
}

// Janitor owns the sweeps.
type Janitor struct {
	store     RecordStore
	objects   objectstore.Store
	notifier  notifications.Service
	uploadDir string
	settings  config.Janitor
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Options configures a Janitor. Objects may be nil when no durable backend
// is configured; durable keys are then left untouched.
type Options struct {
	Store     RecordStore
	Objects   objectstore.Store
	Notifier  notifications.Service
	UploadDir string
	Settings  config.Janitor
	Retention time.Duration
	Logger    *slog.Logger
}

// New builds a Janitor, filling zero settings from config.Default.
func New(opts Options) (*Janitor, error) {
	if opts.Store == nil {
		return nil, errors.New("janitor: record store is required")
	}
	if strings.TrimSpace(opts.UploadDir) == "" {
		return nil, errors.New("janitor: upload directory is required")
	}
	defaults := config.Default().Janitor
	s := opts.Settings
	s.OrphanBatchSize = positive(s.OrphanBatchSize, defaults.OrphanBatchSize)
	s.OrphanGraceMinutes = positive(s.OrphanGraceMinutes, defaults.OrphanGraceMinutes)
	s.DeleteWorkers = positive(s.DeleteWorkers, defaults.DeleteWorkers)
	s.PruneBatchSize = positive(s.PruneBatchSize, defaults.PruneBatchSize)
	s.AccountBatchSize = positive(s.AccountBatchSize, defaults.AccountBatchSize)
	s.AccountGraceDays = positive(s.AccountGraceDays, defaults.AccountGraceDays)
	s.PartialMaxAgeMinutes = positive(s.PartialMaxAgeMinutes, defaults.PartialMaxAgeMinutes)
	if opts.Retention <= 0 {
		opts.Retention = 3 * 24 * time.Hour
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	return &Janitor{
		store:     opts.Store,
		objects:   opts.Objects,
		notifier:  notifier,
		uploadDir: opts.UploadDir,
		settings:  s,
		retention: opts.Retention,
		now:       time.Now,
		logger:    logging.NewComponentLogger(opts.Logger, "janitor"),
	}, nil
}

// OptionsFromConfig fills the config-derived fields of Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		UploadDir: cfg.Paths.UploadDir,
		Settings:  cfg.Janitor,
		Retention: time.Duration(cfg.Tiering.RetentionDays) * 24 * time.Hour,
	}
}

// SetClock overrides the time source. Nil restores time.Now.
func (j *Janitor) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	j.now = now
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func (j *Janitor) localPath(name string) string {
	return filepath.Join(j.uploadDir, filepath.Base(name))
}

// finish logs, counts and announces a completed sweep.
func (j *Janitor) finish(ctx context.Context, report Report, started time.Time) {
	metrics.JanitorRemoved.WithLabelValues(report.Sweep, "rows").Add(float64(report.Removed))
	metrics.JanitorRemoved.WithLabelValues(report.Sweep, "files").Add(float64(report.Files))
	j.logger.Info("sweep complete",
		logging.String("sweep", report.Sweep),
		logging.Int("examined", report.Examined),
		logging.Int("removed", report.Removed),
		logging.Int("files", report.Files),
		logging.Int("kept", report.Kept),
		logging.Duration("elapsed", time.Since(started)),
	)
	if report.Removed == 0 && report.Files == 0 && report.Kept == 0 {
		return
	}
	if err := j.notifier.Publish(ctx, notifications.EventSweepCompleted, notifications.Payload{
		"sweep":   report.Sweep,
		"summary": report.String(),
	}); err != nil {
		j.logger.Debug("sweep notification failed", logging.Error(err))
	}
}
