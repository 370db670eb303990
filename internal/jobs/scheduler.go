package jobs

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"mediaguard/internal/config"
	"mediaguard/internal/logging"
)

// Schedule maps maintenance job names to cron specs. Empty specs disable a
// job.
func Schedule(cfg *config.Config) map[string]string {
	s := cfg.Jobs.Schedule
	return map[string]string{
		TaskBackup:              strings.TrimSpace(s.Backup),
		TaskCleanupUploads:      strings.TrimSpace(s.CleanupUploads),
		TaskDeleteBackedUpFiles: strings.TrimSpace(s.PruneLocal),
		TaskCleanupDB:           strings.TrimSpace(s.CleanupDB),
		TaskCleanPartials:       strings.TrimSpace(s.CleanPartials),
	}
}

// Scheduler enqueues periodic maintenance jobs.
type Scheduler struct {
	scheduler *asynq.Scheduler
	entries   map[string]string
	logger    *slog.Logger
}

// NewScheduler registers every enabled maintenance job. Unique options keep
// a slow sweep from overlapping its next run.
func NewScheduler(cfg *config.Config, logger *slog.Logger) (*Scheduler, error) {
	logger = logging.NewComponentLogger(logger, "scheduler")
	s := &Scheduler{entries: map[string]string{}, logger: logger}
	s.scheduler = asynq.NewScheduler(RedisOpt(cfg), &asynq.SchedulerOpts{
		Logger:   asynqLogger{logger: logger},
		LogLevel: asynqLevel(cfg.Logging.Level),
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				logging.WarnWithContext(logger, "scheduled enqueue failed", "schedule_enqueue_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "maintenance run skipped"),
				)
				return
			}
			logger.Debug("maintenance job enqueued",
				logging.String(logging.FieldJob, info.Type),
				logging.String(logging.FieldTaskID, info.ID),
			)
		},
	})
	timeout := taskTimeout(cfg)
	for _, name := range MaintenanceTasks {
		spec := Schedule(cfg)[name]
		if spec == "" {
			continue
		}
		entryID, err := s.scheduler.Register(spec, asynq.NewTask(name, []byte("{}")),
			asynq.Queue(LaneMaintenance),
			asynq.MaxRetry(cfg.Jobs.MaxRetry),
			asynq.Timeout(timeout),
			asynq.Unique(timeout),
		)
		if err != nil {
			return nil, fmt.Errorf("register %s (%q): %w", name, spec, err)
		}
		s.entries[name] = entryID
	}
	return s, nil
}

// Entries returns registered job names mapped to scheduler entry ids.
func (s *Scheduler) Entries() map[string]string {
	out := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() error {
	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	s.logger.Info("scheduler started", logging.Int("entries", len(s.entries)))
	return nil
}

// Shutdown stops the scheduler.
func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
