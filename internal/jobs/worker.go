package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"mediaguard/internal/config"
	"mediaguard/internal/logging"
	"mediaguard/internal/metrics"
	"mediaguard/internal/notifications"
	"mediaguard/internal/services"
)

// Handlers are the job bodies. A nil handler leaves its lane's jobs failing
// as non-retryable.
type Handlers struct {
	Moderate    func(ctx context.Context, p ModerationPayload) error
	Email       func(ctx context.Context, name string, p EmailPayload) error
	Maintenance func(ctx context.Context, name string) error
}

// Worker runs one asynq server per lane.
type Worker struct {
	cfg      *config.Config
	handlers Handlers
	notifier notifications.Service
	logger   *slog.Logger
	servers  map[string]*asynq.Server
	started  []string

	retryState func(ctx context.Context) (retried, max int, ok bool)
}

// NewWorker builds servers for every lane with a positive concurrency.
func NewWorker(cfg *config.Config, handlers Handlers, notifier notifications.Service, logger *slog.Logger) *Worker {
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	w := &Worker{
		cfg:        cfg,
		handlers:   handlers,
		notifier:   notifier,
		logger:     logging.NewComponentLogger(logger, "jobs"),
		servers:    make(map[string]*asynq.Server, len(Lanes)),
		retryState: asynqRetryState,
	}
	base := time.Duration(cfg.Jobs.RetryBaseSeconds) * time.Second
	limit := time.Duration(cfg.Jobs.RetryMaxSeconds) * time.Second
	for _, lane := range Lanes {
		concurrency := laneConcurrency(cfg, lane)
		if concurrency <= 0 {
			continue
		}
		w.servers[lane] = asynq.NewServer(RedisOpt(cfg), asynq.Config{
			Concurrency:     concurrency,
			Queues:          map[string]int{lane: 1},
			RetryDelayFunc:  RetryDelay(base, limit),
			ErrorHandler:    asynq.ErrorHandlerFunc(w.onError),
			Logger:          asynqLogger{logger: w.logger.With(logging.String(logging.FieldLane, lane))},
			LogLevel:        asynqLevel(cfg.Logging.Level),
			ShutdownTimeout: time.Duration(cfg.Jobs.ShutdownTimeoutSeconds) * time.Second,
		})
	}
	return w
}

func laneConcurrency(cfg *config.Config, lane string) int {
	switch lane {
	case LaneModeration:
		return cfg.Jobs.ModerationConcurrency
	case LaneEmails:
		return cfg.Jobs.EmailConcurrency
	case LaneMaintenance:
		return cfg.Jobs.MaintenanceConcurrency
	default:
		return 0
	}
}

func asynqLevel(level string) asynq.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return asynq.DebugLevel
	case "warn", "warning":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

// Mux returns the handler table for a lane.
func (w *Worker) Mux(lane string) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(w.contextMiddleware(lane))
	switch lane {
	case LaneModeration:
		mux.HandleFunc(TaskModerateFile, w.handleModeration)
	case LaneEmails:
		for _, name := range []string{TaskEmailVerification, TaskEmailPasswordReset, TaskEmailDeleteAccount} {
			mux.HandleFunc(name, w.handleEmail)
		}
	case LaneMaintenance:
		for _, name := range MaintenanceTasks {
			mux.HandleFunc(name, w.handleMaintenance)
		}
	}
	mux.HandleFunc(lane+":", func(_ context.Context, task *asynq.Task) error {
		return fmt.Errorf("unknown job %q: %w", task.Type(), asynq.SkipRetry)
	})
	return mux
}

// Start launches every lane server. Servers started before a failure are
// shut down again.
func (w *Worker) Start() error {
	for _, lane := range Lanes {
		srv, ok := w.servers[lane]
		if !ok {
			continue
		}
		if err := srv.Start(w.Mux(lane)); err != nil {
			w.Shutdown()
			return fmt.Errorf("start %s lane: %w", lane, err)
		}
		w.started = append(w.started, lane)
		w.logger.Info("lane started",
			logging.String(logging.FieldLane, lane),
			logging.Int("concurrency", laneConcurrency(w.cfg, lane)),
		)
	}
	return nil
}

// Shutdown stops lane servers, waiting for in-flight jobs up to the
// configured shutdown timeout. Unfinished jobs are requeued by asynq.
func (w *Worker) Shutdown() {
	for i := len(w.started) - 1; i >= 0; i-- {
		w.servers[w.started[i]].Shutdown()
	}
	w.started = nil
}

func (w *Worker) contextMiddleware(lane string) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			ctx = services.WithRequestID(ctx, uuid.NewString())
			ctx = services.WithLane(ctx, lane)
			ctx = services.WithJob(ctx, task.Type())
			if id, ok := asynq.GetTaskID(ctx); ok {
				ctx = services.WithTaskID(ctx, id)
			}
			start := time.Now()
			err := next.ProcessTask(ctx, task)
			result := metrics.ResultOK
			switch {
			case err == nil:
			case errors.Is(err, asynq.SkipRetry):
				result = metrics.ResultFailed
			default:
				result = metrics.ResultRetry
			}
			metrics.JobsProcessed.WithLabelValues(lane, task.Type(), result).Inc()
			logging.WithContext(ctx, w.logger).Debug("job finished",
				logging.String("result", result),
				logging.Duration("elapsed", time.Since(start)),
			)
			return err
		})
	}
}

func (w *Worker) handleModeration(ctx context.Context, task *asynq.Task) error {
	p, err := decode[ModerationPayload](task)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if w.handlers.Moderate == nil {
		return fmt.Errorf("moderation handler not configured: %w", asynq.SkipRetry)
	}
	ctx = services.WithUploadID(ctx, p.UploadID)
	return classify(w.handlers.Moderate(ctx, p), w.retried(ctx))
}

func (w *Worker) handleEmail(ctx context.Context, task *asynq.Task) error {
	p, err := decode[EmailPayload](task)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if w.handlers.Email == nil {
		return fmt.Errorf("email handler not configured: %w", asynq.SkipRetry)
	}
	return classify(w.handlers.Email(ctx, task.Type(), p), w.retried(ctx))
}

func (w *Worker) handleMaintenance(ctx context.Context, task *asynq.Task) error {
	if w.handlers.Maintenance == nil {
		return fmt.Errorf("maintenance handler not configured: %w", asynq.SkipRetry)
	}
	return classify(w.handlers.Maintenance(ctx, task.Type()), w.retried(ctx))
}

func (w *Worker) retried(ctx context.Context) int {
	retried, _, _ := w.retryState(ctx)
	return retried
}

// onError runs after every failed attempt.
func (w *Worker) onError(ctx context.Context, task *asynq.Task, err error) {
	logger := logging.WithContext(ctx, w.logger).With(logging.String(logging.FieldJob, task.Type()))
	retried, maxRetry, ok := w.retryState(ctx)
	final := errors.Is(err, asynq.SkipRetry)
	exhausted := !final && ok && retried >= maxRetry

	attrs := []logging.Attr{
		logging.Error(err),
		logging.String("error_class", services.Kind(err)),
		logging.Int("retried", retried),
		logging.Int("max_retry", maxRetry),
	}
	switch {
	case exhausted:
		logging.ErrorWithContext(logger, "job retries exhausted", "retry_exhausted", append(attrs,
			logging.String(logging.FieldErrorHint, "inspect the archived task and the failing dependency"),
		)...)
		payload := notifications.Payload{"job": task.Type(), "error": err}
		if task.Type() == TaskModerateFile {
			if p, decodeErr := decode[ModerationPayload](task); decodeErr == nil {
				payload["uploadID"] = p.UploadID
			}
		}
		if notifyErr := w.notifier.Publish(ctx, notifications.EventRetryExhausted, payload); notifyErr != nil {
			logger.Warn("retry exhausted alert failed", logging.Error(notifyErr))
		}
	case final:
		logging.ErrorWithContext(logger, "job failed permanently", "job_failed", attrs...)
	default:
		logging.WarnWithContext(logger, "job attempt failed; will retry", "job_retry", append(attrs,
			logging.String(logging.FieldImpact, "job delayed"),
		)...)
	}
}

func asynqRetryState(ctx context.Context) (int, int, bool) {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 0, 0, false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return retried, 0, false
	}
	return retried, maxRetry, true
}
