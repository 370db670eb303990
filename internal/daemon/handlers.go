package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mediaguard/internal/email"
	"mediaguard/internal/janitor"
	"mediaguard/internal/jobs"
	"mediaguard/internal/logging"
	"mediaguard/internal/moderation"
	"mediaguard/internal/services"
	"mediaguard/internal/tiering"
)

// Moderator decides one upload.
type Moderator interface {
	Moderate(ctx context.Context, req moderation.Request) (moderation.Result, error)
}

// Mailer sends one account email.
type Mailer interface {
	Send(ctx context.Context, kind email.Kind, userID int64) error
}

// Backupper copies approved media to durable storage.
type Backupper interface {
	Backup(ctx context.Context) (tiering.BackupReport, error)
}

// Sweeper runs the janitor sweeps.
type Sweeper interface {
	PurgeOrphans(ctx context.Context) (janitor.Report, error)
	PruneLocal(ctx context.Context) (janitor.Report, error)
	PurgeAccounts(ctx context.Context) (janitor.Report, error)
	CleanPartials(ctx context.Context) (janitor.Report, error)
}

// Pipeline adapts the domain services to job handler bodies.
type Pipeline struct {
	Moderator Moderator
	Mailer    Mailer
	Backupper Backupper
	Sweeper   Sweeper
	Logger    *slog.Logger
}

var errNotConfigured = errors.New("handler dependency not configured")

// Handlers returns the job bodies for every lane.
func (p *Pipeline) Handlers() jobs.Handlers {
	return jobs.Handlers{
		Moderate:    p.moderate,
		Email:       p.sendEmail,
		Maintenance: p.RunMaintenance,
	}
}

func (p *Pipeline) logger() *slog.Logger {
	return logging.NewComponentLogger(p.Logger, "pipeline")
}

func (p *Pipeline) moderate(ctx context.Context, payload jobs.ModerationPayload) error {
	if p.Moderator == nil {
		return services.Wrap(services.ErrConfiguration, "pipeline", "moderate", "moderator missing", errNotConfigured)
	}
	result, err := p.Moderator.Moderate(ctx, moderation.Request{
		UploadID: payload.UploadID,
		Path:     payload.Path,
		Mime:     payload.Mime,
		Filename: payload.Filename,
		Actor:    payload.Actor,
		ClientIP: payload.ClientIP,
		Animated: payload.IsAnimated(),
	})
	if err != nil {
		return err
	}
	logging.WithContext(ctx, p.logger()).Debug("moderation job complete",
		logging.String("kind", string(result.Kind)),
		logging.String("status", string(result.Status)),
		logging.Bool("changed", result.Changed),
	)
	return nil
}

func (p *Pipeline) sendEmail(ctx context.Context, name string, payload jobs.EmailPayload) error {
	kind, err := email.ParseKind(name)
	if err != nil {
		return services.Wrap(services.ErrValidation, "pipeline", "email", "unknown email job", err)
	}
	if p.Mailer == nil {
		return services.Wrap(services.ErrConfiguration, "pipeline", "email", "mailer missing", errNotConfigured)
	}
	return p.Mailer.Send(ctx, kind, payload.UserID)
}

// RunMaintenance runs the named maintenance job. It accepts a full job name
// ("maintenance:backup") or the bare action.
func (p *Pipeline) RunMaintenance(ctx context.Context, name string) error {
	job := name
	if _, err := jobs.LaneFor(name); err != nil {
		job = jobs.LaneMaintenance + ":" + name
	}
	logger := logging.WithContext(ctx, p.logger())

	var (
		summary fmt.Stringer
		err     error
	)
	switch job {
	case jobs.TaskBackup:
		if p.Backupper == nil {
			return services.Wrap(services.ErrConfiguration, "pipeline", "backup", "tiering missing", errNotConfigured)
		}
		var report tiering.BackupReport
		report, err = p.Backupper.Backup(ctx)
		summary = report
	case jobs.TaskCleanupUploads, jobs.TaskDeleteBackedUpFiles, jobs.TaskCleanupDB, jobs.TaskCleanPartials:
		if p.Sweeper == nil {
			return services.Wrap(services.ErrConfiguration, "pipeline", jobs.Action(job), "janitor missing", errNotConfigured)
		}
		var report janitor.Report
		report, err = p.sweep(ctx, job)
		summary = report
	default:
		return services.Wrap(services.ErrValidation, "pipeline", "maintenance", fmt.Sprintf("unknown job %q", name), nil)
	}
	if err != nil {
		return err
	}
	logger.Info("maintenance job complete",
		logging.String(logging.FieldJob, job),
		logging.String("summary", summary.String()),
	)
	return nil
}

func (p *Pipeline) sweep(ctx context.Context, job string) (janitor.Report, error) {
	switch job {
	case jobs.TaskCleanupUploads:
		return p.Sweeper.PurgeOrphans(ctx)
	case jobs.TaskDeleteBackedUpFiles:
		return p.Sweeper.PruneLocal(ctx)
	case jobs.TaskCleanupDB:
		return p.Sweeper.PurgeAccounts(ctx)
	default:
		return p.Sweeper.CleanPartials(ctx)
	}
}
