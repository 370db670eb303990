package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"mediaguard/internal/config"
	"mediaguard/internal/logging"
	"mediaguard/internal/services"
)

// ErrDuplicate is returned when a job with the same task id is already queued.
var ErrDuplicate = errors.New("job already submitted")

// RedisOpt builds the asynq connection options from config.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// Client submits jobs.
type Client struct {
	client   *asynq.Client
	maxRetry int
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClient connects a submission client.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		client:   asynq.NewClient(RedisOpt(cfg)),
		maxRetry: cfg.Jobs.MaxRetry,
		timeout:  taskTimeout(cfg),
		logger:   logging.NewComponentLogger(logger, "jobs-client"),
	}
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Submit enqueues name on its lane. The payload is JSON encoded.
func (c *Client) Submit(ctx context.Context, name string, payload any, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	lane, err := LaneFor(name)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "jobs", "submit", "", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "jobs", "submit", "encode payload", err)
	}
	base := []asynq.Option{
		asynq.Queue(lane),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
	}
	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(name, body), append(base, opts...)...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, name)
		}
		return nil, services.Wrap(services.ErrTransient, "jobs", "submit", name, err)
	}
	c.logger.Debug("job submitted",
		logging.String(logging.FieldJob, name),
		logging.String(logging.FieldLane, lane),
		logging.String(logging.FieldTaskID, info.ID),
	)
	return info, nil
}

// SubmitModeration queues a moderation job keyed by the upload id and
// returns the task id.
func (c *Client) SubmitModeration(ctx context.Context, p ModerationPayload) (string, error) {
	if err := p.Validate(); err != nil {
		return "", services.Wrap(services.ErrValidation, "jobs", "submit moderation", "", err)
	}
	id := ModerationTaskID(p.UploadID)
	if _, err := c.Submit(ctx, TaskModerateFile, p, asynq.TaskID(id)); err != nil {
		return "", err
	}
	return id, nil
}

// SubmitEmail queues one of the emails:* jobs for a user.
func (c *Client) SubmitEmail(ctx context.Context, name string, userID int64) (string, error) {
	if lane, err := LaneFor(name); err != nil || lane != LaneEmails {
		return "", services.Wrap(services.ErrValidation, "jobs", "submit email", fmt.Sprintf("%q is not an email job", name), nil)
	}
	info, err := c.Submit(ctx, name, EmailPayload{UserID: userID})
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// SubmitMaintenance queues a one-off run of a maintenance job.
func (c *Client) SubmitMaintenance(ctx context.Context, name string) (string, error) {
	if lane, err := LaneFor(name); err != nil || lane != LaneMaintenance {
		return "", services.Wrap(services.ErrValidation, "jobs", "submit maintenance", fmt.Sprintf("%q is not a maintenance job", name), nil)
	}
	info, err := c.Submit(ctx, name, struct{}{})
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func taskTimeout(cfg *config.Config) time.Duration {
	seconds := cfg.Jobs.TaskTimeoutSeconds
	if seconds <= 0 {
		seconds = 3600
	}
	return time.Duration(seconds) * time.Second
}
