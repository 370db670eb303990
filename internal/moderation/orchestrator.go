package moderation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"mediaguard/internal/cascade"
	"mediaguard/internal/logging"
	"mediaguard/internal/media/ffprobe"
	"mediaguard/internal/metrics"
	"mediaguard/internal/notifications"
	"mediaguard/internal/sampler"
	"mediaguard/internal/services"
	"mediaguard/internal/uploads"
)

// RejectedMessage is the only rejection text exposed outside operator logs.
const RejectedMessage = "Upload was rejected due to content policy."

// StatusWriter persists terminal status transitions.
type StatusWriter interface {
	SetStatus(ctx context.Context, id int64, status uploads.Status) (bool, error)
}

// Scorer evaluates stills and frame sequences.
type Scorer interface {
	EvaluateFrame(ctx context.Context, frame sampler.Frame) (cascade.Verdict, error)
	Score(ctx context.Context, frames iter.Seq2[sampler.Frame, error]) (cascade.Outcome, error)
}

// FrameSource yields strided frames from animated images and video.
type FrameSource interface {
	Sample(ctx context.Context, path string, stride int) iter.Seq2[sampler.Frame, error]
}

// ProbeFunc inspects a media container.
type ProbeFunc func(ctx context.Context, path string) (ffprobe.Result, error)

// Options configures an Orchestrator.
type Options struct {
	Store    StatusWriter
	Scorer   Scorer
	Frames   FrameSource
	Probe    ProbeFunc
	Stride   int
	Notifier notifications.Service
	Logger   *slog.Logger
}

// Request describes the asset a moderation job refers to. The fields are
// captured at submission so the job never races the intake transaction.
type Request struct {
	UploadID int64
	Path     string
	Mime     string
	Filename string
	Actor    string
	ClientIP string
	Animated bool
}

// Verdict is the content decision for one asset.
type Verdict struct {
	Approved bool
	Reason   string
	Frames   int
	Unsafe   int
}

// Result reports what a moderation run persisted.
type Result struct {
	Kind    Kind
	Status  uploads.Status
	Reason  string
	Changed bool
}

type handler interface {
	Validate(ctx context.Context, req Request) error
	Decide(ctx context.Context, req Request) (Verdict, error)
}

// Orchestrator dispatches uploads to the protocol for their kind.
type Orchestrator struct {
	store    StatusWriter
	scorer   Scorer
	frames   FrameSource
	probe    ProbeFunc
	stride   int
	notifier notifications.Service
	logger   *slog.Logger
	handlers map[Kind]handler
	now      func() time.Time
}

// New validates options and builds an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("moderation: store is required")
	}
	if opts.Scorer == nil {
		return nil, errors.New("moderation: scorer is required")
	}
	if opts.Frames == nil {
		return nil, errors.New("moderation: frame source is required")
	}
	if opts.Probe == nil {
		opts.Probe = func(ctx context.Context, path string) (ffprobe.Result, error) {
			return ffprobe.Inspect(ctx, "ffprobe", path)
		}
	}
	if opts.Stride <= 0 {
		opts.Stride = sampler.DefaultStride
	}
	if opts.Notifier == nil {
		opts.Notifier = notifications.NewService(nil)
	}
	o := &Orchestrator{
		store:    opts.Store,
		scorer:   opts.Scorer,
		frames:   opts.Frames,
		probe:    opts.Probe,
		stride:   opts.Stride,
		notifier: opts.Notifier,
		logger:   logging.NewComponentLogger(opts.Logger, "moderation"),
		now:      time.Now,
	}
	o.handlers = map[Kind]handler{
		StaticImage:   staticImage{o},
		AnimatedImage: animatedImage{o},
		Video:         video{o},
		PDF:           pdfDocument{o},
	}
	return o, nil
}

// Moderate runs validation and scoring for req and persists the outcome.
// Returned errors are pipeline failures: the record is still pending and
// services.Retryable decides whether the job should run again.
func (o *Orchestrator) Moderate(ctx context.Context, req Request) (Result, error) {
	ctx = services.WithUploadID(ctx, req.UploadID)
	logger := logging.WithContext(ctx, o.logger).With(
		logging.String("mime", req.Mime),
		logging.String("filename", req.Filename),
	)
	if strings.TrimSpace(req.Path) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "moderation", "request", "empty path", nil)
	}
	start := o.now()

	kind, err := Classify(req.Mime, req.Animated)
	if err != nil {
		return o.reject(ctx, logger, kind, req, err.Error(), start)
	}
	h := o.handlers[kind]
	logger = logger.With(logging.String("kind", string(kind)))

	if err := h.Validate(ctx, req); err != nil {
		if errors.Is(err, errNoVisualContent) {
			return o.persist(ctx, logger, kind, req, uploads.StatusApproved, err.Error(), start)
		}
		if services.Rejects(err) {
			return o.reject(ctx, logger, kind, req, err.Error(), start)
		}
		return Result{Kind: kind, Status: uploads.StatusPending}, o.failed(ctx, logger, kind, req, err)
	}

	verdict, err := h.Decide(ctx, req)
	if err != nil {
		if services.Rejects(err) {
			return o.reject(ctx, logger, kind, req, err.Error(), start)
		}
		return Result{Kind: kind, Status: uploads.StatusPending}, o.failed(ctx, logger, kind, req, err)
	}
	if !verdict.Approved {
		reason := verdict.Reason
		if reason == "" {
			reason = "unsafe content"
		}
		return o.reject(ctx, logger, kind, req, reason, start)
	}
	return o.persist(ctx, logger, kind, req, uploads.StatusApproved, verdict.Reason, start)
}

func (o *Orchestrator) reject(ctx context.Context, logger *slog.Logger, kind Kind, req Request, reason string, start time.Time) (Result, error) {
	return o.persist(ctx, logger, kind, req, uploads.StatusRejected, reason, start)
}

func (o *Orchestrator) persist(ctx context.Context, logger *slog.Logger, kind Kind, req Request, status uploads.Status, reason string, start time.Time) (Result, error) {
	changed, err := o.store.SetStatus(ctx, req.UploadID, status)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			logging.WarnWithContext(logger, "upload vanished before status write", "moderation_orphaned",
				logging.String("status", string(status)),
				logging.String(logging.FieldImpact, "decision discarded"),
				logging.String(logging.FieldErrorHint, "record was deleted while the job was running"),
			)
			return Result{Kind: kind, Status: status, Reason: reason}, services.Wrap(services.ErrNotFound, "moderation", "set status", fmt.Sprintf("upload %d", req.UploadID), err)
		}
		return Result{Kind: kind, Status: uploads.StatusPending}, services.Wrap(services.ErrTransient, "moderation", "set status", fmt.Sprintf("upload %d", req.UploadID), err)
	}
	label := string(kind)
	if label == "" {
		label = "unsupported"
	}
	elapsed := o.now().Sub(start)
	metrics.ObserveModeration(label, string(status), elapsed)

	attrs := logging.DecisionAttrs("moderation", string(status), reason)
	attrs = append(attrs,
		logging.Bool("changed", changed),
		logging.Duration("elapsed", elapsed),
		logging.String("actor", req.Actor),
		logging.String("client_ip", req.ClientIP),
	)
	if changed {
		logger.Info("moderation decided", logging.Args(attrs...)...)
	} else {
		logger.Info("moderation decision ignored; record already terminal", logging.Args(attrs...)...)
	}
	return Result{Kind: kind, Status: status, Reason: reason, Changed: changed}, nil
}

func (o *Orchestrator) failed(ctx context.Context, logger *slog.Logger, kind Kind, req Request, err error) error {
	class := services.Kind(err)
	metrics.ModerationErrors.WithLabelValues(string(kind), class).Inc()
	logging.ErrorWithContext(logger, "moderation pipeline failed; record left pending", "moderation_failed",
		logging.String("error_class", class),
		logging.Error(err),
		logging.Bool("retryable", services.Retryable(err)),
		logging.String(logging.FieldErrorHint, "check the scoring service and media tooling"),
	)
	if errors.Is(err, services.ErrScoring) {
		if notifyErr := o.notifier.Publish(ctx, notifications.EventScoringError, notifications.Payload{
			"uploadID": req.UploadID,
			"error":    err,
		}); notifyErr != nil {
			logger.Warn("scoring alert failed", logging.Error(notifyErr))
		}
	}
	return err
}
