package moderation

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"mediaguard/internal/logging"
	"mediaguard/internal/media/pdfdoc"
	"mediaguard/internal/media/raster"
	"mediaguard/internal/metrics"
	"mediaguard/internal/sampler"
	"mediaguard/internal/services"
)

type staticImage struct{ o *Orchestrator }

func (h staticImage) Validate(_ context.Context, req Request) error {
	if _, _, err := raster.Config(req.Path); err != nil {
		return services.Wrap(services.ErrPreValidation, "moderation", "image header", "not a decodable image", err)
	}
	return nil
}

func (h staticImage) Decide(ctx context.Context, req Request) (Verdict, error) {
	img, err := raster.Decode(req.Path)
	if err != nil {
		return Verdict{}, services.Wrap(services.ErrPreValidation, "moderation", "decode image", "", err)
	}
	v, err := h.o.scorer.EvaluateFrame(ctx, sampler.Frame{Index: 0, Image: img})
	if err != nil {
		return Verdict{}, scoringError("score image", err)
	}
	metrics.FramesScored.Inc()
	verdict := Verdict{Approved: v.Safe, Reason: v.Reason, Frames: 1}
	if !v.Safe {
		verdict.Unsafe = 1
	}
	return verdict, nil
}

type animatedImage struct{ o *Orchestrator }

func (h animatedImage) Validate(_ context.Context, req Request) error {
	if _, _, err := raster.Config(req.Path); err != nil {
		return services.Wrap(services.ErrPreValidation, "moderation", "image header", "not a decodable image", err)
	}
	return nil
}

func (h animatedImage) Decide(ctx context.Context, req Request) (Verdict, error) {
	return h.o.scoreFrames(ctx, req)
}

type video struct{ o *Orchestrator }

func (h video) Validate(ctx context.Context, req Request) error {
	result, err := h.o.probe(ctx, req.Path)
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			return services.Wrap(services.ErrPreValidation, "moderation", "probe container", "ffprobe rejected file", err)
		case errors.Is(err, exec.ErrNotFound):
			return services.Wrap(services.ErrConfiguration, "moderation", "probe container", "ffprobe not installed", err)
		case ctx.Err() != nil:
			return services.Wrap(services.ErrTransient, "moderation", "probe container", "", err)
		default:
			return services.Wrap(services.ErrPreValidation, "moderation", "probe container", "", err)
		}
	}
	if err := result.ValidatePlayable(); err != nil {
		return services.Wrap(services.ErrPreValidation, "moderation", "probe container", "", err)
	}
	if result.VideoStreamCount() == 0 {
		return errNoVisualContent
	}
	return nil
}

// errNoVisualContent marks a playable container with nothing to score.
var errNoVisualContent = errors.New("no visual content")

func (h video) Decide(ctx context.Context, req Request) (Verdict, error) {
	return h.o.scoreFrames(ctx, req)
}

type pdfDocument struct{ o *Orchestrator }

func (h pdfDocument) Validate(_ context.Context, req Request) error {
	report, err := pdfdoc.Inspect(req.Path)
	if err != nil {
		return services.Wrap(services.ErrPreValidation, "moderation", "parse pdf", "", err)
	}
	if report.Pages <= 0 {
		return services.Wrap(services.ErrPreValidation, "moderation", "parse pdf", "document has no pages", nil)
	}
	if active, why := report.ActiveContent(); active {
		return services.Wrap(services.ErrPreValidation, "moderation", "scan pdf", why, nil)
	}
	return nil
}

// Decide scores every embedded image on its own; the first unsafe image
// rejects the document. An image that cannot be extracted or decoded also
// rejects it, since it could not be checked. Approval strips document
// metadata in place.
func (h pdfDocument) Decide(ctx context.Context, req Request) (Verdict, error) {
	verdict := Verdict{Approved: true}
	for img, err := range pdfdoc.Images(req.Path) {
		if err != nil {
			what := fmt.Sprintf("page %d image %d not decodable", img.Page, img.ObjNr)
			if errors.Is(err, pdfdoc.ErrUnreadable) {
				what = ""
			}
			return Verdict{}, services.Wrap(services.ErrPreValidation, "moderation", "extract pdf images", what, err)
		}
		v, err := h.o.scorer.EvaluateFrame(ctx, sampler.Frame{Index: verdict.Frames, Image: img.Image})
		if err != nil {
			return Verdict{}, scoringError(fmt.Sprintf("score pdf image page %d", img.Page), err)
		}
		metrics.FramesScored.Inc()
		verdict.Frames++
		if !v.Safe {
			return Verdict{
				Approved: false,
				Reason:   fmt.Sprintf("page %d: %s", img.Page, v.Reason),
				Frames:   verdict.Frames,
				Unsafe:   1,
			}, nil
		}
	}
	if err := pdfdoc.StripMetadata(req.Path); err != nil {
		return Verdict{}, services.Wrap(services.ErrTransient, "moderation", "strip pdf metadata", "", err)
	}
	logging.WithContext(ctx, h.o.logger).Debug("pdf images scored", logging.Int("images", verdict.Frames))
	return verdict, nil
}

// scoreFrames runs the batched cascade over sampled frames.
func (o *Orchestrator) scoreFrames(ctx context.Context, req Request) (Verdict, error) {
	logger := logging.WithContext(ctx, o.logger)
	outcome, err := o.scorer.Score(ctx, o.frames.Sample(ctx, req.Path, o.stride))
	metrics.FramesScored.Add(float64(outcome.Scored))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrScoring):
			return Verdict{}, err
		case errors.Is(err, exec.ErrNotFound):
			return Verdict{}, services.Wrap(services.ErrConfiguration, "moderation", "sample frames", "ffmpeg not installed", err)
		default:
			return Verdict{}, services.Wrap(services.ErrTransient, "moderation", "sample frames", "", err)
		}
	}
	if outcome.Scored == 0 {
		return Verdict{}, services.Wrap(services.ErrPreValidation, "moderation", "sample frames", "no decodable frames", outcome.SourceErr)
	}
	if outcome.SourceErr != nil {
		logging.WarnWithContext(logger, "frame decoding stopped early; deciding on decoded frames", "partial_decode",
			logging.Int("scored", outcome.Scored),
			logging.Error(outcome.SourceErr),
			logging.String(logging.FieldImpact, "trailing frames were not scored"),
		)
	}
	verdict := Verdict{
		Approved: !outcome.Rejected,
		Frames:   outcome.Scored,
		Unsafe:   outcome.Unsafe,
	}
	if outcome.Rejected {
		verdict.Reason = fmt.Sprintf("%d unsafe frames (%v)", outcome.Unsafe, outcome.UnsafeFrames)
	}
	return verdict, nil
}

func scoringError(operation string, err error) error {
	if errors.Is(err, services.ErrScoring) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTransient, "moderation", operation, "", err)
	}
	return services.Wrap(services.ErrScoring, "moderation", operation, "", err)
}
