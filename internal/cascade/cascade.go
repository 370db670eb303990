package cascade

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"log/slog"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"mediaguard/internal/logging"
	"mediaguard/internal/media/raster"
	"mediaguard/internal/sampler"
	"mediaguard/internal/services"
)

// Backend is the scoring service: softmax probabilities of each image over
// the given prompts, and a single binary classifier score.
type Backend interface {
	Similarity(ctx context.Context, images []image.Image, prompts []string) ([][]float64, error)
	Classify(ctx context.Context, img image.Image) (float64, error)
}

// Options configures a Cascade.
type Options struct {
	Policy      Policy
	Prompts     Prompts
	BatchSize   int
	UnsafeLimit int
	// Workers bounds concurrent batches. One means strictly sequential.
	Workers int
	Logger  *slog.Logger
}

// Cascade evaluates frames against the probe policy.
type Cascade struct {
	backend     Backend
	policy      Policy
	prompts     Prompts
	batchSize   int
	unsafeLimit int
	workers     int
	logger      *slog.Logger
}

// New constructs a cascade around a shared backend.
func New(backend Backend, opts Options) (*Cascade, error) {
	if backend == nil {
		return nil, errors.New("cascade: backend is required")
	}
	if opts.Prompts == nil {
		prompts, err := DefaultPrompts()
		if err != nil {
			return nil, err
		}
		opts.Prompts = prompts
	} else if err := opts.Prompts.Validate(); err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.UnsafeLimit <= 0 {
		opts.UnsafeLimit = 2
	}
	if opts.Workers <= 0 {
		opts.Workers = min(4, runtime.NumCPU())
	}
	return &Cascade{
		backend:     backend,
		policy:      opts.Policy,
		prompts:     opts.Prompts,
		batchSize:   opts.BatchSize,
		unsafeLimit: opts.UnsafeLimit,
		workers:     opts.Workers,
		logger:      logging.NewComponentLogger(opts.Logger, "cascade"),
	}, nil
}

// Verdict is the decision for one frame.
type Verdict struct {
	Index  int
	Safe   bool
	Reason string
}

// Outcome aggregates verdicts for a multi-frame asset.
type Outcome struct {
	Scored       int
	Unsafe       int
	UnsafeFrames []int
	Aborted      bool
	Rejected     bool
	// SourceErr is a decode failure that ended sampling after some frames.
	SourceErr error
}

// Abort is the cancellation token shared by the batch tasks of one asset.
type Abort struct {
	flag atomic.Bool
}

// Set trips the token.
func (a *Abort) Set() { a.flag.Store(true) }

// IsSet reports whether the token was tripped.
func (a *Abort) IsSet() bool { return a.flag.Load() }

// EvaluateFrame scores a single still.
func (c *Cascade) EvaluateFrame(ctx context.Context, frame sampler.Frame) (Verdict, error) {
	prepared := []image.Image{raster.PrepareForScoring(frame.Image)}
	first, err := c.firstPass(ctx, prepared)
	if err != nil {
		return Verdict{}, err
	}
	return c.decide(ctx, frame, prepared[0], first[0])
}

// Score evaluates a frame sequence in batches and decides the asset.
func (c *Cascade) Score(ctx context.Context, frames iter.Seq2[sampler.Frame, error]) (Outcome, error) {
	type slot struct {
		verdicts []Verdict
		skipped  bool
		done     chan struct{}
	}

	var (
		abort  Abort
		unsafe atomic.Int32
		tally  Outcome
	)
	limit := int32(c.unsafeLimit)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	ordered := make(chan *slot, c.workers+1)

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for s := range ordered {
			<-s.done
			if s.skipped {
				tally.Aborted = true
			}
			for _, v := range s.verdicts {
				tally.Scored++
				if !v.Safe {
					tally.Unsafe++
					tally.UnsafeFrames = append(tally.UnsafeFrames, v.Index)
				}
			}
			if tally.Unsafe >= c.unsafeLimit {
				abort.Set()
			}
		}
	}()

	submit := func(batch []sampler.Frame) {
		s := &slot{done: make(chan struct{})}
		ordered <- s
		g.Go(func() error {
			defer close(s.done)
			if abort.IsSet() || unsafe.Load() >= limit {
				s.skipped = true
				return nil
			}
			var err error
			s.verdicts, err = c.evaluateBatch(gctx, batch, &unsafe, limit)
			if len(s.verdicts) < len(batch) && unsafe.Load() >= limit {
				s.skipped = true
			}
			return err
		})
	}

	var (
		sourceErr error
		stopped   bool
	)
	batch := make([]sampler.Frame, 0, c.batchSize)
	for frame, err := range frames {
		if err != nil {
			sourceErr = err
			break
		}
		if abort.IsSet() || unsafe.Load() >= limit || gctx.Err() != nil {
			stopped = true
			break
		}
		batch = append(batch, frame)
		if len(batch) == c.batchSize {
			submit(batch)
			batch = make([]sampler.Frame, 0, c.batchSize)
		}
	}
	if len(batch) > 0 {
		if abort.IsSet() || unsafe.Load() >= limit {
			stopped = true
		} else {
			submit(batch)
		}
	}
	waitErr := g.Wait()
	close(ordered)
	<-consumed

	out := tally
	out.Aborted = out.Aborted || stopped
	out.SourceErr = sourceErr
	if waitErr != nil {
		return out, waitErr
	}
	if sourceErr != nil && !isDecodeError(sourceErr) {
		return out, sourceErr
	}
	out.Rejected = out.Unsafe >= c.unsafeLimit || (out.Scored == 1 && out.Unsafe == 1)
	c.logger.Debug("asset scored",
		logging.Int("scored", out.Scored),
		logging.Int("unsafe", out.Unsafe),
		logging.Bool("aborted", out.Aborted),
		logging.Bool("rejected", out.Rejected),
	)
	return out, nil
}

func isDecodeError(err error) bool {
	var decodeErr *sampler.DecodeError
	return errors.As(err, &decodeErr)
}

// evaluateBatch screens every frame of the batch with one backend call per
// single-shot probe, then decides frames in order until the asset-wide
// unsafe count reaches limit.
func (c *Cascade) evaluateBatch(ctx context.Context, batch []sampler.Frame, unsafe *atomic.Int32, limit int32) ([]Verdict, error) {
	prepared := make([]image.Image, len(batch))
	for i, frame := range batch {
		prepared[i] = raster.PrepareForScoring(frame.Image)
	}
	first, err := c.firstPass(ctx, prepared)
	if err != nil {
		return nil, err
	}
	verdicts := make([]Verdict, 0, len(batch))
	for i, frame := range batch {
		if unsafe.Load() >= limit {
			break
		}
		v, err := c.decide(ctx, frame, prepared[i], first[i])
		if err != nil {
			return verdicts, err
		}
		verdicts = append(verdicts, v)
		if !v.Safe {
			unsafe.Add(1)
		}
	}
	return verdicts, nil
}

func (c *Cascade) firstPass(ctx context.Context, prepared []image.Image) ([]FirstPass, error) {
	ratios := make(map[Probe][]float64, len(firstPassProbes))
	for _, probe := range firstPassProbes {
		values, err := c.ratios(ctx, probe, prepared)
		if err != nil {
			return nil, err
		}
		ratios[probe] = values
	}
	out := make([]FirstPass, len(prepared))
	for i := range prepared {
		out[i] = FirstPass{
			Explicit:        ratios[ProbeExplicit][i],
			Horror:          ratios[ProbeHorror][i],
			Violence:        ratios[ProbeViolence][i],
			ViolenceGore:    ratios[ProbeViolenceGore][i],
			ViolenceWeapons: ratios[ProbeViolenceWeapons][i],
			ViolenceInjury:  ratios[ProbeViolenceInjury][i],
		}
	}
	return out, nil
}

func (c *Cascade) ratios(ctx context.Context, probe Probe, images []image.Image) ([]float64, error) {
	set := c.prompts[probe]
	probs, err := c.backend.Similarity(ctx, images, set.Combined())
	if err != nil {
		return nil, services.Wrap(services.ErrScoring, "cascade", string(probe), "similarity failed", err)
	}
	if len(probs) != len(images) {
		return nil, services.Wrap(services.ErrScoring, "cascade", string(probe),
			fmt.Sprintf("expected %d rows, got %d", len(images), len(probs)), nil)
	}
	out := make([]float64, len(images))
	for i, row := range probs {
		ratio, err := set.Ratio(row)
		if err != nil {
			return nil, services.Wrap(services.ErrScoring, "cascade", string(probe), "malformed probabilities", err)
		}
		out[i] = ratio
	}
	return out, nil
}

// decide walks the refinement steps for one frame. Refinement probes score
// the prepared frame alone; the classifier sees the original frame.
func (c *Cascade) decide(ctx context.Context, frame sampler.Frame, prepared image.Image, first FirstPass) (Verdict, error) {
	v := Verdict{Index: frame.Index, Safe: true}
	step, why := c.policy.Screen(first)
	if step == StepRefine {
		r2, err := c.single(ctx, ProbeExplicitRefine, prepared)
		if err != nil {
			return v, err
		}
		step, why = c.policy.Refine(r2)
		if step == StepFinal {
			r3, err := c.single(ctx, ProbeExplicitFinal, prepared)
			if err != nil {
				return v, err
			}
			step, why = c.policy.Final(first.Explicit, r2, r3)
			if step == StepClassify {
				score, err := c.backend.Classify(ctx, frame.Image)
				if err != nil {
					return v, services.Wrap(services.ErrScoring, "cascade", "classifier", "classify failed", err)
				}
				step, why = c.policy.Classify(score)
			}
		}
	}
	if step == StepUnsafe {
		v.Safe = false
		v.Reason = why
	}
	return v, nil
}

func (c *Cascade) single(ctx context.Context, probe Probe, prepared image.Image) (float64, error) {
	values, err := c.ratios(ctx, probe, []image.Image{prepared})
	if err != nil {
		return 0, err
	}
	return values[0], nil
}
