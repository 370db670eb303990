package moderation_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"iter"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"mediaguard/internal/cascade"
	"mediaguard/internal/media/ffprobe"
	"mediaguard/internal/moderation"
	"mediaguard/internal/notifications"
	"mediaguard/internal/sampler"
	"mediaguard/internal/services"
	"mediaguard/internal/testsupport"
	"mediaguard/internal/uploads"
)

type stubScorer struct {
	frameCalls atomic.Int32
	scoreCalls atomic.Int32
	safe       bool
	err        error
	outcome    cascade.Outcome
	drain      bool
}

func (s *stubScorer) EvaluateFrame(_ context.Context, frame sampler.Frame) (cascade.Verdict, error) {
	s.frameCalls.Add(1)
	if s.err != nil {
		return cascade.Verdict{}, s.err
	}
	reason := ""
	if !s.safe {
		reason = "explicit ratio above ceiling"
	}
	return cascade.Verdict{Index: frame.Index, Safe: s.safe, Reason: reason}, nil
}

func (s *stubScorer) Score(_ context.Context, frames iter.Seq2[sampler.Frame, error]) (cascade.Outcome, error) {
	s.scoreCalls.Add(1)
	if s.err != nil {
		return cascade.Outcome{}, s.err
	}
	if !s.drain {
		return s.outcome, nil
	}
	var out cascade.Outcome
	for _, err := range frames {
		if err != nil {
			out.SourceErr = err
			break
		}
		out.Scored++
	}
	return out, nil
}

type stubFrames struct {
	calls  atomic.Int32
	frames int
	err    error
}

func (s *stubFrames) Sample(_ context.Context, _ string, stride int) iter.Seq2[sampler.Frame, error] {
	s.calls.Add(1)
	return func(yield func(sampler.Frame, error) bool) {
		for i := range s.frames {
			img := image.NewRGBA(image.Rect(0, 0, 4, 4))
			if !yield(sampler.Frame{Index: i * stride, Image: img}, nil) {
				return
			}
		}
		if s.err != nil {
			yield(sampler.Frame{}, s.err)
		}
	}
}

type fixture struct {
	store    *uploads.Store
	scorer   *stubScorer
	frames   *stubFrames
	notifier *notifications.Recorder
	orch     *moderation.Orchestrator
	dir      string
	probe    ffprobe.Result
	probeErr error
	probes   atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	f := &fixture{
		store:    testsupport.MustOpenStore(t, cfg),
		scorer:   &stubScorer{safe: true},
		frames:   &stubFrames{},
		notifier: &notifications.Recorder{},
		dir:      cfg.Paths.UploadDir,
	}
	orch, err := moderation.New(moderation.Options{
		Store:  f.store,
		Scorer: f.scorer,
		Frames: f.frames,
		Probe: func(context.Context, string) (ffprobe.Result, error) {
			f.probes.Add(1)
			return f.probe, f.probeErr
		},
		Notifier: f.notifier,
	})
	if err != nil {
		t.Fatalf("moderation.New: %v", err)
	}
	f.orch = orch
	return f
}

func (f *fixture) insert(t *testing.T, name, mime string, animated bool) (*uploads.Record, moderation.Request) {
	t.Helper()
	path := filepath.Join(f.dir, name)
	rec, err := f.store.Insert(context.Background(), uploads.NewRecord{
		Filename: name,
		Path:     path,
		Mime:     mime,
		Animated: animated,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return rec, moderation.Request{
		UploadID: rec.ID,
		Path:     path,
		Mime:     mime,
		Filename: name,
		Actor:    "tester",
		ClientIP: "127.0.0.1",
		Animated: animated,
	}
}

func (f *fixture) status(t *testing.T, id int64) uploads.Status {
	t.Helper()
	rec, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return rec.Status
}

func TestClassify(t *testing.T) {
	cases := []struct {
		mime     string
		animated bool
		want     moderation.Kind
	}{
		{"image/jpeg", false, moderation.StaticImage},
		{"image/gif", true, moderation.AnimatedImage},
		{"IMAGE/WEBP; charset=binary", false, moderation.StaticImage},
		{"video/mp4", false, moderation.Video},
		{"application/pdf", false, moderation.PDF},
	}
	for _, tc := range cases {
		got, err := moderation.Classify(tc.mime, tc.animated)
		if err != nil || got != tc.want {
			t.Fatalf("Classify(%q, %v) = %q, %v; want %q", tc.mime, tc.animated, got, err, tc.want)
		}
	}
	if _, err := moderation.Classify("application/zip", false); !errors.Is(err, services.ErrPreValidation) {
		t.Fatalf("expected pre-validation error for zip, got %v", err)
	}
}

func TestStaticImageApproved(t *testing.T) {
	f := newFixture(t)
	rec, req := f.insert(t, "a.png", "image/png", false)
	testsupport.WriteImage(t, req.Path, 32, 32, color.White)

	res, err := f.orch.Moderate(context.Background(), req)
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if res.Status != uploads.StatusApproved || !res.Changed {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := f.status(t, rec.ID); got != uploads.StatusApproved {
		t.Fatalf("expected approved, got %s", got)
	}
}

func TestStaticImageUnsafeRejected(t *testing.T) {
	f := newFixture(t)
	f.scorer.safe = false
	rec, req := f.insert(t, "b.jpg", "image/jpeg", false)
	testsupport.WriteImage(t, req.Path, 32, 32, color.Black)

	if _, err := f.orch.Moderate(context.Background(), req); err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if got := f.status(t, rec.ID); got != uploads.StatusRejected {
		t.Fatalf("expected rejected, got %s", got)
	}
}

func TestUndecodableImageRejectedWithoutScoring(t *testing.T) {
	f := newFixture(t)
	rec, req := f.insert(t, "c.png", "image/png", false)
	testsupport.WriteFile(t, req.Path, 128)

	if _, err := f.orch.Moderate(context.Background(), req); err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if got := f.status(t, rec.ID); got != uploads.StatusRejected {
		t.Fatalf("expected rejected, got %s", got)
	}
	if f.scorer.frameCalls.Load() != 0 {
		t.Fatal("scorer must not run for undecodable input")
	}
}

func TestUnsupportedMimeRejected(t *testing.T) {
	f := newFixture(t)
	rec, req := f.insert(t, "d.zip", "application/zip", false)
	testsupport.WriteFile(t, req.Path, 16)

	res, err := f.orch.Moderate(context.Background(), req)
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if res.Status != uploads.StatusRejected || f.status(t, rec.ID) != uploads.StatusRejected {
		t.Fatalf("expected rejected, got %+v", res)
	}
}

func TestScoringErrorLeavesPendingAndAlerts(t *testing.T) {
	f := newFixture(t)
	f.scorer.err = errors.New("sidecar down")
	rec, req := f.insert(t, "e.png", "image/png", false)
	testsupport.WriteImage(t, req.Path, 16, 16, color.White)

	_, err := f.orch.Moderate(context.Background(), req)
	if err == nil {
		t.Fatal("expected pipeline error")
	}
	if !errors.Is(err, services.ErrScoring) || !services.Retryable(err) {
		t.Fatalf("expected retryable scoring error, got %v", err)
	}
	if got := f.status(t, rec.ID); got != uploads.StatusPending {
		t.Fatalf("expected pending, got %s", got)
	}
	if f.notifier.Count(notifications.EventScoringError) != 1 {
		t.Fatalf("expected one scoring alert, got %d", f.notifier.Count(notifications.EventScoringError))
	}
}

func TestReplayDoesNotRevertTerminalStatus(t *testing.T) {
	f := newFixture(t)
	f.scorer.safe = false
	rec, req := f.insert(t, "f.png", "image/png", false)
	testsupport.WriteImage(t, req.Path, 16, 16, color.White)
	if _, err := f.orch.Moderate(context.Background(), req); err != nil {
		t.Fatalf("first Moderate: %v", err)
	}

	f.scorer.safe = true
	res, err := f.orch.Moderate(context.Background(), req)
	if err != nil {
		t.Fatalf("replay Moderate: %v", err)
	}
	if res.Changed {
		t.Fatal("replay must not change a terminal record")
	}
	if got := f.status(t, rec.ID); got != uploads.StatusRejected {
		t.Fatalf("expected rejected to stick, got %s", got)
	}
}

func TestVideoWithoutStreamsRejectedBeforeSampling(t *testing.T) {
	f := newFixture(t)
	probe, err := ffprobe.Parse([]byte(`{"streams":[],"format":{"duration":"3.0"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f.probe = probe
	rec, req := f.insert(t, "g.mp4", "video/mp4", false)
	testsupport.WriteFile(t, req.Path, 64)

	if _, err := f.orch.Moderate(context.Background(), req); err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if got := f.status(t, rec.ID); got != uploads.StatusRejected {
		t.Fatalf("expected rejected, got %s", got)
	}
	if f.frames.calls.Load() != 0 || f.scorer.scoreCalls.Load() != 0 {
		t.Fatal("frame sampler must not run for an empty container")
	}
}

func TestAudioOnlyVideoApprovedWithoutSampling(t *testing.T) {
	f := newFixture(t)
	probe, err := ffprobe.Parse([]byte(`{"streams":[{"index":0,"codec_type":"audio"}],"format":{"duration":"12.5"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f.probe = probe
	rec, req := f.insert(t, "h.mp4", "video/mp4", false)
	testsupport.WriteFile(t, req.Path, 64)

	if _, err := f.orch.Moderate(context.Background(), req); err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if got := f.status(t, rec.ID); got != uploads.StatusApproved {
		t.Fatalf("expected approved, got %s", got)
	}
	if f.frames.calls.Load() != 0 {
		t.Fatal("audio-only video must not be sampled")
	}
}

func TestVideoCascadeRejection(t *testing.T) {
	f := newFixture(t)
	probe, err := ffprobe.Parse([]byte(`{"streams":[{"index":0,"codec_type":"video","width":64,"height":64}],"format":{"duration":"3.0"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f.probe = probe
	f.scorer.outcome = cascade.Outcome{Scored: 4, Unsafe: 2, UnsafeFrames: []int{7, 21}, Aborted: true, Rejected: true}
	rec, req := f.insert(t, "i.mp4", "video/mp4", false)
	testsupport.WriteFile(t, req.Path, 64)

	res, err := f.orch.Moderate(context.Background(), req)
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if res.Status != uploads.StatusRejected || f.status(t, rec.ID) != uploads.StatusRejected {
		t.Fatalf("expected rejected, got %+v", res)
	}
	if f.scorer.scoreCalls.Load() != 1 {
		t.Fatalf("expected one cascade run, got %d", f.scorer.scoreCalls.Load())
	}
}

func TestAnimatedImageWithoutDecodableFramesRejected(t *testing.T) {
	f := newFixture(t)
	f.scorer.drain = true
	f.frames.err = &sampler.DecodeError{Path: "x", Err: errors.New("no frames decoded")}
	rec, req := f.insert(t, "j.gif", "image/gif", true)
	testsupport.WriteImage(t, req.Path, 8, 8, color.White)

	if _, err := f.orch.Moderate(context.Background(), req); err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if got := f.status(t, rec.ID); got != uploads.StatusRejected {
		t.Fatalf("expected rejected, got %s", got)
	}
}

func TestAnimatedImagePartialDecodeStillDecides(t *testing.T) {
	f := newFixture(t)
	f.scorer.drain = true
	f.frames.frames = 3
	f.frames.err = &sampler.DecodeError{Path: "x", Yielded: 3, Err: errors.New("truncated")}
	rec, req := f.insert(t, "k.gif", "image/gif", true)
	testsupport.WriteImage(t, req.Path, 8, 8, color.White)

	if _, err := f.orch.Moderate(context.Background(), req); err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if got := f.status(t, rec.ID); got != uploads.StatusApproved {
		t.Fatalf("expected approved on decoded frames, got %s", got)
	}
}

func TestPDFWithEmbeddedFileRejectedBeforeScoring(t *testing.T) {
	f := newFixture(t)
	rec, req := f.insert(t, "l.pdf", "application/pdf", false)
	testsupport.WritePDF(t, req.Path, "/Names << /EmbeddedFiles << /Names [(a.txt) 5 0 R] >> >>",
		"<< /Type /Filespec /F (a.txt) /EF << /F 6 0 R >> >>",
		"<< /Type /EmbeddedFile >>",
	)

	if _, err := f.orch.Moderate(context.Background(), req); err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if got := f.status(t, rec.ID); got != uploads.StatusRejected {
		t.Fatalf("expected rejected, got %s", got)
	}
	if f.scorer.frameCalls.Load() != 0 {
		t.Fatal("image scoring must not run before pre-validation passes")
	}
}

func TestCleanImagelessPDFApproved(t *testing.T) {
	f := newFixture(t)
	rec, req := f.insert(t, "m.pdf", "application/pdf", false)
	testsupport.WritePDF(t, req.Path, "")

	if _, err := f.orch.Moderate(context.Background(), req); err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if got := f.status(t, rec.ID); got != uploads.StatusApproved {
		t.Fatalf("expected approved, got %s", got)
	}
}

func TestPDFEmbeddedImageIsScored(t *testing.T) {
	f := newFixture(t)
	f.scorer.safe = false
	rec, req := f.insert(t, "photo.pdf", "application/pdf", false)
	testsupport.WritePDFWithImage(t, req.Path, "DCTDecode", testsupport.JPEGBytes(t, color.RGBA{R: 220, A: 255}))

	res, err := f.orch.Moderate(context.Background(), req)
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if got := f.status(t, rec.ID); got != uploads.StatusRejected {
		t.Fatalf("expected rejected, got %s", got)
	}
	if f.scorer.frameCalls.Load() != 1 {
		t.Fatalf("expected one scoring call, got %d", f.scorer.frameCalls.Load())
	}
	if !strings.HasPrefix(res.Reason, "page 1:") {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
}

func TestPDFUndecodableImageRejected(t *testing.T) {
	f := newFixture(t)
	rec, req := f.insert(t, "scan.pdf", "application/pdf", false)
	testsupport.WritePDFWithImage(t, req.Path, "JPXDecode", []byte("not a jpeg 2000 codestream"))

	if _, err := f.orch.Moderate(context.Background(), req); err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if got := f.status(t, rec.ID); got != uploads.StatusRejected {
		t.Fatalf("an unscored image must not be approved, got %s", got)
	}
	if f.scorer.frameCalls.Load() != 0 {
		t.Fatalf("expected no scoring calls, got %d", f.scorer.frameCalls.Load())
	}
}

func TestMissingRecordIsNotRetried(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "n.png")
	testsupport.WriteImage(t, path, 8, 8, color.White)
	_, err := f.orch.Moderate(context.Background(), moderation.Request{UploadID: 9999, Path: path, Mime: "image/png"})
	if !errors.Is(err, services.ErrNotFound) || services.Retryable(err) {
		t.Fatalf("expected non-retryable not found, got %v", err)
	}
}
