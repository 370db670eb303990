package intake_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"mediaguard/internal/intake"
	"mediaguard/internal/jobs"
	"mediaguard/internal/services"
	"mediaguard/internal/testsupport"
	"mediaguard/internal/uploads"
)

type stubJobs struct {
	payloads []jobs.ModerationPayload
	err      error
}

func (s *stubJobs) SubmitModeration(_ context.Context, p jobs.ModerationPayload) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.payloads = append(s.payloads, p)
	return jobs.ModerationTaskID(p.UploadID), nil
}

func newService(t *testing.T, ffmpeg string) (*intake.Service, *uploads.Store, *stubJobs, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	submitted := &stubJobs{}
	svc, err := intake.New(intake.Options{
		Store:     store,
		Jobs:      submitted,
		UploadDir: cfg.Paths.UploadDir,
		FFmpeg:    ffmpeg,
		FFprobe:   filepath.Join(t.TempDir(), "no-ffprobe"),
	})
	if err != nil {
		t.Fatalf("intake.New: %v", err)
	}
	return svc, store, submitted, cfg.Paths.UploadDir
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func gifBytes(t *testing.T, frames int) []byte {
	t.Helper()
	anim := &gif.GIF{Config: image.Config{Width: 4, Height: 4, ColorModel: color.Palette(palette.Plan9)}}
	for i := range frames {
		frame := image.NewPaletted(image.Rect(0, 0, 4, 4), palette.Plan9)
		frame.Pix[0] = uint8(i)
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, 1)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

var variantName = regexp.MustCompile(`^\d{14}_(sm|md|lg)_[0-9a-f]{32}\.jpg$`)

func TestAcceptStaticImageWritesVariants(t *testing.T) {
	svc, store, submitted, dir := newService(t, "")
	ctx := context.Background()
	owner := testsupport.NewUser(t, store, "alice@example.com")
	res, err := svc.Accept(ctx, intake.Request{
		UserID: &owner, Actor: "alice", ClientIP: "10.0.0.1",
		Filename: "holiday.png", Body: bytes.NewReader(pngBytes(t, 1200, 600)),
	})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if len(res.Variants) != 3 || res.Status != uploads.StatusPending {
		t.Fatalf("unexpected result %+v", res)
	}
	for label, name := range res.Variants {
		if !variantName.MatchString(name) || !strings.Contains(name, "_"+label+"_") {
			t.Fatalf("unexpected variant name %q for %s", name, label)
		}
	}
	lg, err := os.Open(filepath.Join(dir, res.Variants[uploads.VariantLarge]))
	if err != nil {
		t.Fatal(err)
	}
	defer lg.Close()
	cfg, _, err := image.DecodeConfig(lg)
	if err != nil {
		t.Fatalf("decode lg: %v", err)
	}
	if cfg.Width != 800 || cfg.Height != 400 {
		t.Fatalf("expected 800x400 lg variant, got %dx%d", cfg.Width, cfg.Height)
	}

	rec, err := store.Get(ctx, res.UploadID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Width != 1200 || rec.JobID != jobs.ModerationTaskID(rec.ID) {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(submitted.payloads) != 1 || submitted.payloads[0].Actor != "alice" || submitted.payloads[0].IsAnimated() {
		t.Fatalf("unexpected submission %+v", submitted.payloads)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.part"))
	if len(leftovers) != 0 {
		t.Fatalf("staging file left behind: %v", leftovers)
	}
}

func TestAcceptAnimatedGIFKeepsOriginal(t *testing.T) {
	svc, _, submitted, dir := newService(t, "")
	res, err := svc.Accept(context.Background(), intake.Request{
		Filename: "loop.gif", Body: bytes.NewReader(gifBytes(t, 3)),
	})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !res.Animated || res.Location == "" || res.Variants != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, res.Location)); err != nil {
		t.Fatalf("original not stored: %v", err)
	}
	if !submitted.payloads[0].IsAnimated() {
		t.Fatal("expected animated hint on the job")
	}
}

func TestAcceptPDF(t *testing.T) {
	svc, _, _, dir := newService(t, "")
	src := filepath.Join(t.TempDir(), "doc.pdf")
	testsupport.WritePDF(t, src, "")
	data, _ := os.ReadFile(src)
	res, err := svc.Accept(context.Background(), intake.Request{Filename: "doc.pdf", Body: bytes.NewReader(data)})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if res.Mime != "application/pdf" || !strings.HasSuffix(res.Location, ".pdf") {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, res.Location)); err != nil {
		t.Fatalf("pdf not stored: %v", err)
	}
}

func TestAcceptVideoGrabsThumbnail(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\nprintf 'jpg' > \"$last\"\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	svc, _, _, dir := newService(t, bin)
	header := []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}
	body := append(header, bytes.Repeat([]byte{0}, 512)...)
	res, err := svc.Accept(context.Background(), intake.Request{Filename: "clip.mp4", Body: bytes.NewReader(body)})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if res.Mime != "video/mp4" {
		t.Fatalf("unexpected mime %q", res.Mime)
	}
	stem := strings.TrimSuffix(res.Location, ".mp4")
	if _, err := os.Stat(filepath.Join(dir, "t"+stem+".jpg")); err != nil {
		t.Fatalf("thumbnail missing: %v", err)
	}
}

func TestAcceptShortVideoFallsBackToFirstFrame(t *testing.T) {
	binDir := t.TempDir()
	bin := filepath.Join(binDir, "ffmpeg")
	seeks := filepath.Join(binDir, "seeks.log")
	// Seeking past the end of a short clip exits cleanly with no output.
	script := "#!/bin/sh\nprev=\"\"\nfor arg; do\n" +
		"  if [ \"$prev\" = \"-ss\" ]; then seek=\"$arg\"; fi\n" +
		"  prev=\"$arg\"; last=\"$arg\"\ndone\n" +
		"echo \"$seek\" >> \"" + seeks + "\"\n" +
		"if [ \"$seek\" = \"0\" ]; then printf 'jpg' > \"$last\"; fi\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	svc, _, _, dir := newService(t, bin)
	header := []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}
	res, err := svc.Accept(context.Background(), intake.Request{Filename: "blink.mp4", Body: bytes.NewReader(header)})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	stem := strings.TrimSuffix(res.Location, ".mp4")
	if _, err := os.Stat(filepath.Join(dir, "t"+stem+".jpg")); err != nil {
		t.Fatalf("thumbnail missing: %v", err)
	}
	recorded, err := os.ReadFile(seeks)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Fields(string(recorded)); len(got) != 2 || got[0] != "00:00:01" || got[1] != "0" {
		t.Fatalf("expected a one second grab then a first-frame grab, got %v", got)
	}
}

func TestAcceptVideoFailsWithoutThumbnail(t *testing.T) {
	svc, _, submitted, dir := newService(t, filepath.Join(t.TempDir(), "missing-ffmpeg"))
	header := []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}
	_, err := svc.Accept(context.Background(), intake.Request{Filename: "clip.mp4", Body: bytes.NewReader(header)})
	if !errors.Is(err, intake.ErrNotAllowed) {
		t.Fatalf("expected not allowed, got %v", err)
	}
	if len(submitted.payloads) != 0 {
		t.Fatal("nothing should be queued")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected upload dir cleaned, found %d entries", len(entries))
	}
}

func TestAcceptRejectsBadInput(t *testing.T) {
	svc, _, _, _ := newService(t, "")
	cases := []struct {
		name string
		file string
		body []byte
		want error
	}{
		{"double extension", "a.tar.gz", []byte("x"), intake.ErrNotAllowed},
		{"unknown extension", "a.exe", []byte("x"), intake.ErrNotAllowed},
		{"text content", "a.jpg", []byte("just some text"), intake.ErrNotAllowed},
		{"empty body", "a.jpg", nil, intake.ErrNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Accept(context.Background(), intake.Request{Filename: tc.file, Body: bytes.NewReader(tc.body)})
			if !errors.Is(err, tc.want) || !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAcceptRejectsOversizedBody(t *testing.T) {
	svc, _, _, _ := newService(t, "")
	body := bytes.NewReader(make([]byte, intake.MaxFileSize+1))
	if _, err := svc.Accept(context.Background(), intake.Request{Filename: "big.png", Body: body}); !errors.Is(err, intake.ErrTooLarge) {
		t.Fatalf("expected too large, got %v", err)
	}
}
