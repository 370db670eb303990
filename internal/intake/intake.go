package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"mediaguard/internal/fileutil"
	"mediaguard/internal/jobs"
	"mediaguard/internal/logging"
	"mediaguard/internal/media/ffprobe"
	"mediaguard/internal/media/raster"
	"mediaguard/internal/services"
	"mediaguard/internal/uploads"
)

// Limits enforced before anything is stored.
const (
	MaxFileSize  = 40 << 20
	MaxDimension = 5000
)

var (
	// ErrTooLarge reports a body or animation above the limits.
	ErrTooLarge = fmt.Errorf("file too large: %w", services.ErrValidation)
	// ErrNotAllowed reports a filename or content type that is not accepted.
	ErrNotAllowed = fmt.Errorf("file not allowed: %w", services.ErrValidation)
)

var allowedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".mp4": true, ".webm": true, ".ogg": true, ".pdf": true, ".mov": true,
	".heic": true, ".heif": true,
}

var allowedVideo = map[string]bool{
	"video/mp4":       true,
	"video/webm":      true,
	"video/ogg":       true,
	"video/quicktime": true,
}

// variantSizes maps each label to its longest side.
var variantSizes = map[string]int{
	uploads.VariantSmall:  224,
	uploads.VariantMedium: 500,
	uploads.VariantLarge:  800,
}

// Store persists records.
type Store interface {
	Insert(ctx context.Context, in uploads.NewRecord) (*uploads.Record, error)
	SetJobID(ctx context.Context, id int64, jobID string) error
}

// Submitter queues moderation jobs.
type Submitter interface {
	SubmitModeration(ctx context.Context, p jobs.ModerationPayload) (string, error)
}

// Options configures a Service.
type Options struct {
	Store     Store
	Jobs      Submitter
	UploadDir string
	FFmpeg    string
	FFprobe   string
	Logger    *slog.Logger
}

// Service accepts uploads.
type Service struct {
	store     Store
	jobs      Submitter
	uploadDir string
	ffmpeg    string
	ffprobe   string
	now       func() time.Time
	logger    *slog.Logger
}

// New builds a Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil || opts.Jobs == nil {
		return nil, errors.New("intake: store and job submitter are required")
	}
	if strings.TrimSpace(opts.UploadDir) == "" {
		return nil, errors.New("intake: upload directory is required")
	}
	if opts.FFmpeg == "" {
		opts.FFmpeg = "ffmpeg"
	}
	if opts.FFprobe == "" {
		opts.FFprobe = "ffprobe"
	}
	return &Service{
		store:     opts.Store,
		jobs:      opts.Jobs,
		uploadDir: opts.UploadDir,
		ffmpeg:    opts.FFmpeg,
		ffprobe:   opts.FFprobe,
		now:       time.Now,
		logger:    logging.NewComponentLogger(opts.Logger, "intake"),
	}, nil
}

// Request is one upload.
type Request struct {
	UserID   *int64
	Actor    string
	ClientIP string
	Filename string
	Body     io.Reader
}

// Result describes the accepted upload. Location is set for single-file
// uploads and Variants for static images.
type Result struct {
	UploadID int64
	JobID    string
	Status   uploads.Status
	Mime     string
	Name     string
	Location string
	Variants map[string]string
	Animated bool
}

// Accept stores the upload, inserts a pending record and queues moderation.
// Nothing is left on disk when it fails before the insert.
func (s *Service) Accept(ctx context.Context, req Request) (Result, error) {
	ext, err := checkFilename(req.Filename)
	if err != nil {
		return Result{}, err
	}
	staged, size, err := s.stage(req.Body)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = os.Remove(staged) }()

	mt, err := mimetype.DetectFile(staged)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "intake", "sniff", req.Filename, err)
	}
	mime := strings.ToLower(mt.String())
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	n := newNames(s.now())
	var (
		rec     uploads.NewRecord
		written []string
	)
	switch {
	case strings.HasPrefix(mime, "image/"):
		rec, written, err = s.acceptImage(staged, ext, mime, n)
	case mime == "application/pdf":
		rec, written, err = s.acceptCopy(staged, ext, mime, n)
	case allowedVideo[mime]:
		rec, written, err = s.acceptVideo(ctx, staged, ext, mime, n)
	default:
		err = fmt.Errorf("%w: content type %s", ErrNotAllowed, mime)
	}
	if err != nil {
		s.discard(written)
		return Result{}, err
	}
	rec.UserID = req.UserID
	rec.SizeBytes = size

	stored, err := s.store.Insert(ctx, rec)
	if err != nil {
		s.discard(written)
		return Result{}, services.Wrap(services.ErrTransient, "intake", "insert", rec.Filename, err)
	}

	payload := jobs.ModerationPayload{
		UploadID: stored.ID,
		Path:     stored.Path,
		Mime:     stored.Mime,
		Actor:    req.Actor,
		ClientIP: req.ClientIP,
		Filename: stored.Filename,
	}
	if strings.HasPrefix(stored.Mime, "image/") {
		animated := stored.Animated
		payload.Animated = &animated
	}
	jobID, err := s.jobs.SubmitModeration(ctx, payload)
	if err != nil {
		// The pending record is unattached and is purged by the orphan sweep.
		logging.ErrorWithContext(s.logger, "moderation submission failed", "intake_submit_failed",
			logging.Int64(logging.FieldUploadID, stored.ID),
			logging.Error(err),
		)
		return Result{}, err
	}
	if err := s.store.SetJobID(ctx, stored.ID, jobID); err != nil {
		s.logger.Warn("record job id failed",
			logging.Int64(logging.FieldUploadID, stored.ID),
			logging.Error(err),
		)
	}

	acceptAttrs := []logging.Attr{
		logging.UploadID(stored.ID),
		logging.String("mime", stored.Mime),
		logging.String("file", stored.Filename),
		logging.Int64("bytes", size),
	}
	if digest, err := fileutil.HashFile(staged); err == nil {
		acceptAttrs = append(acceptAttrs, logging.String("sha256", digest))
	}
	s.logger.Info("upload accepted", logging.Args(acceptAttrs...)...)
	out := Result{
		UploadID: stored.ID,
		JobID:    jobID,
		Status:   stored.Status,
		Mime:     stored.Mime,
		Name:     stored.Filename,
		Animated: stored.Animated,
	}
	if stored.HasVariants() {
		out.Variants = stored.Variants
	} else {
		out.Location = stored.Filename
	}
	return out, nil
}

func checkFilename(name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if strings.Count(base, ".") != 1 {
		return "", fmt.Errorf("%w: %q", ErrNotAllowed, name)
	}
	ext := strings.ToLower(filepath.Ext(base))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("%w: extension %q", ErrNotAllowed, ext)
	}
	return ext, nil
}

// stage copies at most MaxFileSize bytes into a partial file in the upload
// directory.
func (s *Service) stage(body io.Reader) (string, int64, error) {
	if body == nil {
		return "", 0, fmt.Errorf("%w: empty body", ErrNotAllowed)
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", 0, services.Wrap(services.ErrTransient, "intake", "stage", "create upload dir", err)
	}
	f, err := os.CreateTemp(s.uploadDir, ".intake-*.part")
	if err != nil {
		return "", 0, services.Wrap(services.ErrTransient, "intake", "stage", "create partial file", err)
	}
	path := f.Name()
	n, err := io.Copy(f, io.LimitReader(body, MaxFileSize+1))
	closeErr := f.Close()
	switch {
	case err != nil:
		_ = os.Remove(path)
		return "", 0, services.Wrap(services.ErrTransient, "intake", "stage", "copy body", err)
	case closeErr != nil:
		_ = os.Remove(path)
		return "", 0, services.Wrap(services.ErrTransient, "intake", "stage", "close partial file", closeErr)
	case n > MaxFileSize:
		_ = os.Remove(path)
		return "", 0, ErrTooLarge
	case n == 0:
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("%w: empty body", ErrNotAllowed)
	}
	return path, n, nil
}

func (s *Service) place(staged, name string) (string, error) {
	src, err := os.Open(staged)
	if err != nil {
		return "", err
	}
	defer src.Close()
	dst := filepath.Join(s.uploadDir, name)
	if _, err := fileutil.WriteAtomic(dst, src, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}

func (s *Service) discard(paths []string) {
	for _, path := range paths {
		if _, err := fileutil.RemoveIfExists(path); err != nil {
			s.logger.Warn("discard failed", logging.String("path", path), logging.Error(err))
		}
	}
}

func (s *Service) acceptCopy(staged, ext, mime string, n names) (uploads.NewRecord, []string, error) {
	name := n.primary(ext)
	path, err := s.place(staged, name)
	if err != nil {
		return uploads.NewRecord{}, nil, services.Wrap(services.ErrTransient, "intake", "store", name, err)
	}
	return uploads.NewRecord{Filename: name, Path: path, Mime: mime}, []string{path}, nil
}

func (s *Service) acceptImage(staged, ext, mime string, n names) (uploads.NewRecord, []string, error) {
	cfg, format, err := raster.Config(staged)
	if err != nil {
		return uploads.NewRecord{}, nil, fmt.Errorf("%w: undecodable image: %v", ErrNotAllowed, err)
	}
	if format == "gif" && isAnimatedGIF(staged) {
		if cfg.Width > MaxDimension || cfg.Height > MaxDimension {
			return uploads.NewRecord{}, nil, ErrTooLarge
		}
		rec, written, err := s.acceptCopy(staged, ext, mime, n)
		rec.Width, rec.Height, rec.Animated = cfg.Width, cfg.Height, true
		return rec, written, err
	}

	img, err := raster.Decode(staged)
	if err != nil {
		return uploads.NewRecord{}, nil, fmt.Errorf("%w: undecodable image: %v", ErrNotAllowed, err)
	}
	// Variants are re-encoded as JPEG, which also drops EXIF and other metadata.
	variants := map[string]string{}
	var written []string
	for _, label := range uploads.VariantLabels {
		name := n.variant(label, ".jpg")
		path := filepath.Join(s.uploadDir, name)
		if err := raster.SaveJPEG(path, raster.Fit(img, variantSizes[label]), raster.VariantQuality); err != nil {
			return uploads.NewRecord{}, written, services.Wrap(services.ErrTransient, "intake", "variant", name, err)
		}
		written = append(written, path)
		variants[label] = name
	}
	primary := variants[uploads.VariantSmall]
	b := img.Bounds()
	return uploads.NewRecord{
		Filename: primary,
		Path:     filepath.Join(s.uploadDir, primary),
		Mime:     "image/jpeg",
		Width:    b.Dx(),
		Height:   b.Dy(),
		Variants: variants,
	}, written, nil
}

func (s *Service) acceptVideo(ctx context.Context, staged, ext, mime string, n names) (uploads.NewRecord, []string, error) {
	rec, written, err := s.acceptCopy(staged, ext, mime, n)
	if err != nil {
		return rec, written, err
	}
	thumb := n.thumbnail()
	thumbPath := filepath.Join(s.uploadDir, thumb)
	written = append(written, thumbPath)
	if err := s.grabThumbnail(ctx, rec.Path, thumbPath); err != nil {
		return rec, written, fmt.Errorf("%w: thumbnail: %v", ErrNotAllowed, err)
	}
	rec.Thumbnail = thumb

	if probe, err := ffprobe.Inspect(ctx, s.ffprobe, rec.Path); err == nil {
		rec.Width, rec.Height = probe.Dimensions()
		rec.DurationSec = probe.DurationSeconds()
	} else {
		s.logger.Debug("video probe failed at intake", logging.String("file", rec.Filename), logging.Error(err))
	}
	return rec, written, nil
}

// thumbnailSeeks are tried in order; clips shorter than the first offset
// fall back to the first frame.
var thumbnailSeeks = []string{"00:00:01", "0"}

func (s *Service) grabThumbnail(ctx context.Context, src, dst string) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	var err error
	for _, seek := range thumbnailSeeks {
		if err = s.grabFrame(ctx, src, dst, seek); err == nil {
			return nil
		}
		_ = os.Remove(dst)
		s.logger.Debug("thumbnail grab failed", logging.String("seek", seek), logging.Error(err))
	}
	return err
}

func (s *Service) grabFrame(ctx context.Context, src, dst, seek string) error {
	cmd := exec.CommandContext(ctx, s.ffmpeg,
		"-v", "error", "-nostdin", "-y",
		"-ss", seek, "-i", src,
		"-frames:v", "1", "-q:v", "2", dst,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(string(out)))
	}
	if info, err := os.Stat(dst); err != nil || info.Size() == 0 {
		return errors.New("ffmpeg produced no thumbnail")
	}
	return nil
}
