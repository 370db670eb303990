package sampler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"mediaguard/internal/deps"
	"mediaguard/internal/logging"
)

// DefaultStride is the frame stride used when callers pass a non-positive value.
const DefaultStride = 7

// Frame is one sampled still. Index is the position in the source.
type Frame struct {
	Index int
	Image image.Image
}

// DecodeError reports a source that could not be opened or iterated. Yielded
// counts the frames delivered before the failure.
type DecodeError struct {
	Path    string
	Yielded int
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Yielded > 0 {
		return fmt.Sprintf("decode %s: %v (after %d frames)", e.Path, e.Err, e.Yielded)
	}
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Sampler produces frame sequences.
type Sampler struct {
	ffmpeg string
	logger *slog.Logger

	syncOnce sync.Once
	syncArgs []string
}

// New constructs a sampler that shells out to the given ffmpeg binary.
func New(ffmpegBinary string, logger *slog.Logger) *Sampler {
	ffmpegBinary = strings.TrimSpace(ffmpegBinary)
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &Sampler{
		ffmpeg: ffmpegBinary,
		logger: logging.NewComponentLogger(logger, "sampler"),
	}
}

// Sample yields every stride-th frame of path in source order starting at 0.
func (s *Sampler) Sample(ctx context.Context, path string, stride int) iter.Seq2[Frame, error] {
	if stride <= 0 {
		stride = DefaultStride
	}
	return func(yield func(Frame, error) bool) {
		var gifErr error
		if isGIF(path) {
			all, err := decodeGIF(path)
			if err == nil {
				compositeGIF(ctx, all, stride, yield)
				return
			}
			gifErr = err
			s.logger.Debug("gif decode failed; streaming via ffmpeg",
				logging.String("path", path),
				logging.Error(err),
			)
		}
		s.streamFFmpeg(ctx, path, stride, gifErr, yield)
	}
}

// Collect drains a sequence, keeping frames yielded before any error.
func Collect(seq iter.Seq2[Frame, error]) ([]Frame, error) {
	var frames []Frame
	for frame, err := range seq {
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func isGIF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	header := make([]byte, 6)
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.HasPrefix(header, []byte("GIF87a")) || bytes.HasPrefix(header, []byte("GIF89a"))
}

func decodeGIF(path string) (*gif.GIF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	all, err := gif.DecodeAll(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	if len(all.Image) == 0 {
		return nil, errors.New("gif has no frames")
	}
	return all, nil
}

func compositeGIF(ctx context.Context, all *gif.GIF, stride int, yield func(Frame, error) bool) {
	width, height := all.Config.Width, all.Config.Height
	if width <= 0 || height <= 0 {
		b := all.Image[0].Bounds()
		width, height = b.Max.X, b.Max.Y
	}
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	var saved *image.RGBA

	for i, frame := range all.Image {
		if ctx.Err() != nil {
			yield(Frame{}, ctx.Err())
			return
		}
		disposal := byte(0)
		if i < len(all.Disposal) {
			disposal = all.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			saved = cloneRGBA(canvas)
		}
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)

		if i%stride == 0 {
			if !yield(Frame{Index: i, Image: cloneRGBA(canvas)}, nil) {
				return
			}
		}

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			if saved != nil {
				copy(canvas.Pix, saved.Pix)
			}
		}
	}
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}

// passthrough returns the frame sync flag for the configured ffmpeg, probed
// once per sampler.
func (s *Sampler) passthrough(ctx context.Context) []string {
	s.syncOnce.Do(func() {
		version, err := deps.Version(ctx, s.ffmpeg)
		if err != nil {
			s.logger.Debug("ffmpeg version probe failed", logging.Error(err))
		}
		s.syncArgs = passthroughArgs(version)
		s.logger.Debug("ffmpeg frame sync selected",
			logging.String("version", version),
			logging.String("flag", s.syncArgs[0]),
		)
	})
	return s.syncArgs
}

// passthroughArgs picks -fps_mode, added in ffmpeg 5.1, or the older -vsync
// for releases before it. Unparseable versions such as git snapshots get
// -fps_mode.
func passthroughArgs(versionLine string) []string {
	modern := []string{"-fps_mode", "passthrough"}
	fields := strings.Fields(versionLine)
	if len(fields) < 3 || fields[1] != "version" {
		return modern
	}
	release := strings.TrimPrefix(fields[2], "n")
	parts := strings.SplitN(release, ".", 3)
	if len(parts) < 2 {
		return modern
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return modern
	}
	minor, err := strconv.Atoi(strings.TrimRightFunc(parts[1], func(r rune) bool { return r < '0' || r > '9' }))
	if err != nil {
		return modern
	}
	if major < 5 || (major == 5 && minor < 1) {
		return []string{"-vsync", "passthrough"}
	}
	return modern
}

// streamFFmpeg decodes through an ffmpeg pipe. A failure to start ffmpeg is
// an environment error unless an earlier native decode already proved the
// file broken (prior), in which case it is reported as a DecodeError.
func (s *Sampler) streamFFmpeg(ctx context.Context, path string, stride int, prior error, yield func(Frame, error) bool) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	filter := "select=not(mod(n\\," + strconv.Itoa(stride) + "))"
	args := []string{
		"-v", "error", "-nostdin",
		"-i", path,
		"-vf", filter,
	}
	args = append(args, s.passthrough(ctx)...)
	args = append(args, "-f", "image2pipe", "-vcodec", "ppm", "-")
	cmd := exec.CommandContext(ctx, s.ffmpeg, args...)
	var stderr limitedBuffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		yield(Frame{}, fmt.Errorf("ffmpeg stdout: %w", err))
		return
	}
	if err := cmd.Start(); err != nil {
		if prior != nil {
			yield(Frame{}, &DecodeError{Path: path, Err: prior})
			return
		}
		yield(Frame{}, fmt.Errorf("start ffmpeg: %w", err))
		return
	}

	reader := bufio.NewReaderSize(stdout, 1<<20)
	yielded := 0
	var readErr error
	for {
		img, err := readPPM(reader)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = err
			break
		}
		if !yield(Frame{Index: yielded * stride, Image: img}, nil) {
			cancel()
			_ = cmd.Wait()
			return
		}
		yielded++
	}
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		yield(Frame{}, ctx.Err())
	case readErr != nil:
		yield(Frame{}, &DecodeError{Path: path, Yielded: yielded, Err: readErr})
	case waitErr != nil:
		yield(Frame{}, &DecodeError{Path: path, Yielded: yielded, Err: fmt.Errorf("ffmpeg: %w: %s", waitErr, stderr.String())})
	case yielded == 0:
		yield(Frame{}, &DecodeError{Path: path, Err: errors.New("no frames decoded")})
	}
}

const stderrLimit = 4 << 10

type limitedBuffer struct {
	buf bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := stderrLimit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return strings.TrimSpace(b.buf.String())
}
