package media

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrNoInputs is returned by Concat when the playlist is empty.
	ErrNoInputs = errors.New("media: no inputs to concatenate")
	// ErrInvalidFPS is returned when the target frame rate is not positive.
	ErrInvalidFPS = errors.New("media: frame rate must be positive")
	// ErrFrameOutOfRange is returned when the requested frame does not exist.
	ErrFrameOutOfRange = errors.New("media: frame out of range")
)

// stderrTail bounds how much tool output an FFmpegError keeps.
const stderrTail = 4 << 10

// FFmpegProcessor implements Encoder with the ffmpeg CLI.
type FFmpegProcessor struct {
	bin string
}

var (
	_ Encoder        = (*FFmpegProcessor)(nil)
	_ FrameExtractor = (*FFmpegProcessor)(nil)
)

// NewFFmpegProcessor uses bin, or "ffmpeg" from PATH when bin is empty.
func NewFFmpegProcessor(bin string) *FFmpegProcessor {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpegProcessor{bin: bin}
}

// Reencode converts src into dst at the target frame rate and codec.
func (p *FFmpegProcessor) Reencode(ctx context.Context, src, dst string, opts EncodeOptions) error {
	if opts.FPS <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidFPS, opts.FPS)
	}
	return p.run(ctx, append([]string{"-y", "-i", src}, outputArgs(opts, dst)...))
}

// Concat joins srcs with the concat demuxer. The playlist is written next
// to dst and removed afterwards.
func (p *FFmpegProcessor) Concat(ctx context.Context, srcs []string, dst string, opts EncodeOptions) error {
	if len(srcs) == 0 {
		return ErrNoInputs
	}
	if opts.FPS <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidFPS, opts.FPS)
	}

	list := dst + ".concat.txt"
	if err := writeConcatList(list, srcs); err != nil {
		return err
	}
	defer func() { _ = os.Remove(list) }()

	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", list}
	return p.run(ctx, append(args, outputArgs(opts, dst)...))
}

// ExtractFrame selects frame n by index. ffmpeg exits cleanly when the
// filter matches nothing, so an empty dst is reported as ErrFrameOutOfRange.
func (p *FFmpegProcessor) ExtractFrame(ctx context.Context, src, dst string, n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrFrameOutOfRange, n)
	}
	args := []string{
		"-y", "-i", src,
		"-vf", fmt.Sprintf(`select=eq(n\,%d)`, n),
		"-frames:v", "1", "-q:v", "2", "-update", "1",
		dst,
	}
	if err := p.run(ctx, args); err != nil {
		return err
	}
	if info, err := os.Stat(dst); err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: %d in %s", ErrFrameOutOfRange, n, src)
	}
	return nil
}

// outputArgs never stream-copies. The bitexact flags keep repeated runs over
// the same inputs byte-identical.
func outputArgs(opts EncodeOptions, dst string) []string {
	codec := cmp.Or(opts.VideoCodec, "libx264")
	pixFmt := cmp.Or(opts.PixelFormat, "yuv420p")
	return []string{
		"-r", strconv.FormatFloat(opts.FPS, 'f', -1, 64),
		"-c:v", codec, "-pix_fmt", pixFmt, "-preset", "fast", "-crf", "20",
		"-c:a", "aac", "-b:a", "128k",
		"-map_metadata", "-1",
		"-fflags", "+bitexact", "-flags:v", "+bitexact", "-flags:a", "+bitexact",
		dst,
	}
}

// writeConcatList writes srcs as absolute, quoted concat demuxer entries.
func writeConcatList(list string, srcs []string) error {
	f, err := os.Create(list) // #nosec G304 - derived from a layout path
	if err != nil {
		return fmt.Errorf("media: create concat list: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, src := range srcs {
		abs, err := filepath.Abs(src)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("media: resolve %s: %w", src, err)
		}
		fmt.Fprintf(w, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("media: write concat list: %w", err)
	}
	return f.Close()
}

func (p *FFmpegProcessor) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, p.bin, args...) // #nosec G204 - binary comes from config
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("media: ffmpeg interrupted: %w", ctx.Err())
		}
		out := stderr.String()
		if len(out) > stderrTail {
			out = out[len(out)-stderrTail:]
		}
		return &FFmpegError{Args: args, Stderr: out, Err: err}
	}
	return nil
}

// FFmpegError reports a failed ffmpeg run with the tail of its stderr.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg %s: %v: %s", strings.Join(e.Args, " "), e.Err, strings.TrimSpace(e.Stderr))
}

func (e *FFmpegError) Unwrap() error { return e.Err }

// ExitCode returns the tool's exit code, or -1 if it did not exit normally.
func (e *FFmpegError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
