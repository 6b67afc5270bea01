// Package ffmpeg runs the external media processor in its two modes:
// stream-copy concatenation of a manifest and re-encoded broadcast to an ingest URL.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBinary = "ffmpeg"

	// Broadcast encoding settings.
	VideoCodec   = "libx264"
	VideoPreset  = "veryfast"
	VideoBitrate = "3500k"
	VideoBufSize = "7000k"
	PixelFormat  = "yuv420p"
	GOPSize      = "60"
	AudioCodec   = "aac"
	AudioBitrate = "160k"
	AudioRate    = "44100"
	OutputFormat = "flv"

	stderrTailLines = 20
	redactedMarker  = "<redacted>"
)

// Process is a running broadcast.
type Process interface {
	// Wait blocks until the process exits. Nil for exit code 0.
	Wait() error
	// Stop sends SIGINT and kills the process if it has not exited after grace.
	Stop(grace time.Duration) error
}

// Runner invokes the ffmpeg binary.
type Runner struct {
	binary string
	log    *slog.Logger
}

// NewRunner returns a Runner for the given binary (DefaultBinary if empty).
func NewRunner(binary string, log *slog.Logger) *Runner {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Runner{binary: binary, log: log.With(slog.String("component", "ffmpeg"))}
}

// ConcatArgs builds arguments for stream-copy concatenation of a concat-demuxer manifest.
func ConcatArgs(manifestPath, outputPath string) []string {
	return []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c", "copy",
		outputPath,
	}
}

// BroadcastArgs builds arguments for a realtime re-encode of inputPath published to endpoint.
func BroadcastArgs(inputPath, endpoint string) []string {
	return []string{
		"-re",
		"-i", inputPath,
		"-c:v", VideoCodec,
		"-preset", VideoPreset,
		"-b:v", VideoBitrate,
		"-maxrate", VideoBitrate,
		"-bufsize", VideoBufSize,
		"-pix_fmt", PixelFormat,
		"-g", GOPSize,
		"-c:a", AudioCodec,
		"-b:a", AudioBitrate,
		"-ar", AudioRate,
		"-f", OutputFormat,
		endpoint,
	}
}

// ExitError reports a non-zero exit together with the last stderr lines.
type ExitError struct {
	Code   int
	Stderr []string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("ffmpeg exited with code %d", e.Code)
	if len(e.Stderr) > 0 {
		msg += ": " + e.Stderr[len(e.Stderr)-1]
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Concat merges the segments listed in manifestPath into outputPath without re-encoding.
// It blocks until ffmpeg exits; cancelling ctx kills the process.
func (r *Runner) Concat(ctx context.Context, manifestPath, outputPath string) error {
	args := ConcatArgs(manifestPath, outputPath)
	cmd := exec.CommandContext(ctx, r.binary, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	log := r.log.With(slog.String("mode", "concat"))
	log.Debug("starting ffmpeg", slog.String("args", strings.Join(args, " ")))

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	tail := newTail(stderrTailLines)
	done := make(chan struct{})
	go func() {
		defer close(done)
		forward(stderr, log, tail)
	}()
	<-done

	if err := cmd.Wait(); err != nil {
		return exitError(err, tail.lines())
	}
	return nil
}

// Broadcast launches the long-running publish process. The process is bound to ctx:
// cancelling ctx interrupts it the same way Stop does.
func (r *Runner) Broadcast(ctx context.Context, inputPath, endpoint string) (Process, error) {
	cmd := exec.CommandContext(ctx, r.binary, BroadcastArgs(inputPath, endpoint)...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 10 * time.Second

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	log := r.log.With(
		slog.String("mode", "broadcast"),
		slog.String("input", inputPath),
		slog.String("endpoint", RedactEndpoint(endpoint)))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	log.Info("broadcast process started", slog.Int("pid", cmd.Process.Pid))

	// ffmpeg echoes the output URL in its errors; the key must not reach logs or ExitError.
	p := &process{cmd: cmd, done: make(chan struct{}), tail: newTail(stderrTailLines, endpoint)}
	go func() {
		forward(stderr, log, p.tail)
		err := cmd.Wait()
		if err != nil {
			err = exitError(err, p.tail.lines())
		}
		p.err = err
		close(p.done)
	}()
	return p, nil
}

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
	tail *tail

	stopOnce sync.Once
}

func (p *process) Wait() error {
	<-p.done
	return p.err
}

func (p *process) Stop(grace time.Duration) error {
	var stopErr error
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		if err := p.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			stopErr = fmt.Errorf("interrupt ffmpeg: %w", err)
		}

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				stopErr = fmt.Errorf("kill ffmpeg: %w", err)
			}
			<-p.done
		}
	})
	return stopErr
}

func exitError(err error, stderr []string) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Code: ee.ExitCode(), Stderr: stderr, Err: err}
	}
	return err
}

// forward copies ffmpeg's stderr into the debug log, keeping a short tail for errors.
func forward(r io.Reader, log *slog.Logger, t *tail) {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		log.Debug("ffmpeg", slog.String("line", t.add(line)))
	}
}

// scanLines splits on \n and on the bare \r ffmpeg uses for progress updates.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// RedactEndpoint replaces the last path segment of a publish URL, which carries the
// stream key, with a marker.
func RedactEndpoint(endpoint string) string {
	i := strings.LastIndex(endpoint, "/")
	if i < 0 || i == len(endpoint)-1 {
		return redactedMarker
	}
	return endpoint[:i+1] + redactedMarker
}

// tail keeps the last max stderr lines with every endpoint rewritten by RedactEndpoint.
type tail struct {
	mu     sync.Mutex
	max    int
	buf    []string
	redact *strings.Replacer
}

func newTail(max int, endpoints ...string) *tail {
	t := &tail{max: max}
	var pairs []string
	for _, e := range endpoints {
		if e == "" {
			continue
		}
		pairs = append(pairs, e, RedactEndpoint(e))
		if i := strings.LastIndex(e, "/"); i >= 0 && i < len(e)-1 {
			pairs = append(pairs, e[i+1:], redactedMarker)
		}
	}
	if len(pairs) > 0 {
		t.redact = strings.NewReplacer(pairs...)
	}
	return t
}

// add stores line and returns it as stored.
func (t *tail) add(line string) string {
	if t.redact != nil {
		line = t.redact.Replace(line)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return line
}

func (t *tail) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.buf))
	copy(out, t.buf)
	return out
}
