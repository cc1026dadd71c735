package mediatool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Config holds the binaries and defaults used by FFmpeg.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	LogLevel    string
	// RecordGrace is added to the requested duration before a recording is killed.
	RecordGrace time.Duration
}

// DefaultConfig returns the binaries expected on PATH.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		LogLevel:    "error",
		RecordGrace: 30 * time.Second,
	}
}

// CommandResult captures one finished process.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts process execution so that argument construction can be tested.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner runs commands with os/exec. A cancelled context sends SIGTERM to the
// process group first so ffmpeg can finalize its output, then kills it after 5 seconds.
type ExecRunner struct{}

// Run executes one command and captures stdout, stderr and the exit code.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// FFmpeg implements Gateway on top of the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	config Config
	runner Runner
}

// NewFFmpeg creates a gateway that shells out to the configured binaries.
func NewFFmpeg(cfg Config) *FFmpeg {
	return NewFFmpegWithRunner(cfg, ExecRunner{})
}

// NewFFmpegWithRunner creates a gateway with an injected process runner.
func NewFFmpegWithRunner(cfg Config, runner Runner) *FFmpeg {
	def := DefaultConfig()
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = def.FFprobePath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.RecordGrace <= 0 {
		cfg.RecordGrace = def.RecordGrace
	}
	return &FFmpeg{config: cfg, runner: runner}
}

// Record captures an RTSP stream over TCP with stream copy for up to duration.
func (f *FFmpeg) Record(ctx context.Context, sourceURL string, duration, timeout time.Duration, output string) error {
	ctx, cancel := context.WithTimeout(ctx, duration+timeout+f.config.RecordGrace)
	defer cancel()

	return f.produce(ctx, output, func(tmp string) []string {
		return []string{
			"-loglevel", f.config.LogLevel,
			"-y",
			"-rtsp_transport", "tcp",
			"-timeout", strconv.FormatInt(timeout.Microseconds(), 10),
			"-i", sourceURL,
			"-vcodec", "copy",
			"-acodec", "copy",
			"-t", seconds(duration.Seconds()),
			tmp,
		}
	})
}

// Cut extracts [start, end) seconds from input into output.
func (f *FFmpeg) Cut(ctx context.Context, input string, start, end float64, output string, codec CodecParams) error {
	if end <= start {
		return &ToolError{Tool: f.config.FFmpegPath, ExitCode: -1, Err: fmt.Errorf("empty cut range [%s, %s]", seconds(start), seconds(end))}
	}
	return f.produce(ctx, output, func(tmp string) []string {
		args := []string{
			"-loglevel", f.config.LogLevel,
			"-y",
			"-ss", seconds(start),
			"-i", input,
			"-t", seconds(end - start),
		}
		args = append(args, codecArgs(codec)...)
		return append(args, "-avoid_negative_ts", "make_zero", tmp)
	})
}

// Concat joins inputs with the concat demuxer and stream copy. The manifest is written
// next to the output and removed afterwards.
func (f *FFmpeg) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return &ToolError{Tool: f.config.FFmpegPath, ExitCode: -1, Err: errors.New("nothing to concatenate")}
	}

	manifest := filepath.Join(filepath.Dir(output), "."+filepath.Base(output)+".concat.txt")
	if err := WriteManifest(manifest, inputs); err != nil {
		return err
	}
	defer os.Remove(manifest)

	return f.produce(ctx, output, func(tmp string) []string {
		return []string{
			"-loglevel", f.config.LogLevel,
			"-y",
			"-f", "concat",
			"-safe", "0",
			"-i", manifest,
			"-c", "copy",
			tmp,
		}
	})
}

// Compress re-encodes input with libx264 at the requested bitrate and frame rate, without audio.
func (f *FFmpeg) Compress(ctx context.Context, input, output string, bitrateKbps, fps int) error {
	return f.produce(ctx, output, func(tmp string) []string {
		args := []string{
			"-loglevel", f.config.LogLevel,
			"-y",
			"-i", input,
		}
		args = append(args, codecArgs(CodecParams{Codec: "libx264", Preset: "ultrafast", BitrateKbps: bitrateKbps, FPS: fps})...)
		return append(args, tmp)
	})
}

// ProbeDuration returns the duration of a media file in seconds using ffprobe.
func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("video file does not exist: %s", path)
	}

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	res, err := f.runner.Run(ctx, f.config.FFprobePath, args...)
	if err != nil {
		return 0, &ToolError{Tool: f.config.FFprobePath, Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}

	durationStr := strings.TrimSpace(res.Stdout)
	var duration float64
	if _, err := fmt.Sscanf(durationStr, "%f", &duration); err != nil {
		return 0, fmt.Errorf("failed to parse duration '%s': %v", durationStr, err)
	}
	return duration, nil
}

// produce runs ffmpeg against a hidden temporary name and renames it onto output on success,
// so a failed call never leaves a partial file at output.
func (f *FFmpeg) produce(ctx context.Context, output string, build func(tmp string) []string) error {
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp := TempPath(output)
	args := build(tmp)

	res, err := f.runner.Run(ctx, f.config.FFmpegPath, args...)
	if err != nil {
		os.Remove(tmp)
		return &ToolError{Tool: f.config.FFmpegPath, Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}

	info, err := os.Stat(tmp)
	if err != nil || info.Size() == 0 {
		os.Remove(tmp)
		return &ToolError{Tool: f.config.FFmpegPath, Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: fmt.Errorf("no output written to %s", output)}
	}
	if err := os.Rename(tmp, output); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", output, err)
	}
	log.Printf("[mediatool] wrote %s (%.2f MB)", filepath.Base(output), float64(info.Size())/1024/1024)
	return nil
}

// TempPath returns the hidden in-progress name used for output.
func TempPath(output string) string {
	return filepath.Join(filepath.Dir(output), ".part-"+filepath.Base(output))
}

// WriteManifest writes a concat demuxer list with absolute paths.
func WriteManifest(path string, inputs []string) error {
	var b strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return fmt.Errorf("failed to get absolute path for segment: %w", err)
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to create concat list file: %w", err)
	}
	return nil
}

func codecArgs(c CodecParams) []string {
	if c.Copy {
		return []string{"-c", "copy"}
	}
	codec := c.Codec
	if codec == "" {
		codec = "libx264"
	}
	args := []string{"-c:v", codec}
	if c.Preset != "" {
		args = append(args, "-preset", c.Preset)
	}
	if c.BitrateKbps > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%dk", c.BitrateKbps))
	}
	if c.FPS > 0 {
		args = append(args, "-r", strconv.Itoa(c.FPS))
	}
	if c.Audio {
		args = append(args, "-c:a", "aac")
	} else {
		args = append(args, "-an")
	}
	return args
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
