package mediatool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeRunner records invocations and writes the last argument as the output file.
type fakeRunner struct {
	calls    [][]string
	stdout   string
	err      error
	noOutput bool
	onRun    func(args []string)
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.onRun != nil {
		r.onRun(args)
	}
	if r.err != nil {
		return CommandResult{ExitCode: 1, Stderr: "boom"}, r.err
	}
	if !r.noOutput && len(args) > 0 && strings.HasSuffix(name, "ffmpeg") {
		if err := os.WriteFile(args[len(args)-1], []byte("media"), 0644); err != nil {
			return CommandResult{ExitCode: 1}, err
		}
	}
	return CommandResult{Stdout: r.stdout}, nil
}

func indexOf(args []string, v string) int {
	for i, a := range args {
		if a == v {
			return i
		}
	}
	return -1
}

func TestCutStreamCopy(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	gw := NewFFmpegWithRunner(Config{}, runner)

	out := filepath.Join(dir, "clip_1.mp4")
	if err := gw.Cut(context.Background(), "in.mp4", 30, 65, out, StreamCopy); err != nil {
		t.Fatalf("Cut failed: %v", err)
	}

	args := runner.calls[0]
	if args[0] != "ffmpeg" {
		t.Errorf("Expected ffmpeg, got %s", args[0])
	}
	if i := indexOf(args, "-ss"); i < 0 || args[i+1] != "30.000" {
		t.Errorf("Missing -ss 30.000 in %v", args)
	}
	if i := indexOf(args, "-t"); i < 0 || args[i+1] != "35.000" {
		t.Errorf("Missing -t 35.000 in %v", args)
	}
	if i := indexOf(args, "-c"); i < 0 || args[i+1] != "copy" {
		t.Errorf("Expected stream copy in %v", args)
	}
	if args[len(args)-1] != TempPath(out) {
		t.Errorf("Expected ffmpeg to write the temp path, got %s", args[len(args)-1])
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("Output not moved into place: %v", err)
	}
	if _, err := os.Stat(TempPath(out)); !os.IsNotExist(err) {
		t.Error("Temp file should be gone")
	}
}

func TestToolFailureLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "compressed.mp4")

	gw := NewFFmpegWithRunner(Config{}, &fakeRunner{err: errors.New("exit status 1")})
	err := gw.Compress(context.Background(), "in.mp4", out, 400, 24)
	if !errors.Is(err, ErrToolFailure) {
		t.Fatalf("Expected ErrToolFailure, got %v", err)
	}
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.ExitCode != 1 || toolErr.Stderr != "boom" {
		t.Errorf("Unexpected tool error: %#v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("Failed call must not create output")
	}

	gw = NewFFmpegWithRunner(Config{}, &fakeRunner{noOutput: true})
	if err := gw.Compress(context.Background(), "in.mp4", out, 400, 24); !errors.Is(err, ErrToolFailure) {
		t.Errorf("Missing output should be a tool failure, got %v", err)
	}
}

func TestCompressArgs(t *testing.T) {
	runner := &fakeRunner{}
	gw := NewFFmpegWithRunner(Config{}, runner)
	out := filepath.Join(t.TempDir(), "c.mp4")

	if err := gw.Compress(context.Background(), "in.mp4", out, 600, 24); err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	joined := strings.Join(runner.calls[0], " ")
	for _, want := range []string{"-c:v libx264", "-preset ultrafast", "-b:v 600k", "-r 24", "-an"} {
		if !strings.Contains(joined, want) {
			t.Errorf("Expected %q in %s", want, joined)
		}
	}
}

func TestConcatWritesManifest(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "merged.mp4")
	inputs := []string{filepath.Join(dir, "a_1.mp4"), filepath.Join(dir, "it's_2.mp4")}

	var manifest string
	runner := &fakeRunner{onRun: func(args []string) {
		i := indexOf(args, "-i")
		b, err := os.ReadFile(args[i+1])
		if err != nil {
			t.Errorf("Manifest not readable during run: %v", err)
			return
		}
		manifest = string(b)
	}}
	gw := NewFFmpegWithRunner(Config{}, runner)

	if err := gw.Concat(context.Background(), inputs, out); err != nil {
		t.Fatalf("Concat failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(manifest), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 manifest lines, got %q", manifest)
	}
	if lines[0] != "file '"+inputs[0]+"'" {
		t.Errorf("Unexpected first line: %s", lines[0])
	}
	if !strings.Contains(lines[1], `it'\''s_2.mp4`) {
		t.Errorf("Quote not escaped: %s", lines[1])
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".concat.txt") {
			t.Errorf("Manifest %s not removed", e.Name())
		}
	}
}

func TestRecordArgs(t *testing.T) {
	runner := &fakeRunner{}
	gw := NewFFmpegWithRunner(Config{}, runner)
	out := filepath.Join(t.TempDir(), "seg_1.mp4")

	if err := gw.Record(context.Background(), "rtsp://u:p@cam:554/H.264", 90*time.Second, 30*time.Second, out); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	args := runner.calls[0]
	if i := indexOf(args, "-rtsp_transport"); i < 0 || args[i+1] != "tcp" {
		t.Errorf("Expected tcp transport in %v", args)
	}
	if i := indexOf(args, "-timeout"); i < 0 || args[i+1] != "30000000" {
		t.Errorf("Expected microsecond timeout in %v", args)
	}
	if i := indexOf(args, "-t"); i < 0 || args[i+1] != "90.000" {
		t.Errorf("Expected -t 90.000 in %v", args)
	}
}

func TestProbeDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.mp4")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	gw := NewFFmpegWithRunner(Config{}, &fakeRunner{stdout: "95.040000\n"})
	d, err := gw.ProbeDuration(context.Background(), path)
	if err != nil {
		t.Fatalf("ProbeDuration failed: %v", err)
	}
	if d != 95.04 {
		t.Errorf("Expected 95.04, got %v", d)
	}

	gw = NewFFmpegWithRunner(Config{}, &fakeRunner{stdout: "N/A"})
	if _, err := gw.ProbeDuration(context.Background(), path); err == nil {
		t.Error("Expected parse error for N/A")
	}
	if _, err := gw.ProbeDuration(context.Background(), filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Error("Expected error for missing file")
	}
}
