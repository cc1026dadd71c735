package mediatool

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrToolFailure matches every failed media tool invocation.
var ErrToolFailure = errors.New("media tool failure")

// CodecParams selects between a lossless stream copy and a re-encode.
type CodecParams struct {
	Copy        bool
	Codec       string
	Preset      string
	BitrateKbps int
	FPS         int
	Audio       bool
}

// StreamCopy is the default for cuts: no re-encode.
var StreamCopy = CodecParams{Copy: true}

// Gateway invokes the external media tool. Every call blocks until the tool exits and
// writes exactly one output file. The output path is only valid once the call returns nil.
type Gateway interface {
	// Record captures up to duration from a network source.
	Record(ctx context.Context, sourceURL string, duration, timeout time.Duration, output string) error
	// Cut extracts [start, end) seconds of input.
	Cut(ctx context.Context, input string, start, end float64, output string, codec CodecParams) error
	// Concat joins inputs in the given order.
	Concat(ctx context.Context, inputs []string, output string) error
	// Compress re-encodes input at the given bitrate and frame rate.
	Compress(ctx context.Context, input, output string, bitrateKbps, fps int) error
	// ProbeDuration returns the container duration in seconds.
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// ToolError describes a failed invocation of the external tool.
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

// Error formats the failure with the tool name and exit code. Stderr is kept for diagnostics.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s\nOutput: %s", msg, e.Stderr)
	}
	return msg
}

// Unwrap exposes the underlying process error.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is makes every ToolError match ErrToolFailure.
func (e *ToolError) Is(target error) bool {
	return target == ErrToolFailure
}
