package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"vpe/mediatool"
)

// ErrAnalysisFailed is returned when a motion or face stage could not produce output.
var ErrAnalysisFailed = errors.New("analysis stage failed")

// Stage names used in logs and audit records.
const (
	StageMotion = "motion"
	StageFace   = "face"
)

// Analyzer runs an external classifier over input and writes its result to output.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, input, output string) error
}

// CommandAnalyzer runs a configured command line. The placeholders {input} and
// {output} in the arguments are replaced with the file paths.
type CommandAnalyzer struct {
	name   string
	binary string
	args   []string
	runner mediatool.Runner
}

// NewCommandAnalyzer parses commandLine into a binary and arguments.
// An empty command line yields nil.
func NewCommandAnalyzer(name, commandLine string, runner mediatool.Runner) *CommandAnalyzer {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil
	}
	if runner == nil {
		runner = mediatool.ExecRunner{}
	}
	return &CommandAnalyzer{name: name, binary: fields[0], args: fields[1:], runner: runner}
}

// Name returns the stage name.
func (a *CommandAnalyzer) Name() string {
	return a.name
}

// Analyze runs the command and checks that it produced output.
func (a *CommandAnalyzer) Analyze(ctx context.Context, input, output string) error {
	args := make([]string, len(a.args))
	for i, arg := range a.args {
		arg = strings.ReplaceAll(arg, "{input}", input)
		args[i] = strings.ReplaceAll(arg, "{output}", output)
	}

	res, err := a.runner.Run(ctx, a.binary, args...)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrAnalysisFailed, a.name, &mediatool.ToolError{
			Tool: a.binary, Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err,
		})
	}
	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: %s wrote no output to %s", ErrAnalysisFailed, a.name, filepath.Base(output))
	}
	log.Printf("[analysis] %s finished for %s", a.name, filepath.Base(input))
	return nil
}
