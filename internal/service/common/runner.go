//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"tomex/internal/logger"
)

const (
	// outputTailLines is how many trailing transcript lines errors carry.
	outputTailLines = 50

	// initialOutputCapacity sizes the transcript buffer for typical commands.
	initialOutputCapacity = 64

	// initialScanBufferSize is the scanner's starting line buffer.
	initialScanBufferSize = 64 * 1024

	// maxScanLineSize bounds a single transcript line; package managers
	// emit lines well past bufio's default limit.
	maxScanLineSize = 1024 * 1024
)

// errCommandRequired is returned when a command has no executable path.
var errCommandRequired = errors.New("command path must be provided")

// Command describes one external invocation.
type Command struct {
	// Path is the executable to run (absolute path or name on PATH).
	Path string
	// Args are the command-line arguments.
	Args []string
	// Env holds additional environment variables layered over the
	// inherited environment.
	Env map[string]string
	// Dir is the working directory; empty means the current directory.
	Dir string
}

// Result carries the outcome of a finished command: exit status, the full
// combined stdout+stderr transcript, and a success flag.
type Result struct {
	// ExitCode is the process exit status (-1 when the process never ran).
	ExitCode int
	// Output is the combined stdout and stderr transcript.
	Output string
	// Success reports whether the command exited zero.
	Success bool
}

// Tail returns the last lines of the transcript for error diagnostics.
func (r Result) Tail() string {
	lines := strings.Split(strings.TrimRight(r.Output, "\n"), "\n")
	if len(lines) > outputTailLines {
		lines = lines[len(lines)-outputTailLines:]
	}

	return strings.Join(lines, "\n")
}

// Runner executes external commands. Services take the interface so tests
// can substitute a fake and assert on the command lines issued.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
	LookPath(file string) (string, error)
}

// ExecRunner runs commands with os/exec, streaming every output line into
// the run log as it is produced, script(1)-style, while also capturing the
// transcript for the Result.
type ExecRunner struct{}

// NewRunner returns the default exec-backed runner.
func NewRunner() *ExecRunner { return &ExecRunner{} }

// LookPath reports the resolved path of an executable on PATH.
func (*ExecRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Run executes the command, merging stderr into stdout so the log shows
// output in the order the process produced it. The returned error is nil
// whenever the process could be started and waited on; callers decide what
// a non-zero exit means via Result.Success.
func (*ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	result := Result{ExitCode: -1}

	if c.Path == "" {
		return result, errCommandRequired
	}

	logger.Infof(ctx, "$ %s", displayCommand(c))

	cmd := exec.CommandContext(ctx, c.Path, c.Args...) //nolint:gosec // Command lines are built from configuration, not remote input.
	cmd.Dir = c.Dir
	cmd.Env = mergedEnv(c.Env)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return result, fmt.Errorf("pipe stdout: %w", err)
	}

	// Merge stderr into the same pipe.
	cmd.Stderr = cmd.Stdout

	if err = cmd.Start(); err != nil {
		return result, fmt.Errorf("start %s: %w", c.Path, err)
	}

	collected := make([]string, 0, initialOutputCapacity)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, initialScanBufferSize), maxScanLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		collected = append(collected, line)
		logger.Info(ctx, line)
	}

	// The process must be reaped even when reading its output failed.
	scanErr := scanner.Err()
	waitErr := cmd.Wait()
	result.Output = strings.Join(collected, "\n")

	var exitErr *exec.ExitError

	switch {
	case waitErr == nil:
		result.ExitCode = 0
		result.Success = true
	case errors.As(waitErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return result, fmt.Errorf("wait for %s: %w", c.Path, waitErr)
	}

	if scanErr != nil {
		result.Success = false
		return result, fmt.Errorf("read output of %s: %w", c.Path, scanErr)
	}

	return result, nil
}

// StartDetached launches a command in the background without waiting for
// it. Used for backend daemons (e.g. `ollama serve`) that outlive the run.
func StartDetached(ctx context.Context, c Command) error {
	if c.Path == "" {
		return errCommandRequired
	}

	logger.Infof(ctx, "$ %s &", displayCommand(c))

	// No CommandContext here: killing the daemon when the installer's
	// context ends would defeat the point of starting it.
	cmd := exec.Command(c.Path, c.Args...) //nolint:gosec,noctx // Detached daemon must outlive the installer run.
	cmd.Dir = c.Dir
	cmd.Env = mergedEnv(c.Env)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.Path, err)
	}

	// Reap the child when it eventually exits so it never zombies.
	go func() {
		_ = cmd.Wait()
	}()

	return nil
}

// mergedEnv layers extra variables over the inherited environment.
func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	return env
}

// displayCommand renders a command line for logging.
func displayCommand(c Command) string {
	if len(c.Args) == 0 {
		return c.Path
	}

	return c.Path + " " + strings.Join(c.Args, " ")
}
