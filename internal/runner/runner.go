// Package runner executes checker commands one after another and folds their
// exit statuses into a single result.
package runner

//go:generate go tool mockgen -source=runner.go -destination=mock_executor_test.go -package=runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"
)

// Exit codes recorded for commands that did not run to completion.
const (
	// ExitFailure is used when a process could not be started for a reason
	// other than a missing executable, or was killed by a signal.
	ExitFailure = 1
	// ExitNotFound is used when the executable does not exist.
	ExitNotFound = 127
)

// ErrExecutableNotFound is recorded on a Result when the command's
// executable could not be found.
var ErrExecutableNotFound = errors.New("executable not found")

// Invocation is one command to run.
type Invocation struct {
	// Checker names the checker, for logs and reports.
	Checker string
	Argv    []string
}

// Result is the outcome of one Invocation.
type Result struct {
	Checker  string
	Command  []string
	ExitCode int
	Duration time.Duration
	DryRun   bool
	// Err is set when the process could not be started.
	Err error
}

// OK reports whether the command exited with status zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// State is where a run ended up.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	// StateDone means every invocation was attempted.
	StateDone State = "done"
	// StateStopped means fail-fast skipped at least one invocation, or the
	// context was canceled.
	StateStopped State = "stopped"
)

// Summary is the outcome of a whole run.
type Summary struct {
	Results  []Result
	State    State
	ExitCode int
}

// Failed returns the results with a non-zero exit code.
func (s *Summary) Failed() []Result {
	var failed []Result
	for _, r := range s.Results {
		if !r.OK() {
			failed = append(failed, r)
		}
	}
	return failed
}

// Executor starts a process and waits for it. A non-nil error means the
// process could not be started; a process that ran and failed returns its
// exit code with a nil error.
type Executor interface {
	Execute(ctx context.Context, argv []string) (exitCode int, err error)
}

// Options control how a run behaves.
type Options struct {
	FailFast    bool
	AllowErrors bool
	DryRun      bool
}

// Runner executes invocations sequentially.
type Runner struct {
	Options  Options
	Logger   *slog.Logger
	Executor Executor

	// now is swapped in tests.
	now func() time.Time
}

// New returns a Runner that executes processes with stdio attached to the
// current process.
func New(logger *slog.Logger, opts Options) *Runner {
	return &Runner{
		Options:  opts,
		Logger:   logger,
		Executor: &ProcessExecutor{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr},
	}
}

// Run executes each invocation in order. It returns an error only when ctx
// is done; command failures are reported in the Summary.
func (r *Runner) Run(ctx context.Context, invocations []Invocation) (*Summary, error) {
	summary := &Summary{State: StateIdle}
	for i, inv := range invocations {
		if err := ctx.Err(); err != nil {
			summary.State = StateStopped
			summary.ExitCode = r.aggregate(summary.Results)
			return summary, fmt.Errorf("running %s: %w", inv.Checker, err)
		}

		summary.State = StateRunning
		res := r.runOne(ctx, inv)
		summary.Results = append(summary.Results, res)

		remaining := len(invocations) - i - 1
		if r.Options.FailFast && !res.OK() && remaining > 0 {
			r.logger().Info("Fail fast: skipping remaining checkers", "skipped", remaining)
			summary.State = StateStopped
			summary.ExitCode = r.aggregate(summary.Results)
			return summary, nil
		}
	}
	summary.State = StateDone
	summary.ExitCode = r.aggregate(summary.Results)
	return summary, nil
}

func (r *Runner) runOne(ctx context.Context, inv Invocation) Result {
	log := r.logger().With("checker", inv.Checker)
	log.Info("Command: " + shellquote.Join(inv.Argv...))

	res := Result{Checker: inv.Checker, Command: inv.Argv}
	if r.Options.DryRun {
		res.DryRun = true
		return res
	}

	start := r.clock()
	code, err := r.Executor.Execute(ctx, inv.Argv)
	res.Duration = r.clock().Sub(start)
	log.Info("Execution time: " + res.Duration.String())

	if err != nil {
		res.Err = err
		res.ExitCode = ExitFailure
		if errors.Is(err, ErrExecutableNotFound) {
			res.ExitCode = ExitNotFound
		}
		log.Error("Failed to start", "error", err, "exit_code", res.ExitCode)
		return res
	}

	res.ExitCode = code
	if code != 0 {
		log.Error(fmt.Sprintf("Failed with exit code: %d", code))
	}
	return res
}

// aggregate returns 0 when every result succeeded or errors are allowed,
// otherwise the first non-zero exit code.
func (r *Runner) aggregate(results []Result) int {
	if r.Options.AllowErrors {
		return 0
	}
	for _, res := range results {
		if !res.OK() {
			return res.ExitCode
		}
	}
	return 0
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Logger
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// ProcessExecutor runs commands as child processes.
type ProcessExecutor struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Env, when non-nil, replaces the inherited environment.
	Env []string
}

// Execute implements Executor.
func (p *ProcessExecutor) Execute(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return ExitFailure, errors.New("empty command")
	}

	//nolint:gosec // commands are assembled from the user's own --check values
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = p.Stdin
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	cmd.Env = p.Env

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			// Killed by a signal.
			return ExitFailure, nil
		}
		return code, nil
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return ExitNotFound, fmt.Errorf("%w: %s", ErrExecutableNotFound, argv[0])
	}
	return ExitFailure, err
}
