package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
)

// Exit codes for different failure modes
const (
	ExitSuccess = 0 // All checkers passed
	ExitError   = 2 // Usage, configuration or runtime error
)

// CheckerFailureError indicates that every checker ran (or fail-fast
// stopped the run) and at least one exited non-zero. Code is the exit code
// to return to the caller.
type CheckerFailureError struct {
	Code   int
	Failed int
	Total  int
}

func (e *CheckerFailureError) Error() string {
	return fmt.Sprintf("%d of %d checker(s) failed (exit code %d)", e.Failed, e.Total, e.Code)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := newRootCommand()
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	fmt.Fprintln(os.Stderr, err)

	// Check error type to determine exit code
	var failure *CheckerFailureError
	if errors.As(err, &failure) {
		return failure.Code
	}

	// All other errors are usage/configuration/runtime errors
	return ExitError
}
