// Package python locates the interpreter and language version that type
// checkers should analyze against.
package python

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/spboyer/typecheck-runner/internal/command"
)

// ErrVenvNotInferable is returned when no virtual environment can be found.
var ErrVenvNotInferable = errors.New("could not infer virtual environment")

// VenvEnvVars are consulted in order by InferVenv.
var VenvEnvVars = []string{"VIRTUAL_ENV", "CONDA_PREFIX"}

// VenvDirs are directories, relative to the working directory, consulted by
// InferVenv after the environment variables.
var VenvDirs = []string{".venv"}

// DefaultInterpreters are searched on PATH when no interpreter is given.
var DefaultInterpreters = []string{"python3", "python"}

var versionPattern = regexp.MustCompile(`^\d+\.\d+$`)

const versionScript = "import sys; info = sys.version_info; print(f'{info.major}.{info.minor}')"

// Options selects the interpreter and version.
type Options struct {
	Executable   string
	Version      string
	Venv         string
	InferVenv    bool
	NoExecutable bool
	NoVersion    bool

	// WorkDir is where VenvDirs are looked up. Defaults to the process
	// working directory.
	WorkDir string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
	// LookPath defaults to exec.LookPath.
	LookPath func(string) (string, error)
	// QueryVersion asks an interpreter for its major.minor version.
	// Defaults to running the interpreter.
	QueryVersion func(ctx context.Context, executable string) (string, error)
}

// Resolved holds the interpreter path and version to pass to checkers. Empty
// fields mean the corresponding flag is omitted.
type Resolved struct {
	Executable string
	Version    string
}

// Resolve applies the precedence rules: an explicit --venv, then an inferred
// venv, then --python-executable, then the first interpreter on PATH. The
// version is taken from --python-version or queried from the interpreter.
func Resolve(ctx context.Context, logger *slog.Logger, opts Options) (Resolved, error) {
	opts = withDefaults(opts)

	if opts.Version != "" {
		if err := ValidateVersion(opts.Version); err != nil {
			return Resolved{}, err
		}
	}

	executable := opts.Executable
	venv := opts.Venv
	if venv != "" && opts.InferVenv {
		logger.Debug("Both --venv and --infer-venv given; using --venv", "venv", venv)
	}
	if venv == "" && opts.InferVenv {
		inferred, err := InferVenv(opts.WorkDir, opts.Getenv)
		if err != nil {
			return Resolved{}, err
		}
		logger.Debug("Inferred venv location", "venv", inferred)
		venv = inferred
	}
	if venv != "" {
		exe, err := ExecutableFromVenv(venv)
		if err != nil {
			return Resolved{}, err
		}
		if executable != "" && executable != exe {
			logger.Warn("Ignoring --python-executable in favor of venv interpreter", "python_executable", executable, "venv_python", exe)
		}
		logger.Debug("Inferred python-executable", "path", exe)
		executable = exe
	}

	// The PATH interpreter stands in for the caller's python: it is the
	// default executable and the source of the default version.
	probe, fromPath := executable, false
	if probe == "" {
		for _, name := range DefaultInterpreters {
			if p, err := opts.LookPath(name); err == nil {
				probe, fromPath = p, true
				break
			}
		}
	}
	if executable == "" && !opts.NoExecutable {
		if probe == "" {
			logger.Warn("No python interpreter found on PATH; omitting python-executable flags")
		}
		executable = probe
	}

	version := opts.Version
	if version == "" && !opts.NoVersion {
		if probe == "" {
			logger.Warn("No python interpreter to query; omitting python-version flags")
		} else {
			logger.Debug("Calculate python-version from executable", "path", probe)
			v, err := opts.QueryVersion(ctx, probe)
			switch {
			case err == nil:
				version = v
			case fromPath:
				logger.Warn("Could not query python version; omitting python-version flags", "path", probe, "error", err)
			default:
				return Resolved{}, fmt.Errorf("querying python version from %s: %w", probe, err)
			}
		}
	}

	return Resolved{Executable: executable, Version: version}, nil
}

// ValidateVersion checks that v has the form major.minor.
func ValidateVersion(v string) error {
	if !versionPattern.MatchString(v) {
		return fmt.Errorf("%w: python version %q is not of the form major.minor", command.ErrInvalidSyntax, v)
	}
	return nil
}

// InferVenv returns the first non-empty of VenvEnvVars, then the first of
// VenvDirs that exists under workDir, as an absolute path.
func InferVenv(workDir string, getenv func(string) string) (string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, name := range VenvEnvVars {
		if v := getenv(name); v != "" {
			return absolute(v, workDir), nil
		}
	}
	for _, d := range VenvDirs {
		p := filepath.Join(workDir, d)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return absolute(p, workDir), nil
		}
	}
	return "", ErrVenvNotInferable
}

// ExecutableFromVenv returns the interpreter inside a virtual environment,
// looking in bin/ (POSIX) and Scripts/ (Windows).
func ExecutableFromVenv(venv string) (string, error) {
	name := "python"
	if runtime.GOOS == "windows" {
		name = "python.exe"
	}
	for _, d := range []string{"bin", "Scripts"} {
		p := filepath.Join(venv, d, name)
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}
	return "", fmt.Errorf("%w: no python interpreter under %s", ErrVenvNotInferable, venv)
}

// QueryVersion runs executable and returns its major.minor version.
func QueryVersion(ctx context.Context, executable string) (string, error) {
	//nolint:gosec // the interpreter path is chosen by the user
	out, err := exec.CommandContext(ctx, executable, "-c", versionScript).Output()
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(string(out))
	if err := ValidateVersion(v); err != nil {
		return "", err
	}
	return v, nil
}

func withDefaults(opts Options) Options {
	if opts.WorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			opts.WorkDir = wd
		}
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	if opts.QueryVersion == nil {
		opts.QueryVersion = QueryVersion
	}
	return opts
}

func absolute(p, base string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
