// Package command turns a --check value and the shared run configuration into
// the argument vector for one type checker, optionally run through uvx.
package command

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/spboyer/typecheck-runner/internal/checker"
)

// DefaultDelimiter separates checker arguments from uvx arguments inside a
// single --check value.
const DefaultDelimiter = "--"

// Uvx is the installer wrapper used to run checkers on demand.
const Uvx = "uvx"

// ErrInvalidSyntax is returned for malformed --check values and other
// unparsable arguments.
var ErrInvalidSyntax = errors.New("invalid argument syntax")

// requirementName matches the distribution name at the start of a PEP 508
// requirement; what follows must be extras, a version specifier, an "@"
// version, or a marker.
var requirementName = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*(?:$|[\[=<>!~@;(])`)

// RunConfig is the option set shared by every checker in a run.
type RunConfig struct {
	PythonExecutable string
	PythonVersion    string
	Venv             string

	UseUvx      bool
	UvxOptions  []string
	Constraints []string

	FailFast    bool
	AllowErrors bool
	DryRun      bool

	// Args are appended to every checker command.
	Args []string
}

// Spec is one parsed --check value.
type Spec struct {
	Checker checker.Checker
	// Command is the uvx requirement (e.g. "mypy==1.11") or, without uvx,
	// the executable to run.
	Command string
	// Args are passed to the checker.
	Args []string
	// UvxArgs are the tokens after the delimiter, passed to uvx. Always
	// empty when uvx is not used.
	UvxArgs []string
}

// ParseOptions controls how a --check value is interpreted.
type ParseOptions struct {
	UseUvx    bool
	Delimiter string
	// LookPath resolves bare executable names when UseUvx is false.
	// Defaults to exec.LookPath.
	LookPath func(file string) (string, error)
}

// Parse splits raw with shell quoting rules and builds a Spec. The checker
// name comes from the requirement name under uvx and from the executable
// base name otherwise; unknown names are rejected here.
func Parse(raw string, opts ParseOptions) (Spec, error) {
	words, err := shellquote.Split(raw)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: --check %q: %v", ErrInvalidSyntax, raw, err)
	}
	if len(words) == 0 {
		return Spec{}, fmt.Errorf("%w: empty --check value", ErrInvalidSyntax)
	}

	delimiter := opts.Delimiter
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	head, rest := words[0], words[1:]

	// Without uvx there is nothing to hand the delimiter's tail to, so every
	// token, the delimiter included, goes to the checker.
	args, uvxArgs := rest, []string(nil)
	var name, cmd string
	if opts.UseUvx {
		args, uvxArgs = splitAt(rest, delimiter)
		name, err = RequirementName(head)
		if err != nil {
			return Spec{}, err
		}
		cmd = head
	} else {
		cmd, err = resolveExecutable(head, opts.LookPath)
		if err != nil {
			return Spec{}, err
		}
		name = strings.TrimSuffix(filepath.Base(cmd), ".exe")
	}

	c, err := checker.Parse(name)
	if err != nil {
		return Spec{}, err
	}

	return Spec{
		Checker: c,
		Command: cmd,
		Args:    args,
		UvxArgs: uvxArgs,
	}, nil
}

// RequirementName returns the distribution name of a requirement string
// such as "mypy", "mypy==1.11", "mypy[faster-cache]>=1.0" or "ty@0.0.1".
func RequirementName(req string) (string, error) {
	m := requirementName.FindStringSubmatch(strings.TrimSpace(req))
	if m == nil {
		return "", fmt.Errorf("%w: invalid requirement %q", ErrInvalidSyntax, req)
	}
	return checker.Normalize(m[1]), nil
}

// Build renders the full argument vector for spec.
//
// With uvx:
//
//	uvx <uvx options> <--constraints=...> <uvx args> <requirement> [check] <args> <python flags> <shared args>
//
// Without uvx the uvx portion is dropped and the executable comes first.
func Build(spec Spec, cfg RunConfig) []string {
	var argv []string
	if cfg.UseUvx {
		argv = append(argv, Uvx)
		argv = append(argv, cfg.UvxOptions...)
		for _, c := range cfg.Constraints {
			argv = append(argv, "--constraints="+c)
		}
		argv = append(argv, spec.UvxArgs...)
	}
	argv = append(argv, spec.Command)
	argv = append(argv, spec.Checker.WithSubcommand(spec.Args)...)
	argv = append(argv, spec.Checker.PythonFlags(cfg.PythonVersion, cfg.PythonExecutable)...)
	argv = append(argv, cfg.Args...)
	return argv
}

// Join quotes argv for display so it can be pasted back into a shell.
func Join(argv []string) string {
	return shellquote.Join(argv...)
}

// SplitOptions splits a string of extra options (e.g. --uvx-options) using
// shell quoting rules.
func SplitOptions(s string) ([]string, error) {
	words, err := shellquote.Split(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSyntax, s, err)
	}
	return words, nil
}

func splitAt(words []string, delimiter string) (before, after []string) {
	for i, w := range words {
		if w == delimiter {
			return words[:i], words[i+1:]
		}
	}
	return words, nil
}

func resolveExecutable(path string, lookPath func(string) (string, error)) (string, error) {
	path, err := expandUser(path)
	if err != nil {
		return "", err
	}
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if resolved, err := lookPath(path); err == nil {
		return resolved, nil
	}
	return path, nil
}

func expandUser(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %q: %w", p, err)
	}
	if p == "~" {
		return home, nil
	}
	return filepath.Join(home, p[2:]), nil
}
