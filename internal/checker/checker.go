// Package checker holds the fixed set of supported type checkers and the
// per-checker spelling of the python executable and python version flags.
package checker

import (
	"fmt"
	"strings"
)

// Checker identifies a supported type checker.
type Checker int

const (
	Mypy Checker = iota + 1
	Pyright
	Basedpyright
	Ty
	Pyrefly
	Pylint
)

// UnknownCheckerError is returned when a checker name is not one of the
// supported checkers.
type UnknownCheckerError struct {
	Name string
}

func (e *UnknownCheckerError) Error() string {
	return fmt.Sprintf("unknown checker %q (supported: %s)", e.Name, strings.Join(Names(), ", "))
}

// flagSpec describes how a checker spells the python flags. An empty flag
// name means the checker does not take that option. subcommand is prepended
// to the checker arguments when missing.
type flagSpec struct {
	name           string
	executableFlag string
	versionFlag    string
	subcommand     string
}

var table = map[Checker]flagSpec{
	Mypy:         {name: "mypy", executableFlag: "python-executable", versionFlag: "python-version"},
	Pyright:      {name: "pyright", executableFlag: "pythonpath", versionFlag: "pythonversion"},
	Basedpyright: {name: "basedpyright", executableFlag: "pythonpath", versionFlag: "pythonversion"},
	Ty:           {name: "ty", executableFlag: "python", versionFlag: "python-version", subcommand: "check"},
	Pyrefly:      {name: "pyrefly", executableFlag: "python-interpreter-path", versionFlag: "python-version", subcommand: "check"},
	Pylint:       {name: "pylint", versionFlag: "py-version"},
}

// All returns every supported checker in declaration order.
func All() []Checker {
	return []Checker{Mypy, Pyright, Basedpyright, Ty, Pyrefly, Pylint}
}

// Names returns the names of all supported checkers.
func Names() []string {
	all := All()
	names := make([]string, 0, len(all))
	for _, c := range all {
		names = append(names, c.String())
	}
	return names
}

// Parse maps a checker name to a Checker. Names are compared after
// normalizing case and the '_' and '.' separators, so "BasedPyright" and
// "basedpyright" are the same checker.
func Parse(name string) (Checker, error) {
	normalized := Normalize(name)
	for _, c := range All() {
		if table[c].name == normalized {
			return c, nil
		}
	}
	return 0, &UnknownCheckerError{Name: name}
}

// Normalize lowercases a package name and folds '_' and '.' into '-'.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("_", "-", ".", "-").Replace(name)
}

func (c Checker) String() string {
	if spec, ok := table[c]; ok {
		return spec.name
	}
	return fmt.Sprintf("Checker(%d)", int(c))
}

// ExecutableFlag returns the flag name (without dashes) used to point the
// checker at a python interpreter. ok is false when the checker ignores it.
func (c Checker) ExecutableFlag() (flag string, ok bool) {
	flag = table[c].executableFlag
	return flag, flag != ""
}

// VersionFlag returns the flag name (without dashes) used to select the
// target python version.
func (c Checker) VersionFlag() (flag string, ok bool) {
	flag = table[c].versionFlag
	return flag, flag != ""
}

// Subcommand returns the subcommand the checker needs before its own
// arguments, or "" if it has none.
func (c Checker) Subcommand() string {
	return table[c].subcommand
}

// PythonFlags renders the python version and executable flags for c. Empty
// values are omitted, as are flags the checker does not accept.
func (c Checker) PythonFlags(pythonVersion, pythonExecutable string) []string {
	var out []string
	if flag, ok := c.VersionFlag(); ok && pythonVersion != "" {
		out = append(out, fmt.Sprintf("--%s=%s", flag, pythonVersion))
	}
	if flag, ok := c.ExecutableFlag(); ok && pythonExecutable != "" {
		out = append(out, fmt.Sprintf("--%s=%s", flag, pythonExecutable))
	}
	return out
}

// WithSubcommand returns args with the checker's subcommand prepended when
// args doesn't already contain it.
func (c Checker) WithSubcommand(args []string) []string {
	sub := c.Subcommand()
	if sub == "" {
		return args
	}
	for _, a := range args {
		if a == sub {
			return args
		}
	}
	return append([]string{sub}, args...)
}
