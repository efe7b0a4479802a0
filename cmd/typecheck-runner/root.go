package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/spboyer/typecheck-runner/internal/checker"
	"github.com/spboyer/typecheck-runner/internal/command"
	"github.com/spboyer/typecheck-runner/internal/logging"
	"github.com/spboyer/typecheck-runner/internal/projectconfig"
	"github.com/spboyer/typecheck-runner/internal/python"
	"github.com/spboyer/typecheck-runner/internal/reporting"
	"github.com/spboyer/typecheck-runner/internal/runner"
)

var version = "dev"

var errNoCheckers = errors.New("no checkers given; pass at least one --check")

// newExecutor builds the process executor; tests replace it.
var newExecutor = func(cmd *cobra.Command) runner.Executor {
	return &runner.ProcessExecutor{
		Stdin:  cmd.InOrStdin(),
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
	}
}

// now is the report timestamp source; tests replace it.
var now = time.Now

type rootOptions struct {
	checkers           []string
	pythonExecutable   string
	pythonVersion      string
	noPythonExecutable bool
	noPythonVersion    bool
	venv               string
	inferVenv          bool
	constraints        []string
	verbosity          int
	stdout             bool
	allowErrors        bool
	failFast           bool
	dryRun             bool
	noUvx              bool
	uvxOptions         string
	uvxDelimiter       string
	configPath         string
	noConfig           bool
	output             string
	junit              string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "typecheck-runner [flags] -c CHECKER [-c CHECKER...] [-- args...]",
		Short: "Run python type checkers against a chosen environment",
		Long: `typecheck-runner runs python type checkers (mypy, pyright, basedpyright, ty,
pyrefly, pylint) with a common set of options, translating the python
executable and python version into each checker's own flags.

Checkers are run through uvx by default, so they need not be installed in the
environment being checked:

  typecheck-runner --infer-venv -c mypy -c "pyright==1.1.400" src

Options after the uvx delimiter (default "--") inside a --check value go to
uvx. For example --check "mypy --verbose -- --reinstall" runs
"uvx --reinstall mypy --verbose".

Defaults may be kept in a .typecheck-runner.yaml file in the project.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, opts, args)
		},
	}
	cmd.SetVersionTemplate("typecheck-runner {{.Version}}\n")

	f := cmd.Flags()
	f.SetNormalizeFunc(normalizeFlagName)
	f.StringArrayVarP(&opts.checkers, "check", "c", nil,
		`Checker to run, with optional arguments, e.g. "mypy --verbose". Can be repeated`)
	f.StringVar(&opts.pythonExecutable, "python-executable", "",
		"Path to python executable (default: python3/python on PATH). Passed as --python-executable (mypy), --pythonpath ((based)pyright), --python (ty), --python-interpreter-path (pyrefly); ignored for pylint")
	f.StringVar(&opts.pythonVersion, "python-version", "",
		"Python version (x.y) to type check against (default: queried from the python executable)")
	f.BoolVar(&opts.noPythonExecutable, "no-python-executable", false, "Do not infer python executable")
	f.BoolVar(&opts.noPythonVersion, "no-python-version", false, "Do not infer python version")
	f.StringVar(&opts.venv, "venv", "", "Use the specified virtual environment location")
	f.BoolVar(&opts.inferVenv, "infer-venv", false,
		"Infer virtual environment location from VIRTUAL_ENV, CONDA_PREFIX, then ./.venv")
	f.StringArrayVar(&opts.constraints, "constraints", nil,
		"Constraints (requirements.txt) file passed to uvx --constraints. Can be repeated")
	f.CountVarP(&opts.verbosity, "verbose", "v", "Set verbosity level. Pass multiple times to raise it")
	f.BoolVar(&opts.stdout, "stdout", false, "Write log output to stdout instead of stderr")
	f.BoolVar(&opts.allowErrors, "allow-errors", false, "Exit 0 regardless of checker status")
	f.BoolVar(&opts.failFast, "fail-fast", false, "Stop after the first failing checker")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Print the commands without running them")
	f.BoolVar(&opts.noUvx, "no-uvx", false, "Run checkers from PATH instead of through uvx")
	f.StringVar(&opts.uvxOptions, "uvx-options", "",
		`Extra options for uvx, e.g. "--verbose --reinstall"`)
	f.StringVar(&opts.uvxDelimiter, "uvx-delimiter", projectconfig.DefaultUvxDelimiter,
		"Delimiter between checker arguments and uvx arguments inside --check")
	f.StringVar(&opts.configPath, "config", "", "Project config file (default: search for "+projectconfig.FileName+")")
	f.BoolVar(&opts.noConfig, "no-config", false, "Ignore project config files")
	f.StringVarP(&opts.output, "output", "o", "", "Write results as JSON to this file")
	f.StringVar(&opts.junit, "junit", "", "Write results as JUnit XML to this file")
	cmd.MarkFlagsMutuallyExclusive("config", "no-config")

	return cmd
}

// normalizeFlagName accepts --no-uv as a spelling of --no-uvx.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	if name == "no-uv" {
		name = "no-uvx"
	}
	return pflag.NormalizedName(name)
}

func runRoot(cmd *cobra.Command, opts *rootOptions, args []string) error {
	logOut := cmd.ErrOrStderr()
	if opts.stdout {
		logOut = cmd.OutOrStdout()
	}
	logger := logging.New(logOut, opts.verbosity)

	project, err := loadProjectConfig(opts)
	if err != nil {
		return err
	}
	if project.Path != "" {
		logger.Debug("Loaded project config", "path", project.Path)
	}

	checkers := opts.checkers
	if len(checkers) == 0 {
		checkers = project.Checkers
	}
	if len(checkers) == 0 {
		cmd.SetOut(cmd.ErrOrStderr())
		_ = cmd.Help()
		return errNoCheckers
	}

	cfg, err := buildRunConfig(cmd, opts, project, args)
	if err != nil {
		return err
	}

	resolved, err := python.Resolve(cmd.Context(), logger, python.Options{
		Executable:   cfg.PythonExecutable,
		Version:      cfg.PythonVersion,
		Venv:         cfg.Venv,
		InferVenv:    inferVenv(cmd, opts, project),
		NoExecutable: opts.noPythonExecutable,
		NoVersion:    opts.noPythonVersion,
	})
	if err != nil {
		return err
	}
	cfg.PythonExecutable = resolved.Executable
	cfg.PythonVersion = resolved.Version

	logger.Info("python_executable " + cfg.PythonExecutable)
	logger.Info("python_version " + cfg.PythonVersion)
	logger.Debug("checkers", "checkers", checkers)
	logger.Debug("args", "args", cfg.Args)

	delimiter := opts.uvxDelimiter
	if !cmd.Flags().Changed("uvx-delimiter") {
		delimiter = project.UvxDelimiter
	}
	invocations, err := buildInvocations(logger, checkers, cfg, delimiter)
	if err != nil {
		return err
	}

	r := runner.New(logger, runner.Options{
		FailFast:    cfg.FailFast,
		AllowErrors: cfg.AllowErrors,
		DryRun:      cfg.DryRun,
	})
	r.Executor = newExecutor(cmd)

	started := now()
	summary, runErr := r.Run(cmd.Context(), invocations)

	if err := writeReports(opts, summary, started); err != nil {
		return err
	}
	if opts.verbosity > 0 && len(summary.Results) > 1 {
		if err := reporting.WriteSummary(logOut, summary, isTerminal(logOut)); err != nil {
			return err
		}
	}

	if runErr != nil {
		return runErr
	}
	if summary.ExitCode != 0 {
		return &CheckerFailureError{
			Code:   summary.ExitCode,
			Failed: len(summary.Failed()),
			Total:  len(invocations),
		}
	}
	return nil
}

func loadProjectConfig(opts *rootOptions) (*projectconfig.ProjectConfig, error) {
	switch {
	case opts.noConfig:
		return projectconfig.New(), nil
	case opts.configPath != "":
		return projectconfig.LoadFile(opts.configPath)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	return projectconfig.Load(wd)
}

// buildRunConfig merges command-line flags over the project config. Flags
// always win; list flags replace the config's list rather than extending it,
// and --python-executable shadows the config's venv.
func buildRunConfig(cmd *cobra.Command, opts *rootOptions, project *projectconfig.ProjectConfig, args []string) (command.RunConfig, error) {
	cfg := command.RunConfig{
		PythonExecutable: opts.pythonExecutable,
		PythonVersion:    firstNonEmpty(opts.pythonVersion, project.PythonVersion),
		Venv:             opts.venv,
		UseUvx:           !(opts.noUvx || *project.NoUvx),
		Constraints:      project.Constraints,
		FailFast:         opts.failFast || *project.FailFast,
		AllowErrors:      opts.allowErrors || *project.AllowErrors,
		DryRun:           opts.dryRun,
		Args:             project.Args,
	}
	if cfg.Venv == "" && !cmd.Flags().Changed("python-executable") {
		cfg.Venv = project.Venv
	}
	if len(opts.constraints) > 0 {
		cfg.Constraints = opts.constraints
	}
	if len(args) > 0 {
		cfg.Args = args
	}

	cfg.UvxOptions = project.UvxOptions
	if cmd.Flags().Changed("uvx-options") {
		uvxOptions, err := command.SplitOptions(opts.uvxOptions)
		if err != nil {
			return command.RunConfig{}, fmt.Errorf("--uvx-options: %w", err)
		}
		cfg.UvxOptions = uvxOptions
	}
	return cfg, nil
}

// inferVenv reports whether the venv should be inferred. A config file's
// infer_venv does not apply when --python-executable is given.
func inferVenv(cmd *cobra.Command, opts *rootOptions, project *projectconfig.ProjectConfig) bool {
	if opts.inferVenv {
		return true
	}
	return *project.InferVenv && !cmd.Flags().Changed("python-executable")
}

// buildInvocations parses every --check value before anything runs, so an
// unknown checker fails the whole command up front.
func buildInvocations(logger *slog.Logger, checkers []string, cfg command.RunConfig, delimiter string) ([]runner.Invocation, error) {
	invocations := make([]runner.Invocation, 0, len(checkers))
	for _, raw := range checkers {
		spec, err := command.Parse(raw, command.ParseOptions{
			UseUvx:    cfg.UseUvx,
			Delimiter: delimiter,
		})
		if err != nil {
			var unknown *checker.UnknownCheckerError
			if errors.As(err, &unknown) {
				return nil, fmt.Errorf("--check %q: %w", raw, err)
			}
			return nil, err
		}
		logger.Info("Checker: " + spec.Checker.String())
		invocations = append(invocations, runner.Invocation{
			Checker: spec.Checker.String(),
			Argv:    command.Build(spec, cfg),
		})
	}
	return invocations, nil
}

func writeReports(opts *rootOptions, summary *runner.Summary, started time.Time) error {
	if opts.output != "" {
		if err := reporting.WriteJSON(summary, started, opts.output); err != nil {
			return fmt.Errorf("writing %s: %w", opts.output, err)
		}
	}
	if opts.junit != "" {
		if err := reporting.WriteJUnitXML(summary, started, opts.junit); err != nil {
			return fmt.Errorf("writing %s: %w", opts.junit, err)
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
