// Package projectconfig provides the ProjectConfig struct and loader for
// .typecheck-runner.yaml project-level configuration files.
package projectconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/spboyer/typecheck-runner/internal/validation"
)

// FileName is the project configuration file searched for by Load.
const FileName = ".typecheck-runner.yaml"

// Default values for project configuration. New() references them and no
// other code should duplicate them.
const (
	DefaultUvxDelimiter = "--"

	maxSearchDepth = 10
)

// ProjectConfig is the top-level configuration loaded from
// .typecheck-runner.yaml. Command-line flags override every field.
type ProjectConfig struct {
	Checkers      []string `yaml:"checkers,omitempty"`
	PythonVersion string   `yaml:"python_version,omitempty"`
	Venv          string   `yaml:"venv,omitempty"`
	InferVenv     *bool    `yaml:"infer_venv,omitempty"`
	Constraints   []string `yaml:"constraints,omitempty"`
	UvxOptions    []string `yaml:"uvx_options,omitempty"`
	UvxDelimiter  string   `yaml:"uvx_delimiter,omitempty"`
	NoUvx         *bool    `yaml:"no_uvx,omitempty"`
	FailFast      *bool    `yaml:"fail_fast,omitempty"`
	AllowErrors   *bool    `yaml:"allow_errors,omitempty"`
	Args          []string `yaml:"args,omitempty"`

	// Path is the file this config was read from, or "" for defaults.
	Path string `yaml:"-"`
}

// SchemaError reports a config file that does not match the schema.
type SchemaError struct {
	Path   string
	Issues []string
}

func (e *SchemaError) Error() string {
	msg := fmt.Sprintf("%s does not match the configuration schema:", e.Path)
	for _, issue := range e.Issues {
		msg += "\n  " + issue
	}
	return msg
}

// New returns a ProjectConfig with all hard-coded defaults populated.
func New() *ProjectConfig {
	return &ProjectConfig{
		InferVenv:    boolPtr(false),
		UvxDelimiter: DefaultUvxDelimiter,
		NoUvx:        boolPtr(false),
		FailFast:     boolPtr(false),
		AllowErrors:  boolPtr(false),
	}
}

// Load finds .typecheck-runner.yaml by walking up from startDir (max 10
// levels) and merges it over the defaults. If no config file is found,
// returns defaults with a nil error. Real I/O errors (e.g. permission
// denied) are returned to the caller.
func Load(startDir string) (*ProjectConfig, error) {
	path, data, err := findConfigFile(startDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("loading %s: %w", FileName, err)
	}
	return parse(path, data)
}

// LoadFile reads the config at path. Unlike Load, a missing file is an
// error.
func LoadFile(path string) (*ProjectConfig, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return parse(abs, data)
}

func parse(path string, data []byte) (*ProjectConfig, error) {
	if issues := validation.ValidateConfigBytes(data); len(issues) > 0 {
		return nil, &SchemaError{Path: path, Issues: issues}
	}

	var fileCfg ProjectConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Paths in the file are relative to the file, not the working directory.
	baseDir := filepath.Dir(path)
	fileCfg.Constraints = resolvePaths(fileCfg.Constraints, baseDir)
	if fileCfg.Venv != "" {
		fileCfg.Venv = resolvePaths([]string{fileCfg.Venv}, baseDir)[0]
	}

	cfg := New()
	mergeConfig(cfg, &fileCfg)
	cfg.Path = path
	return cfg, nil
}

// findConfigFile walks up from dir looking for FileName. Returns
// os.ErrNotExist if no config file is found.
func findConfigFile(dir string) (string, []byte, error) {
	// Convert to absolute path so filepath.Dir(".") walks correctly.
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", nil, fmt.Errorf("resolving path %q: %w", dir, err)
	}
	dir = absDir

	for i := 0; i < maxSearchDepth; i++ {
		p := filepath.Join(dir, FileName)
		data, err := os.ReadFile(p)
		if err == nil {
			return p, data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", nil, fmt.Errorf("reading %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached filesystem root
		}
		dir = parent
	}
	return "", nil, os.ErrNotExist
}

// mergeConfig overlays non-zero values from src onto dst.
func mergeConfig(dst, src *ProjectConfig) {
	if len(src.Checkers) > 0 {
		dst.Checkers = src.Checkers
	}
	if src.PythonVersion != "" {
		dst.PythonVersion = src.PythonVersion
	}
	if src.Venv != "" {
		dst.Venv = src.Venv
	}
	if src.InferVenv != nil {
		dst.InferVenv = src.InferVenv
	}
	if len(src.Constraints) > 0 {
		dst.Constraints = src.Constraints
	}
	if len(src.UvxOptions) > 0 {
		dst.UvxOptions = src.UvxOptions
	}
	if src.UvxDelimiter != "" {
		dst.UvxDelimiter = src.UvxDelimiter
	}
	if src.NoUvx != nil {
		dst.NoUvx = src.NoUvx
	}
	if src.FailFast != nil {
		dst.FailFast = src.FailFast
	}
	if src.AllowErrors != nil {
		dst.AllowErrors = src.AllowErrors
	}
	if len(src.Args) > 0 {
		dst.Args = src.Args
	}
}

// resolvePaths resolves paths relative to baseDir. Absolute paths are
// returned unchanged.
func resolvePaths(paths []string, baseDir string) []string {
	if len(paths) == 0 {
		return nil
	}

	resolved := make([]string, 0, len(paths))
	for _, path := range paths {
		if filepath.IsAbs(path) {
			resolved = append(resolved, path)
		} else {
			resolved = append(resolved, filepath.Join(baseDir, path))
		}
	}
	return resolved
}

func boolPtr(b bool) *bool {
	return &b
}
