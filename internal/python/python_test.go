package python

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spboyer/typecheck-runner/internal/command"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// makeVenv creates a fake virtual environment with an interpreter file and
// returns its root and interpreter path.
func makeVenv(t *testing.T, dir string) (string, string) {
	t.Helper()
	name := "python"
	if runtime.GOOS == "windows" {
		name = "python.exe"
	}
	bin := filepath.Join(dir, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	exe := filepath.Join(bin, name)
	require.NoError(t, os.WriteFile(exe, nil, 0o755))
	return dir, exe
}

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func noPython(string) (string, error) { return "", errors.New("not found") }

func fixedVersion(v string) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) { return v, nil }
}

func TestInferVenv_Precedence(t *testing.T) {
	work := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(work, ".venv"), 0o755))

	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{
			name: "VIRTUAL_ENV wins",
			vars: map[string]string{"VIRTUAL_ENV": "/envs/virtual", "CONDA_PREFIX": "/envs/conda"},
			want: filepath.Clean("/envs/virtual"),
		},
		{
			name: "CONDA_PREFIX before .venv",
			vars: map[string]string{"CONDA_PREFIX": "/envs/conda"},
			want: filepath.Clean("/envs/conda"),
		},
		{
			name: ".venv fallback",
			vars: map[string]string{},
			want: filepath.Join(work, ".venv"),
		},
		{
			name: "relative env var is made absolute",
			vars: map[string]string{"VIRTUAL_ENV": "envs/local"},
			want: filepath.Join(work, "envs", "local"),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := InferVenv(work, env(tc.vars))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestInferVenv_NotFound(t *testing.T) {
	work := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(work, ".venv"), []byte("not a dir"), 0o644))

	_, err := InferVenv(work, env(nil))
	assert.ErrorIs(t, err, ErrVenvNotInferable)
}

func TestExecutableFromVenv(t *testing.T) {
	venv, exe := makeVenv(t, t.TempDir())

	got, err := ExecutableFromVenv(venv)
	require.NoError(t, err)
	assert.Equal(t, exe, got)

	_, err = ExecutableFromVenv(t.TempDir())
	assert.ErrorIs(t, err, ErrVenvNotInferable)
}

func TestResolve_Explicit(t *testing.T) {
	got, err := Resolve(context.Background(), discard, Options{
		Executable:   "/usr/bin/python3.11",
		Version:      "3.11",
		LookPath:     noPython,
		QueryVersion: fixedVersion("9.9"),
	})
	require.NoError(t, err)
	assert.Equal(t, Resolved{Executable: "/usr/bin/python3.11", Version: "3.11"}, got)
}

func TestResolve_QueriesVersionFromExecutable(t *testing.T) {
	var queried string
	got, err := Resolve(context.Background(), discard, Options{
		Executable: "/opt/python/bin/python",
		QueryVersion: func(_ context.Context, exe string) (string, error) {
			queried = exe
			return "3.13", nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "/opt/python/bin/python", queried)
	assert.Equal(t, "3.13", got.Version)
}

func TestResolve_QueryFailureIsFatalForExplicitExecutable(t *testing.T) {
	_, err := Resolve(context.Background(), discard, Options{
		Executable: "/missing/python",
		QueryVersion: func(context.Context, string) (string, error) {
			return "", errors.New("exec: no such file")
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/missing/python")
}

func TestResolve_PathDefault(t *testing.T) {
	lookPath := func(name string) (string, error) {
		if name == "python" {
			return "/usr/bin/python", nil
		}
		return "", errors.New("not found")
	}

	got, err := Resolve(context.Background(), discard, Options{LookPath: lookPath, QueryVersion: fixedVersion("3.10")})
	require.NoError(t, err)
	assert.Equal(t, Resolved{Executable: "/usr/bin/python", Version: "3.10"}, got)

	// A failing query against the PATH default degrades to no version flag.
	got, err = Resolve(context.Background(), discard, Options{
		LookPath: lookPath,
		QueryVersion: func(context.Context, string) (string, error) {
			return "", errors.New("boom")
		},
	})
	require.NoError(t, err)
	assert.Equal(t, Resolved{Executable: "/usr/bin/python"}, got)
}

func TestResolve_NoPythonAnywhere(t *testing.T) {
	got, err := Resolve(context.Background(), discard, Options{LookPath: noPython})
	require.NoError(t, err)
	assert.Equal(t, Resolved{}, got)
}

func TestResolve_NoFlags(t *testing.T) {
	lookPath := func(string) (string, error) { return "/usr/bin/python3", nil }

	got, err := Resolve(context.Background(), discard, Options{
		NoExecutable: true,
		LookPath:     lookPath,
		QueryVersion: fixedVersion("3.12"),
	})
	require.NoError(t, err)
	assert.Equal(t, Resolved{Version: "3.12"}, got, "version still comes from the PATH interpreter")

	got, err = Resolve(context.Background(), discard, Options{
		NoExecutable: true,
		NoVersion:    true,
		LookPath:     lookPath,
		QueryVersion: fixedVersion("3.12"),
	})
	require.NoError(t, err)
	assert.Equal(t, Resolved{}, got)
}

func TestResolve_Venv(t *testing.T) {
	venv, exe := makeVenv(t, t.TempDir())

	got, err := Resolve(context.Background(), discard, Options{
		Venv:         venv,
		Executable:   "/usr/bin/python3",
		QueryVersion: fixedVersion("3.9"),
	})
	require.NoError(t, err)
	assert.Equal(t, Resolved{Executable: exe, Version: "3.9"}, got)
}

func TestResolve_VenvBeatsInferVenv(t *testing.T) {
	explicit, exe := makeVenv(t, t.TempDir())
	inferred, _ := makeVenv(t, t.TempDir())

	got, err := Resolve(context.Background(), discard, Options{
		Venv:         explicit,
		InferVenv:    true,
		Getenv:       env(map[string]string{"VIRTUAL_ENV": inferred}),
		QueryVersion: fixedVersion("3.12"),
	})
	require.NoError(t, err)
	assert.Equal(t, exe, got.Executable)
}

func TestResolve_InferVenv(t *testing.T) {
	venv, exe := makeVenv(t, t.TempDir())

	got, err := Resolve(context.Background(), discard, Options{
		InferVenv:    true,
		WorkDir:      t.TempDir(),
		Getenv:       env(map[string]string{"CONDA_PREFIX": venv}),
		QueryVersion: fixedVersion("3.12"),
	})
	require.NoError(t, err)
	assert.Equal(t, exe, got.Executable)

	_, err = Resolve(context.Background(), discard, Options{
		InferVenv: true,
		WorkDir:   t.TempDir(),
		Getenv:    env(nil),
	})
	assert.ErrorIs(t, err, ErrVenvNotInferable)
}

func TestResolve_InvalidVersion(t *testing.T) {
	for _, v := range []string{"3", "3.12.1", "three.twelve", "3.12 "} {
		_, err := Resolve(context.Background(), discard, Options{Version: v, LookPath: noPython})
		assert.ErrorIs(t, err, command.ErrInvalidSyntax, v)
	}
}

func TestQueryVersion(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell script as the interpreter")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "python")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 3.14\n"), 0o755))

	got, err := QueryVersion(context.Background(), script)
	require.NoError(t, err)
	assert.Equal(t, "3.14", got)

	bad := filepath.Join(dir, "bad")
	require.NoError(t, os.WriteFile(bad, []byte("#!/bin/sh\necho Python 3.14.0\n"), 0o755))
	_, err = QueryVersion(context.Background(), bad)
	assert.ErrorIs(t, err, command.ErrInvalidSyntax)
}
