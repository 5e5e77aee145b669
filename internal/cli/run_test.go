package cli_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/charmbracelet/fang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/fsradar/internal/cli"
	"github.com/macropower/fsradar/pkg/config"
	"github.com/macropower/fsradar/pkg/watch"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	cmd := cli.NewRootCmd()
	cmd.SetArgs(append([]string{"--log-format", "logfmt"}, args...))
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(t.Context())

	return stdout.String(), err
}

func TestShowConfigFromFlags(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	out, err := execute(t,
		"-b", dir,
		"-i", "*.go", "-i", "go.mod",
		"-e", "vendor/",
		"-k", "vendor/keep/",
		"-x", "go test ./...",
		"--timeout", "5",
		"--no-discard",
		"--backend", watch.BackendFsnotify,
		"--publish-gone",
		"--show-config",
	)
	require.NoError(t, err)

	cfg, err := config.NewLoaderFromBytes([]byte(out)).Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.BaseDirectory)
	assert.Equal(t, watch.BackendFsnotify, cfg.Backend)
	assert.True(t, cfg.PublishGone)
	require.Len(t, cfg.Groups, 1)

	g := cfg.Groups[0]
	assert.Equal(t, cli.DefaultGroupName, g.Name)
	assert.Equal(t, "go test ./...", g.Cmd)
	assert.Equal(t, config.Rules{"*.go", "go.mod", "!vendor/", "+vendor/keep/"}, g.Rules)

	opts := g.Options.Scheduler()
	assert.False(t, opts.CanDiscard)
	assert.False(t, opts.StopPreviousProcess)
	assert.Equal(t, "5s", opts.Timeout.String())
}

func TestShowConfigFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".fsradar.yaml"), []byte(`baseDirectory: /nowhere
groups:
  - name: build
    cmd: make
    rules: ["*.c"]
`), 0o600))

	out, err := execute(t, "-b", dir, "--stop-previous", "--show-config")
	require.NoError(t, err)

	cfg, err := config.NewLoaderFromBytes([]byte(out)).Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.BaseDirectory)
	require.Len(t, cfg.Groups, 1)
	assert.Equal(t, "build", cfg.Groups[0].Name)
	assert.True(t, cfg.Groups[0].Options.StopPreviousProcess)
	assert.Equal(t, config.DefaultTimeoutSeconds, int(*cfg.Groups[0].Options.TimeoutSeconds))
}

func TestShowConfigFromEnv(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("FSRADAR_BASEDIR", dir)
	t.Setenv("FSRADAR_INCLUDE", "*.md")
	t.Setenv("FSRADAR_COMMAND", "echo {}")

	out, err := execute(t, "--show-config")
	require.NoError(t, err)

	cfg, err := config.NewLoaderFromBytes([]byte(out)).Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.BaseDirectory)
	assert.Equal(t, "echo {}", cfg.Groups[0].Cmd)
	assert.Equal(t, config.Rules{"*.md"}, cfg.Groups[0].Rules)
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tcs := map[string]struct {
		err  error
		args []string
		code int
	}{
		"missing command": {
			args: []string{"-b", dir, "-i", "*"},
			err:  config.ErrInvalid,
			code: cli.ExitConfig,
		},
		"missing rules": {
			args: []string{"-b", dir, "-x", "true"},
			err:  config.ErrInvalid,
			code: cli.ExitConfig,
		},
		"missing config file": {
			args: []string{"-c", filepath.Join(dir, "missing.yaml")},
			code: cli.ExitError,
		},
		"unknown backend": {
			args: []string{"-b", dir, "-i", "*", "-x", "true", "--backend", "kqueue"},
			err:  watch.ErrUnknownBackend,
			code: cli.ExitConfig,
		},
		"base directory not found": {
			args: []string{"-b", filepath.Join(dir, "missing"), "-i", "*", "-x", "true"},
			err:  config.ErrBaseDirNotFound,
			code: cli.ExitBaseDirNotFound,
		},
		"nothing to watch": {
			args: []string{
				"-b", dir, "-i", "./missing/*.go", "-x", "true",
				"--backend", watch.BackendFsnotify, "--shell", "/bin/sh -c",
			},
			err:  watch.ErrNothingToWatch,
			code: cli.ExitNothingToWatch,
		},
		"bad log level": {
			args: []string{"--log-level", "loud", "-b", dir, "-i", "*", "-x", "true"},
			code: cli.ExitConfig,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := execute(t, tc.args...)
			require.Error(t, err)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
			}

			assert.Equal(t, tc.code, cli.ExitCode(err))
		})
	}
}

func TestRunInterruptedDuringStartup(t *testing.T) {
	t.Parallel()

	backends := []string{watch.BackendFsnotify}
	if runtime.GOOS == "linux" {
		backends = append(backends, watch.BackendInotify)
	}

	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o600))

			ctx, cancel := context.WithCancel(t.Context())
			cancel()

			cmd := cli.NewRootCmd()
			cmd.SetArgs([]string{
				"--log-format", "logfmt",
				"-b", dir, "-i", "*.go", "-x", "true",
				"--backend", backend, "--shell", "/bin/sh -c",
			})
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})

			err := cmd.ExecuteContext(ctx)
			require.ErrorIs(t, err, cli.ErrInterrupted)
			assert.Equal(t, cli.ExitInterrupted, cli.ExitCode(err))
		})
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		err  error
		want int
	}{
		"nil":         {err: nil, want: cli.ExitOK},
		"interrupted": {err: cli.ErrInterrupted, want: cli.ExitInterrupted},
		"config":      {err: config.ErrInvalid, want: cli.ExitConfig},
		"nothing":     {err: watch.ErrNothingToWatch, want: cli.ExitNothingToWatch},
		"base dir":    {err: config.ErrBaseDirNotFound, want: cli.ExitBaseDirNotFound},
		"other":       {err: errors.New("boom"), want: cli.ExitError},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, cli.ExitCode(tc.err))
		})
	}
}

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	cli.ErrorHandler(buf, fang.Styles{}, cli.ErrInterrupted)
	assert.Empty(t, buf.String())

	cli.ErrorHandler(buf, fang.Styles{}, errors.New("unknown flag: --nope"))
	assert.Contains(t, buf.String(), "unknown flag: --nope")
	assert.Contains(t, buf.String(), "--help")

	buf.Reset()
	cli.ErrorHandler(buf, fang.Styles{}, config.ErrInvalid)
	assert.Contains(t, buf.String(), config.ErrInvalid.Error())
	assert.NotContains(t, buf.String(), "--help")
}
