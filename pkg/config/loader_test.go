package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/fsradar/pkg/config"
	"github.com/macropower/fsradar/pkg/scheduler"
	"github.com/macropower/fsradar/pkg/watch"
	"github.com/macropower/fsradar/pkg/yaml"
)

func createTempFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func groupsByName(t *testing.T, cfg *config.Config) map[string]*config.Group {
	t.Helper()

	out := map[string]*config.Group{}
	for _, g := range cfg.Groups {
		out[g.GetName()] = g
	}

	return out
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"testdata/config.yaml", "testdata/config.toml"} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			t.Parallel()

			cfg, err := config.LoadFile(path)
			require.NoError(t, err)

			assert.Equal(t, ".", cfg.BaseDirectory)
			assert.Equal(t, watch.BackendFsnotify, cfg.Backend)
			assert.Equal(t, "/bin/sh -c", cfg.Shell)
			assert.True(t, cfg.PublishGone)
			assert.False(t, cfg.PruneExcluded)
			require.Len(t, cfg.Groups, 2)

			groups := groupsByName(t, cfg)

			tests := groups["tests"]
			require.NotNil(t, tests)
			assert.Equal(t, "go test ./...", tests.Cmd)
			assert.Equal(t, config.Rules{"*.go", "!vendor/"}, tests.Rules)
			assert.Equal(t, scheduler.Options{
				StopPreviousProcess: true,
				CanDiscard:          true,
				Timeout:             2 * time.Minute,
			}, tests.Options.Scheduler())

			docs := groups["docs"]
			require.NotNil(t, docs)
			assert.Equal(t, "make docs FILE='{}'", docs.Cmd)
			assert.Equal(t, config.Rules{"./docs/**/*.md", "+./docs/keep.tmp.md", "!*.tmp.md"}, docs.Rules)
			assert.Equal(t, `pathBase(path) != "CHANGELOG.md"`, docs.When)
			assert.Equal(t, scheduler.Options{
				CanDiscard: false,
				Timeout:    config.DefaultTimeoutSeconds * time.Second,
			}, docs.Options.Scheduler())
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.NewLoaderFromBytes([]byte(`groups:
  - cmd: make
    rules: ["*.c"]
`)).Load()
	require.NoError(t, err)

	assert.Equal(t, config.Kind, cfg.Kind)
	assert.Equal(t, config.DefaultBaseDirectory, cfg.BaseDirectory)
	assert.Equal(t, watch.BackendAuto, cfg.Backend)
	assert.Equal(t, "/usr/bin/env bash -l -i -c", cfg.Shell)
	assert.Equal(t, scheduler.DefaultOptions(), cfg.Groups[0].Options.Scheduler())
	assert.Len(t, cfg.Groups[0].GetName(), 6)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		data     string
		format   config.Format
		contains string
	}{
		"invalid yaml": {
			data:     "groups: [",
			contains: "invalid configuration",
		},
		"no groups": {
			data:     "baseDirectory: .\ngroups: []\n",
			contains: "at least one group is required",
		},
		"unknown field": {
			data:     "groups:\n  - cmd: make\n    comand: make\n    rules: [\"*\"]\n",
			contains: `unknown field "comand"`,
		},
		"missing command": {
			data:     "groups:\n  - rules: [\"*\"]\n",
			contains: `missing required field "cmd"`,
		},
		"unknown backend": {
			data:     "backend: kqueue\ngroups:\n  - cmd: make\n    rules: [\"*\"]\n",
			contains: "backend",
		},
		"wrong api version": {
			data:     "apiVersion: other.example.com/v1beta1\ngroups:\n  - cmd: make\n    rules: [\"*\"]\n",
			contains: "unsupported apiVersion other.example.com/v1beta1",
		},
		"bad when": {
			data:     "groups:\n  - cmd: make\n    rules: [\"*\"]\n    when: pathBase(path)\n",
			contains: "must return bool",
		},
		"empty rules text": {
			data:     "groups:\n  - cmd: make\n    rules: |\n      # nothing\n",
			contains: "at least one rule",
		},
		"duplicate names": {
			data:     "groups:\n  - cmd: make\n    rules: [\"*\"]\n  - cmd: make\n    rules: [\"*.c\"]\n",
			contains: "already used",
		},
		"toml without fs_radar": {
			data:     "[group.a]\ncmd = \"make\"\nrules = [\"*\"]\n",
			format:   config.FormatTOML,
			contains: "fs_radar",
		},
		"toml without basedir": {
			data:     "[fs_radar]\n[group.a]\ncmd = \"make\"\nrules = [\"*\"]\n",
			format:   config.FormatTOML,
			contains: "basedir",
		},
		"toml without groups": {
			data:     "[fs_radar]\nbasedir = \".\"\n",
			format:   config.FormatTOML,
			contains: "group",
		},
		"toml without cmd": {
			data:     "[fs_radar]\nbasedir = \".\"\n[group.a]\nrules = [\"*\"]\n",
			format:   config.FormatTOML,
			contains: "empty command",
		},
		"toml bad rules": {
			data:     "[fs_radar]\nbasedir = \".\"\n[group.a]\ncmd = \"make\"\nrules = [1]\n",
			format:   config.FormatTOML,
			contains: "expected string",
		},
		"toml huge timeout": {
			data:     "[fs_radar]\nbasedir = \".\"\n[group.a]\ncmd = \"make\"\nrules = \"*\"\ntimeout = 1e300\n",
			format:   config.FormatTOML,
			contains: "timeout must be at most",
		},
		"toml bad timeout": {
			data:     "[fs_radar]\nbasedir = \".\"\n[group.a]\ncmd = \"make\"\nrules = \"*\"\ntimeout = \"soon\"\n",
			format:   config.FormatTOML,
			contains: "expected number",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			format := tc.format
			if format == "" {
				format = config.FormatYAML
			}

			_, err := config.NewLoaderFromBytes([]byte(tc.data), config.WithFormat(format)).Load()
			require.ErrorIs(t, err, config.ErrInvalid)
			assert.Contains(t, err.Error(), tc.contains)
		})
	}
}

func TestLoadWithoutSchema(t *testing.T) {
	t.Parallel()

	_, err := config.NewLoaderFromBytes(
		[]byte("backend: kqueue\ngroups:\n  - cmd: make\n    rules: [\"*\"]\n"),
		config.WithValidator(nil),
	).Load()
	require.ErrorIs(t, err, config.ErrInvalid)
	require.ErrorIs(t, err, watch.ErrUnknownBackend)
}

func TestLoadErrorPointsAtKey(t *testing.T) {
	t.Parallel()

	data := `groups:
  - name: build
    cmd: make
    rules: ["*"]
  - name: build
    cmd: make test
    rules: ["*.c"]
`

	_, err := config.NewLoaderFromBytes([]byte(data), config.WithValidator(nil)).Load()
	require.Error(t, err)

	var yamlErr *yaml.Error
	require.ErrorAs(t, err, &yamlErr)
	assert.Equal(t, "$.groups[1].name", yamlErr.Path.String())
	assert.Contains(t, err.Error(), "[5:5]")
}

func TestLoadSchemaErrorPointsAtKey(t *testing.T) {
	t.Parallel()

	data := `groups:
  - cmd: make
    rules: ["*"]
    options:
      timeout: 3
`

	_, err := config.NewLoaderFromBytes([]byte(data)).Load()
	require.ErrorIs(t, err, config.ErrInvalid)

	var yamlErr *yaml.Error
	require.ErrorAs(t, err, &yamlErr)
	assert.Equal(t, "$.groups[0].options", yamlErr.Path.String())

	var schemaErr *yaml.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "additionalProperties", schemaErr.Keyword())
	assert.Equal(t, `unknown field "timeout"`, schemaErr.Error())
}

func TestFormatFromPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, config.FormatTOML, config.FormatFromPath("fs_radar.TOML"))
	assert.Equal(t, config.FormatYAML, config.FormatFromPath("config.yaml"))
	assert.Equal(t, config.FormatYAML, config.FormatFromPath("config"))
}

func TestNewLoaderFromFile(t *testing.T) {
	t.Parallel()

	_, err := config.NewLoaderFromFile("/non/existent/file.yaml")
	require.Error(t, err)

	_, err = config.NewLoaderFromFile(t.TempDir())
	require.Error(t, err)

	path := createTempFile(t, "radar.toml", "[fs_radar]\nbasedir = \"src\"\n[group.a]\ncmd = \"make\"\nrules = \"*.c\"\n")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "src", cfg.BaseDirectory)
	assert.Equal(t, config.Rules{"*.c"}, cfg.Groups[0].Rules)
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sub := filepath.Join(dir, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o700))

	want := filepath.Join(dir, ".fsradar.toml")
	require.NoError(t, os.WriteFile(want, []byte("[fs_radar]\n"), 0o600))

	got, err := config.Discover(sub)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
