package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/fsradar/pkg/config"
	"github.com/macropower/fsradar/pkg/event"
	"github.com/macropower/fsradar/pkg/execs"
	"github.com/macropower/fsradar/pkg/scheduler"
	"github.com/macropower/fsradar/pkg/yaml"
)

func TestNew(t *testing.T) {
	t.Parallel()

	cfg := config.New()

	assert.Equal(t, config.Kind, cfg.Kind)
	assert.Equal(t, config.DefaultBaseDirectory, cfg.BaseDirectory)
	assert.Equal(t, execs.DefaultShell, cfg.Shell)
	assert.Empty(t, cfg.Groups)
	require.ErrorIs(t, cfg.Validate(), config.ErrInvalid)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		modify func(*config.Config)
		err    string
	}{
		"valid": {
			modify: func(*config.Config) {},
		},
		"bad shell": {
			modify: func(c *config.Config) { c.Shell = `bash "-c` },
			err:    "shell",
		},
		"bad kind": {
			modify: func(c *config.Config) { c.Kind = "Policy" },
			err:    "unsupported kind",
		},
		"nil group": {
			modify: func(c *config.Config) { c.Groups = append(c.Groups, nil) },
			err:    "group is empty",
		},
		"bad env pattern": {
			modify: func(c *config.Config) {
				c.Groups[0].EnvFrom = []execs.EnvFromSource{{CallerRef: &execs.CallerRef{Pattern: "("}}}
			},
			err: "env",
		},
		"timeout too large": {
			modify: func(c *config.Config) {
				huge := 1e300
				c.Groups[0].Options.TimeoutSeconds = &huge
			},
			err: "timeout must be at most",
		},
		"when not bool": {
			modify: func(c *config.Config) { c.Groups[0].When = "kind + 1" },
			err:    "must return bool",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := config.New()
			cfg.Groups = []*config.Group{{Cmd: "make", Rules: config.Rules{"*.c"}}}
			cfg.EnsureDefaults()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.err == "" {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, config.ErrInvalid)
			assert.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestResolveBaseDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	cfg := config.New()

	cfg.BaseDirectory = dir
	got, err := cfg.ResolveBaseDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	cfg.BaseDirectory = filepath.Join(dir, "missing")
	_, err = cfg.ResolveBaseDir()
	require.ErrorIs(t, err, config.ErrBaseDirNotFound)

	cfg.BaseDirectory = file
	_, err = cfg.ResolveBaseDir()
	require.ErrorIs(t, err, config.ErrBaseDirNotFound)
}

func TestConfigRules(t *testing.T) {
	t.Parallel()

	cfg := config.New()
	cfg.Groups = []*config.Group{
		{Cmd: "a", Rules: config.Rules{"*.go"}},
		{Cmd: "b", Rules: config.Rules{"!vendor/", "docs/*.md"}},
	}

	assert.Equal(t, []string{"*.go", "!vendor/", "docs/*.md"}, cfg.Rules())
}

func TestOptionsScheduler(t *testing.T) {
	t.Parallel()

	var nilOpts *config.Options
	assert.Equal(t, scheduler.DefaultOptions(), nilOpts.Scheduler())

	opts := &config.Options{}
	opts.EnsureDefaults()
	assert.Equal(t, scheduler.DefaultOptions(), opts.Scheduler())

	zero := 0.0
	discard := false
	opts = &config.Options{TimeoutSeconds: &zero, CanDiscard: &discard, StopPreviousProcess: true}
	assert.Equal(t, scheduler.Options{StopPreviousProcess: true}, opts.Scheduler())

	half := 0.5
	opts = &config.Options{TimeoutSeconds: &half}
	assert.Equal(t, 500*time.Millisecond, opts.Scheduler().Timeout)

	huge := 1e300
	opts = &config.Options{TimeoutSeconds: &huge}
	assert.Positive(t, opts.Scheduler().Timeout)
}

func TestOptionsValidateTimeoutPath(t *testing.T) {
	t.Parallel()

	huge := config.MaxTimeoutSeconds * 2

	cfg := config.New()
	cfg.Groups = []*config.Group{
		{Cmd: "make", Rules: config.Rules{"*.c"}},
		{Cmd: "make docs", Rules: config.Rules{"*.md"}, Options: &config.Options{TimeoutSeconds: &huge}},
	}
	cfg.EnsureDefaults()

	err := cfg.Validate()
	require.ErrorIs(t, err, config.ErrInvalid)

	var yamlErr *yaml.Error
	require.ErrorAs(t, err, &yamlErr)
	assert.Equal(t, "$.groups[1].options.timeoutSeconds", yamlErr.Path.String())

	limit := config.MaxTimeoutSeconds
	cfg.Groups[1].Options.TimeoutSeconds = &limit
	require.NoError(t, cfg.Validate())
}

func TestGroupBuild(t *testing.T) {
	t.Parallel()

	g := &config.Group{
		Cmd:   "make docs FILE={}",
		Rules: config.Rules{"docs/*.md", "!docs/draft.md"},
		When:  `kind == fs.MATCH`,
	}
	g.EnsureDefaults()

	built, err := g.Build()
	require.NoError(t, err)

	assert.Equal(t, g.GetName(), built.Name)
	assert.Equal(t, "make docs FILE={}", built.Command)
	assert.Equal(t, scheduler.DefaultOptions(), built.Options)
	require.NotNil(t, built.When)

	assert.True(t, built.Accepts(event.Event{Rel: "docs/a.md", Kind: event.FileMatch}))
	assert.False(t, built.Accepts(event.Event{Rel: "docs/a.md", Kind: event.FileGone}))
	assert.False(t, built.Accepts(event.Event{Rel: "docs/draft.md", Kind: event.FileMatch}))
	assert.False(t, built.Accepts(event.Event{Rel: "src/a.md", Kind: event.FileMatch}))
}

func TestGroupName(t *testing.T) {
	t.Parallel()

	g := &config.Group{Cmd: "echo {}"}
	assert.Equal(t, execs.NewTemplate("echo {}").Name(), g.GetName())
	assert.Len(t, g.GetName(), 6)

	g.Name = "echo"
	assert.Equal(t, "echo", g.GetName())
}

func TestGroupEnvironment(t *testing.T) {
	t.Parallel()

	base := []string{"PATH=/bin", "SECRET=s3cr3t", "APP_MODE=dev", "APP_PORT=8080"}

	tcs := map[string]struct {
		group config.Group
		want  []string
	}{
		"inherits everything": {
			group: config.Group{
				Env: []execs.EnvVar{{Name: "EXTRA", Value: "1"}},
			},
			want: []string{"APP_MODE=dev", "APP_PORT=8080", "EXTRA=1", "PATH=/bin", "SECRET=s3cr3t"},
		},
		"envFrom restricts": {
			group: config.Group{
				EnvFrom: []execs.EnvFromSource{{CallerRef: &execs.CallerRef{Pattern: "^APP_"}}},
			},
			want: []string{"APP_MODE=dev", "APP_PORT=8080", "PATH=/bin"},
		},
		"value from caller": {
			group: config.Group{
				EnvFrom: []execs.EnvFromSource{{CallerRef: &execs.CallerRef{Name: "APP_MODE"}}},
				Env: []execs.EnvVar{{
					Name:      "TOKEN",
					ValueFrom: &execs.EnvVarSource{CallerRef: &execs.CallerRef{Name: "SECRET"}},
				}},
			},
			want: []string{"APP_MODE=dev", "PATH=/bin", "TOKEN=s3cr3t"},
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			env := tc.group.Environment(base)
			assert.Equal(t, tc.want, env.GetEnv())
		})
	}
}

func TestMarshalYAML(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFile("testdata/config.yaml")
	require.NoError(t, err)

	b, err := cfg.MarshalYAML()
	require.NoError(t, err)

	again, err := config.NewLoaderFromBytes(b).Load()
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestSchema(t *testing.T) {
	t.Parallel()

	b, err := config.Schema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(b, &schema))

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)

	for _, key := range []string{"apiVersion", "kind", "baseDirectory", "backend", "shell", "groups", "publishGone", "pruneExcluded"} {
		assert.Contains(t, props, key)
	}

	assert.Contains(t, schema["required"], "groups")
	assert.Equal(t, false, schema["additionalProperties"])

	v, err := config.DefaultValidator()
	require.NoError(t, err)
	require.NoError(t, v.Validate(map[string]any{
		"groups": []any{map[string]any{"cmd": "make", "rules": "*.c"}},
	}))
	require.Error(t, v.Validate(map[string]any{
		"groups": []any{map[string]any{"cmd": "make", "rules": 1}},
	}))
}
