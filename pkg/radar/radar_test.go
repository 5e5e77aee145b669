//go:build unix

package radar_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/fsradar/pkg/config"
	"github.com/macropower/fsradar/pkg/radar"
	"github.com/macropower/fsradar/pkg/scheduler"
	"github.com/macropower/fsradar/pkg/watch"
)

const eventTimeout = 10 * time.Second

func newConfig(t *testing.T, dir string, groups ...*config.Group) *config.Config {
	t.Helper()

	return newBackendConfig(t, dir, watch.BackendFsnotify, groups...)
}

func newBackendConfig(t *testing.T, dir, backend string, groups ...*config.Group) *config.Config {
	t.Helper()

	cfg := config.New()
	cfg.BaseDirectory = dir
	cfg.Backend = backend
	cfg.Shell = "/bin/sh -c"
	cfg.Groups = groups
	cfg.EnsureDefaults()
	require.NoError(t, cfg.Validate())

	return cfg
}

func newRadar(t *testing.T, cfg *config.Config) (*radar.Radar, <-chan scheduler.Event) {
	t.Helper()

	events := make(chan scheduler.Event, 64)

	r, err := radar.New(cfg,
		radar.WithListener(events),
		radar.WithReadTimeout(20*time.Millisecond),
		radar.WithSchedulerOptions(
			scheduler.WithPollInterval(20*time.Millisecond),
			scheduler.WithStopGrace(500*time.Millisecond),
		),
	)
	require.NoError(t, err)

	return r, events
}

// waitForEnds returns the first completion of each of groups.
func waitForEnds(t *testing.T, events <-chan scheduler.Event, groups ...string) map[string]scheduler.EventEnd {
	t.Helper()

	ends := map[string]scheduler.EventEnd{}
	timeout := time.After(eventTimeout)

	for len(ends) < len(groups) {
		select {
		case evt := <-events:
			end, ok := evt.(scheduler.EventEnd)
			if !ok || !slices.Contains(groups, end.Group) {
				continue
			}

			if _, seen := ends[end.Group]; !seen {
				ends[end.Group] = end
			}
		case <-timeout:
			t.Fatalf("timed out waiting for groups %v, got %d", groups, len(ends))
		}
	}

	return ends
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := radar.New(nil)
	require.ErrorIs(t, err, radar.ErrNoGroups)

	_, err = radar.New(config.New())
	require.ErrorIs(t, err, radar.ErrNoGroups)

	cfg := newConfig(t, dir, &config.Group{Cmd: "true", Rules: config.Rules{"*"}})
	cfg.BaseDirectory = filepath.Join(dir, "missing")
	_, err = radar.New(cfg)
	require.ErrorIs(t, err, config.ErrBaseDirNotFound)

	cfg = newConfig(t, dir, &config.Group{Cmd: "true", Rules: config.Rules{"*"}})
	cfg.Backend = "kqueue"
	_, err = radar.New(cfg)
	require.ErrorIs(t, err, watch.ErrUnknownBackend)
}

func TestNewGroups(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := newConfig(t, dir,
		&config.Group{Name: "go", Cmd: "go test ./...", Rules: config.Rules{"*.go"}},
		&config.Group{Cmd: "make docs", Rules: config.Rules{"docs/*.md"}},
	)

	r, _ := newRadar(t, cfg)

	groups := r.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, "go", groups[0].Name)
	assert.Equal(t, cfg.Groups[1].GetName(), groups[1].Name)
	assert.Equal(t, dir, r.Root())
}

func TestRunNothingToWatch(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t, t.TempDir(), &config.Group{Cmd: "true", Rules: config.Rules{"./missing/*.go"}})
	r, _ := newRadar(t, cfg)

	err := r.Run(t.Context())
	require.ErrorIs(t, err, watch.ErrNothingToWatch)

	err = r.Run(t.Context())
	require.ErrorIs(t, err, radar.ErrAlreadyRunning)
}

func TestRunTriggersGroups(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "src"), 0o700))

	cfg := newConfig(t, dir,
		&config.Group{Name: "text", Cmd: "echo changed {}", Rules: config.Rules{"*.txt", "!*.tmp.txt"}},
		&config.Group{Name: "all", Cmd: "exit 3", Rules: config.Rules{"src/*"}},
		&config.Group{Name: "markdown", Cmd: "echo {}", Rules: config.Rules{"*.md"}},
	)
	r, events := newRadar(t, cfg)

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)

	go func() {
		errCh <- r.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(r.Watches()) == 2
	}, eventTimeout, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.txt"), []byte("a"), 0o600))

	ends := waitForEnds(t, events, "text", "all")

	text := ends["text"]
	assert.Equal(t, "src/a.txt", text.Parameter)
	assert.True(t, scheduler.Completion(text).Success())
	assert.Contains(t, text.Output, "changed src/a.txt")

	all := ends["all"]
	assert.Equal(t, "src/a.txt", all.Parameter)
	assert.Equal(t, scheduler.Exited, all.Reason)
	assert.Equal(t, 3, all.ExitCode)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(eventTimeout):
		t.Fatal("run did not return after cancellation")
	}

	for len(events) > 0 {
		if start, ok := (<-events).(scheduler.EventStart); ok {
			assert.NotEqual(t, "markdown", start.Group)
		}
	}
}

func TestRunHonorsExcludes(t *testing.T) {
	t.Parallel()

	backends := []string{watch.BackendFsnotify}
	if runtime.GOOS == "linux" {
		backends = append(backends, watch.BackendInotify)
	}

	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			cfg := newBackendConfig(t, dir, backend,
				&config.Group{Name: "logs", Cmd: "echo {}", Rules: config.Rules{"*.log", "!*.tmp.log"}},
			)
			r, events := newRadar(t, cfg)

			ctx, cancel := context.WithCancel(t.Context())
			errCh := make(chan error, 1)

			go func() {
				errCh <- r.Run(ctx)
			}()

			require.Eventually(t, func() bool {
				return len(r.Watches()) == 1
			}, eventTimeout, 10*time.Millisecond)

			require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tmp.log"), []byte("a"), 0o600))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "a.log"), []byte("a"), 0o600))

			var starts []string

			timeout := time.After(eventTimeout)

		wait:
			for {
				select {
				case evt := <-events:
					switch evt := evt.(type) {
					case scheduler.EventStart:
						starts = append(starts, evt.Parameter)
					case scheduler.EventEnd:
						break wait
					}
				case <-timeout:
					t.Fatal("command did not finish")
				}
			}

			// Give a late notification for the excluded file time to arrive.
			time.Sleep(200 * time.Millisecond)
			cancel()

			select {
			case err := <-errCh:
				require.NoError(t, err)
			case <-time.After(eventTimeout):
				t.Fatal("run did not return after cancellation")
			}

			for len(events) > 0 {
				if start, ok := (<-events).(scheduler.EventStart); ok {
					starts = append(starts, start.Parameter)
				}
			}

			assert.Equal(t, []string{"a.log"}, starts)
		})
	}
}

func TestRunShutsDownRunningCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := newConfig(t, dir, &config.Group{Name: "sleep", Cmd: "sleep 30", Rules: config.Rules{"*.txt"}})
	r, events := newRadar(t, cfg)

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)

	go func() {
		errCh <- r.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(r.Watches()) == 1
	}, eventTimeout, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o600))

	timeout := time.After(eventTimeout)

wait:
	for {
		select {
		case evt := <-events:
			if _, ok := evt.(scheduler.EventStart); ok {
				break wait
			}
		case <-timeout:
			t.Fatal("command did not start")
		}
	}

	cancel()

	end := waitForEnds(t, events, "sleep")["sleep"]
	assert.Equal(t, scheduler.Shutdown, end.Reason)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(eventTimeout):
		t.Fatal("run did not return after cancellation")
	}
}
