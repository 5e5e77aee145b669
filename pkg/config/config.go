package config

import (
	"errors"
	"fmt"
	"os"
	"math"
	"path/filepath"
	"slices"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/macropower/fsradar/api/v1beta1"
	"github.com/macropower/fsradar/pkg/execs"
	"github.com/macropower/fsradar/pkg/scheduler"
	"github.com/macropower/fsradar/pkg/watch"
	"github.com/macropower/fsradar/pkg/yaml"
)

var (
	// ErrInvalid is returned for configuration that cannot be used.
	ErrInvalid = errors.New("invalid configuration")

	// ErrBaseDirNotFound is returned when the base directory does not exist.
	ErrBaseDirNotFound = errors.New("base directory not found")

	// ValidKinds contains the valid kind values.
	ValidKinds = []string{Kind}
)

const (
	// Kind is the kind of fsradar configuration documents.
	Kind = "Configuration"

	// DefaultBaseDirectory is watched when no base directory is configured.
	DefaultBaseDirectory = "."

	// DefaultTimeoutSeconds is the default run timeout.
	DefaultTimeoutSeconds = 30

	// MaxTimeoutSeconds is the largest timeout a [time.Duration] can hold.
	MaxTimeoutSeconds = float64(math.MaxInt64 / int64(time.Second))
)

// Config is the fsradar configuration.
//
//nolint:recvcheck // Must satisfy the jsonschema interface.
type Config struct {
	v1beta1.TypeMeta `json:",inline"`

	// BaseDirectory is the directory to watch. Rules are relative to it.
	BaseDirectory string `json:"baseDirectory,omitempty" jsonschema:"title=Base Directory"`
	// Backend selects the notification backend.
	Backend string `json:"backend,omitempty" jsonschema:"title=Backend,enum=auto,enum=inotify,enum=fsnotify"`
	// Shell is the command line used to run group commands. The command is
	// appended as the last argument.
	Shell string `json:"shell,omitempty" jsonschema:"title=Shell"`
	// Groups are the commands to run.
	Groups []*Group `json:"groups" jsonschema:"title=Groups,required,minItems=1"`
	// PublishGone also triggers groups when a watched file is deleted or
	// moved away.
	PublishGone bool `json:"publishGone,omitempty" jsonschema:"title=Publish Gone"`
	// PruneExcluded skips excluded directories while walking the base
	// directory at startup.
	PruneExcluded bool `json:"pruneExcluded,omitempty" jsonschema:"title=Prune Excluded"`
}

// New creates a new [Config] with default values and no groups.
func New() *Config {
	c := &Config{
		TypeMeta: v1beta1.TypeMeta{
			APIVersion: v1beta1.APIVersion,
			Kind:       Kind,
		},
	}
	c.EnsureDefaults()

	return c
}

// EnsureDefaults initializes unset fields to their default values.
func (c *Config) EnsureDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = v1beta1.APIVersion
	}
	if c.Kind == "" {
		c.Kind = Kind
	}
	if c.BaseDirectory == "" {
		c.BaseDirectory = DefaultBaseDirectory
	}
	if c.Backend == "" {
		c.Backend = watch.BackendAuto
	}
	if c.Shell == "" {
		c.Shell = execs.DefaultShell
	}

	for _, g := range c.Groups {
		if g != nil {
			g.EnsureDefaults()
		}
	}
}

// Validate checks everything the schema cannot express. Errors wrap
// [ErrInvalid] and point at the offending key where possible.
func (c *Config) Validate() error {
	err := c.TypeMeta.Check(ValidKinds...)
	if err != nil {
		return invalid(err)
	}

	if len(c.Groups) == 0 {
		return invalid(errors.New("at least one group is required"))
	}

	if !slices.Contains(watch.AllBackends, c.Backend) {
		return invalid(fmt.Errorf("%w: %q", watch.ErrUnknownBackend, c.Backend), "backend")
	}

	_, err = execs.ParseShell(c.Shell)
	if err != nil {
		return invalid(err, "shell")
	}

	names := make(map[string]int, len(c.Groups))

	for i, g := range c.Groups {
		if g == nil {
			return invalid(errors.New("group is empty"), "groups", i)
		}

		err := g.Validate()
		if err != nil {
			var fieldErr *fieldError
			if errors.As(err, &fieldErr) {
				return invalid(fieldErr.err, append([]any{"groups", i}, fieldErr.keys...)...)
			}

			return invalid(err, "groups", i)
		}

		name := g.GetName()
		if prev, ok := names[name]; ok {
			return invalid(fmt.Errorf("group name %q is already used by groups[%d]", name, prev),
				"groups", i, "name")
		}

		names[name] = i
	}

	return nil
}

// ResolveBaseDir returns the absolute base directory. It returns an error
// wrapping [ErrBaseDirNotFound] if it does not exist or is not a directory.
func (c *Config) ResolveBaseDir() (string, error) {
	dir, err := filepath.Abs(c.BaseDirectory)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBaseDirNotFound, err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBaseDirNotFound, err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrBaseDirNotFound, dir)
	}

	return dir, nil
}

// Rules returns the rules of every group, in group order.
func (c *Config) Rules() []string {
	var rules []string
	for _, g := range c.Groups {
		rules = append(rules, g.Rules...)
	}

	return rules
}

// MarshalYAML encodes the configuration as YAML.
func (c *Config) MarshalYAML() ([]byte, error) {
	type alias Config

	return yaml.Marshal((*alias)(c))
}

// JSONSchemaExtend restricts apiVersion and kind to their valid values.
func (c Config) JSONSchemaExtend(jss *jsonschema.Schema) {
	v1beta1.ExtendSchemaWithEnums(jss, v1beta1.ValidAPIVersions, ValidKinds)
}

// Options control how a group's command is scheduled. See
// [scheduler.Options].
type Options struct {
	// CanDiscard drops changes that arrive while the command is running.
	// Defaults to true.
	CanDiscard *bool `json:"canDiscard,omitempty" jsonschema:"title=Can Discard,default=true"`
	// TimeoutSeconds limits each run. Zero disables the limit.
	TimeoutSeconds *float64 `json:"timeoutSeconds,omitempty" jsonschema:"title=Timeout Seconds,minimum=0,default=30"`
	// StopPreviousProcess terminates a running command when a change
	// arrives, and starts it again. Takes precedence over canDiscard.
	StopPreviousProcess bool `json:"stopPreviousProcess,omitempty" jsonschema:"title=Stop Previous Process"`
}

// EnsureDefaults initializes unset fields to their default values.
func (o *Options) EnsureDefaults() {
	if o.CanDiscard == nil {
		o.CanDiscard = ptr(true)
	}
	if o.TimeoutSeconds == nil {
		o.TimeoutSeconds = ptr(float64(DefaultTimeoutSeconds))
	}
}

// Scheduler converts the options to [scheduler.Options].
func (o *Options) Scheduler() scheduler.Options {
	opts := scheduler.DefaultOptions()
	if o == nil {
		return opts
	}

	opts.StopPreviousProcess = o.StopPreviousProcess
	if o.CanDiscard != nil {
		opts.CanDiscard = *o.CanDiscard
	}
	if o.TimeoutSeconds != nil {
		opts.Timeout = time.Duration(min(*o.TimeoutSeconds, MaxTimeoutSeconds) * float64(time.Second))
	}

	return opts
}

// Validate checks values the schema cannot bound.
func (o *Options) Validate() error {
	if o == nil || o.TimeoutSeconds == nil {
		return nil
	}

	timeout := *o.TimeoutSeconds
	if math.IsNaN(timeout) || timeout > MaxTimeoutSeconds {
		return &fieldError{
			keys: []any{"timeoutSeconds"},
			err:  fmt.Errorf("timeout must be at most %.0f seconds, got %g", MaxTimeoutSeconds, timeout),
		}
	}

	return nil
}

// invalid wraps err with [ErrInvalid] and the document path reached
// through keys.
func invalid(err error, keys ...any) error {
	return yaml.NewError(fmt.Errorf("%w: %w", ErrInvalid, err), yaml.WithPath(yaml.PathTo(keys...)))
}

func ptr[T any](v T) *T {
	return &v
}
