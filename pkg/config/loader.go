package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/macropower/fsradar/api"
	"github.com/macropower/fsradar/pkg/rule"
	"github.com/macropower/fsradar/pkg/yaml"
)

// Format is a configuration file format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath returns the format for a file name, based on its extension.
// Anything that is not `.toml` is read as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}

	return FormatYAML
}

// Validator validates configuration data against a schema.
type Validator interface {
	Validate(data any) error
}

// LoaderOpt configures a [Loader].
type LoaderOpt func(*Loader)

// WithValidator sets a custom schema validator. A nil validator disables
// schema validation.
func WithValidator(v Validator) LoaderOpt {
	return func(l *Loader) {
		l.validator = v
		l.customValidator = true
	}
}

// WithFormat sets the format of the data.
func WithFormat(f Format) LoaderOpt {
	return func(l *Loader) {
		l.format = f
	}
}

// WithColor enables colors in annotated errors.
func WithColor(colored bool) LoaderOpt {
	return func(l *Loader) {
		l.colored = colored
	}
}

// Loader parses, validates and defaults configuration data.
type Loader struct {
	validator       Validator
	yamlError       *yaml.ErrorWrapper
	format          Format
	data            []byte
	colored         bool
	customValidator bool
}

// NewLoaderFromBytes creates a [Loader] for data. The format defaults to
// YAML.
func NewLoaderFromBytes(data []byte, opts ...LoaderOpt) *Loader {
	l := &Loader{
		data:   data,
		format: FormatYAML,
	}
	for _, opt := range opts {
		opt(l)
	}

	l.yamlError = yaml.NewErrorWrapper(
		yaml.WithSource(data),
		yaml.WithColor(l.colored),
	)

	return l
}

// NewLoaderFromFile creates a [Loader] from a file path. The format is
// chosen by [FormatFromPath] unless set with [WithFormat].
func NewLoaderFromFile(path string, opts ...LoaderOpt) (*Loader, error) {
	data, err := api.ReadFile(path)
	if err != nil {
		return nil, err //nolint:wrapcheck // Return the original error.
	}

	return NewLoaderFromBytes(data, append([]LoaderOpt{WithFormat(FormatFromPath(path))}, opts...)...), nil
}

// Validate validates YAML data against the schema. TOML data is only
// checked by [Loader.Load].
func (l *Loader) Validate() error {
	if l.format != FormatYAML {
		return nil
	}

	validator := l.validator
	if !l.customValidator {
		v, err := DefaultValidator()
		if err != nil {
			return err
		}

		validator = v
	}

	if validator == nil {
		return nil
	}

	var anyConfig any

	err := yaml.NewDecoder(bytes.NewReader(l.data)).Decode(&anyConfig)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, l.yamlError.Wrap(err))
	}

	err = validator.Validate(anyConfig)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, l.yamlError.Wrap(err))
	}

	return nil
}

// Load validates the data against the schema, then parses, defaults and
// validates the [Config].
func (l *Loader) Load() (*Config, error) {
	err := l.Validate()
	if err != nil {
		return nil, err
	}

	var cfg *Config

	switch l.format {
	case FormatTOML:
		cfg, err = decodeTOML(l.data)
	default:
		cfg = &Config{}
		err = yaml.NewDecoder(bytes.NewReader(l.data)).Decode(cfg)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrInvalid, l.yamlError.Wrap(err))
		}
	}
	if err != nil {
		return nil, err
	}

	cfg.EnsureDefaults()

	err = cfg.Validate()
	if err != nil {
		// Paths only point into YAML sources.
		if l.format == FormatYAML {
			err = l.yamlError.Wrap(err)
		}

		return nil, err
	}

	return cfg, nil
}

// LoadFile loads configuration from path.
func LoadFile(path string, opts ...LoaderOpt) (*Config, error) {
	l, err := NewLoaderFromFile(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return l.Load()
}

// tomlConfig is the layout of fs_radar TOML files.
type tomlConfig struct {
	Group   map[string]tomlGroup `toml:"group"`
	FSRadar *tomlRoot            `toml:"fs_radar"`
}

type tomlRoot struct {
	PublishGone   *bool  `toml:"publish_gone"`
	PruneExcluded *bool  `toml:"prune_excluded"`
	BaseDir       string `toml:"basedir"`
	Backend       string `toml:"backend"`
	Shell         string `toml:"shell"`
}

type tomlGroup struct {
	Rules               any    `toml:"rules"`
	Timeout             any    `toml:"timeout"`
	StopPreviousProcess *bool  `toml:"stop_previous_process"`
	CanDiscard          *bool  `toml:"can_discard"`
	Cmd                 string `toml:"cmd"`
	When                string `toml:"when"`
}

func decodeTOML(data []byte) (*Config, error) {
	var tc tomlConfig

	err := toml.Unmarshal(data, &tc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if tc.FSRadar == nil {
		return nil, fmt.Errorf("%w: config file requires a table named 'fs_radar'", ErrInvalid)
	}

	if tc.FSRadar.BaseDir == "" {
		return nil, fmt.Errorf("%w: config file requires a field 'basedir' in the table 'fs_radar'", ErrInvalid)
	}

	if len(tc.Group) == 0 {
		return nil, fmt.Errorf("%w: config file requires a table named 'group'", ErrInvalid)
	}

	cfg := New()
	cfg.BaseDirectory = tc.FSRadar.BaseDir
	cfg.Backend = tc.FSRadar.Backend
	cfg.Shell = tc.FSRadar.Shell
	cfg.PublishGone = deref(tc.FSRadar.PublishGone)
	cfg.PruneExcluded = deref(tc.FSRadar.PruneExcluded)

	names := make([]string, 0, len(tc.Group))
	for name := range tc.Group {
		names = append(names, name)
	}

	// TOML tables have no order.
	slices.Sort(names)

	for _, name := range names {
		tg := tc.Group[name]

		rules, err := tomlRules(tg.Rules)
		if err != nil {
			return nil, fmt.Errorf("%w: group.%s.rules: %w", ErrInvalid, name, err)
		}

		timeout, err := tomlSeconds(tg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: group.%s.timeout: %w", ErrInvalid, name, err)
		}

		cfg.Groups = append(cfg.Groups, &Group{
			Name:  name,
			Cmd:   tg.Cmd,
			When:  tg.When,
			Rules: rules,
			Options: &Options{
				StopPreviousProcess: deref(tg.StopPreviousProcess),
				CanDiscard:          tg.CanDiscard,
				TimeoutSeconds:      timeout,
			},
		})
	}

	return cfg, nil
}

func tomlRules(v any) (Rules, error) {
	switch rules := v.(type) {
	case nil:
		return nil, nil
	case string:
		return rule.ParseText(rules), nil
	case []any:
		out := make(Rules, 0, len(rules))
		for i, r := range rules {
			s, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("rule %d: expected string, got %T", i, r)
			}

			out = append(out, s)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("expected string or array, got %T", v)
	}
}

func tomlSeconds(v any) (*float64, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil //nolint:nilnil // Unset.
	case int64:
		return ptr(float64(n)), nil
	case float64:
		return ptr(n), nil
	default:
		return nil, fmt.Errorf("expected number, got %T", v)
	}
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}

	return *v
}

// DefaultPath returns the path of the user configuration file.
func DefaultPath() string {
	return api.GetConfigPath("config.yaml")
}

// Discover finds a configuration file for startDir. Project files (see
// [api.ProjectConfigFiles]) in startDir or any parent take precedence over
// [DefaultPath]. It returns an empty string if there is no configuration.
func Discover(startDir string) (string, error) {
	path, err := api.FindConfigFile(startDir, api.ProjectConfigFiles)
	if err != nil {
		return "", fmt.Errorf("find project config: %w", err)
	}

	if path != "" {
		return path, nil
	}

	path = DefaultPath()

	info, err := os.Stat(path)
	if err == nil && info.Mode().IsRegular() {
		return path, nil
	}

	return "", nil
}
