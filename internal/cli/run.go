package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/macropower/fsradar/pkg/config"
	"github.com/macropower/fsradar/pkg/log"
	"github.com/macropower/fsradar/pkg/radar"
	"github.com/macropower/fsradar/pkg/version"
	"github.com/macropower/fsradar/pkg/watch"
)

const (
	// DefaultGroupName names the group built from command line flags.
	DefaultGroupName = "default"

	cmdExamples = `  # Run the tests when a Go file changes:
  fsradar -i '*.go' -e 'vendor/' -x 'go test ./...'

  # Pass the changed file to the command:
  fsradar -b ./docs -i '*.md' -x 'markdownlint {}'

  # Restart a server on every change:
  fsradar -i './cmd/**' -i './pkg/**' --stop-previous -x 'go run ./cmd/server'

  # Use a configuration file:
  fsradar -c .fsradar.yaml

  # Print the configuration that would be used:
  fsradar -i '*.go' -x 'go build ./...' --show-config`
)

type RunArgs struct {
	*RootArgs

	ConfigPath    string
	BaseDir       string
	Command       string
	Backend       string
	Shell         string
	Include       []string
	Exclude       []string
	KeepExcluded  []string
	Timeout       float64
	PublishGone   bool
	PruneExcluded bool
	StopPrevious  bool
	NoDiscard     bool
	ShowConfig    bool
}

func NewRunArgs(rootArgs *RootArgs) *RunArgs {
	return &RunArgs{
		RootArgs: rootArgs,
	}
}

func (ra *RunArgs) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&ra.BaseDir, "basedir", "b", "", "Base directory of the files to watch (default: current directory)")
	cmd.Flags().StringVarP(&ra.ConfigPath, "config", "c", "", "Path to a YAML or TOML configuration file")
	cmd.Flags().StringArrayVarP(&ra.Include, "include", "i", nil, "Include paths matching this rule")
	cmd.Flags().StringArrayVarP(&ra.Exclude, "exclude", "e", nil, "Exclude paths matching this rule (include first, then exclude)")
	cmd.Flags().StringArrayVarP(&ra.KeepExcluded, "keep-excluded", "k", nil, "Ignore exclusion rules for paths matching this rule")
	cmd.Flags().StringVarP(&ra.Command, "command", "x", "",
		"Command to run when a matching file changes, {} is replaced by the path of the file")
	cmd.Flags().StringVar(&ra.Backend, "backend", watch.BackendAuto,
		fmt.Sprintf("Notification backend, one of: %s", watch.AllBackends))
	cmd.Flags().StringVar(&ra.Shell, "shell", "", "Shell used to run commands (default: /usr/bin/env bash -l -i -c)")
	cmd.Flags().BoolVar(&ra.PublishGone, "publish-gone", false, "Also run commands when a watched path is deleted or moved away")
	cmd.Flags().BoolVar(&ra.PruneExcluded, "prune-excluded", false, "Do not descend into excluded directories")
	cmd.Flags().Float64Var(&ra.Timeout, "timeout", config.DefaultTimeoutSeconds, "Seconds a command may run, 0 disables the limit")
	cmd.Flags().BoolVar(&ra.StopPrevious, "stop-previous", false, "Stop a running command when a new change arrives")
	cmd.Flags().BoolVar(&ra.NoDiscard, "no-discard", false, "Queue changes that arrive while a command is running")
	cmd.Flags().BoolVar(&ra.ShowConfig, "show-config", false, "Print the active configuration and exit")

	err := cmd.MarkFlagFilename("config", "yaml", "yml", "toml")
	if err != nil {
		panic(fmt.Errorf("mark config flag: %w", err))
	}

	err = cmd.MarkFlagDirname("basedir")
	if err != nil {
		panic(fmt.Errorf("mark basedir flag: %w", err))
	}

	err = cmd.RegisterFlagCompletionFunc("backend",
		cobra.FixedCompletions(watch.AllBackends, cobra.ShellCompDirectiveNoFileComp),
	)
	if err != nil {
		panic(err)
	}
}

// flagsOnly reports whether the command line describes a group by itself.
func (ra *RunArgs) flagsOnly() bool {
	return ra.ConfigPath == "" && (ra.Command != "" || len(ra.Include) > 0)
}

// Rules combines the include, exclude and keep-excluded flags into rules.
func (ra *RunArgs) Rules() []string {
	rules := slices.Clone(ra.Include)
	for _, e := range ra.Exclude {
		rules = append(rules, "!"+e)
	}
	for _, k := range ra.KeepExcluded {
		rules = append(rules, "+"+k)
	}

	return rules
}

// Config returns the configuration described by the flags alone, with a
// single group named [DefaultGroupName].
func (ra *RunArgs) Config(flags *pflag.FlagSet) (*config.Config, error) {
	cfg := config.New()
	cfg.Groups = []*config.Group{{
		Name:  DefaultGroupName,
		Cmd:   ra.Command,
		Rules: ra.Rules(),
	}}

	ra.override(flags, cfg, true)

	cfg.EnsureDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err //nolint:wrapcheck // Already wraps config.ErrInvalid.
	}

	return cfg, nil
}

// override applies flags to cfg. Unless all is set, only flags that were
// changed are applied.
func (ra *RunArgs) override(flags *pflag.FlagSet, cfg *config.Config, all bool) {
	set := func(name string) bool {
		return all || flags.Changed(name)
	}

	if ra.BaseDir != "" && set("basedir") {
		cfg.BaseDirectory = ra.BaseDir
	}
	if set("backend") {
		cfg.Backend = ra.Backend
	}
	if ra.Shell != "" && set("shell") {
		cfg.Shell = ra.Shell
	}
	if set("publish-gone") {
		cfg.PublishGone = ra.PublishGone
	}
	if set("prune-excluded") {
		cfg.PruneExcluded = ra.PruneExcluded
	}

	for _, g := range cfg.Groups {
		if g.Options == nil {
			g.Options = &config.Options{}
		}
		if set("timeout") {
			g.Options.TimeoutSeconds = ptr(ra.Timeout)
		}
		if set("stop-previous") {
			g.Options.StopPreviousProcess = ra.StopPrevious
		}
		if set("no-discard") {
			g.Options.CanDiscard = ptr(!ra.NoDiscard)
		}
	}
}

// loadConfig returns the active configuration and the file it was read from,
// if any. Flags changed on the command line override the file.
func loadConfig(cmd *cobra.Command, ra *RunArgs) (*config.Config, string, error) {
	if ra.flagsOnly() {
		cfg, err := ra.Config(cmd.Flags())

		return cfg, "", err
	}

	configPath := ra.ConfigPath
	if configPath == "" {
		startDir := ra.BaseDir
		if startDir == "" {
			startDir = "."
		}

		var err error

		configPath, err = config.Discover(startDir)
		if err != nil {
			return nil, "", fmt.Errorf("find config: %w", err)
		}

		if configPath == "" {
			return nil, "", fmt.Errorf("%w: no configuration file found, use --command and --include or --config", config.ErrInvalid)
		}
	}

	cfg, err := config.LoadFile(configPath, config.WithColor(log.IsTerminal(cmd.ErrOrStderr())))
	if err != nil {
		return nil, configPath, fmt.Errorf("load %s: %w", configPath, err)
	}

	ra.override(cmd.Flags(), cfg, false)

	err = cfg.Validate()
	if err != nil {
		return nil, configPath, fmt.Errorf("%s: %w", configPath, err)
	}

	return cfg, configPath, nil
}

func run(cmd *cobra.Command, ra *RunArgs) error {
	ctx := cmd.Context()

	cfg, configPath, err := loadConfig(cmd, ra)
	if err != nil {
		return err
	}

	if ra.ShowConfig {
		slog.Info("active configuration", slog.String("path", configPath))

		b, err := cfg.MarshalYAML()
		if err != nil {
			return fmt.Errorf("marshal config yaml: %w", err)
		}

		mustN(fmt.Fprint(cmd.OutOrStdout(), string(b)))

		return nil
	}

	logger := slog.Default()
	logger.Debug("starting",
		slog.String("version", version.Info()),
		slog.String("config", configPath),
	)

	r, err := radar.New(cfg, radar.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	for _, g := range r.Groups() {
		logger.Info("group",
			slog.String("group", g.Name),
			slog.String("rules", g.Filter.String()),
			slog.String("command", g.Command),
			slog.String("policy", g.Options.String()),
		)
	}

	err = r.Run(ctx)

	// A signal can land while Run is still initializing, in which case
	// the cancellation surfaces as Run's error.
	if ctx.Err() != nil {
		return ErrInterrupted
	}

	if err != nil {
		return err //nolint:wrapcheck // Wrapped by radar.
	}

	return nil
}

func ptr[T any](v T) *T {
	return &v
}
