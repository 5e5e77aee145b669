package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/macropower/fsradar/pkg/log"
)

const (
	cmdName = "fsradar"
	cmdDesc = `Run commands when files matching a set of rules change.`
)

type RootArgs struct {
	LogLevel  string
	LogFormat string
	Verbose   bool
	Quiet     bool
}

func NewRootArgs() *RootArgs {
	return &RootArgs{}
}

func (ra *RootArgs) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().
		StringVar(&ra.LogLevel, "log-level", "", fmt.Sprintf("Log level, one of: %s (default: info)", log.AllLevels))
	cmd.PersistentFlags().
		StringVar(&ra.LogFormat, "log-format", "text", fmt.Sprintf("Log format, one of: %s", log.AllFormats))
	cmd.PersistentFlags().BoolVarP(&ra.Verbose, "verbose", "v", false, "Verbose output, same as --log-level=debug")
	cmd.PersistentFlags().BoolVarP(&ra.Quiet, "quiet", "q", false, "Keep output to a minimum, same as --log-level=error")

	var err error

	err = cmd.RegisterFlagCompletionFunc("log-format",
		cobra.FixedCompletions(log.AllFormats, cobra.ShellCompDirectiveNoFileComp),
	)
	if err != nil {
		panic(err)
	}

	err = cmd.RegisterFlagCompletionFunc("log-level",
		cobra.FixedCompletions(log.AllLevels, cobra.ShellCompDirectiveNoFileComp),
	)
	if err != nil {
		panic(err)
	}
}

func NewRootCmd() *cobra.Command {
	args := NewRootArgs()
	runArgs := NewRunArgs(args)

	cmd := &cobra.Command{
		Use:               cmdName,
		Short:             cmdDesc,
		Example:           cmdExamples,
		Args:              cobra.NoArgs,
		PersistentPreRunE: setupLogging(args),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, runArgs)
		},
		SilenceUsage: true,
	}

	args.AddFlags(cmd)
	runArgs.AddFlags(cmd)

	bindEnvVars(cmd)

	return cmd
}

func setupLogging(rc *RootArgs) func(cmd *cobra.Command, _ []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		level := log.Verbosity(rc.LogLevel, rc.Verbose, rc.Quiet)

		logHandler, err := log.CreateHandlerWithStrings(cmd.ErrOrStderr(), level, rc.LogFormat)
		if err != nil {
			return fmt.Errorf("create log handler: %w", err)
		}

		slog.SetDefault(slog.New(logHandler))

		return nil
	}
}
