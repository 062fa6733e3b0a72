// Package cli implements the nredf command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/nredf-scheduler/internal/config"
	"github.com/signalsfoundry/nredf-scheduler/internal/logging"
)

var (
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger logging.Logger = logging.Noop()
)

// NewRootCmd creates the root command of the nredf CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nredf",
		Short: "Deadline and QoS aware MAC scheduling simulator",
		Long: `nredf simulates a base station MAC scheduler that ranks connections by
5QI resource type and deadline urgency, then hands out carrier capacity in
score order every TTI.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(cmd, logging.Config{})
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newScenarioCmd(),
		newQoSCmd(),
		newResultsCmd(),
		newHealthCmd(),
	)
	return root
}

// configureLogging rebuilds the package logger from base, normally the
// scenario's logging section. LOG_LEVEL and LOG_FORMAT override base, and
// flags given explicitly on the command line override both.
func configureLogging(cmd *cobra.Command, base logging.Config) {
	cfg := base.OverrideFromEnv()
	flags := cmd.Flags()
	switch {
	case flagDebug:
		cfg.Level = "debug"
	case flags.Changed("log-level"):
		cfg.Level = flagLogLevel
	}
	if flags.Changed("log-format") {
		cfg.Format = flagLogFormat
	}
	cfg.Output = cmd.ErrOrStderr()
	logger = logging.New(cfg)
}

func scenarioLogging(s config.Scenario) logging.Config {
	return logging.Config{Level: s.Logging.Level, Format: s.Logging.Format}
}
