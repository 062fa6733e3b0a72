package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/nredf-scheduler/internal/sim/engine"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		dbPath     string
		duration   time.Duration
		seed       uint64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario as fast as possible and print the results",
		Long: `Run steps the scenario TTI by TTI without waiting for wall-clock time and
prints per-connection and per-5QI delay statistics. Without --config the
built-in mixed-QoS scenario is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := loadScenario(configPath, duration, seed)
			if err != nil {
				return err
			}
			configureLogging(cmd, scenarioLogging(s))
			if dbPath == "" {
				dbPath = s.DBPath
			}

			e, err := engine.New(s, engine.WithLogger(logger))
			if err != nil {
				return err
			}
			started := time.Now().UTC()
			sum, err := e.Run(ctx)
			if err != nil {
				return fmt.Errorf("run scenario: %w", err)
			}
			return finishRun(ctx, cmd.OutOrStdout(), dbPath, s, sum, started)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Scenario YAML file (default: built-in scenario)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database to store the results in")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Override the scenario duration")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Override the scenario random seed")
	return cmd
}

func newScenarioCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Print the built-in scenario, or validate and normalise a scenario file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadScenario(configPath, 0, 0)
			if err != nil {
				return err
			}
			return s.Write(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Scenario YAML file to validate")
	return cmd
}
