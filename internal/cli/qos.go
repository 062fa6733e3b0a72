package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/nredf-scheduler/qos"
)

func newQoSCmd() *cobra.Command {
	var tablePath string

	cmd := &cobra.Command{
		Use:   "qos",
		Short: "Inspect the 5QI table used for scoring",
	}
	cmd.PersistentFlags().StringVar(&tablePath, "table", "", "YAML 5QI table (default: standard table)")

	catalog := func() (*qos.Catalog, error) {
		if tablePath == "" {
			return qos.Default(), nil
		}
		return qos.LoadCatalogFile(tablePath)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the 5QI classes",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := catalog()
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%-5s  %-6s  %8s  %8s  %5s  %s\n", "5QI", "TYPE", "PRIORITY", "PDB", "PER", "SERVICES")
				for _, cls := range c.Classes() {
					fmt.Fprintf(w, "%-5d  %-6s  %8g  %8v  1e%d  %s\n",
						cls.FiveQI, cls.ResourceType, cls.DefaultPriorityLevel,
						cls.PacketDelayBudget, cls.PacketErrorRateExp, cls.Services)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "dump",
			Short: "Write the 5QI table as YAML, suitable for editing and --table",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := catalog()
				if err != nil {
					return err
				}
				return qos.WriteYAML(cmd.OutOrStdout(), c)
			},
		},
	)
	return cmd
}
