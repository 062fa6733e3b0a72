package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/nredf-scheduler/model"
)

func newResultsCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Browse stored run results",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "nredf.db", "SQLite results database")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(w, "No runs found.")
				return nil
			}
			fmt.Fprintf(w, "%-36s  %-16s  %-20s  %10s  %8s  %8s  %6s\n",
				"ID", "NAME", "STARTED", "DURATION", "SENT", "RECV", "MISSES")
			for _, r := range runs {
				fmt.Fprintf(w, "%-36s  %-16s  %-20s  %10v  %8d  %8d  %6d\n",
					r.ID, r.Name, r.StartedAt.Format(time.DateTime), r.Duration,
					r.Sent, r.Received, r.DeadlineMisses)
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show (0 for all)")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the per-connection and per-5QI results of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			r, err := st.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Run %s (%s), started %s\n", r.ID, r.Name, r.StartedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "%v in %d TTIs of %v, seed %d, %d rounds, %d bytes granted\n\n",
				r.Duration, r.TTIs, r.TTI, r.Seed, r.Rounds, r.GrantedBytes)

			fmt.Fprintf(w, "%-12s  %-5s  %8s  %8s  %10s  %10s  %10s  %7s\n",
				"CONNECTION", "5QI", "SENT", "RECV", "MEAN", "MAX", "JITTER", "MISSES")
			for _, f := range r.Flows {
				fmt.Fprintf(w, "%-12s  %-5d  %8d  %8d  %10v  %10v  %10v  %7d\n",
					model.ConnectionID(f.CID), f.FiveQI, f.Sent, f.Received,
					f.MeanDelay, f.MaxDelay, f.Jitter, f.DeadlineMisses)
			}
			fmt.Fprintf(w, "\n%-5s  %-6s  %5s  %8s  %8s  %10s  %10s  %7s\n",
				"5QI", "TYPE", "FLOWS", "SENT", "RECV", "MEAN", "MAX", "MISSES")
			for _, c := range r.Classes {
				fmt.Fprintf(w, "%-5d  %-6s  %5d  %8d  %8d  %10v  %10v  %7d\n",
					c.FiveQI, c.ResourceType, c.Flows, c.Sent, c.Received,
					c.MeanDelay, c.MaxDelay, c.DeadlineMisses)
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.DeleteRun(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}
