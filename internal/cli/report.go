package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"factoryline.ai/internal/persistence/indexdb"
)

func (a *app) newReportCommand() *cobra.Command {
	var (
		bucket   int64
		controls bool
	)
	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "List recorded runs, or show throughput for one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := indexdb.OpenSQLite(a.settings.IndexDB)
			if err != nil {
				return err
			}
			defer idx.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

			if len(args) == 0 {
				runs, err := idx.Runs(ctx)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(out, "no runs recorded")
					return nil
				}
				fmt.Fprintln(tw, "RUN\tSTARTED\tLAYOUT\tLAYOUT DIGEST")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%.12s\n", r.RunID, r.StartedAt, r.LayoutName, r.LayoutDigest)
				}
				return tw.Flush()
			}

			runID := args[0]
			tot, err := idx.Totals(ctx, runID)
			if err != nil {
				return err
			}
			if tot.Ticks == 0 {
				return fmt.Errorf("run %q has no recorded ticks", runID)
			}
			fmt.Fprintf(out, "run %s: %d ticks (last %d)\n", runID, tot.Ticks, tot.LastTick)
			fmt.Fprintf(out, "emitted %d  dropped %d  completed %d  discarded %d\n", tot.Emitted, tot.Dropped, tot.Completed, tot.Discarded)
			fmt.Fprintf(out, "last digest %s\n\n", tot.LastHash)

			buckets, err := idx.Throughput(ctx, runID, bucket)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "FROM\tCOMPLETED\tDROPPED\tSTALLED (MEAN)")
			for _, b := range buckets {
				fmt.Fprintf(tw, "%d\t%d\t%d\t%.2f\n", b.FromTick, b.Completed, b.Dropped, b.StalledMean)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if controls {
				rows, err := idx.Controls(ctx, runID)
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				fmt.Fprintln(tw, "TICK\tOP\tSTATION\tRESULT")
				for _, c := range rows {
					result := fmt.Sprintf("active=%t", c.Active)
					if c.Op == "DRAIN" {
						result = fmt.Sprintf("drained=%d", c.Drained)
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.Tick, c.Op, c.StationID, result)
				}
				return tw.Flush()
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&bucket, "bucket", 600, "Ticks per throughput row")
	cmd.Flags().BoolVar(&controls, "controls", false, "Also list toggles and drains")
	return cmd
}
