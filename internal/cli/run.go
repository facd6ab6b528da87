package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"factoryline.ai/internal/observerproto"
	"factoryline.ai/internal/persistence/indexdb"
	"factoryline.ai/internal/sim/engine"
	"factoryline.ai/internal/sim/factory"
)

func (a *app) newRunCommand() *cobra.Command {
	var (
		ticks      int
		drainEvery int
		record     bool
		runID      string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Advance the line for a number of ticks without a clock",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ticks <= 0 {
				return fmt.Errorf("--ticks must be positive")
			}
			if drainEvery < 0 {
				return fmt.Errorf("--drain-every must not be negative")
			}
			l, err := a.loadLine()
			if err != nil {
				return err
			}
			e := engine.New(l.factory, engine.Config{
				TickRateHz:         l.tune.TickRateHz,
				SnapshotEveryTicks: l.tune.SnapshotEveryTicks,
				RunID:              runID,
			}, nil)

			if record {
				idx, err := indexdb.OpenSQLite(a.settings.IndexDB)
				if err != nil {
					return err
				}
				defer idx.Close()
				if err := idx.RecordRun(cmd.Context(), e.RunID(), time.Now(), l.spec, a.settings.ConfigsDir, l.cats, l.tune); err != nil {
					return err
				}
				e.AddSink(idx)
			}

			outputs := outputStations(l.factory)
			var drained uint64
			for i := 1; i <= ticks; i++ {
				var ctrls []observerproto.Control
				if drainEvery > 0 && i%drainEvery == 0 {
					for _, id := range outputs {
						ctrls = append(ctrls, observerproto.Control{Op: engine.OpDrain, StationID: id})
					}
				}
				rec, err := e.StepOnce(ctrls)
				if err != nil {
					return err
				}
				for _, c := range rec.Controls {
					drained += c.Drained
				}
			}

			stats := l.factory.Stats()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					RunID   string        `json:"run_id"`
					Digest  string        `json:"digest"`
					Drained uint64        `json:"drained"`
					Stats   factory.Stats `json:"stats"`
				}{e.RunID(), l.factory.Digest(), drained, stats})
			}

			fmt.Fprintf(out, "run %s: %d ticks of %q\n", e.RunID(), stats.Tick, l.spec.Name)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STATION\tKIND\tACTIVE\tIN\tOUT\tSTALLED")
			for _, st := range l.factory.Stations() {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%d/%d\t%d/%d\t%d\n",
					st.ID(), st.Kind(), st.Active(), st.InputLen(), st.InputCap(), st.OutputLen(), st.OutputCap(), st.StallTicks())
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "emitted %d  dropped %d  discarded %d  in flight %d\n", stats.Emitted, stats.Dropped, stats.Discarded, stats.InFlight)
			fmt.Fprintf(out, "products completed %d  pending %d  drained %d\n", stats.ProductsCompleted, stats.ProductsPending, drained)
			fmt.Fprintf(out, "digest %s\n", l.factory.Digest())
			return nil
		},
	}
	cmd.Flags().IntVar(&ticks, "ticks", 3600, "Ticks to simulate")
	cmd.Flags().IntVar(&drainEvery, "drain-every", 0, "Drain output stations every N ticks (0 never)")
	cmd.Flags().BoolVar(&record, "record", false, "Record the run in the index database")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run id (default: random uuid)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the final stats as JSON")
	return cmd
}

func outputStations(f *factory.Factory) []string {
	var ids []string
	for _, st := range f.Stations() {
		if st.Kind() == factory.KindOutput {
			ids = append(ids, st.ID())
		}
	}
	return ids
}
