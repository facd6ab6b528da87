package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check tuning, catalogs and layout, then build the line",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.loadLine()
			if err != nil {
				return err
			}
			st := l.factory.Stats()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "layout %q ok\n", l.spec.Name)
			fmt.Fprintf(out, "  stations:  %d\n", len(l.factory.Stations()))
			fmt.Fprintf(out, "  conveyors: %d\n", st.Conveyors)
			fmt.Fprintf(out, "  indexed:   %d\n", l.factory.Index().Len())
			fmt.Fprintf(out, "  digest:    %s\n", l.spec.Digest())
			return nil
		},
	}
}
