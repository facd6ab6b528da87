package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"factoryline.ai/internal/sim/factory"
)

func (a *app) newWhereCommand() *cobra.Command {
	var tree bool
	cmd := &cobra.Command{
		Use:   "where [x y]",
		Short: "Find the station at a grid position through the station index",
		Args: func(cmd *cobra.Command, args []string) error {
			if tree && len(args) == 0 {
				return nil
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.loadLine()
			if err != nil {
				return err
			}
			idx := l.factory.Index()
			out := cmd.OutOrStdout()
			if tree {
				for _, n := range idx.InOrder() {
					fmt.Fprintf(out, "%-4d %-20s %-8s parent=%d\n", n.ID, n.StationID, n.Pos, n.Parent)
				}
				return nil
			}

			x, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("x: %w", err)
			}
			y, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("y: %w", err)
			}
			pos := factory.Pos{X: x, Y: y}
			n, ok := idx.FindByPosition(pos)
			if !ok {
				fmt.Fprintf(out, "no station at %s\n", pos)
				return nil
			}
			st, _ := l.factory.Station(n.StationID)
			fmt.Fprintf(out, "%s %s at %s (node %d)\n", st.Kind(), st.ID(), pos, n.ID)
			for p := n.Parent; p != factory.NoNode; {
				pn, _ := idx.Node(p)
				fmt.Fprintf(out, "  under %s\n", pn.StationID)
				p = pn.Parent
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&tree, "tree", false, "List every indexed station in order instead")
	return cmd
}
