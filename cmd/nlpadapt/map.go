// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newMapCmd() *cobra.Command {
	f := &deckFlags{}
	cmd := &cobra.Command{
		Use:   "map [deck]",
		Short: "Print the kernel constraint map of a problem",
		Long: `Prints the entries the caller constraints are mapped to, in kernel order.
Each entry requires offset + multiplier × value ≤ 0, or = 0 for equalities.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := f.load(cmd, args)
			if err != nil {
				return err
			}
			if err := d.Validate(); err != nil {
				return err
			}
			s, err := d.Build()
			if err != nil {
				return err
			}
			dr, err := s.Driver()
			if err != nil {
				return err
			}

			m := dr.Map()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d entries, %d equalities, big bound %g\n", s.Name, m.Len(), m.NumEquality(), m.BigBound())
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tSOURCE\tMULTIPLIER\tOFFSET\tKIND")
			for i, e := range m.All() {
				kind := "inequality"
				if e.Equality {
					kind = "equality"
				}
				// kernel indices are one-based
				fmt.Fprintf(tw, "%d\t%v\t%+g\t%g\t%s\n", i+1, e.Source, e.Multiplier, e.Offset, kind)
			}
			return tw.Flush()
		},
	}
	f.register(cmd)
	return cmd
}
