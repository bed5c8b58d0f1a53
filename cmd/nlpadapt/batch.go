// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"runtime"
	"text/tabwriter"

	log "github.com/golang/glog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/curioloop/nlpadapt/config"
	"github.com/curioloop/nlpadapt/driver"
)

func newBatchCmd() *cobra.Command {
	var jobs int
	cmd := &cobra.Command{
		Use:   "batch deck...",
		Short: "Solve several decks concurrently",
		Long: `Solves every deck with its own driver, at most --jobs at a time, and prints
one summary line per deck in the order given. The first deck that fails to
load or to run cancels the others.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args, jobs)
		},
	}
	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.NumCPU(), "number of decks solved at once")
	return cmd
}

type batchRow struct {
	model string
	res   *driver.Result
}

func runBatch(cmd *cobra.Command, paths []string, jobs int) error {

	if jobs < 1 {
		return fmt.Errorf("jobs must be positive, got %d", jobs)
	}

	rows := make([]batchRow, len(paths))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(jobs)
	for i, path := range paths {
		g.Go(func() error {
			d, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			s, err := d.Build()
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			dr, err := s.Driver()
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			res, err := dr.Run(ctx, s.X0)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			log.V(1).Infof("batch: %s solved %s: %v", path, s.Name, res.Status)
			rows[i] = batchRow{model: s.Name, res: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DECK\tMODEL\tSTATUS\tEVALUATIONS\tOBJECTIVE")
	for i, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%v\t%d\t%.10g\n", paths[i], r.model, r.res.Status, r.res.Evaluations, r.res.Objective)
	}
	return tw.Flush()
}
