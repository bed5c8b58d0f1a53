// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	log "github.com/golang/glog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/curioloop/nlpadapt/cmap"
	"github.com/curioloop/nlpadapt/config"
	"github.com/curioloop/nlpadapt/driver"
)

type solveFlags struct {
	deckFlags
	maxEvaluations int
	speculative    bool
	format         string
	trace          bool
	metrics        bool
}

// report is the printed outcome of a solve.
type report struct {
	Model       string               `yaml:"model"`
	RunID       string               `yaml:"run_id"`
	Status      string               `yaml:"status"`
	Reason      string               `yaml:"reason"`
	Evaluations int                  `yaml:"evaluations"`
	Cycles      int                  `yaml:"cycles"`
	Iterations  int                  `yaml:"iterations"`
	X           []float64            `yaml:"x,flow"`
	Objective   float64              `yaml:"objective"`
	Constraints map[string][]float64 `yaml:"constraints,omitempty"`
	Discrepancy float64              `yaml:"discrepancy"`
}

func newSolveCmd() *cobra.Command {
	f := &solveFlags{}
	cmd := &cobra.Command{
		Use:   "solve [deck]",
		Short: "Solve a problem deck or a catalog model",
		Long: `Solves the problem described by a YAML or TOML deck. Without a deck the
catalog model named by --model is solved with default settings.

A run that spends its evaluation budget still prints the last evaluated
point, with status budget-exhausted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolve(cmd, args, f)
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&f.maxEvaluations, "max-evaluations", 0, "model evaluation budget, overrides the deck")
	cmd.Flags().BoolVar(&f.speculative, "speculative", false, "evaluate gradients along with every value request")
	cmd.Flags().StringVarP(&f.format, "output", "o", "text", "output format, text or yaml")
	cmd.Flags().BoolVar(&f.trace, "trace", false, "print the run span to stderr")
	cmd.Flags().BoolVar(&f.metrics, "metrics", false, "print the driver metrics to stderr after the run")
	return cmd
}

func runSolve(cmd *cobra.Command, args []string, f *solveFlags) (err error) {

	if f.format != "text" && f.format != "yaml" {
		return fmt.Errorf("unknown output format %q", f.format)
	}
	d, err := f.load(cmd, args)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-evaluations") {
		d.Driver.MaxEvaluations = f.maxEvaluations
	}
	if cmd.Flags().Changed("speculative") {
		d.Driver.Speculative = f.speculative
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

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if f.trace {
		shutdown, terr := startTracing(cmd.ErrOrStderr())
		if terr != nil {
			return terr
		}
		defer func() {
			if serr := shutdown(context.Background()); err == nil {
				err = serr
			}
		}()
	}
	if f.metrics {
		defer func() {
			if merr := writeMetrics(cmd.ErrOrStderr()); err == nil {
				err = merr
			}
		}()
	}

	res, err := dr.Run(ctx, s.X0)
	if err != nil {
		return fmt.Errorf("solve %s: %w", s.Name, err)
	}
	log.Infof("solved %s in %d evaluations: %v", s.Name, res.Evaluations, res.Status)

	r := newReport(s, res)
	if f.format == "yaml" {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(r)
	}
	return r.write(cmd.OutOrStdout())
}

func newReport(s *config.Setup, res *driver.Result) *report {
	r := &report{
		Model:       s.Name,
		RunID:       res.RunID,
		Status:      res.Status.String(),
		Reason:      res.Reason,
		Evaluations: res.Evaluations,
		Cycles:      res.Cycles,
		Iterations:  s.Kernel.Iterations(),
		X:           res.X,
		Objective:   res.Objective,
		Discrepancy: res.Discrepancy,
	}
	for _, kind := range cmap.DefaultOrder() {
		if v := res.Constraints.Group(kind); len(v) > 0 {
			if r.Constraints == nil {
				r.Constraints = make(map[string][]float64)
			}
			r.Constraints[kind.String()] = v
		}
	}
	return r
}

func (r *report) write(w io.Writer) error {
	_, err := fmt.Fprintf(w, "model:       %s\nrun:         %s\nstatus:      %s (%s)\nevaluations: %d in %d cycles, %d iterations\nobjective:   %.10g\nx:           %.10g\n",
		r.Model, r.RunID, r.Status, r.Reason, r.Evaluations, r.Cycles, r.Iterations, r.Objective, r.X)
	if err != nil {
		return err
	}
	for _, kind := range cmap.DefaultOrder() {
		if v, ok := r.Constraints[kind.String()]; ok {
			if _, err := fmt.Fprintf(w, "%-21s%.10g\n", kind.String()+":", v); err != nil {
				return err
			}
		}
	}
	return nil
}
