// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"

	"github.com/spf13/cobra"

	"github.com/curioloop/nlpadapt/config"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nlpadapt",
		Short: "Solve bounded nonlinear programs through the SLSQP adapter",
		Long: `nlpadapt maps caller constraints with optional lower and upper bounds
onto the one-sided form of the SLSQP kernel and drives the kernel by
reverse communication.

Problems come from the built-in catalog (see "nlpadapt models") or from a
YAML or TOML deck that names a catalog model and overrides its settings.`,
		SilenceUsage: true,
	}
	// glog registers -v, -logtostderr and friends on the standard flag set
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	root.AddCommand(newSolveCmd(), newBatchCmd(), newMapCmd(), newModelsCmd(), newVersionCmd())
	return root
}

// deckFlags are shared by the commands that resolve a problem.
type deckFlags struct {
	model string
	split bool
}

func (f *deckFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "catalog model to use when no deck is given")
	cmd.Flags().BoolVar(&f.split, "split-equalities", false, "send equalities as pairs of inequalities")
}

// load reads the deck named by args, or builds one around the model flag.
// The deck is validated by the caller once its own overrides are applied.
func (f *deckFlags) load(cmd *cobra.Command, args []string) (*config.Deck, error) {
	var (
		d   *config.Deck
		err error
	)
	if len(args) > 0 {
		if d, err = config.Load(args[0]); err != nil {
			return nil, err
		}
		if cmd.Flags().Changed("model") {
			d.Model = f.model
		}
	} else {
		def := config.Default()
		def.Model = f.model
		d = &def
	}
	if cmd.Flags().Changed("split-equalities") {
		d.Kernel.SplitEqualities = f.split
	}
	return d, nil
}
