// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"fmt"

	"github.com/curioloop/nlpadapt/cmap"
)

// Status tells how a run ended.
type Status uint8

const (
	// StatusConverged means the kernel reported convergence.
	StatusConverged Status = iota
	// StatusStopped means the kernel finished without converging.
	StatusStopped
	// StatusBudgetExhausted means a limit was reached and the result is the
	// last evaluated point, an approximation at best.
	StatusBudgetExhausted
)

func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusStopped:
		return "stopped"
	case StatusBudgetExhausted:
		return "budget-exhausted"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Result is the outcome of a run in caller space.
type Result struct {
	RunID     string
	Status    Status
	Converged bool

	X         []float64 // The last evaluated point
	Objective float64   // NaN when nothing was evaluated
	// Constraints holds every caller constraint value at X, NaN when nothing was evaluated.
	Constraints cmap.Values

	Evaluations int // Number of model calls
	Cycles      int // Number of kernel iterations
	Reason      string
	// Discrepancy is the largest disagreement between entries of one constraint.
	Discrepancy float64
}
