// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"fmt"

	"github.com/curioloop/nlpadapt/cmap"
)

// Request is the next action a kernel asks of the driver.
type Request uint8

const (
	// NeedFunctions asks for the objective and every entry value at the iterate.
	NeedFunctions Request = iota
	// NeedFunctionsAndGradients asks for every value and every gradient at the iterate.
	NeedFunctionsAndGradients
	// NeedActiveGradients asks for the objective gradient and the gradients of
	// the entries listed in Step.Active.
	NeedActiveGradients
	// Done ends the run, the iterate is the kernel's answer.
	Done
	// BudgetExhausted ends the run because a limit was reached.
	BudgetExhausted
)

func (r Request) String() string {
	switch r {
	case NeedFunctions:
		return "need-functions"
	case NeedFunctionsAndGradients:
		return "need-functions-and-gradients"
	case NeedActiveGradients:
		return "need-active-gradients"
	case Done:
		return "done"
	case BudgetExhausted:
		return "budget-exhausted"
	}
	return fmt.Sprintf("request(%d)", uint8(r))
}

// Step is the answer of one kernel iteration.
type Step struct {
	Request Request
	// Active lists the entries whose gradients are needed, in the kernel's
	// own index base. Only meaningful for NeedActiveGradients.
	Active []int
	// Converged tells a successful Done from a kernel giving up.
	Converged bool
	// Reason is a human readable account of why the kernel stopped.
	Reason string
}

// Capabilities describe the layout a kernel expects.
type Capabilities struct {
	cmap.Capabilities
	// IndexBase of the active indices reported in Step.Active.
	IndexBase int
}

// Layout is handed to a kernel once before the first iteration.
type Layout struct {
	N   int
	Map *cmap.Map
}

// Kernel is an iterative optimizer driven by reverse communication.
//
// Setup is called once per run with a workspace whose iterate and variable
// bounds are already initialized. Each Iterate call consumes the values the
// driver wrote for the previous request and returns the next request.
// A kernel must never retain the workspace beyond the run.
type Kernel interface {
	Capabilities() Capabilities
	Setup(l Layout, w *Workspace) error
	Iterate(w *Workspace) (Step, error)
}
