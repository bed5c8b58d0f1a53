// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kernel adapts concrete optimizers to the driver protocol.
//
// Each shim owns the layout quirks of its optimizer: the group order and
// equality handling it declares through its capabilities, its sign
// convention, its array layout and the base of the active indices it reports.
package kernel

import (
	"fmt"
	"slices"

	"github.com/curioloop/nlpadapt/cmap"
	"github.com/curioloop/nlpadapt/driver"
	"github.com/curioloop/nlpadapt/slsqp"
)

// DefaultTermination is used when SQP.Stop is left empty.
var DefaultTermination = slsqp.Termination{
	Accuracy:      1e-6,
	MaxIterations: 100,
}

// SQP runs the SLSQP solver by reverse communication.
//
// SLSQP expects constraints 𝒄ⱼ(𝐱) ≥ 0 with every equality ahead of the
// inequalities, so the shim asks for the equality groups first and negates
// every entry value and gradient row on the way in. SLSQP needs all
// constraint normals at each iterate, so every entry is reported active
// using one-based indices.
type SQP struct {
	Stop slsqp.Termination
	Line slsqp.LineSearch
	// SplitEqualities sends each equality as two opposing inequalities
	// instead of a native equality row.
	SplitEqualities bool

	ss     *slsqp.Session
	n, m   int
	active []int
	last   driver.Request
	row    []float64
	iter   int
}

// Capabilities implements driver.Kernel.
func (s *SQP) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		Capabilities: cmap.Capabilities{
			Order: []cmap.Kind{
				cmap.NonlinearEquality, cmap.LinearEquality,
				cmap.NonlinearInequality, cmap.LinearInequality,
			},
			NativeNonlinearEquality: !s.SplitEqualities,
			NativeLinearEquality:    !s.SplitEqualities,
		},
		IndexBase: 1,
	}
}

// Setup implements driver.Kernel.
func (s *SQP) Setup(l driver.Layout, w *driver.Workspace) error {

	n, m, meq := l.N, l.Map.Len(), l.Map.NumEquality()
	for i, e := range l.Map.All() {
		if e.Equality != (i < meq) {
			return fmt.Errorf("%w: equality entries do not form a prefix of the map", cmap.ErrInconsistent)
		}
	}

	lower, upper := w.Lower(), w.Upper()
	bounds := make([]slsqp.Bound, n)
	for i := range bounds {
		bounds[i] = slsqp.Bound{Lower: lower[i], Upper: upper[i]}
	}

	stop := s.Stop
	if stop == (slsqp.Termination{}) {
		stop = DefaultTermination
	}

	p := slsqp.Problem{
		N:      n,
		Stop:   stop,
		Line:   s.Line,
		Bounds: bounds,
		BndInf: l.Map.BigBound(),
		Dims:   &slsqp.Dims{Eq: meq, Neq: m - meq},
	}
	opt, err := p.New()
	if err != nil {
		return fmt.Errorf("slsqp: %w", err)
	}

	s.n, s.m = n, m
	s.ss = opt.Start(w.X(), opt.Init())
	s.active = s.active[:0]
	for i := range m {
		s.active = append(s.active, i+1)
	}
	s.row = make([]float64, n)
	s.last = driver.Done
	return nil
}

// Iterate implements driver.Kernel.
func (s *SQP) Iterate(w *driver.Workspace) (driver.Step, error) {

	if s.ss == nil {
		return driver.Step{}, fmt.Errorf("slsqp: iterate before setup")
	}

	switch s.last {
	case driver.NeedFunctions:
		s.ss.SetObjective(w.Objective())
		for j := range s.m {
			s.ss.SetConstraint(j, -w.Constraint(j))
		}
	case driver.NeedActiveGradients:
		copy(s.ss.Gradient(), w.Gradient())
		for j := range s.m {
			for i, a := range w.Normal(j) {
				s.row[i] = -a
			}
			s.ss.SetNormal(j, s.row)
		}
	}

	mode := s.ss.Next()
	switch mode {
	case slsqp.NeedFunc:
		copy(w.X(), s.ss.X())
		s.last = driver.NeedFunctions
		return driver.Step{Request: driver.NeedFunctions}, nil
	case slsqp.NeedGrad:
		copy(w.X(), s.ss.X())
		s.last = driver.NeedActiveGradients
		return driver.Step{Request: driver.NeedActiveGradients, Active: slices.Clone(s.active)}, nil
	}

	s.last = driver.Done
	res := s.ss.Result()
	s.iter = res.NumIter
	copy(w.X(), res.X)
	reason := fmt.Sprintf("%v after %d iterations", mode, res.NumIter)
	switch mode {
	case slsqp.OK:
		return driver.Step{Request: driver.Done, Converged: true, Reason: reason}, nil
	case slsqp.SQPExceedMaxIter:
		return driver.Step{Request: driver.BudgetExhausted, Reason: reason}, nil
	}
	return driver.Step{Request: driver.Done, Reason: reason}, nil
}

// Iterations returns the number of SQP iterations of the last finished run.
func (s *SQP) Iterations() int { return s.iter }
