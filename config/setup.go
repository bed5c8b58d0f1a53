// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"math"
	"slices"

	"github.com/curioloop/nlpadapt/cmap"
	"github.com/curioloop/nlpadapt/driver"
	"github.com/curioloop/nlpadapt/kernel"
	"github.com/curioloop/nlpadapt/model"
	"github.com/curioloop/nlpadapt/numdiff"
	"github.com/curioloop/nlpadapt/slsqp"
)

// Setup is everything a deck resolves to.
type Setup struct {
	Name    string
	Problem driver.Problem
	Model   driver.Model
	Kernel  *kernel.SQP
	Options []driver.Option
	X0      []float64
	// Cache wraps the model when the deck asks for one.
	Cache *model.Cache
}

// Build resolves the catalog model of the deck and applies its overrides.
func (d *Deck) Build() (*Setup, error) {

	p, err := model.Lookup(d.Model)
	if err != nil {
		return nil, err
	}

	sense := cmap.Minimize
	if p.Maximize {
		sense = cmap.Maximize
	}
	if d.Sense != "" {
		if sense, err = cmap.ParseSense(d.Sense); err != nil {
			return nil, err
		}
	}

	n := p.Model.N
	x0, err := override("x0", p.X0, d.X0, n)
	if err != nil {
		return nil, err
	}
	lower, err := override("lower", p.Lower, d.Lower, n)
	if err != nil {
		return nil, err
	}
	upper, err := override("upper", p.Upper, d.Upper, n)
	if err != nil {
		return nil, err
	}

	c := d.Constraints
	spec := cmap.Spec{
		N:        n,
		BigBound: d.BigBound,
		NonlinearInequality: cmap.Inequalities{
			Lower: pick(p.InequalityLower, c.InequalityLower),
			Upper: pick(p.InequalityUpper, c.InequalityUpper),
		},
		NonlinearEquality: cmap.Equalities{Targets: pick(p.EqualityTargets, c.EqualityTargets)},
		LinearInequality: cmap.Inequalities{
			Lower:        slices.Clone(p.LinearLower),
			Upper:        slices.Clone(p.LinearUpper),
			Coefficients: slices.Clone(p.LinearInequality),
		},
		LinearEquality: cmap.Equalities{
			Targets:      slices.Clone(p.LinearTargets),
			Coefficients: slices.Clone(p.LinearEquality),
		},
	}
	for i, row := range c.Linear {
		if len(row.Coefficients) != n {
			return nil, fmt.Errorf("%w: linear row %d has %d coefficients for %d variables", cmap.ErrConfig, i, len(row.Coefficients), n)
		}
		if row.Target != nil {
			spec.LinearEquality.Targets = append(spec.LinearEquality.Targets, *row.Target)
			spec.LinearEquality.Coefficients = append(spec.LinearEquality.Coefficients, row.Coefficients)
			continue
		}
		spec.LinearInequality.Lower = append(spec.LinearInequality.Lower, orNaN(row.Lower))
		spec.LinearInequality.Upper = append(spec.LinearInequality.Upper, orNaN(row.Upper))
		spec.LinearInequality.Coefficients = append(spec.LinearInequality.Coefficients, row.Coefficients)
	}

	s := &Setup{
		Name: p.Name,
		Problem: driver.Problem{
			N:           n,
			Lower:       lower,
			Upper:       upper,
			Sense:       sense,
			Constraints: spec,
		},
		Kernel: &kernel.SQP{
			Stop:            slsqp.Termination{Accuracy: d.Kernel.Accuracy, MaxIterations: d.Kernel.MaxIterations},
			Line:            slsqp.LineSearch{Exact: d.Kernel.ExactLineSearch},
			SplitEqualities: d.Kernel.SplitEqualities,
		},
		Options: []driver.Option{
			driver.WithMaxEvaluations(d.Driver.MaxEvaluations),
			driver.WithSpeculativeGradients(d.Driver.Speculative),
			driver.WithConsistencyTolerance(d.Driver.Consistency),
		},
		X0: x0,
	}

	var m model.Evaluator = p.Model
	if d.Gradients.Method != "analytic" {
		method, err := numdiff.ParseMethod(d.Gradients.Method)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", cmap.ErrConfig, err)
		}
		m = model.NewFiniteDiff(p.Model, p.Model.Dims(),
			model.WithMethod(method),
			model.WithStep(d.Gradients.RelStep, d.Gradients.AbsStep),
			model.WithBounds(lower, upper))
	}
	if d.Gradients.Cache > 0 {
		s.Cache = model.NewCache(m, p.Model.Dims(), d.Gradients.Cache)
		m = s.Cache
	}
	s.Model = m
	return s, nil
}

// Driver builds the driver of a setup.
func (s *Setup) Driver() (*driver.Driver, error) {
	return driver.New(s.Problem, s.Kernel, s.Model, s.Options...)
}

func override(name string, base, v []float64, n int) ([]float64, error) {
	if v == nil {
		return slices.Clone(base), nil
	}
	if len(v) != n {
		return nil, fmt.Errorf("%w: %s has %d components for %d variables", cmap.ErrConfig, name, len(v), n)
	}
	return slices.Clone(v), nil
}

func pick(base, v []float64) []float64 {
	if v != nil {
		return slices.Clone(v)
	}
	return slices.Clone(base)
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
