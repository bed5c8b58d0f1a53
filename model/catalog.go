// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"fmt"
	"math"
	"slices"
	"sort"
)

// Problem is a ready-to-solve catalog entry: a model with its variable
// bounds, constraint bounds and a starting point.
type Problem struct {
	Name        string
	Description string
	Model       *Func
	Maximize    bool

	X0, Lower, Upper []float64

	// Nonlinear constraint bounds, NaN or ±Inf when absent.
	InequalityLower, InequalityUpper []float64
	EqualityTargets                  []float64

	// Linear constraints, one coefficient row per constraint.
	LinearInequality         [][]float64
	LinearLower, LinearUpper []float64
	LinearEquality           [][]float64
	LinearTargets            []float64
}

var catalog = map[string]func() *Problem{
	"rosenbrock": rosenbrock,
	"textbook":   textbook,
	"hs071":      hs071,
	"dome":       dome,
}

// Names returns the catalog entries in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns a fresh copy of a catalog entry.
func Lookup(name string) (*Problem, error) {
	p, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown model %q, known models are %v", ErrModel, name, Names())
	}
	return p(), nil
}

// Rosenbrock's banana function restricted to the unit disk.
func rosenbrock() *Problem {
	inf := math.Inf(1)
	return &Problem{
		Name:        "rosenbrock",
		Description: "Rosenbrock function inside the unit disk, x₀² + x₁² ≤ 1",
		Model: &Func{
			N: 2,
			Objective: func(x, g []float64) float64 {
				a, b := x[1]-x[0]*x[0], 1-x[0]
				if g != nil {
					g[0] = -400*a*x[0] - 2*b
					g[1] = 200 * a
				}
				return 100*a*a + b*b
			},
			Inequality: []Function{
				func(x, g []float64) float64 {
					if g != nil {
						g[0], g[1] = 2*x[0], 2*x[1]
					}
					return x[0]*x[0] + x[1]*x[1]
				},
			},
		},
		X0:              []float64{0.1, 0.1},
		Lower:           []float64{-1, -1},
		Upper:           []float64{1, 1},
		InequalityLower: []float64{-inf},
		InequalityUpper: []float64{1},
	}
}

// The classic textbook problem with two parabolic constraints,
// optimum at the corner (½, ½).
func textbook() *Problem {
	inf := math.Inf(1)
	return &Problem{
		Name:        "textbook",
		Description: "Σ(xᵢ-1)⁴ subject to x₀² ≤ x₁/2 and x₁² ≤ x₀/2",
		Model: &Func{
			N: 2,
			Objective: func(x, g []float64) float64 {
				f := 0.0
				for i, v := range x {
					d := v - 1
					f += d * d * d * d
					if g != nil {
						g[i] = 4 * d * d * d
					}
				}
				return f
			},
			Inequality: []Function{
				func(x, g []float64) float64 {
					if g != nil {
						g[0], g[1] = 2*x[0], -0.5
					}
					return x[0]*x[0] - 0.5*x[1]
				},
				func(x, g []float64) float64 {
					if g != nil {
						g[0], g[1] = -0.5, 2*x[1]
					}
					return x[1]*x[1] - 0.5*x[0]
				},
			},
		},
		X0:              []float64{0.9, 1.1},
		Lower:           []float64{0.5, -2.9},
		Upper:           []float64{5.8, 2.9},
		InequalityLower: []float64{-inf, -inf},
		InequalityUpper: []float64{0, 0},
	}
}

// Hock-Schittkowski problem 71.
func hs071() *Problem {
	inf := math.Inf(1)
	return &Problem{
		Name:        "hs071",
		Description: "Hock-Schittkowski 71, x₀x₃(x₀+x₁+x₂)+x₂ with x₀x₁x₂x₃ ≥ 25 and Σxᵢ² = 40",
		Model: &Func{
			N: 4,
			Objective: func(x, g []float64) float64 {
				s := x[0] + x[1] + x[2]
				if g != nil {
					g[0] = x[3] * (x[0] + s)
					g[1] = x[0] * x[3]
					g[2] = x[0]*x[3] + 1
					g[3] = x[0] * s
				}
				return x[0]*x[3]*s + x[2]
			},
			Inequality: []Function{
				func(x, g []float64) float64 {
					if g != nil {
						g[0] = x[1] * x[2] * x[3]
						g[1] = x[0] * x[2] * x[3]
						g[2] = x[0] * x[1] * x[3]
						g[3] = x[0] * x[1] * x[2]
					}
					return x[0] * x[1] * x[2] * x[3]
				},
			},
			Equality: []Function{
				func(x, g []float64) float64 {
					s := 0.0
					for i, v := range x {
						s += v * v
						if g != nil {
							g[i] = 2 * v
						}
					}
					return s
				},
			},
		},
		X0:              []float64{1, 5, 5, 1},
		Lower:           []float64{1, 1, 1, 1},
		Upper:           []float64{5, 5, 5, 5},
		InequalityLower: []float64{25},
		InequalityUpper: []float64{inf},
		EqualityTargets: []float64{40},
	}
}

// A concave dome maximized over a half plane, exercising the objective
// sense and a linear constraint.
func dome() *Problem {
	inf := math.Inf(1)
	return &Problem{
		Name:        "dome",
		Description: "maximize 3-(x₀-1)²-(x₁-2)² subject to x₀+x₁ ≤ 2",
		Maximize:    true,
		Model: &Func{
			N: 2,
			Objective: func(x, g []float64) float64 {
				a, b := x[0]-1, x[1]-2
				if g != nil {
					g[0], g[1] = -2*a, -2*b
				}
				return 3 - a*a - b*b
			},
		},
		X0:               []float64{0, 0},
		Lower:            []float64{-10, -10},
		Upper:            []float64{10, 10},
		LinearInequality: [][]float64{{1, 1}},
		LinearLower:      []float64{-inf},
		LinearUpper:      []float64{2},
	}
}

// Clone returns a deep copy sharing only the model closures.
func (p *Problem) Clone() *Problem {
	c := *p
	c.X0, c.Lower, c.Upper = slices.Clone(p.X0), slices.Clone(p.Lower), slices.Clone(p.Upper)
	c.InequalityLower, c.InequalityUpper = slices.Clone(p.InequalityLower), slices.Clone(p.InequalityUpper)
	c.EqualityTargets = slices.Clone(p.EqualityTargets)
	c.LinearLower, c.LinearUpper, c.LinearTargets = slices.Clone(p.LinearLower), slices.Clone(p.LinearUpper), slices.Clone(p.LinearTargets)
	c.LinearInequality, c.LinearEquality = cloneRows(p.LinearInequality), cloneRows(p.LinearEquality)
	return &c
}

func cloneRows(rows [][]float64) [][]float64 {
	if rows == nil {
		return nil
	}
	c := make([][]float64, len(rows))
	for i, r := range rows {
		c[i] = slices.Clone(r)
	}
	return c
}
