// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package driver runs an iterative kernel against a model by reverse
// communication.
//
// The driver owns the constraint map and the kernel workspace. Each cycle it
// asks the kernel for its next request, evaluates the model at the caller-space
// point, maps every value and gradient through the objective sense and the map
// entries, and writes them at the flat positions the kernel expects. The loop
// ends when the kernel is done or the evaluation budget is spent, after which
// the last completed evaluation is mapped back into caller space.
package driver

import (
	"errors"
	"fmt"
	"math"

	"github.com/curioloop/nlpadapt/cmap"
	"github.com/curioloop/nlpadapt/model"
)

var (
	// ErrEvaluation reports a failed or panicking model evaluation.
	ErrEvaluation = errors.New("model evaluation failed")
	// ErrKernel reports a kernel that failed or broke the protocol.
	ErrKernel = errors.New("kernel failure")
)

// DefaultMaxEvaluations bounds the number of model calls of a run.
const DefaultMaxEvaluations = 1000

// DefaultConsistency is the largest tolerated disagreement between the
// entries of one constraint before a warning is logged.
const DefaultConsistency = 1e-8

// Model evaluates the objective and the nonlinear constraints.
// Linear constraints are evaluated by the driver from their coefficients.
type Model interface {
	Evaluate(x []float64, req *model.Request, resp *model.Response) error
}

// Problem describes what a run optimizes in caller space.
type Problem struct {
	N            int       // The number of variables
	Lower, Upper []float64 // Variable bounds, nil when a side has no bounds
	Sense        cmap.Sense
	Constraints  cmap.Spec
}

// Options tune a run.
type Options struct {
	// MaxEvaluations bounds the number of model calls.
	MaxEvaluations int
	// Speculative requests every gradient along with the values so that a
	// following gradient request at the same point needs no model call.
	Speculative bool
	// Consistency is the tolerance of the split pair cross check.
	Consistency float64
}

// Option configures a Driver.
type Option func(*Options)

// WithMaxEvaluations bounds the number of model calls.
func WithMaxEvaluations(n int) Option {
	return func(o *Options) { o.MaxEvaluations = n }
}

// WithSpeculativeGradients enables speculative gradient evaluation.
func WithSpeculativeGradients(on bool) Option {
	return func(o *Options) { o.Speculative = on }
}

// WithConsistencyTolerance sets the split pair cross check tolerance.
func WithConsistencyTolerance(tol float64) Option {
	return func(o *Options) { o.Consistency = tol }
}

// Driver binds a problem to a kernel and a model.
// A Driver may run several times but never concurrently.
type Driver struct {
	problem Problem
	kernel  Kernel
	model   Model
	opts    Options
	caps    Capabilities
	cmap    *cmap.Map
	dims    model.Dims

	lower, upper []float64
}

// New validates the problem and builds its constraint map for the kernel.
// The model is never evaluated here.
func New(p Problem, k Kernel, m Model, opts ...Option) (*Driver, error) {

	d := &Driver{
		problem: p,
		kernel:  k,
		model:   m,
		opts: Options{
			MaxEvaluations: DefaultMaxEvaluations,
			Consistency:    DefaultConsistency,
		},
	}
	for _, opt := range opts {
		opt(&d.opts)
	}

	switch {
	case k == nil || m == nil:
		return nil, fmt.Errorf("%w: a kernel and a model are required", cmap.ErrConfig)
	case p.N <= 0:
		return nil, fmt.Errorf("%w: problem dimension %d must be positive", cmap.ErrConfig, p.N)
	case p.Lower != nil && len(p.Lower) != p.N:
		return nil, fmt.Errorf("%w: %d lower bounds for %d variables", cmap.ErrConfig, len(p.Lower), p.N)
	case p.Upper != nil && len(p.Upper) != p.N:
		return nil, fmt.Errorf("%w: %d upper bounds for %d variables", cmap.ErrConfig, len(p.Upper), p.N)
	case p.Constraints.N != 0 && p.Constraints.N != p.N:
		return nil, fmt.Errorf("%w: constraints declared over %d variables for %d", cmap.ErrConfig, p.Constraints.N, p.N)
	case d.opts.MaxEvaluations < 0:
		return nil, fmt.Errorf("%w: evaluation budget %d must not be negative", cmap.ErrConfig, d.opts.MaxEvaluations)
	case !(d.opts.Consistency >= 0):
		return nil, fmt.Errorf("%w: consistency tolerance %g must not be negative", cmap.ErrConfig, d.opts.Consistency)
	}

	spec := p.Constraints
	spec.N = p.N
	d.caps = k.Capabilities()
	cm, err := cmap.Build(spec, d.caps.Capabilities)
	if err != nil {
		return nil, err
	}
	d.cmap = cm
	d.problem.Constraints = spec
	d.dims = model.Dims{
		N:          p.N,
		Inequality: cm.Size(cmap.NonlinearInequality),
		Equality:   cm.Size(cmap.NonlinearEquality),
	}

	if s, ok := m.(model.Sized); ok && s.Dims() != d.dims {
		return nil, fmt.Errorf("%w: model dimensions %+v do not match problem dimensions %+v", cmap.ErrConfig, s.Dims(), d.dims)
	}

	tr := cm.Transformer()
	d.lower, d.upper = make([]float64, p.N), make([]float64, p.N)
	for i := range p.N {
		d.lower[i], d.upper[i] = math.Inf(-1), math.Inf(1)
		if p.Lower != nil && tr.Present(p.Lower[i]) {
			d.lower[i] = p.Lower[i]
		}
		if p.Upper != nil && tr.Present(p.Upper[i]) {
			d.upper[i] = p.Upper[i]
		}
		if d.lower[i] > d.upper[i] {
			return nil, fmt.Errorf("%w: variable %d has lower bound %g above upper bound %g", cmap.ErrConfig, i, d.lower[i], d.upper[i])
		}
	}
	return d, nil
}

// Map returns the constraint map built for the kernel.
func (d *Driver) Map() *cmap.Map { return d.cmap }

// Options returns the effective options.
func (d *Driver) Options() Options { return d.opts }

// Dims returns the model dimensions implied by the problem.
func (d *Driver) Dims() model.Dims { return d.dims }

func modelKey(src cmap.Source) (model.Key, bool) {
	switch src.Kind {
	case cmap.NonlinearInequality:
		return model.Key{Group: model.Inequality, Index: src.Index}, true
	case cmap.NonlinearEquality:
		return model.Key{Group: model.Equality, Index: src.Index}, true
	}
	return model.Key{}, false
}
