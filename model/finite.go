// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"fmt"
	"math"
	"slices"

	"github.com/curioloop/nlpadapt/numdiff"
)

// FiniteDiff serves gradient requests of a value-only model by finite
// differences. The wrapped model only ever receives value requests.
type FiniteDiff struct {
	model Evaluator
	dims  Dims

	spec numdiff.ApproxSpec
	keys []Key
	jac  []float64
	req  *Request
	resp *Response
}

// FiniteDiffOption configures a FiniteDiff.
type FiniteDiffOption func(*FiniteDiff)

// WithMethod selects forward or central differences.
func WithMethod(m numdiff.Method) FiniteDiffOption {
	return func(fd *FiniteDiff) { fd.spec.Method = m }
}

// WithStep sets the relative and absolute step sizes, zero selects the default.
func WithStep(rel, abs float64) FiniteDiffOption {
	return func(fd *FiniteDiff) { fd.spec.RelStep, fd.spec.AbsStep = rel, abs }
}

// WithBounds keeps the difference stencil inside lower ≤ 𝐱 ≤ upper.
// Bounds that are NaN or infinite are ignored.
func WithBounds(lower, upper []float64) FiniteDiffOption {
	return func(fd *FiniteDiff) {
		if lower == nil && upper == nil {
			fd.spec.Bounds = nil
			return
		}
		b := make([]numdiff.Bound, fd.dims.N)
		for i := range b {
			b[i] = numdiff.Bound{math.Inf(-1), math.Inf(1)}
			if i < len(lower) {
				b[i][0] = lower[i]
			}
			if i < len(upper) {
				b[i][1] = upper[i]
			}
		}
		fd.spec.Bounds = b
	}
}

// NewFiniteDiff wraps a value-only model of the given dimensions.
func NewFiniteDiff(m Evaluator, d Dims, opts ...FiniteDiffOption) *FiniteDiff {
	fd := &FiniteDiff{
		model: m,
		dims:  d,
		req:   NewRequest(d),
		resp:  NewResponse(d),
	}
	fd.spec.N = d.N
	for _, opt := range opts {
		opt(fd)
	}
	// a point evaluated on a bound may not step outside it
	fd.spec.NotChkBnd = true
	return fd
}

// Dims implements Sized.
func (fd *FiniteDiff) Dims() Dims { return fd.dims }

// Evaluate implements Evaluator.
func (fd *FiniteDiff) Evaluate(x []float64, req *Request, resp *Response) error {

	if err := Check(fd.dims, req, resp); err != nil {
		return err
	}

	fd.req.Clear()
	fd.keys = fd.keys[:0]
	for k, n := range req.Needs() {
		if n.Value() {
			fd.req.Set(k, NeedValue)
		}
		if n.Gradient() {
			fd.keys = append(fd.keys, k)
		}
	}

	if !fd.req.Empty() {
		if err := fd.model.Evaluate(x, fd.req, resp); err != nil {
			return err
		}
	}
	if len(fd.keys) == 0 {
		return nil
	}

	// the stencil only evaluates the responses being differentiated
	fd.req.Clear()
	for _, k := range fd.keys {
		fd.req.Set(k, NeedValue)
	}

	n, m := fd.dims.N, len(fd.keys)
	fd.spec.M = m
	fd.spec.Object = func(x, y []float64) error {
		if err := fd.model.Evaluate(x, fd.req, fd.resp); err != nil {
			return err
		}
		for j, k := range fd.keys {
			y[j] = fd.resp.Value(k)
		}
		return nil
	}
	if cap(fd.jac) < n*m {
		fd.jac = make([]float64, n*m)
	}
	fd.jac = fd.jac[:n*m]

	// numdiff perturbs its argument in place
	x0 := slices.Clone(x)
	if err := fd.spec.Diff(x0, fd.jac); err != nil {
		return fmt.Errorf("finite difference: %w", err)
	}
	for j, k := range fd.keys {
		copy(resp.Gradient(k), fd.jac[j*n:(j+1)*n])
	}
	return nil
}
