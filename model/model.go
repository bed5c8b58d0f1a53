// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package model defines the evaluation boundary between the adapter and a
// user model, together with a few evaluators that are convenient for tests
// and for the command line tool.
//
// A model exposes one objective and two groups of nonlinear constraints,
// inequalities and equalities. Linear constraints never reach the model.
package model

import (
	"errors"
	"fmt"
	"iter"
	"slices"
)

// ErrModel reports a malformed request or response.
var ErrModel = errors.New("model error")

// Need marks which quantities of one response are requested.
type Need uint8

const (
	NeedValue Need = 1 << iota
	NeedGradient

	NeedBoth = NeedValue | NeedGradient
)

// Value reports whether the value is requested.
func (n Need) Value() bool { return n&NeedValue != 0 }

// Gradient reports whether the gradient is requested.
func (n Need) Gradient() bool { return n&NeedGradient != 0 }

func (n Need) String() string {
	switch n {
	case 0:
		return "-"
	case NeedValue:
		return "v"
	case NeedGradient:
		return "g"
	case NeedBoth:
		return "vg"
	}
	return fmt.Sprintf("need(%d)", uint8(n))
}

// Dims holds the number of variables and nonlinear constraints of a model.
type Dims struct {
	N          int
	Inequality int
	Equality   int
}

// Sized is implemented by models that know their own dimensions.
type Sized interface {
	Dims() Dims
}

// Request describes one evaluation: the objective first, then each nonlinear
// inequality, then each nonlinear equality.
type Request struct {
	Objective  Need
	Inequality []Need
	Equality   []Need
}

// NewRequest allocates an empty request for the given dimensions.
func NewRequest(d Dims) *Request {
	return &Request{
		Inequality: make([]Need, d.Inequality),
		Equality:   make([]Need, d.Equality),
	}
}

// Clear drops every need.
func (r *Request) Clear() {
	r.Objective = 0
	clear(r.Inequality)
	clear(r.Equality)
}

// All marks every response with n.
func (r *Request) All(n Need) {
	r.Objective |= n
	for i := range r.Inequality {
		r.Inequality[i] |= n
	}
	for i := range r.Equality {
		r.Equality[i] |= n
	}
}

// Any reports whether some response asks for n.
func (r *Request) Any(n Need) bool {
	if r.Objective&n != 0 {
		return true
	}
	for _, q := range r.Inequality {
		if q&n != 0 {
			return true
		}
	}
	for _, q := range r.Equality {
		if q&n != 0 {
			return true
		}
	}
	return false
}

// Empty reports whether nothing is requested.
func (r *Request) Empty() bool {
	return !r.Any(NeedBoth)
}

// Key identifies one response: the objective (Index 0) or a constraint.
type Key struct {
	Group Group
	Index int
}

// Needs iterates over every response in canonical order: the objective,
// then the inequalities, then the equalities.
func (r *Request) Needs() iter.Seq2[Key, Need] {
	return func(yield func(Key, Need) bool) {
		if !yield(Key{Objective, 0}, r.Objective) {
			return
		}
		for i, n := range r.Inequality {
			if !yield(Key{Inequality, i}, n) {
				return
			}
		}
		for i, n := range r.Equality {
			if !yield(Key{Equality, i}, n) {
				return
			}
		}
	}
}

// Get returns the need of one response.
func (r *Request) Get(k Key) Need {
	switch k.Group {
	case Inequality:
		return r.Inequality[k.Index]
	case Equality:
		return r.Equality[k.Index]
	}
	return r.Objective
}

// Set replaces the need of one response.
func (r *Request) Set(k Key, n Need) {
	switch k.Group {
	case Inequality:
		r.Inequality[k.Index] = n
	case Equality:
		r.Equality[k.Index] = n
	default:
		r.Objective = n
	}
}

func (r *Request) String() string {
	return fmt.Sprintf("f:%v ineq:%v eq:%v", r.Objective, r.Inequality, r.Equality)
}

// Group identifies the objective or a nonlinear constraint group.
type Group uint8

const (
	Objective Group = iota
	Inequality
	Equality
)

func (k Key) String() string {
	if k.Group == Objective {
		return "objective"
	}
	return fmt.Sprintf("%v[%d]", k.Group, k.Index)
}

func (g Group) String() string {
	switch g {
	case Objective:
		return "objective"
	case Inequality:
		return "inequality"
	case Equality:
		return "equality"
	}
	return fmt.Sprintf("group(%d)", uint8(g))
}

// Response receives the requested values and gradients.
// Gradients are stored one column per response, each of length N.
// Entries that were not requested are left untouched.
type Response struct {
	Objective          float64
	ObjectiveGradient  []float64
	Inequality         []float64
	Equality           []float64
	InequalityGradient [][]float64
	EqualityGradient   [][]float64
}

// NewResponse allocates a response for the given dimensions.
func NewResponse(d Dims) *Response {
	cols := func(m int) [][]float64 {
		c := make([][]float64, m)
		for i := range c {
			c[i] = make([]float64, d.N)
		}
		return c
	}
	return &Response{
		ObjectiveGradient:  make([]float64, d.N),
		Inequality:         make([]float64, d.Inequality),
		Equality:           make([]float64, d.Equality),
		InequalityGradient: cols(d.Inequality),
		EqualityGradient:   cols(d.Equality),
	}
}

// Value returns the value of one response.
func (r *Response) Value(k Key) float64 {
	switch k.Group {
	case Inequality:
		return r.Inequality[k.Index]
	case Equality:
		return r.Equality[k.Index]
	}
	return r.Objective
}

// SetValue stores the value of one response.
func (r *Response) SetValue(k Key, v float64) {
	switch k.Group {
	case Inequality:
		r.Inequality[k.Index] = v
	case Equality:
		r.Equality[k.Index] = v
	default:
		r.Objective = v
	}
}

// Gradient returns the gradient column of one response.
func (r *Response) Gradient(k Key) []float64 {
	switch k.Group {
	case Inequality:
		return r.InequalityGradient[k.Index]
	case Equality:
		return r.EqualityGradient[k.Index]
	}
	return r.ObjectiveGradient
}

// Copy copies the responses selected by req from src into r.
func (r *Response) Copy(src *Response, req *Request) {
	for k, n := range req.Needs() {
		if n.Value() {
			r.SetValue(k, src.Value(k))
		}
		if n.Gradient() {
			copy(r.Gradient(k), src.Gradient(k))
		}
	}
}

// Check verifies that req and resp are shaped for d.
func Check(d Dims, req *Request, resp *Response) error {
	switch {
	case len(req.Inequality) != d.Inequality || len(req.Equality) != d.Equality:
		return fmt.Errorf("%w: request sized %d/%d for %d inequalities and %d equalities",
			ErrModel, len(req.Inequality), len(req.Equality), d.Inequality, d.Equality)
	case len(resp.Inequality) != d.Inequality || len(resp.Equality) != d.Equality:
		return fmt.Errorf("%w: response sized %d/%d for %d inequalities and %d equalities",
			ErrModel, len(resp.Inequality), len(resp.Equality), d.Inequality, d.Equality)
	}
	for k, n := range req.Needs() {
		if n.Gradient() && len(resp.Gradient(k)) != d.N {
			return fmt.Errorf("%w: %v gradient has %d components for %d variables",
				ErrModel, k, len(resp.Gradient(k)), d.N)
		}
	}
	return nil
}

// Evaluator computes the responses requested at x.
// Implementations must not retain x, req or resp.
type Evaluator interface {
	Evaluate(x []float64, req *Request, resp *Response) error
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(x []float64, req *Request, resp *Response) error

func (f EvaluatorFunc) Evaluate(x []float64, req *Request, resp *Response) error {
	return f(x, req, resp)
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	return &Request{
		Objective:  r.Objective,
		Inequality: slices.Clone(r.Inequality),
		Equality:   slices.Clone(r.Equality),
	}
}
