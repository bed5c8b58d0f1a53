// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/curioloop/nlpadapt/numdiff"
)

func TestFuncSelective(t *testing.T) {

	p, err := Lookup("hs071")
	if err != nil {
		t.Fatal(err)
	}
	d := p.Model.Dims()
	if d != (Dims{N: 4, Inequality: 1, Equality: 1}) {
		t.Fatalf("Dims() = %+v", d)
	}

	req, resp := NewRequest(d), NewResponse(d)
	resp.Inequality[0] = -1
	req.Objective = NeedBoth
	req.Equality[0] = NeedValue

	x := []float64{1, 5, 5, 1}
	if err := p.Model.Evaluate(x, req, resp); err != nil {
		t.Fatal(err)
	}

	if resp.Objective != 16 || resp.Equality[0] != 52 {
		t.Errorf("values = %g, %g, want 16, 52", resp.Objective, resp.Equality[0])
	}
	if resp.Inequality[0] != -1 {
		t.Errorf("unrequested inequality was overwritten with %g", resp.Inequality[0])
	}
	want := []float64{12, 1, 2, 11}
	if diff := cmp.Diff(want, resp.ObjectiveGradient); diff != "" {
		t.Errorf("objective gradient returned unexpected diff (-want+got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 0, 0, 0}, resp.EqualityGradient[0]); diff != "" {
		t.Errorf("unrequested gradient was written (-want+got):\n%s", diff)
	}
}

func TestCheck(t *testing.T) {
	d := Dims{N: 2, Inequality: 1}
	if err := Check(d, NewRequest(Dims{N: 2}), NewResponse(d)); !errors.Is(err, ErrModel) {
		t.Errorf("request shape err = %v, want ErrModel", err)
	}
	req := NewRequest(d)
	req.Inequality[0] = NeedGradient
	resp := NewResponse(d)
	resp.InequalityGradient[0] = resp.InequalityGradient[0][:1]
	if err := Check(d, req, resp); !errors.Is(err, ErrModel) {
		t.Errorf("gradient shape err = %v, want ErrModel", err)
	}
	if _, err := Lookup("sphere"); !errors.Is(err, ErrModel) {
		t.Errorf("Lookup(sphere) err = %v, want ErrModel", err)
	}
}

func TestRequest(t *testing.T) {
	req := NewRequest(Dims{N: 3, Inequality: 2, Equality: 1})
	if !req.Empty() {
		t.Fatal("new request is not empty")
	}
	req.Set(Key{Equality, 0}, NeedGradient)
	if req.Any(NeedValue) || !req.Any(NeedGradient) {
		t.Errorf("Any() disagrees with %v", req)
	}
	req.All(NeedValue)
	var got []Need
	for _, n := range req.Needs() {
		got = append(got, n)
	}
	if diff := cmp.Diff([]Need{NeedValue, NeedValue, NeedValue, NeedBoth}, got); diff != "" {
		t.Errorf("Needs() returned unexpected diff (-want+got):\n%s", diff)
	}
	if req.String() != "f:v ineq:[v v] eq:[vg]" {
		t.Errorf("String() = %q", req.String())
	}
}

// valueOnly hides the gradients of a model and records its requests.
type valueOnly struct {
	model    Evaluator
	requests int
	t        *testing.T
}

func (v *valueOnly) Evaluate(x []float64, req *Request, resp *Response) error {
	v.requests++
	if req.Any(NeedGradient) {
		v.t.Fatalf("value-only model received %v", req)
	}
	return v.model.Evaluate(x, req, resp)
}

func TestFiniteDiff(t *testing.T) {

	p, _ := Lookup("hs071")
	d := p.Model.Dims()
	x := []float64{1.5, 4.5, 3.8, 1.4}

	exact := NewResponse(d)
	all := NewRequest(d)
	all.All(NeedBoth)
	if err := p.Model.Evaluate(x, all, exact); err != nil {
		t.Fatal(err)
	}

	for _, method := range []numdiff.Method{numdiff.Forward, numdiff.Central} {
		inner := &valueOnly{model: p.Model, t: t}
		fd := NewFiniteDiff(inner, d, WithMethod(method), WithBounds(p.Lower, p.Upper))

		resp := NewResponse(d)
		if err := fd.Evaluate(x, all, resp); err != nil {
			t.Fatal(err)
		}
		tol := 1e-5
		if method == numdiff.Central {
			tol = 1e-7
		}
		approx := cmpopts.EquateApprox(tol, tol)
		if diff := cmp.Diff(exact, resp, approx); diff != "" {
			t.Errorf("%v: finite differences returned unexpected diff (-want+got):\n%s", method, diff)
		}
		// one value request plus the stencil
		stencil := 1 + d.N*(int(method)+1)
		if inner.requests != 1+stencil {
			t.Errorf("%v: model called %d times, want %d", method, inner.requests, 1+stencil)
		}
	}
}

func TestFiniteDiffOnBound(t *testing.T) {

	p, _ := Lookup("textbook")
	d := p.Model.Dims()
	x := []float64{0.5, 0.5}

	req := NewRequest(d)
	req.Inequality[1] = NeedGradient
	resp := NewResponse(d)

	fd := NewFiniteDiff(p.Model, d, WithMethod(numdiff.Central), WithBounds(p.Lower, p.Upper))
	if err := fd.Evaluate(x, req, resp); err != nil {
		t.Fatal(err)
	}
	want := []float64{-0.5, 1}
	if diff := cmp.Diff(want, resp.InequalityGradient[1], cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("gradient on the bound returned unexpected diff (-want+got):\n%s", diff)
	}
	if resp.Inequality[1] != 0 || resp.Objective != 0 {
		t.Error("values were written without being requested")
	}
}

func TestFiniteDiffError(t *testing.T) {
	failure := errors.New("solver diverged")
	d := Dims{N: 2}
	calls := 0
	m := EvaluatorFunc(func(x []float64, req *Request, resp *Response) error {
		if calls++; calls > 2 {
			return failure
		}
		resp.Objective = x[0] + x[1]
		return nil
	})
	req := NewRequest(d)
	req.Objective = NeedBoth
	if err := NewFiniteDiff(m, d).Evaluate([]float64{1, 1}, req, NewResponse(d)); !errors.Is(err, failure) {
		t.Errorf("Evaluate() err = %v, want %v", err, failure)
	}
}

func TestCache(t *testing.T) {

	p, _ := Lookup("rosenbrock")
	d := p.Model.Dims()
	calls := 0
	var last *Request
	m := EvaluatorFunc(func(x []float64, req *Request, resp *Response) error {
		calls++
		last = req.Clone()
		return p.Model.Evaluate(x, req, resp)
	})
	c := NewCache(m, d, 2)

	values := NewRequest(d)
	values.All(NeedValue)
	both := NewRequest(d)
	both.All(NeedBoth)

	x := []float64{0.3, -0.2}
	resp := NewResponse(d)
	if err := c.Evaluate(x, values, resp); err != nil {
		t.Fatal(err)
	}
	first := resp.Objective

	// only the gradients are missing at the same point
	resp = NewResponse(d)
	if err := c.Evaluate(x, both, resp); err != nil {
		t.Fatal(err)
	}
	if calls != 2 || last.Any(NeedValue) {
		t.Fatalf("calls = %d last = %v, want a gradient-only second call", calls, last)
	}
	if resp.Objective != first {
		t.Errorf("cached objective %g, want %g", resp.Objective, first)
	}

	if err := c.Evaluate(x, both, NewResponse(d)); err != nil {
		t.Fatal(err)
	}
	if calls != 2 || c.Hits != 1 || c.Misses != 2 {
		t.Errorf("calls/hits/misses = %d/%d/%d, want 2/1/2", calls, c.Hits, c.Misses)
	}

	// two new points evict the first
	for _, y := range [][]float64{{0, 0}, {0.5, 0.5}} {
		if err := c.Evaluate(y, values, NewResponse(d)); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if err := c.Evaluate(x, values, NewResponse(d)); err != nil {
		t.Fatal(err)
	}
	if calls != 5 {
		t.Errorf("calls = %d, want 5 after eviction", calls)
	}
}

func TestCacheRecency(t *testing.T) {

	p, _ := Lookup("rosenbrock")
	d := p.Model.Dims()
	calls := 0
	m := EvaluatorFunc(func(x []float64, req *Request, resp *Response) error {
		calls++
		return p.Model.Evaluate(x, req, resp)
	})
	c := NewCache(m, d, 2)

	values := NewRequest(d)
	values.All(NeedValue)

	// the hit on 1 keeps it cached while 3 evicts 2
	for _, v := range []float64{1, 2, 1, 3, 1} {
		if err := c.Evaluate([]float64{v, v}, values, NewResponse(d)); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 3 || c.Hits != 2 {
		t.Errorf("calls/hits = %d/%d, want 3/2", calls, c.Hits)
	}
}

func TestCatalog(t *testing.T) {
	if diff := cmp.Diff([]string{"dome", "hs071", "rosenbrock", "textbook"}, Names()); diff != "" {
		t.Errorf("Names() returned unexpected diff (-want+got):\n%s", diff)
	}
	for _, name := range Names() {
		p, err := Lookup(name)
		if err != nil {
			t.Fatal(err)
		}
		d := p.Model.Dims()
		switch {
		case len(p.X0) != d.N || len(p.Lower) != d.N || len(p.Upper) != d.N:
			t.Errorf("%s: variable arrays do not match %d variables", name, d.N)
		case len(p.InequalityLower) != d.Inequality || len(p.InequalityUpper) != d.Inequality:
			t.Errorf("%s: inequality bounds do not match %d constraints", name, d.Inequality)
		case len(p.EqualityTargets) != d.Equality:
			t.Errorf("%s: equality targets do not match %d constraints", name, d.Equality)
		}
		c := p.Clone()
		c.X0[0] = math.Pi
		if p.X0[0] == math.Pi {
			t.Errorf("%s: Clone() shares its starting point", name)
		}
	}
}
