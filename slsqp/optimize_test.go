// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slsqp

import (
	"math"
	"reflect"
	"testing"
)

func almostEqual[T float64 | []float64](a, b T, tol float64) bool {
	equalWithinAbs := func(a, b float64) bool {
		return a == b || math.Abs(a-b) <= tol
	}
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Float64:
		return equalWithinAbs(any(a).(float64), any(b).(float64))
	case reflect.Slice:
		a, b := any(a).([]float64), any(b).([]float64)
		if len(a) != len(b) {
			return false
		}
		for i, a := range a {
			if !equalWithinAbs(a, b[i]) {
				return false
			}
		}
		return true
	default:
		panic("unknown type")
	}
}

// evaluation joins a function and its derivative into one Evaluation.
func evaluation(f func(x []float64) float64, d func(x, g []float64)) Evaluation {
	return func(x, g []float64) float64 {
		if g != nil {
			d(x, g)
		}
		return f(x)
	}
}

// Case Sources : https://github.com/jacobwilliams/slsqp/blob/master/test/slsqp_test.f90
func rosenbrock() Problem {
	return Problem{
		N: 2,
		Object: evaluation(
			func(x []float64) float64 {
				return 100.0*math.Pow(x[1]-math.Pow(x[0], 2), 2) + math.Pow(1.0-x[0], 2)
			},
			func(x, d []float64) {
				d[0] = -400.0*(x[1]-math.Pow(x[0], 2))*x[0] - 2.0*(1.0-x[0]) // ∂f/∂x1
				d[1] = 200.0 * (x[1] - math.Pow(x[0], 2))                    // ∂f/∂x2
			}),
		NeqCons: []Evaluation{evaluation(
			func(x []float64) float64 {
				return 1.0 - math.Pow(x[0], 2) - math.Pow(x[1], 2)
			},
			func(x, d []float64) {
				d[0] = -2.0 * x[0] // ∂c/∂x1
				d[1] = -2.0 * x[1] // ∂c/∂x2
			})},
		Stop:   Termination{Accuracy: 1e-8, MaxIterations: 50},
		Bounds: []Bound{{-1, 1}, {-1, 1}},
	}
}

func TestRosenbrock(t *testing.T) {

	p := rosenbrock()
	s, e := p.New()
	if e != nil {
		t.Fatal(e)
	}
	r := s.Fit([]float64{0.1, 0.1}, s.Init())

	wantX := []float64{0.7864151509718389, 0.6176983165954114}
	wantF := 0.0456748087191604

	switch {
	case !r.OK:
		t.Fatalf("TestRosenbrock: Not Converge (%v)", r.Status)
	case r.F > wantF+1e-8:
		t.Fatal("TestRosenbrock: Object Too Large")
	case !almostEqual(r.X, wantX, 1e-6):
		t.Fatalf("TestRosenbrock: Bad Solution %v", r.X)
	}
}

// Case Sources : https://github.com/jacobwilliams/slsqp/blob/master/test/slsqp_test_2.f90
func TestBasic(t *testing.T) {

	p := Problem{
		N: 3,
		Object: evaluation(
			func(x []float64) float64 { return x[0]*x[0] + x[1]*x[1] + x[2] },
			func(x, d []float64) { d[0], d[1], d[2] = 2*x[0], 2*x[1], 1 }),
		EqCons: []Evaluation{evaluation(
			func(x []float64) float64 { return x[0]*x[1] - x[2] },
			func(x, d []float64) { d[0], d[1], d[2] = x[1], x[0], -1 })},
		NeqCons: []Evaluation{evaluation(
			func(x []float64) float64 { return x[2] - 1 },
			func(x, d []float64) { d[0], d[1], d[2] = 0, 0, 1 })},
		Line:   LineSearch{Alpha: &Bound{Lower: 0.1, Upper: 0.5}},
		Stop:   Termination{Accuracy: 1e-7, MaxIterations: 50},
		Bounds: []Bound{{-10, 10}, {-10, 10}, {-10, 10}},
	}

	s, e := p.New()
	if e != nil {
		t.Fatal(e)
	}
	r := s.Fit([]float64{1, 2, 3}, s.Init())

	switch {
	case !r.OK:
		t.Fatalf("TestBasic: Not Converge (%v)", r.Status)
	case !almostEqual(r.F, 3, 1e-6):
		t.Fatalf("TestBasic: Object %g", r.F)
	case !almostEqual(r.X, []float64{1, 1, 1}, 1e-6):
		t.Fatalf("TestBasic: Bad Solution %v", r.X)
	}
}

// Case Sources : https://github.com/jacobwilliams/slsqp/blob/master/test/slsqp_test_71.f90
func TestProb71(t *testing.T) {

	p := Problem{
		N: 5,
		Object: evaluation(
			func(x []float64) float64 {
				return x[0]*x[3]*(x[0]+x[1]+x[2]) + x[2]
			},
			func(x, d []float64) {
				d[0] = x[3] * (2.0*x[0] + x[1] + x[2])
				d[1] = x[0] * x[3]
				d[2] = x[0]*x[3] + 1.0
				d[3] = x[0] * (x[0] + x[1] + x[2])
				d[4] = 0.0
			}),
		EqCons: []Evaluation{
			evaluation(
				func(x []float64) float64 { return x[0]*x[1]*x[2]*x[3] - x[4] - 25 },
				func(x, d []float64) {
					d[0] = x[1] * x[2] * x[3]
					d[1] = x[0] * x[2] * x[3]
					d[2] = x[0] * x[1] * x[3]
					d[3] = x[0] * x[1] * x[2]
					d[4] = -1
				}),
			evaluation(
				func(x []float64) float64 { return x[0]*x[0] + x[1]*x[1] + x[2]*x[2] + x[3]*x[3] - 40 },
				func(x, d []float64) {
					d[0], d[1], d[2], d[3], d[4] = 2*x[0], 2*x[1], 2*x[2], 2*x[3], 0
				}),
		},
		Stop:   Termination{Accuracy: 1e-8, MaxIterations: 50},
		Bounds: []Bound{{1, 5}, {1, 5}, {1, 5}, {1, 5}, {0, 1e10}},
	}

	s, e := p.New()
	if e != nil {
		t.Fatal(e)
	}
	r := s.Fit([]float64{1, 5, 5, 1, -24}, s.Init())

	wantX := []float64{1, 4.7429996586260321, 3.8211499562762130, 1.3794082970345380, 0}
	wantF := 17.0140172891520542

	switch {
	case !r.OK:
		t.Fatalf("TestProb71: Not Converge (%v)", r.Status)
	case r.F > wantF+1e-8:
		t.Fatal("TestProb71: Object Too Large")
	case !almostEqual(r.X, wantX, 1e-6):
		t.Fatalf("TestProb71: Bad Solution %v", r.X)
	}
}

// Case Sources : https://github.com/scipy/scipy/blob/main/scipy/optimize/tests/test_slsqp.py (test_bounds_clipping)
func TestBoundClip(t *testing.T) {

	obj := evaluation(
		func(x []float64) float64 { return (x[0] - 1) * (x[0] - 1) },
		func(x, d []float64) { d[0] = 2*x[0] - 2 })

	tests := []struct {
		init    float64
		bnd     []Bound
		desired float64
	}{
		{-3, []Bound{{math.NaN(), 0}}, 0},
		{5, []Bound{{2, math.NaN()}}, 2},
		{-0.5, []Bound{{-1, 0}}, 0},
		{0.5, []Bound{{1.5, 4}}, 1.5},
	}

	for _, tt := range tests {
		p := Problem{
			N:      1,
			Object: obj,
			Bounds: tt.bnd,
			Stop:   Termination{Accuracy: 1e-6, MaxIterations: 50},
		}
		s, e := p.New()
		if e != nil {
			t.Fatal(e)
		}
		r := s.Fit([]float64{tt.init}, s.Init())
		switch {
		case !r.OK:
			t.Fatalf("TestBoundClip(%g): Not Converge (%v)", tt.init, r.Status)
		case !almostEqual(r.X[0], tt.desired, 1e-6):
			t.Fatalf("TestBoundClip(%g): got %g want %g", tt.init, r.X[0], tt.desired)
		}
	}
}

// Case Sources : https://github.com/scipy/scipy/blob/main/scipy/optimize/tests/test_slsqp.py (test_inconsistent_inequalities)
func TestInconsistentCons(t *testing.T) {

	p := Problem{
		N: 2,
		Object: evaluation(
			func(x []float64) float64 { return -1*x[0] + 4*x[1] },
			func(x, d []float64) { d[0], d[1] = -1, 4 }),
		NeqCons: []Evaluation{
			evaluation(
				func(x []float64) float64 { return x[1] - x[0] - 1 },
				func(x, d []float64) { d[0], d[1] = -1, 1 }),
			evaluation(
				func(x []float64) float64 { return x[0] - x[1] },
				func(x, d []float64) { d[0], d[1] = 1, -1 }),
		},
		Stop:   Termination{Accuracy: 1e-6, MaxIterations: 50},
		Bounds: []Bound{{-5, 5}, {-5, 5}},
	}

	s, e := p.New()
	if e != nil {
		t.Fatal(e)
	}
	r := s.Fit([]float64{1, 5}, s.Init())
	if r.OK {
		t.Fatalf("TestInconsistentCons: converged to %v on inconsistent constraints", r.X)
	}
}

func TestEvaluationPanic(t *testing.T) {

	p := rosenbrock()
	p.Object = func(x, g []float64) float64 { panic("model failure") }

	s, e := p.New()
	if e != nil {
		t.Fatal(e)
	}
	r := s.Fit([]float64{0.1, 0.1}, s.Init())
	if r.OK || r.Status != BadArgument {
		t.Fatalf("status = %v, want %v", r.Status, BadArgument)
	}
}

// A session fed with the same functions must follow the exact path of Fit.
func TestSession(t *testing.T) {

	p := rosenbrock()
	fit, e := p.New()
	if e != nil {
		t.Fatal(e)
	}
	want := fit.Fit([]float64{0.1, 0.1}, fit.Init())

	obj, con := p.Object, p.NeqCons[0]
	rc := Problem{N: 2, Stop: p.Stop, Bounds: p.Bounds, Dims: &Dims{Neq: 1}}
	o, e := rc.New()
	if e != nil {
		t.Fatal(e)
	}

	ss := o.Start([]float64{0.1, 0.1}, o.Init())
	normal := make([]float64, 2)
	funcs, grads := 0, 0

	mode := ss.Next()
	for ; mode == NeedFunc || mode == NeedGrad; mode = ss.Next() {
		if mode == NeedFunc {
			funcs++
			ss.SetObjective(obj(ss.X(), nil))
			ss.SetConstraint(0, con(ss.X(), nil))
		} else {
			grads++
			obj(ss.X(), ss.Gradient())
			con(ss.X(), normal)
			ss.SetNormal(0, normal)
		}
	}

	got := ss.Result()
	switch {
	case mode != want.Status || got.Status != want.Status:
		t.Fatalf("status = %v/%v, want %v", mode, got.Status, want.Status)
	case !almostEqual(got.X, want.X, 0) || got.F != want.F:
		t.Fatalf("session ended at %v (%g), Fit at %v (%g)", got.X, got.F, want.X, want.F)
	case got.NumIter != want.NumIter:
		t.Fatalf("iterations = %d, want %d", got.NumIter, want.NumIter)
	case funcs < 2 || grads < 1:
		t.Fatalf("unexpected request counts %d/%d", funcs, grads)
	}

	if ss.Next() != want.Status {
		t.Error("a finished session must keep reporting its final status")
	}
}

func TestProblemCheck(t *testing.T) {

	obj := rosenbrock().Object
	stop := Termination{Accuracy: 1e-6, MaxIterations: 10}

	tests := []struct {
		name string
		p    Problem
	}{
		{"dimension", Problem{N: 0, Object: obj, Stop: stop}},
		{"objective", Problem{N: 1, Stop: stop}},
		{"dims with evaluations", Problem{N: 1, Object: obj, Stop: stop, Dims: &Dims{}}},
		{"negative dims", Problem{N: 1, Stop: stop, Dims: &Dims{Eq: -1}}},
		{"too many equalities", Problem{N: 1, Stop: stop, Dims: &Dims{Eq: 2}}},
		{"bound order", Problem{N: 1, Object: obj, Stop: stop, Bounds: []Bound{{2, 1}}}},
		{"iterations", Problem{N: 1, Object: obj, Stop: Termination{Accuracy: 1e-6}}},
	}
	for _, tt := range tests {
		if _, e := tt.p.New(); e == nil {
			t.Errorf("%s: New() succeeded", tt.name)
		}
	}

	if _, e := (&Problem{N: 2, Stop: stop, Dims: &Dims{Eq: 1, Neq: 3}}).New(); e != nil {
		t.Errorf("New() with dims: %v", e)
	}
}

func TestModeString(t *testing.T) {
	for mode, want := range map[sqpMode]string{
		OK:               "converged",
		NeedFunc:         "need functions",
		SQPExceedMaxIter: "iteration limit exceeded",
		sqpMode(42):      "mode(42)",
	} {
		if got := mode.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(mode), got, want)
		}
	}
}
