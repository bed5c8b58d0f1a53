// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/curioloop/nlpadapt/cmap"
	"github.com/curioloop/nlpadapt/driver"
	"github.com/curioloop/nlpadapt/kernel"
	"github.com/curioloop/nlpadapt/model"
	"github.com/curioloop/nlpadapt/numdiff"
	"github.com/curioloop/nlpadapt/slsqp"
)

var precise = slsqp.Termination{Accuracy: 1e-10, MaxIterations: 100}

func problem(p *model.Problem) driver.Problem {
	sense := cmap.Minimize
	if p.Maximize {
		sense = cmap.Maximize
	}
	return driver.Problem{
		N:     p.Model.N,
		Lower: p.Lower,
		Upper: p.Upper,
		Sense: sense,
		Constraints: cmap.Spec{
			NonlinearInequality: cmap.Inequalities{Lower: p.InequalityLower, Upper: p.InequalityUpper},
			NonlinearEquality:   cmap.Equalities{Targets: p.EqualityTargets},
			LinearInequality:    cmap.Inequalities{Lower: p.LinearLower, Upper: p.LinearUpper, Coefficients: p.LinearInequality},
			LinearEquality:      cmap.Equalities{Targets: p.LinearTargets, Coefficients: p.LinearEquality},
		},
	}
}

func solve(t *testing.T, name string, k *kernel.SQP, opts ...driver.Option) *driver.Result {
	t.Helper()
	p, err := model.Lookup(name)
	if err != nil {
		t.Fatal(err)
	}
	d, err := driver.New(problem(p), k, p.Model, opts...)
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Run(context.Background(), p.X0)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestTextbook(t *testing.T) {
	res := solve(t, "textbook", &kernel.SQP{Stop: precise})
	if !res.Converged {
		t.Fatalf("textbook did not converge: %s", res.Reason)
	}
	if diff := cmp.Diff([]float64{0.5, 0.5}, res.X, cmpopts.EquateApprox(0, 1e-5)); diff != "" {
		t.Errorf("textbook solution returned unexpected diff (-want+got):\n%s", diff)
	}
	if math.Abs(res.Objective-0.125) > 1e-6 {
		t.Errorf("textbook objective = %g, want 0.125", res.Objective)
	}
	if !strings.HasPrefix(res.Reason, "converged") {
		t.Errorf("Reason = %q", res.Reason)
	}
}

func TestHS071(t *testing.T) {
	res := solve(t, "hs071", &kernel.SQP{Stop: precise})
	if !res.Converged {
		t.Fatalf("hs071 did not converge: %s", res.Reason)
	}
	want := []float64{1, 4.74299964, 3.82114998, 1.37940829}
	if diff := cmp.Diff(want, res.X, cmpopts.EquateApprox(0, 1e-4)); diff != "" {
		t.Errorf("hs071 solution returned unexpected diff (-want+got):\n%s", diff)
	}
	if math.Abs(res.Objective-17.0140173) > 1e-4 {
		t.Errorf("hs071 objective = %g, want 17.0140173", res.Objective)
	}
	if eq := res.Constraints.NonlinearEquality[0]; math.Abs(eq-40) > 1e-6 {
		t.Errorf("equality constraint = %g, want 40", eq)
	}
	if ineq := res.Constraints.NonlinearInequality[0]; ineq < 25-1e-6 {
		t.Errorf("inequality constraint = %g, want at least 25", ineq)
	}
}

func TestRosenbrock(t *testing.T) {
	res := solve(t, "rosenbrock", &kernel.SQP{Stop: precise})
	if !res.Converged {
		t.Fatalf("rosenbrock did not converge: %s", res.Reason)
	}
	if diff := cmp.Diff([]float64{0.7864, 0.6177}, res.X, cmpopts.EquateApprox(0, 1e-3)); diff != "" {
		t.Errorf("rosenbrock solution returned unexpected diff (-want+got):\n%s", diff)
	}
	if math.Abs(res.Constraints.NonlinearInequality[0]-1) > 1e-6 {
		t.Errorf("disk constraint = %g, want active at 1", res.Constraints.NonlinearInequality[0])
	}
}

func TestMaximize(t *testing.T) {
	res := solve(t, "dome", &kernel.SQP{Stop: precise})
	if !res.Converged {
		t.Fatalf("dome did not converge: %s", res.Reason)
	}
	if diff := cmp.Diff([]float64{0.5, 1.5}, res.X, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("dome solution returned unexpected diff (-want+got):\n%s", diff)
	}
	if math.Abs(res.Objective-2.5) > 1e-6 {
		t.Errorf("dome objective = %g, want the maximum 2.5", res.Objective)
	}
	if math.Abs(res.Constraints.LinearInequality[0]-2) > 1e-6 {
		t.Errorf("linear constraint = %g, want 2", res.Constraints.LinearInequality[0])
	}
}

// nearest point to (1, 2) on the line x₀ + x₁ = 1
func line() (driver.Problem, *model.Func) {
	f := &model.Func{
		N: 2,
		Objective: func(x, g []float64) float64 {
			a, b := x[0]-1, x[1]-2
			if g != nil {
				g[0], g[1] = 2*a, 2*b
			}
			return a*a + b*b
		},
	}
	p := driver.Problem{
		N: 2,
		Constraints: cmap.Spec{
			LinearEquality: cmap.Equalities{Targets: []float64{1}, Coefficients: [][]float64{{1, 1}}},
		},
	}
	return p, f
}

func TestSplitEqualities(t *testing.T) {
	for _, split := range []bool{false, true} {
		p, f := line()
		d, err := driver.New(p, &kernel.SQP{Stop: precise, SplitEqualities: split}, f)
		if err != nil {
			t.Fatal(err)
		}
		wantLen, wantEq := 1, 1
		if split {
			wantLen, wantEq = 2, 0
		}
		if d.Map().Len() != wantLen || d.Map().NumEquality() != wantEq {
			t.Errorf("split=%v: map has %d entries and %d equalities", split, d.Map().Len(), d.Map().NumEquality())
		}

		res, err := d.Run(context.Background(), []float64{3, 3})
		if err != nil {
			t.Fatal(err)
		}
		if !res.Converged {
			t.Fatalf("split=%v: did not converge: %s", split, res.Reason)
		}
		if diff := cmp.Diff([]float64{0, 1}, res.X, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
			t.Errorf("split=%v: solution returned unexpected diff (-want+got):\n%s", split, diff)
		}
		if math.Abs(res.Constraints.LinearEquality[0]-1) > 1e-8 || res.Discrepancy > 1e-12 {
			t.Errorf("split=%v: equality %g with discrepancy %g", split, res.Constraints.LinearEquality[0], res.Discrepancy)
		}
	}
}

func TestFiniteDifferences(t *testing.T) {
	p, _ := model.Lookup("textbook")
	d := p.Model.Dims()
	values := model.EvaluatorFunc(func(x []float64, req *model.Request, resp *model.Response) error {
		if req.Any(model.NeedGradient) {
			return errors.New("gradient requested from a value-only model")
		}
		return p.Model.Evaluate(x, req, resp)
	})
	fd := model.NewFiniteDiff(values, d, model.WithMethod(numdiff.Central), model.WithBounds(p.Lower, p.Upper))

	dr, err := driver.New(problem(p), &kernel.SQP{Stop: precise}, fd)
	if err != nil {
		t.Fatal(err)
	}
	res, err := dr.Run(context.Background(), p.X0)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{0.5, 0.5}, res.X, cmpopts.EquateApprox(0, 1e-4)); diff != "" {
		t.Errorf("solution returned unexpected diff (-want+got):\n%s", diff)
	}
}

func TestIterationLimit(t *testing.T) {
	res := solve(t, "hs071", &kernel.SQP{Stop: slsqp.Termination{Accuracy: 1e-12, MaxIterations: 2}})
	if res.Status != driver.StatusBudgetExhausted || res.Converged {
		t.Errorf("Status = %v, want %v", res.Status, driver.StatusBudgetExhausted)
	}
	if !strings.HasPrefix(res.Reason, "iteration limit exceeded") {
		t.Errorf("Reason = %q", res.Reason)
	}
}

func TestEvaluationBudget(t *testing.T) {
	res := solve(t, "hs071", &kernel.SQP{Stop: precise}, driver.WithMaxEvaluations(5))
	if res.Status != driver.StatusBudgetExhausted || res.Evaluations != 5 {
		t.Errorf("Status = %v after %d evaluations, want %v after 5", res.Status, res.Evaluations, driver.StatusBudgetExhausted)
	}
	if len(res.X) != 4 || math.IsNaN(res.Objective) {
		t.Errorf("exhausted run did not report its last evaluation: %+v", res)
	}
}

func TestLayout(t *testing.T) {

	var s kernel.SQP
	caps := s.Capabilities()
	if caps.IndexBase != 1 || !caps.NativeNonlinearEquality || !caps.NativeLinearEquality {
		t.Errorf("Capabilities() = %+v", caps)
	}
	if _, err := s.Iterate(nil); err == nil {
		t.Error("Iterate() before Setup() did not fail")
	}

	spec := cmap.Spec{
		N:                   1,
		NonlinearInequality: cmap.Inequalities{Upper: []float64{1}},
		NonlinearEquality:   cmap.Equalities{Targets: []float64{0}},
	}
	m, err := cmap.Build(spec, cmap.Capabilities{
		Order:                   []cmap.Kind{cmap.NonlinearInequality, cmap.NonlinearEquality, cmap.LinearEquality, cmap.LinearInequality},
		NativeNonlinearEquality: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Setup(driver.Layout{N: 1, Map: m}, nil); !errors.Is(err, cmap.ErrInconsistent) {
		t.Errorf("Setup() with equalities after inequalities err = %v, want %v", err, cmap.ErrInconsistent)
	}
}
