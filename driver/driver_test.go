// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/curioloop/nlpadapt/cmap"
	"github.com/curioloop/nlpadapt/model"
)

// frame is the workspace seen by a kernel at the start of an iteration.
type frame struct {
	X, G, C []float64
	F       float64
	A       [][]float64
}

// script is a kernel replaying a fixed list of steps, the last one repeating.
type script struct {
	caps   Capabilities
	steps  []Step
	move   func(i int, x []float64)
	setup  error
	fail   error
	x0     []float64
	frames []frame
}

func (s *script) Capabilities() Capabilities { return s.caps }

func (s *script) Setup(l Layout, w *Workspace) error {
	s.x0 = slices.Clone(w.X())
	return s.setup
}

func (s *script) Iterate(w *Workspace) (Step, error) {
	fr := frame{
		X: slices.Clone(w.X()), F: w.Objective(),
		G: slices.Clone(w.Gradient()), C: slices.Clone(w.Constraints()),
	}
	for i := range w.M() {
		fr.A = append(fr.A, slices.Clone(w.Normal(i)))
	}
	s.frames = append(s.frames, fr)
	if s.fail != nil {
		return Step{}, s.fail
	}
	i := len(s.frames) - 1
	if s.move != nil {
		s.move(i, w.X())
	}
	return s.steps[min(i, len(s.steps)-1)], nil
}

// recorder keeps a copy of every request a model receives.
type recorder struct {
	model  model.Evaluator
	reqs   []*model.Request
	points [][]float64
}

func (r *recorder) Evaluate(x []float64, req *model.Request, resp *model.Response) error {
	r.reqs = append(r.reqs, req.Clone())
	r.points = append(r.points, slices.Clone(x))
	return r.model.Evaluate(x, req, resp)
}

// mixed is a two variable problem touching every group:
//
//	NI₀ = x₀x₁ ∈ [-1, 4], NI₁ = x₀ + x₁² ≤ 3, NE₀ = x₀ - x₁ = ½, LI₀ = x₀ + 2x₁ ≤ 5
func mixed() (Problem, *model.Func) {
	m := &model.Func{
		N: 2,
		Objective: func(x, g []float64) float64 {
			if g != nil {
				g[0], g[1] = 2*x[0], 1
			}
			return x[0]*x[0] + x[1]
		},
		Inequality: []model.Function{
			func(x, g []float64) float64 {
				if g != nil {
					g[0], g[1] = x[1], x[0]
				}
				return x[0] * x[1]
			},
			func(x, g []float64) float64 {
				if g != nil {
					g[0], g[1] = 1, 2*x[1]
				}
				return x[0] + x[1]*x[1]
			},
		},
		Equality: []model.Function{
			func(x, g []float64) float64 {
				if g != nil {
					g[0], g[1] = 1, -1
				}
				return x[0] - x[1]
			},
		},
	}
	p := Problem{
		N:     2,
		Lower: []float64{-10, -10},
		Upper: []float64{10, 10},
		Constraints: cmap.Spec{
			NonlinearInequality: cmap.Inequalities{Lower: []float64{-1, math.NaN()}, Upper: []float64{4, 3}},
			NonlinearEquality:   cmap.Equalities{Targets: []float64{0.5}},
			LinearInequality:    cmap.Inequalities{Upper: []float64{5}, Coefficients: [][]float64{{1, 2}}},
		},
	}
	return p, m
}

var (
	nan    = math.NaN()
	nanRow = []float64{nan, nan}
	equate = cmpopts.EquateNaNs()
)

// values requested by a functions-only request of the mixed problem
var valueRequest = &model.Request{
	Objective:  model.NeedValue,
	Inequality: []model.Need{model.NeedValue, model.NeedValue},
	Equality:   []model.Need{model.NeedValue},
}

func TestActiveGradients(t *testing.T) {

	p, m := mixed()
	rec := &recorder{model: m}
	k := &script{
		caps: Capabilities{IndexBase: 1},
		steps: []Step{
			{Request: NeedFunctions},
			// flat 1 is the upper half of the split equality, flat 5 the linear row
			{Request: NeedActiveGradients, Active: []int{2, 6, 2}},
			{Request: Done, Converged: true, Reason: "scripted"},
		},
	}
	d, err := New(p, k, rec)
	if err != nil {
		t.Fatal(err)
	}
	if d.Map().Len() != 6 {
		t.Fatalf("map has %d entries, want 6", d.Map().Len())
	}

	res, err := d.Run(context.Background(), []float64{1, 2})
	if err != nil {
		t.Fatal(err)
	}

	wantReqs := []*model.Request{
		valueRequest,
		{Objective: model.NeedGradient, Inequality: []model.Need{0, 0}, Equality: []model.Need{model.NeedGradient}},
	}
	if diff := cmp.Diff(wantReqs, rec.reqs); diff != "" {
		t.Errorf("model requests returned unexpected diff (-want+got):\n%s", diff)
	}

	want := []frame{
		{
			X: []float64{1, 2}, F: nan, G: nanRow,
			C: []float64{nan, nan, nan, nan, nan, nan},
			A: [][]float64{nanRow, nanRow, nanRow, nanRow, nanRow, nanRow},
		},
		{
			X: []float64{1, 2}, F: 3, G: nanRow,
			C: []float64{1.5, -1.5, -3, -2, 2, 0},
			A: [][]float64{nanRow, nanRow, nanRow, nanRow, nanRow, nanRow},
		},
		{
			X: []float64{1, 2}, F: 3, G: []float64{2, 1},
			C: []float64{1.5, -1.5, -3, -2, 2, 0},
			A: [][]float64{{-1, 1}, {1, -1}, nanRow, nanRow, nanRow, {1, 2}},
		},
	}
	if diff := cmp.Diff(want, k.frames, equate); diff != "" {
		t.Errorf("workspace returned unexpected diff (-want+got):\n%s", diff)
	}

	wantRes := &Result{
		RunID:     res.RunID,
		Status:    StatusConverged,
		Converged: true,
		X:         []float64{1, 2},
		Objective: 3,
		Constraints: cmap.Values{
			NonlinearInequality: []float64{2, 5},
			NonlinearEquality:   []float64{-1},
			LinearInequality:    []float64{5},
			LinearEquality:      []float64{},
		},
		Evaluations: 2,
		Cycles:      3,
		Reason:      "scripted",
	}
	if diff := cmp.Diff(wantRes, res); diff != "" {
		t.Errorf("Run() returned unexpected diff (-want+got):\n%s", diff)
	}
	if res.RunID == "" {
		t.Error("run has no identifier")
	}
}

func TestSpeculativeGradients(t *testing.T) {

	p, m := mixed()
	rec := &recorder{model: m}
	k := &script{
		caps: Capabilities{IndexBase: 1},
		steps: []Step{
			{Request: NeedFunctions},
			{Request: NeedActiveGradients, Active: []int{3}},
			{Request: Done, Converged: true},
		},
	}
	d, err := New(p, k, rec, WithSpeculativeGradients(true))
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Run(context.Background(), []float64{1, 2})
	if err != nil {
		t.Fatal(err)
	}

	all := &model.Request{
		Objective:  model.NeedBoth,
		Inequality: []model.Need{model.NeedBoth, model.NeedBoth},
		Equality:   []model.Need{model.NeedBoth},
	}
	if diff := cmp.Diff([]*model.Request{all}, rec.reqs); diff != "" {
		t.Errorf("model requests returned unexpected diff (-want+got):\n%s", diff)
	}
	if res.Evaluations != 1 {
		t.Errorf("Evaluations = %d, want 1", res.Evaluations)
	}
	// both entries of the two-sided inequality are written, nothing else
	wantA := [][]float64{nanRow, nanRow, {-2, -1}, {2, 1}, nanRow, nanRow}
	if diff := cmp.Diff(wantA, k.frames[2].A, equate); diff != "" {
		t.Errorf("gradient rows returned unexpected diff (-want+got):\n%s", diff)
	}
}

func TestFunctionsAndGradients(t *testing.T) {

	p, m := mixed()
	p.Sense = cmap.Maximize
	k := &script{
		steps: []Step{
			{Request: NeedFunctionsAndGradients},
			{Request: Done, Converged: true},
		},
	}
	d, err := New(p, k, m)
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Run(context.Background(), []float64{1, 2})
	if err != nil {
		t.Fatal(err)
	}

	got := k.frames[1]
	if got.F != -3 {
		t.Errorf("kernel objective = %g, want -3", got.F)
	}
	if diff := cmp.Diff([]float64{-2, -1}, got.G); diff != "" {
		t.Errorf("kernel gradient returned unexpected diff (-want+got):\n%s", diff)
	}
	wantA := [][]float64{{-1, 1}, {1, -1}, {-2, -1}, {2, 1}, {1, 4}, {1, 2}}
	if diff := cmp.Diff(wantA, got.A); diff != "" {
		t.Errorf("gradient rows returned unexpected diff (-want+got):\n%s", diff)
	}
	if res.Objective != 3 {
		t.Errorf("Objective = %g, want 3 in caller sense", res.Objective)
	}
}

// scalar is x ∈ [0, 10] minimizing f(x) = x subject to g(x) = x ≤ 5.
func scalar() (Problem, *model.Func) {
	identity := func(x, g []float64) float64 {
		if g != nil {
			g[0] = 1
		}
		return x[0]
	}
	p := Problem{
		N:     1,
		Lower: []float64{0},
		Upper: []float64{10},
		Constraints: cmap.Spec{
			NonlinearInequality: cmap.Inequalities{Upper: []float64{5}},
		},
	}
	return p, &model.Func{N: 1, Objective: identity, Inequality: []model.Function{identity}}
}

func TestScalarScenario(t *testing.T) {

	p, m := scalar()
	k := &script{steps: []Step{{Request: NeedFunctions}, {Request: Done, Converged: true}}}
	d, err := New(p, k, m)
	if err != nil {
		t.Fatal(err)
	}

	e, err := d.Map().Entry(0)
	if err != nil {
		t.Fatal(err)
	}
	want := cmap.Entry{Source: cmap.Source{Kind: cmap.NonlinearInequality}, Multiplier: 1, Offset: -5}
	if d.Map().Len() != 1 || e != want {
		t.Fatalf("map is %d entries starting with %+v, want only %+v", d.Map().Len(), e, want)
	}

	res, err := d.Run(context.Background(), []float64{3})
	if err != nil {
		t.Fatal(err)
	}
	if c := k.frames[1].C; !slices.Equal(c, []float64{-2}) {
		t.Errorf("kernel constraint values = %v, want [-2]", c)
	}
	if res.Objective != 3 || res.Constraints.NonlinearInequality[0] != 3 {
		t.Errorf("Run() = %+v, want objective and constraint 3", res)
	}
}

func TestBudgetTermination(t *testing.T) {

	p, m := scalar()
	rec := &recorder{model: m}
	k := &script{
		steps: []Step{{Request: NeedFunctions}},
		move:  func(i int, x []float64) { x[0] = float64(i) },
	}
	d, err := New(p, k, rec, WithMaxEvaluations(3))
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Run(context.Background(), []float64{5})
	if err != nil {
		t.Fatal(err)
	}

	if len(rec.reqs) != 3 || res.Evaluations != 3 {
		t.Fatalf("model called %d times with %d evaluations, want 3", len(rec.reqs), res.Evaluations)
	}
	if res.Status != StatusBudgetExhausted || res.Converged {
		t.Errorf("Status = %v converged %v, want %v", res.Status, res.Converged, StatusBudgetExhausted)
	}
	if res.Cycles != 4 {
		t.Errorf("Cycles = %d, want 4", res.Cycles)
	}
	// the kernel moved on to 3 but the last completed evaluation was at 2
	if !slices.Equal(res.X, []float64{2}) || res.Objective != 2 {
		t.Errorf("Run() returned x=%v f=%g, want the last evaluated point 2", res.X, res.Objective)
	}
}

func TestKernelBudget(t *testing.T) {
	p, m := scalar()
	k := &script{steps: []Step{
		{Request: NeedFunctions},
		{Request: BudgetExhausted, Reason: "iteration limit exceeded"},
	}}
	d, err := New(p, k, m)
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Run(context.Background(), []float64{1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusBudgetExhausted || res.Reason != "iteration limit exceeded" {
		t.Errorf("Run() = %v %q", res.Status, res.Reason)
	}
}

func TestFinalEvaluation(t *testing.T) {

	for _, tc := range []struct {
		budget int
		x      []float64
		evals  int
	}{
		{budget: 10, x: []float64{4}, evals: 2},
		{budget: 1, x: []float64{1}, evals: 1},
	} {
		p, m := scalar()
		k := &script{
			steps: []Step{{Request: NeedFunctions}, {Request: Done}},
			move: func(i int, x []float64) {
				if i == 1 {
					x[0] = 4
				}
			},
		}
		d, err := New(p, k, m, WithMaxEvaluations(tc.budget))
		if err != nil {
			t.Fatal(err)
		}
		res, err := d.Run(context.Background(), []float64{1})
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != StatusStopped {
			t.Errorf("budget %d: Status = %v, want %v", tc.budget, res.Status, StatusStopped)
		}
		if !slices.Equal(res.X, tc.x) || res.Objective != tc.x[0] || res.Evaluations != tc.evals {
			t.Errorf("budget %d: x=%v f=%g evaluations=%d, want x=%v after %d evaluations",
				tc.budget, res.X, res.Objective, res.Evaluations, tc.x, tc.evals)
		}
	}
}

func TestNothingEvaluated(t *testing.T) {
	p, m := scalar()
	k := &script{steps: []Step{{Request: NeedFunctions}}}
	d, err := New(p, k, m, WithMaxEvaluations(0))
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Run(context.Background(), []float64{-5})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(k.x0, []float64{0}) || !slices.Equal(res.X, []float64{0}) {
		t.Errorf("starting point %v and result %v were not clipped to 0", k.x0, res.X)
	}
	if res.Status != StatusBudgetExhausted || !math.IsNaN(res.Objective) || !math.IsNaN(res.Constraints.NonlinearInequality[0]) {
		t.Errorf("Run() = %+v, want an exhausted result without values", res)
	}
}

func TestUnmappedConstraint(t *testing.T) {
	p := Problem{
		N: 1,
		Constraints: cmap.Spec{
			NonlinearInequality: cmap.Inequalities{Lower: []float64{math.NaN()}, Upper: []float64{cmap.DefaultBigBound}},
		},
	}
	double := func(x, g []float64) float64 { return 2 * x[0] }
	m := &model.Func{N: 1, Objective: double, Inequality: []model.Function{double}}
	k := &script{steps: []Step{{Request: NeedFunctions}, {Request: Done, Converged: true}}}
	d, err := New(p, k, m)
	if err != nil {
		t.Fatal(err)
	}
	if d.Map().Len() != 0 {
		t.Fatalf("map has %d entries for an unbounded constraint", d.Map().Len())
	}
	res, err := d.Run(context.Background(), []float64{1.5})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Constraints.NonlinearInequality[0]; got != 3 {
		t.Errorf("unmapped constraint = %g, want 3 from the model", got)
	}
}

func TestRunErrors(t *testing.T) {

	failure := errors.New("model diverged")
	p, m := mixed()
	values := []Step{{Request: NeedFunctions}}

	for _, tc := range []struct {
		name   string
		kernel *script
		model  Model
		want   error
	}{
		{
			name:   "model error",
			kernel: &script{steps: values},
			model: model.EvaluatorFunc(func(x []float64, req *model.Request, resp *model.Response) error {
				return failure
			}),
			want: failure,
		},
		{
			name:   "model panic",
			kernel: &script{steps: values},
			model: model.EvaluatorFunc(func(x []float64, req *model.Request, resp *model.Response) error {
				panic("out of range")
			}),
			want: ErrEvaluation,
		},
		{
			name:   "active index past the end",
			kernel: &script{caps: Capabilities{IndexBase: 1}, steps: []Step{{Request: NeedFunctions}, {Request: NeedActiveGradients, Active: []int{7}}}},
			model:  m,
			want:   cmap.ErrInconsistent,
		},
		{
			name:   "active index below the base",
			kernel: &script{caps: Capabilities{IndexBase: 1}, steps: []Step{{Request: NeedActiveGradients, Active: []int{0}}}},
			model:  m,
			want:   cmap.ErrInconsistent,
		},
		{
			name:   "kernel failure",
			kernel: &script{fail: failure},
			model:  m,
			want:   ErrKernel,
		},
		{
			name:   "setup failure",
			kernel: &script{setup: failure},
			model:  m,
			want:   failure,
		},
		{
			name:   "unknown request",
			kernel: &script{steps: []Step{{Request: Request(42)}}},
			model:  m,
			want:   ErrKernel,
		},
	} {
		d, err := New(p, tc.kernel, tc.model)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if _, err := d.Run(context.Background(), []float64{1, 2}); !errors.Is(err, tc.want) {
			t.Errorf("%s: Run() err = %v, want %v", tc.name, err, tc.want)
		}
	}

	d, err := New(p, &script{steps: values}, m)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Run(context.Background(), []float64{1}); !errors.Is(err, cmap.ErrConfig) {
		t.Errorf("short starting point err = %v, want %v", err, cmap.ErrConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recorder{model: m}
	d, _ = New(p, &script{steps: values}, rec)
	if _, err := d.Run(ctx, []float64{1, 2}); !errors.Is(err, context.Canceled) || len(rec.reqs) != 0 {
		t.Errorf("cancelled run err = %v after %d model calls", err, len(rec.reqs))
	}
}

func TestNewErrors(t *testing.T) {

	_, m := mixed()
	k := &script{steps: []Step{{Request: Done}}}
	valid := func() Problem { p, _ := mixed(); return p }

	for _, tc := range []struct {
		name   string
		modify  func(p *Problem)
		noModel bool
		opts    []Option
	}{
		{name: "no variables", modify: func(p *Problem) { p.N = 0 }},
		{name: "short lower bounds", modify: func(p *Problem) { p.Lower = p.Lower[:1] }},
		{name: "crossed variable bounds", modify: func(p *Problem) { p.Lower[1] = 11 }},
		{name: "constraint width", modify: func(p *Problem) { p.Constraints.N = 3 }},
		{name: "crossed constraint bounds", modify: func(p *Problem) { p.Constraints.NonlinearInequality.Lower[0] = 5 }},
		{name: "model dimensions", modify: func(p *Problem) { p.Constraints.NonlinearEquality.Targets = nil }},
		{name: "negative budget", opts: []Option{WithMaxEvaluations(-1)}},
		{name: "negative tolerance", opts: []Option{WithConsistencyTolerance(-1)}},
		{name: "no model", noModel: true},
	} {
		p := valid()
		if tc.modify != nil {
			tc.modify(&p)
		}
		mm := Model(m)
		if tc.noModel {
			mm = nil
		}
		if _, err := New(p, k, mm, tc.opts...); !errors.Is(err, cmap.ErrConfig) {
			t.Errorf("%s: New() err = %v, want %v", tc.name, err, cmap.ErrConfig)
		}
	}
}

func TestWorkspaceBounds(t *testing.T) {
	w := newWorkspace(2, 3)
	if len(w.X()) != 2 || len(w.Constraints()) != 3 || len(w.Normal(2)) != 2 {
		t.Fatal("workspace buffers are mis-sized")
	}
	w.Normal(2)[1] = 7
	if w.a[5] != 7 {
		t.Error("row 2 does not alias the arena")
	}
	// a row cannot grow into its neighbour
	if cap(w.Normal(0)) != 2 {
		t.Errorf("cap(Normal(0)) = %d, want 2", cap(w.Normal(0)))
	}
	for _, f := range []func(){
		func() { w.Normal(3) },
		func() { w.Constraint(-1) },
		func() { w.setConstraint(3, 0) },
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Error("out of range access did not panic")
				}
			}()
			f()
		}()
	}
}
