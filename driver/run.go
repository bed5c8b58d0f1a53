// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	log "github.com/golang/glog"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/curioloop/nlpadapt/cmap"
	"github.com/curioloop/nlpadapt/model"
)

var tracer = otel.Tracer("github.com/curioloop/nlpadapt/driver")

// evaluation is the snapshot of the last point whose values were evaluated.
type evaluation struct {
	x    []float64   // nil until the first value evaluation
	f    float64     // objective, kernel sense
	c    []float64   // entry values by flat index
	vals cmap.Values // caller values of every constraint
}

// run is the mutable state of one Run.
type run struct {
	*Driver
	id string
	ws *Workspace

	req   *model.Request
	miss  *model.Request
	known *model.Request  // what resp holds for point
	resp  *model.Response // caller-space responses at point
	point []float64       // nil when resp is stale
	xbuf  []float64

	last   evaluation
	evals  int
	cycles int
}

// Run drives the kernel from x0 until it is done or the budget is spent.
// The context is only consulted between cycles.
func (d *Driver) Run(ctx context.Context, x0 []float64) (res *Result, err error) {

	if len(x0) != d.problem.N {
		return nil, fmt.Errorf("%w: starting point has %d components for %d variables", cmap.ErrConfig, len(x0), d.problem.N)
	}

	r := d.start()
	ctx, span := tracer.Start(ctx, "driver.Run", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.Int("problem.variables", d.problem.N),
		attribute.Int("map.entries", d.cmap.Len()),
		attribute.String("problem.sense", d.problem.Sense.String()),
	))
	defer func() {
		span.SetAttributes(
			attribute.Int("run.cycles", r.cycles),
			attribute.Int("run.evaluations", r.evals),
		)
		if err != nil {
			log.Errorf("run %s failed after %d evaluations: %v", r.id, r.evals, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			runsTotal.WithLabelValues("error").Inc()
		} else {
			span.SetAttributes(attribute.String("run.status", res.Status.String()))
			runsTotal.WithLabelValues(res.Status.String()).Inc()
		}
		span.End()
	}()

	r.ws.clip(x0)
	if err := d.kernel.Setup(Layout{N: d.problem.N, Map: d.cmap}, r.ws); err != nil {
		return nil, fmt.Errorf("%w: setup: %w", ErrKernel, err)
	}
	log.V(1).Infof("run %s: %d variables, %d entries, budget %d", r.id, d.problem.N, d.cmap.Len(), d.opts.MaxEvaluations)

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run %s cancelled: %w", r.id, err)
		}

		step, err := d.kernel.Iterate(r.ws)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKernel, err)
		}
		r.cycles++
		cyclesTotal.Inc()
		log.V(2).Infof("run %s cycle %d: %v %v", r.id, r.cycles, step.Request, step.Active)

		switch step.Request {
		case Done:
			return r.finish(step)
		case BudgetExhausted:
			log.Warningf("run %s: kernel stopped on its own limit: %s", r.id, step.Reason)
			return r.assemble(StatusBudgetExhausted, step.Reason)
		case NeedFunctions, NeedFunctionsAndGradients, NeedActiveGradients:
		default:
			return nil, fmt.Errorf("%w: unknown request %v", ErrKernel, step.Request)
		}

		if r.evals >= d.opts.MaxEvaluations {
			reason := fmt.Sprintf("evaluation budget of %d reached", d.opts.MaxEvaluations)
			log.Warningf("run %s: %s, the last evaluated point is returned as an approximate result", r.id, reason)
			return r.assemble(StatusBudgetExhausted, reason)
		}

		if err := r.serve(step); err != nil {
			return nil, err
		}
	}
}

func (d *Driver) start() *run {
	n := d.problem.N
	r := &run{
		Driver: d,
		id:     uuid.NewString(),
		ws:     newWorkspace(n, d.cmap.Len()),
		req:    model.NewRequest(d.dims),
		miss:   model.NewRequest(d.dims),
		known:  model.NewRequest(d.dims),
		resp:   model.NewResponse(d.dims),
		xbuf:   make([]float64, n),
	}
	copy(r.ws.lower, d.lower)
	copy(r.ws.upper, d.upper)
	r.ws.reset()
	r.last = evaluation{
		c:    make([]float64, d.cmap.Len()),
		vals: d.cmap.NewValues(),
	}
	return r
}

// serve answers one evaluation request of the kernel.
func (r *run) serve(step Step) error {

	// values are always fresh, only gradients are reused at the same point
	if !r.ws.at(r.point) || step.Request != NeedActiveGradients {
		r.known.Clear()
	}
	if !r.ws.at(r.point) {
		r.point = nil
	}

	var (
		values bool
		active []cmap.Source // sources whose gradient rows are written
	)
	r.req.Clear()
	switch step.Request {
	case NeedFunctions:
		values = true
		r.req.All(model.NeedValue)
		if r.opts.Speculative {
			r.req.All(model.NeedGradient)
		}
	case NeedFunctionsAndGradients:
		values = true
		r.req.All(model.NeedBoth)
		active = slices.Collect(r.cmap.Sources())
	case NeedActiveGradients:
		sel, err := r.cmap.Translate(step.Active, r.caps.IndexBase)
		if err != nil {
			return err
		}
		r.req.Objective = model.NeedGradient
		for _, src := range sel.Sources {
			if k, ok := modelKey(src); ok {
				r.req.Set(k, model.NeedGradient)
			}
		}
		active = sel.Sources
	}

	r.miss.Clear()
	for k, n := range r.req.Needs() {
		r.miss.Set(k, n&^r.known.Get(k))
	}
	if r.miss.Empty() {
		cachedRequests.Inc()
		log.V(2).Infof("run %s: %v served without a model call", r.id, step.Request)
	} else if err := r.evaluate(step.Request); err != nil {
		return err
	}

	if values {
		r.writeValues()
	}
	if step.Request != NeedFunctions {
		r.writeGradients(active)
	}
	return nil
}

func (r *run) evaluate(req Request) (err error) {

	copy(r.xbuf, r.ws.x)
	r.evals++
	evaluationsTotal.WithLabelValues(req.String()).Inc()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: model panicked at %v: %v", ErrEvaluation, r.xbuf, p)
		}
	}()

	start := time.Now()
	if err := r.model.Evaluate(r.xbuf, r.miss, r.resp); err != nil {
		return fmt.Errorf("%w: at %v: %w", ErrEvaluation, r.ws.x, err)
	}
	evaluationDuration.Observe(time.Since(start).Seconds())

	if r.point == nil {
		r.point = slices.Clone(r.ws.x)
	}
	for k, n := range r.miss.Needs() {
		r.known.Set(k, r.known.Get(k)|n)
	}
	return nil
}

// value returns the caller-space value of a constraint at the iterate.
func (r *run) value(src cmap.Source) float64 {
	if k, ok := modelKey(src); ok {
		return r.resp.Value(k)
	}
	return dot(r.cmap.Coefficients(src), r.ws.x)
}

// gradient returns the caller-space gradient of a constraint at the iterate.
func (r *run) gradient(src cmap.Source) []float64 {
	if k, ok := modelKey(src); ok {
		return r.resp.Gradient(k)
	}
	return r.cmap.Coefficients(src)
}

func (r *run) writeValues() {
	r.ws.f = r.problem.Sense.Value(r.resp.Objective)
	for src := range r.cmap.Sources() {
		r.last.vals.Set(src, r.value(src))
	}
	for i, e := range r.cmap.All() {
		r.ws.setConstraint(i, e.Value(r.last.vals.Get(e.Source)))
	}
	r.last.x = append(r.last.x[:0], r.ws.x...)
	r.last.f = r.ws.f
	copy(r.last.c, r.ws.c)
}

// writeGradients fills the objective gradient and every entry row of the
// given sources, so both halves of a split pair are always written together.
func (r *run) writeGradients(active []cmap.Source) {
	r.problem.Sense.Gradient(r.ws.g, r.resp.ObjectiveGradient)
	for _, src := range active {
		g := r.gradient(src)
		for _, i := range r.cmap.EntriesFor(src) {
			e, _ := r.cmap.Entry(i)
			e.Gradient(r.ws.Normal(i), g)
		}
	}
}

// finish handles Done, evaluating the final iterate once more when the
// kernel stopped somewhere the values are not known.
func (r *run) finish(step Step) (*Result, error) {
	status := StatusStopped
	if step.Converged {
		status = StatusConverged
	}
	if !r.ws.at(r.last.x) {
		if r.evals < r.opts.MaxEvaluations {
			if err := r.serve(Step{Request: NeedFunctions}); err != nil {
				return nil, err
			}
		} else {
			log.Warningf("run %s: no budget left to evaluate the final point, the last evaluated point is returned", r.id)
		}
	}
	return r.assemble(status, step.Reason)
}

func dot(a, x []float64) float64 {
	s := 0.0
	for i, v := range a {
		s += v * x[i]
	}
	return s
}

// assemble maps the last evaluation back into caller space.
func (r *run) assemble(status Status, reason string) (*Result, error) {

	res := &Result{
		RunID:       r.id,
		Status:      status,
		Converged:   status == StatusConverged,
		Evaluations: r.evals,
		Cycles:      r.cycles,
		Reason:      reason,
	}

	if r.last.x == nil {
		res.X = slices.Clone(r.ws.x)
		res.Objective = math.NaN()
		res.Constraints = r.cmap.NewValues()
		return res, nil
	}

	vals, err := r.cmap.Recover(r.last.c)
	if err != nil {
		return nil, err
	}
	// constraints without any finite bound never reach the kernel
	for src := range r.cmap.Sources() {
		if len(r.cmap.EntriesFor(src)) == 0 {
			vals.Set(src, r.last.vals.Get(src))
		}
	}
	if res.Discrepancy, err = r.cmap.Discrepancy(r.last.c); err != nil {
		return nil, err
	}
	if res.Discrepancy > r.opts.Consistency {
		log.Warningf("run %s: entries of one constraint disagree by %g", r.id, res.Discrepancy)
	}

	res.X = slices.Clone(r.last.x)
	res.Objective = r.problem.Sense.Value(r.last.f)
	res.Constraints = vals
	log.V(1).Infof("run %s %v after %d evaluations: f=%g", r.id, status, r.evals, res.Objective)
	return res, nil
}
