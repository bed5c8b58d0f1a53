// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"math"
	"slices"
)

// Workspace holds the kernel-space arrays exchanged with a kernel.
// Every buffer is carved once out of a single arena sized from the problem
// dimensions; the driver owns it and kernels only see it during Setup and Iterate.
//
// Given n variables and m map entries the arena holds float64[(m + 4) × n + m].
type Workspace struct {
	n, m int

	f     float64   // objective, kernel sense
	x     []float64 // current point, caller space
	c     []float64 // entry values, one per flat index
	g     []float64 // objective gradient, kernel sense
	a     []float64 // entry gradients, row i belongs to flat index i
	lower []float64 // variable bounds, ±Inf when absent
	upper []float64
}

func newWorkspace(n, m int) *Workspace {
	wrk := make([]float64, (m+4)*n+m)
	ix := 0
	ig := ix + n
	il := ig + n
	iu := il + n
	ic := iu + n
	ia := ic + m
	return &Workspace{
		n: n, m: m,
		x:     wrk[ix:ig:ig],
		g:     wrk[ig:il:il],
		lower: wrk[il:iu:iu],
		upper: wrk[iu:ic:ic],
		c:     wrk[ic:ia:ia],
		a:     wrk[ia:],
	}
}

// N returns the number of variables.
func (w *Workspace) N() int { return w.n }

// M returns the number of map entries.
func (w *Workspace) M() int { return w.m }

// X returns the current point. A kernel moves the iterate by writing into it
// before returning a request.
func (w *Workspace) X() []float64 { return w.x }

// Lower returns the variable lower bounds, which must not be modified.
func (w *Workspace) Lower() []float64 { return w.lower }

// Upper returns the variable upper bounds, which must not be modified.
func (w *Workspace) Upper() []float64 { return w.upper }

// Objective returns the objective value in kernel sense.
func (w *Workspace) Objective() float64 { return w.f }

// Gradient returns the objective gradient in kernel sense.
func (w *Workspace) Gradient() []float64 { return w.g }

// Constraint returns the kernel value of entry i, feasible when ≤ 0.
func (w *Workspace) Constraint(i int) float64 {
	if i < 0 || i >= w.m {
		panic("bound check error")
	}
	return w.c[i]
}

// Constraints returns every entry value by flat index, which must not be modified.
func (w *Workspace) Constraints() []float64 { return w.c }

// Normal returns the gradient row of entry i.
func (w *Workspace) Normal(i int) []float64 {
	if i < 0 || i >= w.m {
		panic("bound check error")
	}
	return w.a[i*w.n : (i+1)*w.n : (i+1)*w.n]
}

func (w *Workspace) setConstraint(i int, v float64) {
	if i < 0 || i >= w.m {
		panic("bound check error")
	}
	w.c[i] = v
}

// clip copies x0 into the iterate, projected into the variable bounds.
func (w *Workspace) clip(x0 []float64) {
	if len(x0) != w.n {
		panic("bound check error")
	}
	for i, v := range x0 {
		w.x[i] = math.Min(math.Max(v, w.lower[i]), w.upper[i])
	}
}

// at reports whether the iterate equals x.
func (w *Workspace) at(x []float64) bool {
	return x != nil && slices.Equal(w.x, x)
}

// reset poisons the evaluation buffers so that stale values are never
// mistaken for fresh ones.
func (w *Workspace) reset() {
	w.f = math.NaN()
	for _, buf := range [][]float64{w.c, w.g, w.a} {
		for i := range buf {
			buf[i] = math.NaN()
		}
	}
}
