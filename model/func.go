// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"fmt"
)

// Function evaluates a scalar response at x and, when g is not nil,
// stores its gradient into g.
//   - 𝒇(𝐱) : ℝⁿ → ℝ
//   - 𝒇′(𝐱) : ℝⁿ → ℝⁿ
type Function func(x, g []float64) float64

// Func is a model built from one closure per response.
type Func struct {
	N          int
	Objective  Function
	Inequality []Function
	Equality   []Function
}

// Dims implements Sized.
func (f *Func) Dims() Dims {
	return Dims{N: f.N, Inequality: len(f.Inequality), Equality: len(f.Equality)}
}

// Evaluate implements Evaluator. A gradient request also refreshes the value.
func (f *Func) Evaluate(x []float64, req *Request, resp *Response) error {
	if len(x) != f.N {
		return fmt.Errorf("%w: point has %d components for %d variables", ErrModel, len(x), f.N)
	}
	if err := Check(f.Dims(), req, resp); err != nil {
		return err
	}
	for k, n := range req.Needs() {
		if n == 0 {
			continue
		}
		fn := f.function(k)
		if fn == nil {
			return fmt.Errorf("%w: %v has no function", ErrModel, k)
		}
		var g []float64
		if n.Gradient() {
			g = resp.Gradient(k)
		}
		resp.SetValue(k, fn(x, g))
	}
	return nil
}

func (f *Func) function(k Key) Function {
	switch k.Group {
	case Inequality:
		return f.Inequality[k.Index]
	case Equality:
		return f.Equality[k.Index]
	}
	return f.Objective
}
