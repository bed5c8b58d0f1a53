// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmap

import (
	"fmt"
	"math"
)

// Values holds caller-space constraint values, one slice per group.
type Values struct {
	NonlinearInequality []float64
	NonlinearEquality   []float64
	LinearInequality    []float64
	LinearEquality      []float64
}

// NewValues allocates values sized for the map, filled with NaN.
func (m *Map) NewValues() Values {
	fill := func(n int) []float64 {
		v := make([]float64, n)
		for i := range v {
			v[i] = math.NaN()
		}
		return v
	}
	return Values{
		NonlinearInequality: fill(m.sizes[NonlinearInequality]),
		NonlinearEquality:   fill(m.sizes[NonlinearEquality]),
		LinearInequality:    fill(m.sizes[LinearInequality]),
		LinearEquality:      fill(m.sizes[LinearEquality]),
	}
}

// Group returns the slice holding the values of one group.
func (v *Values) Group(kind Kind) []float64 {
	switch kind {
	case NonlinearEquality:
		return v.NonlinearEquality
	case NonlinearInequality:
		return v.NonlinearInequality
	case LinearEquality:
		return v.LinearEquality
	case LinearInequality:
		return v.LinearInequality
	}
	return nil
}

// Get returns the value of a caller constraint.
func (v *Values) Get(src Source) float64 {
	return v.Group(src.Kind)[src.Index]
}

// Set assigns the value of a caller constraint.
func (v *Values) Set(src Source, x float64) {
	v.Group(src.Kind)[src.Index] = x
}

// Forward writes the kernel value of every entry into dst.
func (m *Map) Forward(vals Values, dst []float64) error {
	if len(dst) != len(m.entries) {
		return fmt.Errorf("%w: kernel value array has %d slots for %d entries", ErrInconsistent, len(dst), len(m.entries))
	}
	for i, e := range m.entries {
		dst[i] = e.Value(vals.Get(e.Source))
	}
	return nil
}

// Recover inverts the kernel values back into caller space.
// The first entry of each source determines its value, and constraints
// without any entry are left as NaN.
func (m *Map) Recover(kernel []float64) (Values, error) {
	if len(kernel) != len(m.entries) {
		return Values{}, fmt.Errorf("%w: kernel value array has %d slots for %d entries", ErrInconsistent, len(kernel), len(m.entries))
	}
	vals := m.NewValues()
	for src := range m.Sources() {
		idx := m.sources[src.Kind][src.Index]
		if len(idx) == 0 {
			continue
		}
		v, err := m.entries[idx[0]].Invert(kernel[idx[0]])
		if err != nil {
			return Values{}, err
		}
		vals.Set(src, v)
	}
	return vals, nil
}

// Discrepancy returns the largest disagreement between entries that share a
// source, a consistency check for split equalities and two-sided bounds.
func (m *Map) Discrepancy(kernel []float64) (float64, error) {
	if len(kernel) != len(m.entries) {
		return 0, fmt.Errorf("%w: kernel value array has %d slots for %d entries", ErrInconsistent, len(kernel), len(m.entries))
	}
	worst := 0.0
	for src := range m.Sources() {
		idx := m.sources[src.Kind][src.Index]
		if len(idx) < 2 {
			continue
		}
		first, err := m.entries[idx[0]].Invert(kernel[idx[0]])
		if err != nil {
			return 0, err
		}
		for _, j := range idx[1:] {
			v, err := m.entries[j].Invert(kernel[j])
			if err != nil {
				return 0, err
			}
			worst = math.Max(worst, math.Abs(v-first))
		}
	}
	return worst, nil
}
