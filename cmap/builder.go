// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmap

import (
	"fmt"
	"iter"
	"math"
	"slices"
)

// Inequalities describes an inequality group 𝒍 ≤ 𝒄(𝐱) ≤ 𝒖.
// A nil Lower or Upper means every bound on that side is absent.
// Coefficients holds one row per constraint and is only valid for linear groups.
type Inequalities struct {
	Lower, Upper []float64
	Coefficients [][]float64
}

// Equalities describes an equality group 𝒄(𝐱) = 𝒕.
// Coefficients holds one row per constraint and is only valid for linear groups.
type Equalities struct {
	Targets      []float64
	Coefficients [][]float64
}

// Spec holds every constraint group of a problem.
type Spec struct {
	N        int     // The number of variables
	BigBound float64 // Large-bound sentinel, DefaultBigBound when zero

	NonlinearInequality Inequalities
	NonlinearEquality   Equalities
	LinearInequality    Inequalities
	LinearEquality      Equalities
}

// Capabilities describe how a kernel wants the constraint groups laid out.
type Capabilities struct {
	// Order of the groups in the flat entry sequence, DefaultOrder when nil.
	Order []Kind
	// The kernel consumes nonlinear equalities directly instead of split pairs.
	NativeNonlinearEquality bool
	// The kernel consumes linear equalities directly instead of split pairs.
	NativeLinearEquality bool
}

// Map is the immutable flat sequence of kernel entries built for one problem.
type Map struct {
	entries []Entry
	order   []Kind
	sizes   [numKinds]int
	sources [numKinds][][]int // flat indices per caller constraint
	coeffs  [numKinds][][]float64

	numNonlinear int
	numLinear    int
	numEquality  int
	bigBound     float64
}

// Build validates the spec and assembles the flat entry sequence in the order
// mandated by caps. It never evaluates the model.
func Build(spec Spec, caps Capabilities) (*Map, error) {

	big := spec.BigBound
	if big == 0 {
		big = DefaultBigBound
	}
	tr := Transformer{BigBound: big}
	if err := tr.check(); err != nil {
		return nil, err
	}

	order := caps.Order
	if order == nil {
		order = DefaultOrder()
	}
	if err := checkOrder(order); err != nil {
		return nil, err
	}

	m := &Map{order: slices.Clone(order), bigBound: big}

	ineq := map[Kind]Inequalities{
		NonlinearInequality: spec.NonlinearInequality,
		LinearInequality:    spec.LinearInequality,
	}
	eq := map[Kind]Equalities{
		NonlinearEquality: spec.NonlinearEquality,
		LinearEquality:    spec.LinearEquality,
	}

	for _, kind := range order {
		var err error
		if kind.Equality() {
			err = m.addEqualities(tr, kind, eq[kind], spec.N, caps)
		} else {
			err = m.addInequalities(tr, kind, ineq[kind], spec.N)
		}
		if err != nil {
			return nil, err
		}
	}

	for _, e := range m.entries {
		if e.Source.Kind.Linear() {
			m.numLinear++
		} else {
			m.numNonlinear++
		}
		if e.Equality {
			m.numEquality++
		}
	}
	return m, nil
}

func checkOrder(order []Kind) error {
	var seen [numKinds]bool
	for _, k := range order {
		if k >= numKinds || seen[k] {
			return fmt.Errorf("%w: group order %v is not a permutation of the four constraint groups", ErrConfig, order)
		}
		seen[k] = true
	}
	if len(order) != int(numKinds) {
		return fmt.Errorf("%w: group order %v is not a permutation of the four constraint groups", ErrConfig, order)
	}
	return nil
}

func (m *Map) addInequalities(tr Transformer, kind Kind, g Inequalities, n int) error {
	size := max(len(g.Lower), len(g.Upper))
	switch {
	case g.Lower != nil && len(g.Lower) != size:
		return fmt.Errorf("%w: %v has %d lower bounds but %d upper bounds", ErrConfig, kind, len(g.Lower), len(g.Upper))
	case g.Upper != nil && len(g.Upper) != size:
		return fmt.Errorf("%w: %v has %d lower bounds but %d upper bounds", ErrConfig, kind, len(g.Lower), len(g.Upper))
	}
	if err := m.setCoefficients(kind, g.Coefficients, size, n); err != nil {
		return err
	}

	m.sizes[kind] = size
	m.sources[kind] = make([][]int, size)
	for i := 0; i < size; i++ {
		lower, upper := math.Inf(-1), math.Inf(1)
		if g.Lower != nil {
			lower = g.Lower[i]
		}
		if g.Upper != nil {
			upper = g.Upper[i]
		}
		entries, err := tr.Inequality(Source{kind, i}, lower, upper)
		if err != nil {
			return err
		}
		m.push(entries)
	}
	return nil
}

func (m *Map) addEqualities(tr Transformer, kind Kind, g Equalities, n int, caps Capabilities) error {
	size := len(g.Targets)
	if err := m.setCoefficients(kind, g.Coefficients, size, n); err != nil {
		return err
	}

	split := !caps.NativeNonlinearEquality
	if kind.Linear() {
		split = !caps.NativeLinearEquality
	}

	m.sizes[kind] = size
	m.sources[kind] = make([][]int, size)
	for i, t := range g.Targets {
		entries, err := tr.Equality(Source{kind, i}, t, split)
		if err != nil {
			return err
		}
		m.push(entries)
	}
	return nil
}

func (m *Map) setCoefficients(kind Kind, rows [][]float64, size, n int) error {
	if !kind.Linear() {
		if rows != nil {
			return fmt.Errorf("%w: %v cannot carry linear coefficients", ErrConfig, kind)
		}
		return nil
	}
	if len(rows) != size {
		return fmt.Errorf("%w: %v has %d coefficient rows for %d constraints", ErrConfig, kind, len(rows), size)
	}
	cp := make([][]float64, size)
	for i, r := range rows {
		if len(r) != n {
			return fmt.Errorf("%w: %v row %d has %d coefficients for %d variables", ErrConfig, kind, i, len(r), n)
		}
		cp[i] = slices.Clone(r)
	}
	m.coeffs[kind] = cp
	return nil
}

func (m *Map) push(entries []Entry) {
	for _, e := range entries {
		src := e.Source
		m.sources[src.Kind][src.Index] = append(m.sources[src.Kind][src.Index], len(m.entries))
		m.entries = append(m.entries, e)
	}
}

// Len returns the total number of kernel entries.
func (m *Map) Len() int { return len(m.entries) }

// NumNonlinear returns the number of entries derived from nonlinear groups.
func (m *Map) NumNonlinear() int { return m.numNonlinear }

// NumLinear returns the number of entries derived from linear groups.
func (m *Map) NumLinear() int { return m.numLinear }

// NumEquality returns the number of native equality pass-through entries.
func (m *Map) NumEquality() int { return m.numEquality }

// Size returns the number of caller constraints in a group.
func (m *Map) Size(kind Kind) int {
	if kind >= numKinds {
		return 0
	}
	return m.sizes[kind]
}

// Order returns the group order of the flat sequence.
func (m *Map) Order() []Kind { return slices.Clone(m.order) }

// BigBound returns the large-bound sentinel the map was built with.
func (m *Map) BigBound() float64 { return m.bigBound }

// Transformer returns the bound transformer the map was built with.
func (m *Map) Transformer() Transformer { return Transformer{BigBound: m.bigBound} }

// Entry returns the entry at 0-based flat index i.
func (m *Map) Entry(i int) (Entry, error) {
	if i < 0 || i >= len(m.entries) {
		return Entry{}, fmt.Errorf("%w: flat index %d outside [0, %d)", ErrInconsistent, i, len(m.entries))
	}
	return m.entries[i], nil
}

// All iterates over the entries with their flat index.
func (m *Map) All() iter.Seq2[int, Entry] {
	return func(yield func(int, Entry) bool) {
		for i, e := range m.entries {
			if !yield(i, e) {
				return
			}
		}
	}
}

// Sources iterates over every caller constraint in map order, including
// those without any entry.
func (m *Map) Sources() iter.Seq[Source] {
	return func(yield func(Source) bool) {
		for _, kind := range m.order {
			for i := 0; i < m.sizes[kind]; i++ {
				if !yield(Source{kind, i}) {
					return
				}
			}
		}
	}
}

// EntriesFor returns a copy of the flat indices of the entries derived
// from src, which is empty when both of its bounds are absent.
func (m *Map) EntriesFor(src Source) []int {
	if src.Kind >= numKinds || src.Index < 0 || src.Index >= m.sizes[src.Kind] {
		return nil
	}
	return slices.Clone(m.sources[src.Kind][src.Index])
}

// Coefficients returns a copy of the coefficient row of a linear constraint.
func (m *Map) Coefficients(src Source) []float64 {
	if !src.Kind.Linear() || src.Index < 0 || src.Index >= m.sizes[src.Kind] {
		return nil
	}
	return slices.Clone(m.coeffs[src.Kind][src.Index])
}
