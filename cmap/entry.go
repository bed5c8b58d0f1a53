// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmap

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig reports a problem definition that cannot be mapped onto a kernel.
	ErrConfig = errors.New("constraint map configuration error")
	// ErrInconsistent reports a broken map invariant, such as an active index
	// outside the map or a multiplier other than ±1.
	ErrInconsistent = errors.New("constraint map inconsistency")
)

// Kind identifies a constraint group.
type Kind uint8

const (
	NonlinearEquality Kind = iota
	NonlinearInequality
	LinearEquality
	LinearInequality
	numKinds
)

// DefaultOrder is the canonical group order used when a kernel does not mandate one.
func DefaultOrder() []Kind {
	return []Kind{NonlinearEquality, NonlinearInequality, LinearEquality, LinearInequality}
}

func (k Kind) String() string {
	switch k {
	case NonlinearEquality:
		return "nonlinear-equality"
	case NonlinearInequality:
		return "nonlinear-inequality"
	case LinearEquality:
		return "linear-equality"
	case LinearInequality:
		return "linear-inequality"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Linear reports whether constraints of this kind are linear in the variables.
func (k Kind) Linear() bool { return k == LinearEquality || k == LinearInequality }

// Equality reports whether constraints of this kind carry targets.
func (k Kind) Equality() bool { return k == NonlinearEquality || k == LinearEquality }

// Source identifies a caller-space constraint by group and 0-based position.
type Source struct {
	Kind  Kind
	Index int
}

func (s Source) String() string {
	return fmt.Sprintf("%v[%d]", s.Kind, s.Index)
}

// Entry is one kernel-side constraint derived from a caller constraint.
// The kernel value is Offset + Multiplier × v, where v is the caller value,
// and the kernel requires it to be ≤ 0 (or = 0 for an Equality pass-through).
type Entry struct {
	Source     Source
	Multiplier float64
	Offset     float64
	Equality   bool
}

// Value maps a caller-space value into kernel space.
func (e Entry) Value(v float64) float64 {
	return e.Offset + e.Multiplier*v
}

// Gradient maps a caller-space gradient into kernel space, dst and src may alias.
func (e Entry) Gradient(dst, src []float64) {
	if len(dst) != len(src) {
		panic("bound check error")
	}
	for i, g := range src {
		dst[i] = e.Multiplier * g
	}
}

// Invert recovers the caller-space value from a kernel value.
func (e Entry) Invert(k float64) (float64, error) {
	if e.Multiplier != 1 && e.Multiplier != -1 {
		return 0, fmt.Errorf("%w: entry for %v has multiplier %g", ErrInconsistent, e.Source, e.Multiplier)
	}
	return (k - e.Offset) / e.Multiplier, nil
}
