// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmap

import (
	"fmt"
	"math"
)

// DefaultBigBound is the large-bound sentinel used when none is configured.
const DefaultBigBound = 1e30

// Transformer turns two-sided bounds and equality targets into one-sided entries.
//
// A bound is absent when it is NaN or its magnitude reaches BigBound,
// so ±Inf and the conventional ±BigBound defaults are both treated as "no bound".
type Transformer struct {
	BigBound float64
}

func (t Transformer) check() error {
	if math.IsNaN(t.BigBound) || math.IsInf(t.BigBound, 0) || t.BigBound <= 0 {
		return fmt.Errorf("%w: large-bound sentinel %g must be a positive finite number", ErrConfig, t.BigBound)
	}
	return nil
}

// Present reports whether the bound b is finite relative to the sentinel.
func (t Transformer) Present(b float64) bool {
	return !math.IsNaN(b) && math.Abs(b) < t.BigBound
}

// Inequality maps lower ≤ v ≤ upper of constraint src.
//   - a finite lower 𝒍 gives (src, -1, 𝒍), i.e. 𝒍 - v ≤ 0
//   - a finite upper 𝒖 gives (src, +1, -𝒖), i.e. v - 𝒖 ≤ 0
//
// The lower entry always precedes the upper one.
func (t Transformer) Inequality(src Source, lower, upper float64) ([]Entry, error) {
	l, u := t.Present(lower), t.Present(upper)
	if l && u && lower > upper {
		return nil, fmt.Errorf("%w: %v has lower bound %g above upper bound %g", ErrConfig, src, lower, upper)
	}
	entries := make([]Entry, 0, 2)
	if l {
		entries = append(entries, Entry{Source: src, Multiplier: -1, Offset: lower})
	}
	if u {
		entries = append(entries, Entry{Source: src, Multiplier: +1, Offset: -upper})
	}
	return entries, nil
}

// Equality maps v = target of constraint src.
// With split the target becomes the opposing pair (src, -1, 𝒕) and (src, +1, -𝒕),
// otherwise a single pass-through entry (src, +1, -𝒕) is produced for kernels
// that consume equalities natively.
func (t Transformer) Equality(src Source, target float64, split bool) ([]Entry, error) {
	if !t.Present(target) {
		return nil, fmt.Errorf("%w: %v has target %g which is not below the large-bound sentinel %g",
			ErrConfig, src, target, t.BigBound)
	}
	if split {
		return []Entry{
			{Source: src, Multiplier: -1, Offset: target},
			{Source: src, Multiplier: +1, Offset: -target},
		}, nil
	}
	return []Entry{{Source: src, Multiplier: +1, Offset: -target, Equality: true}}, nil
}
