// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmap

import (
	"fmt"
	"slices"
)

// Flat converts a kernel index with the given base (1 for kernels counting
// from one) into a 0-based flat index. It is the only place where foreign
// indexing is undone.
func Flat(index, base int) int {
	return index - base
}

// Selection is the caller-space view of a kernel active set.
// The objective is always required alongside the selected constraints.
type Selection struct {
	// Flat holds the distinct 0-based entry indices in the order reported.
	Flat []int
	// Sources holds the distinct caller constraints in the order first referenced.
	Sources []Source
}

// Contains reports whether src is part of the selection.
func (s Selection) Contains(src Source) bool {
	return slices.Contains(s.Sources, src)
}

// Of returns the selected constraint indices of one group in ascending order.
func (s Selection) Of(kind Kind) []int {
	var idx []int
	for _, src := range s.Sources {
		if src.Kind == kind {
			idx = append(idx, src.Index)
		}
	}
	slices.Sort(idx)
	return idx
}

// Translate converts the active indices reported by a kernel into caller
// constraints. Entries sharing a source (split equalities, two-sided bounds)
// select that source only once. An index outside the map is an inconsistency.
func (m *Map) Translate(active []int, base int) (Selection, error) {
	var sel Selection
	seen := make(map[Source]bool, len(active))
	flat := make(map[int]bool, len(active))
	for _, a := range active {
		i := Flat(a, base)
		if i < 0 || i >= len(m.entries) {
			return Selection{}, fmt.Errorf("%w: active index %d outside [%d, %d]",
				ErrInconsistent, a, base, len(m.entries)-1+base)
		}
		if flat[i] {
			continue
		}
		flat[i] = true
		sel.Flat = append(sel.Flat, i)
		if src := m.entries[i].Source; !seen[src] {
			seen[src] = true
			sel.Sources = append(sel.Sources, src)
		}
	}
	return sel, nil
}
