// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmap

import (
	"fmt"
	"strings"
)

// Sense is the optimization direction declared for the objective.
//
// Kernels only minimize, so a maximized objective is sent with its value and
// every gradient component negated. Both mappings are self-inverse and are
// used the same way on the way in and on the way out.
type Sense int8

const (
	Minimize Sense = iota
	Maximize
)

// ParseSense accepts "min", "minimize", "max" and "maximize" in any case.
func ParseSense(s string) (Sense, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "min", "minimize":
		return Minimize, nil
	case "max", "maximize":
		return Maximize, nil
	}
	return Minimize, fmt.Errorf("%w: unknown objective sense %q", ErrConfig, s)
}

func (s Sense) String() string {
	if s == Maximize {
		return "maximize"
	}
	return "minimize"
}

func (s Sense) scale() float64 {
	if s == Maximize {
		return -1
	}
	return 1
}

// Value converts an objective value between caller and kernel space.
func (s Sense) Value(v float64) float64 {
	return s.scale() * v
}

// Gradient converts an objective gradient between caller and kernel space.
// dst and src may alias, dst is returned for convenience.
func (s Sense) Gradient(dst, src []float64) []float64 {
	if len(dst) != len(src) {
		panic("bound check error")
	}
	k := s.scale()
	for i, g := range src {
		dst[i] = k * g
	}
	return dst
}
