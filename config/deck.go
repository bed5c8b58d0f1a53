// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads problem decks.
//
// A deck names a catalog model and optionally overrides its starting point,
// its bounds and its constraint bounds, adds linear constraints, and tunes the
// kernel, the driver and the gradient source. Decks are YAML or TOML files,
// chosen by extension, and are validated after defaults are applied.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/curioloop/nlpadapt/cmap"
)

// ErrDeck reports a deck that cannot be read, parsed or validated.
var ErrDeck = errors.New("invalid deck")

// Format is the encoding of a deck.
type Format string

const (
	YAML Format = "yaml"
	TOML Format = "toml"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".toml":
		return TOML, nil
	}
	return "", fmt.Errorf("%w: unsupported deck extension %q", ErrDeck, filepath.Ext(path))
}

// Deck is the on-disk description of one solve.
type Deck struct {
	Model    string    `yaml:"model" toml:"model" validate:"required"`
	Sense    string    `yaml:"sense" toml:"sense" validate:"omitempty,oneof=min minimize max maximize"`
	X0       []float64 `yaml:"x0" toml:"x0"`
	Lower    []float64 `yaml:"lower" toml:"lower"`
	Upper    []float64 `yaml:"upper" toml:"upper"`
	BigBound float64   `yaml:"big_bound" toml:"big_bound" validate:"gt=0"`

	Constraints Constraints `yaml:"constraints" toml:"constraints"`
	Kernel      Kernel      `yaml:"kernel" toml:"kernel"`
	Driver      Driver      `yaml:"driver" toml:"driver"`
	Gradients   Gradients   `yaml:"gradients" toml:"gradients"`
}

// Constraints overrides the constraint bounds of the model and adds linear rows.
type Constraints struct {
	InequalityLower []float64   `yaml:"inequality_lower" toml:"inequality_lower"`
	InequalityUpper []float64   `yaml:"inequality_upper" toml:"inequality_upper"`
	EqualityTargets []float64   `yaml:"equality_targets" toml:"equality_targets"`
	Linear          []LinearRow `yaml:"linear" toml:"linear" validate:"dive"`
}

// LinearRow is a linear constraint 𝒍 ≤ 𝐚ᵀ𝐱 ≤ 𝒖, or 𝐚ᵀ𝐱 = 𝒕 when Target is set.
type LinearRow struct {
	Coefficients []float64 `yaml:"coefficients" toml:"coefficients" validate:"required,min=1"`
	Lower        *float64  `yaml:"lower" toml:"lower" validate:"required_without_all=Upper Target"`
	Upper        *float64  `yaml:"upper" toml:"upper"`
	Target       *float64  `yaml:"target" toml:"target" validate:"excluded_with=Lower Upper"`
}

// Kernel tunes the SLSQP kernel.
type Kernel struct {
	Name            string  `yaml:"name" toml:"name" validate:"oneof=slsqp"`
	Accuracy        float64 `yaml:"accuracy" toml:"accuracy" validate:"gt=0"`
	MaxIterations   int     `yaml:"max_iterations" toml:"max_iterations" validate:"gt=0"`
	SplitEqualities bool    `yaml:"split_equalities" toml:"split_equalities"`
	ExactLineSearch bool    `yaml:"exact_line_search" toml:"exact_line_search"`
}

// Driver tunes the reverse communication loop.
type Driver struct {
	MaxEvaluations int     `yaml:"max_evaluations" toml:"max_evaluations" validate:"gte=0"`
	Speculative    bool    `yaml:"speculative" toml:"speculative"`
	Consistency    float64 `yaml:"consistency" toml:"consistency" validate:"gte=0"`
}

// Gradients selects where gradients come from.
type Gradients struct {
	// Method is analytic, or a finite difference method.
	Method  string  `yaml:"method" toml:"method" validate:"oneof=analytic forward central 2-point 3-point"`
	RelStep float64 `yaml:"rel_step" toml:"rel_step" validate:"gte=0"`
	AbsStep float64 `yaml:"abs_step" toml:"abs_step" validate:"gte=0"`
	// Cache is the number of points whose responses are kept, 0 disables caching.
	Cache int `yaml:"cache" toml:"cache" validate:"gte=0"`
}

// Default returns a deck with every tunable set, the model left empty.
func Default() Deck {
	return Deck{
		BigBound: cmap.DefaultBigBound,
		Kernel: Kernel{
			Name:          "slsqp",
			Accuracy:      1e-6,
			MaxIterations: 100,
		},
		Driver: Driver{
			MaxEvaluations: 1000,
			Consistency:    1e-8,
		},
		Gradients: Gradients{
			Method: "analytic",
		},
	}
}

var validate = validator.New()

// Load reads, parses and validates the deck at path.
func Load(path string) (*Deck, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeck, err)
	}
	return Parse(data, format)
}

// Parse decodes a deck over the defaults and validates it.
func Parse(data []byte, format Format) (*Deck, error) {
	d := Default()
	var err error
	switch format {
	case YAML:
		err = yaml.Unmarshal(data, &d)
	case TOML:
		err = toml.Unmarshal(data, &d)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrDeck, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrDeck, format, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate normalizes the spelling of the enumerated fields and checks the
// struct tags of the deck.
func (d *Deck) Validate() error {
	d.Sense = strings.ToLower(strings.TrimSpace(d.Sense))
	d.Kernel.Name = strings.ToLower(strings.TrimSpace(d.Kernel.Name))
	d.Gradients.Method = strings.ToLower(strings.TrimSpace(d.Gradients.Method))
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %w", ErrDeck, err)
	}
	return nil
}
