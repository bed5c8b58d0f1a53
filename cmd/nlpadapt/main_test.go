// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/curioloop/nlpadapt/config"
	"github.com/curioloop/nlpadapt/model"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	original := version
	version = "test-version-1.0.0"
	defer func() { version = original }()

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "nlpadapt version test-version-1.0.0")
}

func TestModelsCmd(t *testing.T) {
	out, err := execute(t, "models")
	require.NoError(t, err)
	for _, name := range model.Names() {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "Hock-Schittkowski 71")
}

func TestMapCmd(t *testing.T) {
	out, err := execute(t, "map", "--model", "hs071")
	require.NoError(t, err)
	assert.Contains(t, out, "hs071: 2 entries, 1 equalities")
	assert.Contains(t, out, "nonlinear-equality[0]")
	assert.Contains(t, out, "nonlinear-inequality[0]")

	out, err = execute(t, "map", "-m", "hs071", "--split-equalities")
	require.NoError(t, err)
	assert.Contains(t, out, "hs071: 3 entries, 0 equalities")
}

func TestSolveCatalog(t *testing.T) {
	out, err := execute(t, "solve", "-m", "textbook")
	require.NoError(t, err)
	assert.Contains(t, out, "model:       textbook")
	assert.Contains(t, out, "status:      converged")
	assert.Contains(t, out, "nonlinear-inequality:")
}

func TestSolveDeck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dome.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: dome\nkernel:\n  accuracy: 1e-10\n"), 0o644))

	out, err := execute(t, "solve", path, "--output", "yaml")
	require.NoError(t, err)

	var r report
	require.NoError(t, yaml.Unmarshal([]byte(out), &r))
	assert.Equal(t, "dome", r.Model)
	assert.Equal(t, "converged", r.Status)
	assert.NotEmpty(t, r.RunID)
	assert.InDeltaSlice(t, []float64{0.5, 1.5}, r.X, 1e-5)
	assert.InDelta(t, 2.5, r.Objective, 1e-6)
	assert.Positive(t, r.Iterations)
	require.Contains(t, r.Constraints, "linear-inequality")
	assert.InDelta(t, 2, r.Constraints["linear-inequality"][0], 1e-6)
}

func TestSolveBudget(t *testing.T) {
	out, err := execute(t, "solve", "-m", "hs071", "--max-evaluations", "3", "-o", "yaml")
	require.NoError(t, err)

	var r report
	require.NoError(t, yaml.Unmarshal([]byte(out), &r))
	assert.Equal(t, "budget-exhausted", r.Status)
	assert.Equal(t, 3, r.Evaluations)
	assert.Len(t, r.X, 4)
}

func TestSolveTelemetry(t *testing.T) {
	out, err := execute(t, "solve", "-m", "rosenbrock", "--trace", "--metrics")
	require.NoError(t, err)
	assert.Contains(t, out, "status:      converged")
	assert.Contains(t, out, `"Name": "driver.Run"`)
	assert.Contains(t, out, "run.evaluations")
	assert.Contains(t, out, "nlpadapt_driver_runs_total")
	assert.Contains(t, out, "nlpadapt_driver_cycles_total")
}

func TestBatchCmd(t *testing.T) {
	dir := t.TempDir()
	textbook := filepath.Join(dir, "textbook.yaml")
	dome := filepath.Join(dir, "dome.toml")
	require.NoError(t, os.WriteFile(textbook, []byte("model: textbook\n"), 0o644))
	require.NoError(t, os.WriteFile(dome, []byte("model = \"dome\"\n"), 0o644))

	out, err := execute(t, "batch", "-j", "2", textbook, dome)
	require.NoError(t, err)
	assert.Contains(t, out, "DECK")
	assert.Regexp(t, `textbook\.yaml\s+textbook\s+converged`, out)
	assert.Regexp(t, `dome\.toml\s+dome\s+converged`, out)

	_, err = execute(t, "batch", textbook, filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, config.ErrDeck)

	_, err = execute(t, "batch", "-j", "0", textbook)
	assert.Error(t, err)
}

func TestSolveErrors(t *testing.T) {
	_, err := execute(t, "solve")
	assert.ErrorIs(t, err, config.ErrDeck)

	_, err = execute(t, "solve", "-m", "simplex")
	assert.ErrorIs(t, err, model.ErrModel)

	_, err = execute(t, "solve", "-m", "dome", "-o", "json")
	assert.Error(t, err)

	_, err = execute(t, "solve", "a.yaml", "b.yaml")
	assert.Error(t, err)

	_, err = execute(t, "map", "deck.ini")
	assert.ErrorIs(t, err, config.ErrDeck)
}
