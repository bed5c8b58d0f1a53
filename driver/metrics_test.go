// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {

	cycles := testutil.ToFloat64(cyclesTotal)
	cached := testutil.ToFloat64(cachedRequests)
	values := testutil.ToFloat64(evaluationsTotal.WithLabelValues("need-functions"))
	converged := testutil.ToFloat64(runsTotal.WithLabelValues("converged"))
	failed := testutil.ToFloat64(runsTotal.WithLabelValues("error"))

	p, m := mixed()
	k := &script{
		caps: Capabilities{IndexBase: 1},
		steps: []Step{
			{Request: NeedFunctions},
			{Request: NeedActiveGradients, Active: []int{3}},
			{Request: Done, Converged: true},
		},
	}
	d, err := New(p, k, m, WithSpeculativeGradients(true))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Run(context.Background(), []float64{1, 2}); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(cyclesTotal) - cycles; got != 3 {
		t.Errorf("cycles counted %g, want 3", got)
	}
	if got := testutil.ToFloat64(cachedRequests) - cached; got != 1 {
		t.Errorf("cached requests counted %g, want 1", got)
	}
	if got := testutil.ToFloat64(evaluationsTotal.WithLabelValues("need-functions")) - values; got != 1 {
		t.Errorf("value evaluations counted %g, want 1", got)
	}
	if got := testutil.ToFloat64(runsTotal.WithLabelValues("converged")) - converged; got != 1 {
		t.Errorf("converged runs counted %g, want 1", got)
	}

	k = &script{fail: errors.New("broken kernel")}
	d, err = New(p, k, m)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Run(context.Background(), []float64{1, 2}); err == nil {
		t.Fatal("Run() with a failing kernel did not fail")
	}
	if got := testutil.ToFloat64(runsTotal.WithLabelValues("error")) - failed; got != 1 {
		t.Errorf("failed runs counted %g, want 1", got)
	}
}
