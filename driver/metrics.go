// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nlpadapt_driver_cycles_total",
		Help: "Total kernel iterations",
	})

	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nlpadapt_driver_evaluations_total",
		Help: "Total model evaluations by kernel request",
	}, []string{"request"})

	evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nlpadapt_driver_evaluation_duration_seconds",
		Help:    "Model evaluation duration",
		Buckets: prometheus.ExponentialBuckets(1e-6, 10, 8),
	})

	cachedRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nlpadapt_driver_cached_requests_total",
		Help: "Kernel requests served from responses already evaluated at the same point",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nlpadapt_driver_runs_total",
		Help: "Total runs by final status",
	}, []string{"status"})
)
