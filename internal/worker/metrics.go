package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pesatalk_sweep_runs_total",
		Help: "Sweep executions by job and outcome",
	}, []string{"job", "outcome"})

	sweepSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pesatalk_sweep_settled_total",
		Help: "Transactions moved to a terminal state by sweeps",
	}, []string{"job"})
)
