package phase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var phaseCommits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "edgebridge_phase_commits_total",
	Help: "counter of phase commitments by the debounced engine, by phase",
}, []string{"phase"})

var staleActivations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "edgebridge_phase_stale_activations_total",
	Help: "counter of stale-mode activations, by configured mode",
}, []string{"mode"})
