package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ticks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "edgebridge_runtime_ticks_total",
	Help: "counter of workflow loop ticks",
})

var skippedTicks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "edgebridge_runtime_skipped_ticks_total",
	Help: "counter of ticks which did not run a pipeline, by reason",
}, []string{"reason"})

var phaseChanges = promauto.NewCounter(prometheus.CounterOpts{
	Name: "edgebridge_runtime_phase_changes_total",
	Help: "counter of observed committed phase transitions",
})
