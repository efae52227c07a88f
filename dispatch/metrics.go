package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "edgebridge_dispatch_deliveries_total",
	Help: "counter of dispatch event deliveries, by handler and outcome",
}, []string{"handler", "outcome"})
