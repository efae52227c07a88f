package comm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "edgebridge_comm_events_ingested_total",
	Help: "counter of edge events decoded and admitted, by transport",
}, []string{"transport"})

var decodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "edgebridge_comm_decode_errors_total",
	Help: "counter of inbound messages dropped as malformed, by transport",
}, []string{"transport"})

var phasePublishes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "edgebridge_comm_phase_publishes_total",
	Help: "counter of phase publish attempts, by transport and outcome",
}, []string{"transport", "outcome"})
