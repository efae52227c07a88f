package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsAccepted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "edgebridge_store_events_accepted_total",
	Help: "counter of edge events accepted into the store",
})

var eventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "edgebridge_store_events_rejected_total",
	Help: "counter of edge events rejected at ingest, by reason",
}, []string{"reason"})

var eventsSuperseded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "edgebridge_store_events_superseded_total",
	Help: "counter of edge events which arrived out of order and lost to a newer retained event",
})
