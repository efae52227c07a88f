package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "edgebridge_pipeline_events_enqueued_total",
	Help: "counter of dispatch events enqueued during ticks, by producing origin",
}, []string{"origin"})

var taskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "edgebridge_pipeline_task_failures_total",
	Help: "counter of task failures which short-circuited their pipeline",
}, []string{"pipeline", "task"})
