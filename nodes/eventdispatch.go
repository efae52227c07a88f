package nodes

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/sitewatch/edgebridge/dispatch"
	"github.com/sitewatch/edgebridge/pipeline"
)

// EventDispatchTask drains the tick's event queue and hands the batch
// to the dispatch engine. It runs last in every pipeline; after it the
// queue is empty regardless of delivery outcomes.
type EventDispatchTask struct {
	Engine dispatch.Engine
}

func (*EventDispatchTask) Name() string { return "event_dispatch" }

func (t *EventDispatchTask) Run(ctx context.Context, tc *pipeline.TaskContext) pipeline.TaskResult {
	var events = tc.Queue.Drain()
	if len(events) == 0 {
		return pipeline.TaskResult{OK: true}
	}
	if t.Engine == nil {
		log.WithField("events", len(events)).Warn("dropping queued dispatch events: no dispatch engine configured")
		return pipeline.TaskResult{OK: true, Payload: map[string]any{"dropped": len(events)}}
	}
	t.Engine.Dispatch(ctx, events)
	return pipeline.TaskResult{OK: true, Payload: map[string]any{"dispatched": len(events)}}
}

// NoopTask does nothing. It backs phases which need a pipeline slot
// but no work, and schedule demos.
type NoopTask struct{}

func (*NoopTask) Name() string { return "noop" }

func (*NoopTask) Run(context.Context, *pipeline.TaskContext) pipeline.TaskResult {
	return pipeline.TaskResult{OK: true}
}

// IdleTask slows the loop down: it requests its configured sleep as
// the next interval, so non-working phases tick lazily.
type IdleTask struct {
	Sleep float64 // Seconds.
}

func (*IdleTask) Name() string { return "idle" }

func (t *IdleTask) Run(context.Context, *pipeline.TaskContext) pipeline.TaskResult {
	return pipeline.TaskResult{OK: true, Payload: map[string]any{"sleep": t.Sleep}}
}
