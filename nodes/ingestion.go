// Package nodes provides the built-in pipeline tasks of the working
// pipeline: ingestion, tracking, format conversion, rule evaluation,
// and event dispatch, plus the trivial noop and idle pipelines.
// Each task's engine is swappable through the plugin registries.
package nodes

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/sitewatch/edgebridge/pipeline"
	"github.com/sitewatch/edgebridge/store"
)

// IngestionEngine filters or normalizes the tick's snapshot before
// downstream tasks observe it.
type IngestionEngine interface {
	Ingest(events []store.EdgeEvent) []store.EdgeEvent
}

// PassthroughIngestion is the default engine: the snapshot as-is.
type PassthroughIngestion struct{}

func (PassthroughIngestion) Ingest(events []store.EdgeEvent) []store.EdgeEvent { return events }

// IngestionTask snapshots the edge event store into the tick's scratch.
// The snapshot is the tick's atomic observation point: events arriving
// afterwards are seen on the next tick.
type IngestionTask struct {
	Engine IngestionEngine
}

func (*IngestionTask) Name() string { return "ingestion" }

func (t *IngestionTask) Run(_ context.Context, tc *pipeline.TaskContext) pipeline.TaskResult {
	var events = tc.Store.Snapshot()
	tc.Scratch.RawCount = len(events)

	if t.Engine != nil {
		events = t.Engine.Ingest(events)
	}
	tc.Scratch.Events = events

	log.WithFields(log.Fields{
		"raw":      tc.Scratch.RawCount,
		"ingested": len(events),
	}).Debug("ingested edge event snapshot")

	return pipeline.TaskResult{OK: true, Payload: map[string]any{"ingested": len(events)}}
}
