// Package pipeline defines the task composition model of the workflow
// loop: the per-tick task context, the dispatch event queue, sequential
// pipeline composition, the phase→pipeline registry, and the schedule
// document which configures them.
package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/sitewatch/edgebridge/comm"
	"github.com/sitewatch/edgebridge/phase"
	"github.com/sitewatch/edgebridge/store"
)

// TrackedObject is one object produced by the multi-camera tracker.
type TrackedObject struct {
	GlobalID   string     `json:"global_id,omitempty"`
	LocalID    string     `json:"local_id,omitempty"`
	CameraID   string     `json:"camera_id,omitempty"`
	Class      string     `json:"class"`
	Position   [2]float64 `json:"position,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
}

// CameraSummary aggregates one camera's contribution to a tick.
type CameraSummary struct {
	Count   int            `json:"count"`
	Classes map[string]int `json:"classes,omitempty"`
}

// GlobalSummary aggregates the whole site's tracked objects.
type GlobalSummary struct {
	Total   int            `json:"total"`
	Classes map[string]int `json:"classes"`
}

// RulesPayload is the document handed to the rule engine each tick.
type RulesPayload struct {
	CameraSummary map[string]CameraSummary `json:"camera_summary"`
	GlobalSummary GlobalSummary            `json:"global_summary"`
	ExpectOutput  bool                     `json:"expect_output"`
	Metadata      PayloadMetadata          `json:"metadata"`
}

// PayloadMetadata annotates a RulesPayload.
type PayloadMetadata struct {
	GeneratedAt time.Time `json:"generated_at"`
}

// Scratch carries per-tick values written by upstream tasks for
// downstream ones. It's reset at the start of every tick.
type Scratch struct {
	// Events is the tick's store snapshot, written by the ingestion task.
	Events []store.EdgeEvent
	// RawCount is the number of snapshot events before engine filtering.
	RawCount int
	// GlobalObjects and LocalObjects are the tracker's output.
	GlobalObjects []TrackedObject
	LocalObjects  []TrackedObject
	// RulesPayload is the formatted document for rule evaluation.
	RulesPayload *RulesPayload
}

// TaskContext is the shared state each pipeline borrows for the duration
// of one tick. It's confined to the workflow goroutine: tasks must not
// retain it or hand it to other goroutines.
type TaskContext struct {
	// Store is shared by read with pipeline tasks and by write with the
	// comm adapter's ingestion callback.
	Store *store.Store
	// Comm is the adapter owning ingestion, and phase publish unless a
	// separate publish backend was configured.
	Comm comm.Adapter
	// Phase and Now are fixed for the duration of a tick.
	Phase phase.Phase
	Now   time.Time
	// Queue buffers dispatch events until the event-dispatch task drains
	// it at the end of the tick.
	Queue *EventQueue
	// Scratch holds the tick's intermediate task output.
	Scratch *Scratch
	// Doc is cross-tick engine state, updated by merging TaskResult
	// ContextUpdates as RFC 7396 patches.
	Doc json.RawMessage
}

// NewTaskContext builds the context seeded with its long-lived resources.
func NewTaskContext(s *store.Store, adapter comm.Adapter) *TaskContext {
	return &TaskContext{
		Store:   s,
		Comm:    adapter,
		Queue:   &EventQueue{},
		Scratch: &Scratch{},
	}
}

// BeginTick resets per-tick state. The queue and Doc survive ticks.
func (tc *TaskContext) BeginTick(now time.Time, p phase.Phase) {
	tc.Now, tc.Phase = now, p
	*tc.Scratch = Scratch{}
}

// ApplyUpdates merges a task's context updates into Doc.
func (tc *TaskContext) ApplyUpdates(patch json.RawMessage) error {
	if len(patch) == 0 {
		return nil
	}
	var doc = tc.Doc
	if len(doc) == 0 {
		doc = []byte("{}")
	}
	var next, err = jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return fmt.Errorf("merging context update: %w", err)
	}
	tc.Doc = next
	return nil
}
