package pipeline

import (
	"context"
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"
)

// Task is one pipeline node. Run inspects and updates the TaskContext
// and reports its outcome; it never panics the loop (panics are
// contained by Sequence) and must bound any external I/O with the
// provided context or its own timeout.
type Task interface {
	Name() string
	Run(ctx context.Context, tc *TaskContext) TaskResult
}

// TaskResult is the outcome of one task execution.
type TaskResult struct {
	// OK false short-circuits the remaining tasks of the pipeline. The
	// workflow loop itself continues with the next tick.
	OK bool
	// Payload carries named results upward. Pipelines merge payloads
	// shallowly, last writer wins per key.
	Payload map[string]any
	// ContextUpdates is an RFC 7396 merge patch applied to the
	// context's cross-tick Doc.
	ContextUpdates []byte
}

// SleepOverride reads the payload's sleep key: the number of seconds the
// loop should wait before the next tick, overriding registry defaults.
func (r TaskResult) SleepOverride() (time.Duration, bool) {
	var raw, ok = r.Payload["sleep"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case time.Duration:
		return v, true
	case float64:
		return time.Duration(v * float64(time.Second)), true
	case int:
		return time.Duration(v) * time.Second, true
	case int64:
		return time.Duration(v) * time.Second, true
	default:
		return 0, false
	}
}

// Sequence is a pipeline: an ordered composition of tasks which run once
// per tick. A task returning OK=false skips the tasks after it.
type Sequence struct {
	name  string
	tasks []Task
}

// NewSequence composes tasks into a named pipeline.
func NewSequence(name string, tasks ...Task) *Sequence {
	return &Sequence{name: name, tasks: tasks}
}

func (s *Sequence) Name() string { return s.name }

// Tasks exposes the composed tasks in execution order.
func (s *Sequence) Tasks() []Task { return s.tasks }

func (s *Sequence) Run(ctx context.Context, tc *TaskContext) TaskResult {
	var merged = TaskResult{OK: true, Payload: make(map[string]any)}

	for _, task := range s.tasks {
		if ctx.Err() != nil {
			merged.OK = false
			return merged
		}

		var result = runContained(ctx, task, tc)
		for key, value := range result.Payload {
			merged.Payload[key] = value
		}
		if len(result.ContextUpdates) != 0 {
			if err := tc.ApplyUpdates(result.ContextUpdates); err != nil {
				log.WithFields(log.Fields{
					"task": task.Name(),
					"err":  err,
				}).Error("dropping invalid context update")
			}
		}

		if !result.OK {
			log.WithFields(log.Fields{
				"pipeline": s.name,
				"task":     task.Name(),
			}).Warn("task failed; skipping remainder of pipeline")
			taskFailures.WithLabelValues(s.name, task.Name()).Inc()
			merged.OK = false
			return merged
		}
	}
	return merged
}

// runContained invokes the task, converting a panic into a failed result
// so a misbehaving task can't take down the workflow loop.
func runContained(ctx context.Context, task Task, tc *TaskContext) (result TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"task":  task.Name(),
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("task panicked")
			result = TaskResult{OK: false}
		}
	}()
	return task.Run(ctx, tc)
}
