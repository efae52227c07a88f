package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// taskFunc adapts a func to the Task interface.
type taskFunc struct {
	name string
	fn   func(ctx context.Context, tc *TaskContext) TaskResult
}

func (t taskFunc) Name() string                                    { return t.name }
func (t taskFunc) Run(ctx context.Context, tc *TaskContext) TaskResult { return t.fn(ctx, tc) }

func ok(payload map[string]any) TaskResult { return TaskResult{OK: true, Payload: payload} }

func TestSequenceRunsTasksInOrder(t *testing.T) {
	var order []string
	var step = func(name string) Task {
		return taskFunc{name: name, fn: func(context.Context, *TaskContext) TaskResult {
			order = append(order, name)
			return ok(nil)
		}}
	}

	var seq = NewSequence("working", step("ingestion"), step("tracking"), step("rules"))
	var result = seq.Run(context.Background(), &TaskContext{})
	require.True(t, result.OK)
	require.Equal(t, []string{"ingestion", "tracking", "rules"}, order)
}

func TestSequenceShortCircuitsOnFailure(t *testing.T) {
	var ran []string
	var seq = NewSequence("working",
		taskFunc{name: "a", fn: func(context.Context, *TaskContext) TaskResult {
			ran = append(ran, "a")
			return ok(map[string]any{"kept": 1})
		}},
		taskFunc{name: "b", fn: func(context.Context, *TaskContext) TaskResult {
			ran = append(ran, "b")
			return TaskResult{OK: false}
		}},
		taskFunc{name: "c", fn: func(context.Context, *TaskContext) TaskResult {
			ran = append(ran, "c")
			return ok(nil)
		}},
	)

	var result = seq.Run(context.Background(), &TaskContext{})
	require.False(t, result.OK)
	require.Equal(t, []string{"a", "b"}, ran)
	// Payloads of tasks which ran before the failure are kept.
	require.Equal(t, 1, result.Payload["kept"])
}

func TestSequenceContainsPanics(t *testing.T) {
	var seq = NewSequence("working",
		taskFunc{name: "boom", fn: func(context.Context, *TaskContext) TaskResult {
			panic("task boom")
		}},
		taskFunc{name: "after", fn: func(context.Context, *TaskContext) TaskResult {
			t.Fatal("must not run after a panicked task")
			return ok(nil)
		}},
	)
	require.False(t, seq.Run(context.Background(), &TaskContext{}).OK)
}

func TestSequenceMergesPayloadsLastWriterWins(t *testing.T) {
	var seq = NewSequence("working",
		taskFunc{name: "a", fn: func(context.Context, *TaskContext) TaskResult {
			return ok(map[string]any{"sleep": 10, "count": 3})
		}},
		taskFunc{name: "b", fn: func(context.Context, *TaskContext) TaskResult {
			return ok(map[string]any{"sleep": 2})
		}},
	)

	var result = seq.Run(context.Background(), &TaskContext{})
	require.Equal(t, 2, result.Payload["sleep"])
	require.Equal(t, 3, result.Payload["count"])

	var sleep, found = result.SleepOverride()
	require.True(t, found)
	require.Equal(t, 2*time.Second, sleep)
}

func TestSequenceAppliesContextUpdates(t *testing.T) {
	var tc = NewTaskContext(nil, nil)
	var seq = NewSequence("working",
		taskFunc{name: "a", fn: func(context.Context, *TaskContext) TaskResult {
			return TaskResult{OK: true, ContextUpdates: []byte(`{"zones": {"updated_at": "2024-03-01"}}`)}
		}},
		taskFunc{name: "b", fn: func(context.Context, *TaskContext) TaskResult {
			return TaskResult{OK: true, ContextUpdates: []byte(`{"zones": {"count": 4}}`)}
		}},
	)

	require.True(t, seq.Run(context.Background(), tc).OK)
	require.JSONEq(t, `{"zones": {"updated_at": "2024-03-01", "count": 4}}`, string(tc.Doc))
}

func TestSleepOverrideForms(t *testing.T) {
	var cases = []struct {
		raw    any
		expect time.Duration
		found  bool
	}{
		{raw: 3, expect: 3 * time.Second, found: true},
		{raw: 1.5, expect: 1500 * time.Millisecond, found: true},
		{raw: int64(7), expect: 7 * time.Second, found: true},
		{raw: 30 * time.Second, expect: 30 * time.Second, found: true},
		{raw: "nope", found: false},
	}
	for _, tc := range cases {
		var sleep, found = TaskResult{Payload: map[string]any{"sleep": tc.raw}}.SleepOverride()
		require.Equal(t, tc.found, found)
		require.Equal(t, tc.expect, sleep)
	}

	var _, found = TaskResult{}.SleepOverride()
	require.False(t, found)
}

func TestEventQueueDrainLeavesQueueEmpty(t *testing.T) {
	var q = &EventQueue{}
	var at = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	q.Push(NewDispatchEvent("rules", []string{"api"}, map[string]any{"name": "intrusion"}, at))
	q.Push(NewDispatchEvent("phase", []string{"monitor"}, map[string]any{"name": "phase_change"}, at))
	require.Equal(t, 2, q.Len())

	var drained = q.Drain()
	require.Len(t, drained, 2)
	require.Zero(t, q.Len())
	require.Empty(t, q.Drain())
}

func TestDispatchEventIDIsStable(t *testing.T) {
	var at = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var a = NewDispatchEvent("rules", []string{"api"}, map[string]any{"name": "intrusion"}, at)
	var b = NewDispatchEvent("rules", []string{"db"}, map[string]any{"name": "intrusion"}, at)
	var c = NewDispatchEvent("rules", []string{"api"}, map[string]any{"name": "loitering"}, at)

	// Identical logical events hash identically regardless of handlers;
	// a different event name hashes differently.
	require.Equal(t, a.ID, b.ID)
	require.NotEqual(t, a.ID, c.ID)
	require.Len(t, a.ID, 16)
}

func TestDispatchEventIDDiscriminatesSources(t *testing.T) {
	var at = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// The same rule firing on two cameras in the same instant is two
	// distinct events, not one redelivered event.
	var cam01 = NewDispatchEvent("rules", []string{"log"},
		map[string]any{"name": "intrusion", "id": "r1", "camera_id": "cam01"}, at)
	var cam02 = NewDispatchEvent("rules", []string{"log"},
		map[string]any{"name": "intrusion", "id": "r2", "camera_id": "cam02"}, at)
	require.NotEqual(t, cam01.ID, cam02.ID)

	// Two engine-assigned IDs on one camera are likewise distinct.
	var again = NewDispatchEvent("rules", []string{"log"},
		map[string]any{"name": "intrusion", "id": "r2", "camera_id": "cam01"}, at)
	require.NotEqual(t, cam01.ID, again.ID)

	// A true redelivery hashes to the same ID.
	var redelivered = NewDispatchEvent("rules", []string{"log"},
		map[string]any{"name": "intrusion", "id": "r1", "camera_id": "cam01"}, at)
	require.Equal(t, cam01.ID, redelivered.ID)
}

func TestRegistryResolution(t *testing.T) {
	var r = NewRegistry()
	var sleep = 30 * time.Second

	require.NoError(t, r.Register("working", NewSequence("working"), nil))
	require.NoError(t, r.Register("non_working", NewSequence("non_working"), &sleep))
	require.Error(t, r.Register("working", NewSequence("working"), nil))
	require.Error(t, r.Register("", NewSequence(""), nil))

	var task, defaultSleep, err = r.Get("non_working")
	require.NoError(t, err)
	require.Equal(t, "non_working", task.Name())
	require.Equal(t, sleep, *defaultSleep)

	_, _, err = r.Get("maintenance")
	var unknown *UnknownPipelineError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "maintenance", unknown.Name)
	require.Equal(t, []string{"non_working", "working"}, unknown.Known)

	r.Seal()
	require.Error(t, r.Register("late", NewSequence("late"), nil))
}
