package nodes

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"github.com/sitewatch/edgebridge/pipeline"
)

// RuleEvent is one violation or notification produced by a rule engine.
type RuleEvent struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Timestamp float64        `json:"timestamp"`
	EventType string         `json:"event_type"`
	CameraID  string         `json:"camera_id,omitempty"`
	Handlers  []string       `json:"handlers,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// valid checks the fields every rule event must carry. Engines are
// external; their output is not trusted.
func (e RuleEvent) valid() bool {
	return e.ID != "" && e.Name != "" && e.Timestamp > 0 && e.EventType != ""
}

// RuleEngine evaluates the tick's formatted payload.
type RuleEngine interface {
	Evaluate(ctx context.Context, payload *pipeline.RulesPayload) ([]RuleEvent, error)
}

// ruleTimeout bounds one engine evaluation.
const ruleTimeout = 5 * time.Second

// defaultRuleHandlers receive rule events which name none themselves.
var defaultRuleHandlers = []string{"log"}

// RuleTask runs the configured rule engine and enqueues its events for
// dispatch at the end of the tick. A per-camera+rule cooldown cache
// suppresses repeats of a still-firing rule.
type RuleTask struct {
	Engine   RuleEngine
	cooldown *expirable.LRU[string, struct{}]
}

// NewRuleTask builds the task. A zero cooldown disables suppression.
func NewRuleTask(engine RuleEngine, cooldown time.Duration) *RuleTask {
	var task = &RuleTask{Engine: engine}
	if cooldown > 0 {
		task.cooldown = expirable.NewLRU[string, struct{}](1024, nil, cooldown)
	}
	return task
}

func (*RuleTask) Name() string { return "rules" }

func (t *RuleTask) Run(ctx context.Context, tc *pipeline.TaskContext) pipeline.TaskResult {
	if t.Engine == nil || tc.Scratch.RulesPayload == nil {
		return pipeline.TaskResult{OK: true}
	}

	var bounded, cancel = context.WithTimeout(ctx, ruleTimeout)
	defer cancel()

	var events, err = t.Engine.Evaluate(bounded, tc.Scratch.RulesPayload)
	if err != nil {
		log.WithField("err", err).Error("rule engine failed")
		return pipeline.TaskResult{OK: false}
	}

	var enqueued int
	for _, event := range events {
		if !event.valid() {
			log.WithFields(log.Fields{
				"id":   event.ID,
				"name": event.Name,
			}).Warn("dropping rule event with missing required fields")
			continue
		}
		if t.suppressed(event) {
			continue
		}

		var handlers = event.Handlers
		if len(handlers) == 0 {
			handlers = defaultRuleHandlers
		}
		var data = map[string]any{
			"id":         event.ID,
			"name":       event.Name,
			"timestamp":  event.Timestamp,
			"event_type": event.EventType,
		}
		if event.CameraID != "" {
			data["camera_id"] = event.CameraID
		}
		for key, value := range event.Data {
			data[key] = value
		}

		tc.Queue.Push(pipeline.NewDispatchEvent("rules", handlers, data, tc.Now))
		enqueued++
	}

	return pipeline.TaskResult{OK: true, Payload: map[string]any{"rule_events": enqueued}}
}

// suppressed applies the cooldown: a rule already fired for this camera
// within the window is dropped until the cache entry expires.
func (t *RuleTask) suppressed(event RuleEvent) bool {
	if t.cooldown == nil {
		return false
	}
	var key = event.CameraID + "\x00" + event.Name
	if _, ok := t.cooldown.Get(key); ok {
		return true
	}
	t.cooldown.Add(key, struct{}{})
	return false
}
