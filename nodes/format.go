package nodes

import (
	"context"

	"github.com/sitewatch/edgebridge/pipeline"
)

// FormatStrategy converts the tick's tracking output into the payload
// the rule engine evaluates.
type FormatStrategy interface {
	Format(tc *pipeline.TaskContext) *pipeline.RulesPayload
}

// SummaryFormat is the default strategy: per-camera and site-wide
// counts by object class. Tracked global objects are preferred; when
// the tracker is disabled, raw detections are summarized instead.
type SummaryFormat struct{}

func (SummaryFormat) Format(tc *pipeline.TaskContext) *pipeline.RulesPayload {
	var payload = &pipeline.RulesPayload{
		CameraSummary: make(map[string]pipeline.CameraSummary),
		GlobalSummary: pipeline.GlobalSummary{Classes: make(map[string]int)},
		Metadata:      pipeline.PayloadMetadata{GeneratedAt: tc.Now},
	}

	var count = func(cameraID, class string) {
		var camera = payload.CameraSummary[cameraID]
		camera.Count++
		if camera.Classes == nil {
			camera.Classes = make(map[string]int)
		}
		camera.Classes[class]++
		payload.CameraSummary[cameraID] = camera

		payload.GlobalSummary.Total++
		payload.GlobalSummary.Classes[class]++
	}

	if len(tc.Scratch.GlobalObjects) > 0 {
		for _, object := range tc.Scratch.GlobalObjects {
			count(object.CameraID, object.Class)
		}
	} else {
		for _, event := range tc.Scratch.Events {
			for _, detection := range event.Detections {
				count(event.CameraID, detection.Class)
			}
		}
	}

	payload.ExpectOutput = payload.GlobalSummary.Total > 0
	return payload
}

// FormatTask produces the rules payload. It's optional: a disabled
// format task leaves scratch.RulesPayload nil and the rule task idle.
type FormatTask struct {
	Strategy FormatStrategy
}

func (*FormatTask) Name() string { return "format" }

func (t *FormatTask) Run(_ context.Context, tc *pipeline.TaskContext) pipeline.TaskResult {
	var strategy = t.Strategy
	if strategy == nil {
		strategy = SummaryFormat{}
	}
	tc.Scratch.RulesPayload = strategy.Format(tc)
	return pipeline.TaskResult{OK: true}
}
