package nodes

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sitewatch/edgebridge/pipeline"
	"github.com/sitewatch/edgebridge/store"
)

// TrackingEngine is the multi-camera tracker surface. The tracker
// itself is an external collaborator: it assigns cross-camera global
// IDs and maps detections into site coordinates.
type TrackingEngine interface {
	Track(ctx context.Context, events []store.EdgeEvent) (global, local []pipeline.TrackedObject, err error)
}

// trackTimeout bounds one tracker invocation.
const trackTimeout = 5 * time.Second

// TrackingTask hands the tick's events to the tracking engine and
// records its output in scratch. With no engine configured the task
// passes through, leaving scratch tracking output empty.
type TrackingTask struct {
	Engine TrackingEngine
}

func (*TrackingTask) Name() string { return "tracking" }

func (t *TrackingTask) Run(ctx context.Context, tc *pipeline.TaskContext) pipeline.TaskResult {
	if t.Engine == nil {
		return pipeline.TaskResult{OK: true}
	}

	var bounded, cancel = context.WithTimeout(ctx, trackTimeout)
	defer cancel()

	var global, local, err = t.Engine.Track(bounded, tc.Scratch.Events)
	if err != nil {
		log.WithField("err", err).Error("tracking engine failed")
		return pipeline.TaskResult{OK: false}
	}

	tc.Scratch.GlobalObjects = global
	tc.Scratch.LocalObjects = local
	return pipeline.TaskResult{OK: true, Payload: map[string]any{"tracked": len(global)}}
}
