package pipeline

import (
	"time"

	"github.com/sitewatch/edgebridge/phase"
)

// Meta annotates a pipeline selection.
type Meta struct {
	// Sleep overrides the selected pipeline's registry default for the
	// next loop interval.
	Sleep *time.Duration
	// PhaseChanged requests a phase-change dispatch even when the
	// engine's phase didn't move. Custom selectors use it to surface
	// transitions the engine can't see.
	PhaseChanged bool
}

// Selector picks the pipeline to run for a tick. The selector is
// authoritative on the pipeline name; the phase engine on the phase.
type Selector interface {
	Select(p phase.Phase, tc *TaskContext) (string, Meta)
}

// WorkingHoursSelector is the default selector: the pipeline named by
// the phase itself.
type WorkingHoursSelector struct{}

func (WorkingHoursSelector) Select(p phase.Phase, _ *TaskContext) (string, Meta) {
	return string(p), Meta{}
}
