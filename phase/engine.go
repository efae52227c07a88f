package phase

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// StaleSource reports how long ago the site last produced an edge event.
// *store.Store satisfies it.
type StaleSource interface {
	LastEventAge(now time.Time) time.Duration
}

// Engine resolves the phase for one workflow tick. Implementations may
// keep debounce state, but must be idempotent for a repeated call with
// the same now and source state.
type Engine interface {
	Current(now time.Time, source StaleSource) Phase
}

// TimeBasedEngine is the pass-through engine: whatever the scheduler
// says, right now, is the phase.
type TimeBasedEngine struct {
	Scheduler Scheduler
}

func (e *TimeBasedEngine) Current(now time.Time, _ StaleSource) Phase {
	return e.Scheduler.Raw(now)
}

// StaleMode selects the engine's behavior while edge events are stale.
type StaleMode string

const (
	// StaleFreeze holds the committed phase until events resume.
	StaleFreeze StaleMode = "freeze"
	// StaleUnknown force-commits the configured unknown phase.
	StaleUnknown StaleMode = "unknown"
)

// DebounceConfig parameterizes a DebouncedEngine.
type DebounceConfig struct {
	// StableFor is how long a differing candidate phase must persist
	// before it is committed.
	StableFor time.Duration
	// StaleAfter enables stale handling when > 0: on any tick where the
	// source's last event age exceeds it, StaleMode applies.
	StaleAfter time.Duration
	StaleMode  StaleMode
	// UnknownPhase is committed under StaleUnknown.
	UnknownPhase Phase
}

// DebouncedEngine requires a scheduler's candidate phase to persist for
// a configured window before committing it, damping flappy signals.
// It is not safe for concurrent use; the workflow loop is its sole caller.
type DebouncedEngine struct {
	scheduler Scheduler
	cfg       DebounceConfig

	committed      Phase
	candidate      Phase
	candidateSince time.Time
	staleActive    bool
}

func NewDebouncedEngine(scheduler Scheduler, cfg DebounceConfig) *DebouncedEngine {
	if cfg.UnknownPhase == "" {
		cfg.UnknownPhase = Unknown
	}
	if cfg.StaleMode == "" {
		cfg.StaleMode = StaleFreeze
	}
	return &DebouncedEngine{scheduler: scheduler, cfg: cfg}
}

func (e *DebouncedEngine) Current(now time.Time, source StaleSource) Phase {
	if e.cfg.StaleAfter > 0 && source != nil {
		if age := source.LastEventAge(now); age > e.cfg.StaleAfter {
			if p, ok := e.stale(now, age); ok {
				return p
			}
		} else if e.staleActive {
			e.staleActive = false
			log.WithField("age", age).Info("edge events resumed; leaving stale mode")
		}
	}

	var candidate = e.scheduler.Raw(now)

	if e.committed == "" {
		// First resolution commits immediately.
		e.committed = candidate
		phaseCommits.WithLabelValues(string(candidate)).Inc()
		return e.committed
	}

	switch {
	case candidate == e.committed:
		e.candidate, e.candidateSince = "", time.Time{}

	case candidate != e.candidate:
		e.candidate, e.candidateSince = candidate, now

	case now.Sub(e.candidateSince) >= e.cfg.StableFor:
		e.committed = e.candidate
		e.candidate, e.candidateSince = "", time.Time{}
		phaseCommits.WithLabelValues(string(e.committed)).Inc()
	}
	return e.committed
}

// stale applies the configured stale mode, returning (phase, true) when
// it short-circuits the normal debounce flow.
func (e *DebouncedEngine) stale(now time.Time, age time.Duration) (Phase, bool) {
	if !e.staleActive {
		e.staleActive = true
		staleActivations.WithLabelValues(string(e.cfg.StaleMode)).Inc()
		log.WithFields(log.Fields{
			"age":        age,
			"staleAfter": e.cfg.StaleAfter,
			"mode":       e.cfg.StaleMode,
		}).Warn("no recent edge events; applying stale mode")
	}

	if e.cfg.StaleMode == StaleUnknown {
		if e.committed != e.cfg.UnknownPhase {
			e.committed = e.cfg.UnknownPhase
			e.candidate, e.candidateSince = "", time.Time{}
			phaseCommits.WithLabelValues(string(e.committed)).Inc()
		}
		return e.committed, true
	}

	// Freeze: hold the committed phase. Before anything was committed
	// there's nothing to hold, so fall through to normal resolution.
	if e.committed != "" {
		return e.committed, true
	}
	return "", false
}

// Committed exposes the engine's committed phase, or "" before the
// first resolution.
func (e *DebouncedEngine) Committed() Phase { return e.committed }
