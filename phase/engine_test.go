package phase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// schedFunc adapts a func to the Scheduler interface.
type schedFunc func(time.Time) Phase

func (f schedFunc) Raw(now time.Time) Phase { return f(now) }

// fixedAge is a StaleSource reporting a constant last-event age.
type fixedAge time.Duration

func (a fixedAge) LastEventAge(time.Time) time.Duration { return time.Duration(a) }

func TestTimeBasedEngineIsPassThrough(t *testing.T) {
	var e = &TimeBasedEngine{Scheduler: SingleScheduler{Phase: "working"}}
	require.Equal(t, Working, e.Current(time.Now(), nil))
}

func TestDebounceCommitsFirstResolutionImmediately(t *testing.T) {
	var e = NewDebouncedEngine(SingleScheduler{}, DebounceConfig{StableFor: 5 * time.Second})
	require.Equal(t, Phase(""), e.Committed())
	require.Equal(t, Working, e.Current(time.Unix(1000, 0), nil))
	require.Equal(t, Working, e.Committed())
}

func TestDebounceDampsFlappingScheduler(t *testing.T) {
	// The scheduler alternates working / non_working / working at one
	// second intervals; with a five second window the committed phase
	// never moves.
	var raw = Working
	var e = NewDebouncedEngine(schedFunc(func(time.Time) Phase { return raw }),
		DebounceConfig{StableFor: 5 * time.Second})

	var t0 = time.Unix(1000, 0)
	require.Equal(t, Working, e.Current(t0, nil))

	raw = NonWorking
	require.Equal(t, Working, e.Current(t0.Add(1*time.Second), nil))
	raw = Working
	require.Equal(t, Working, e.Current(t0.Add(2*time.Second), nil))
	raw = NonWorking
	require.Equal(t, Working, e.Current(t0.Add(3*time.Second), nil))

	require.Equal(t, Working, e.Committed())
}

func TestDebounceCommitsAfterStableWindow(t *testing.T) {
	var raw = Working
	var e = NewDebouncedEngine(schedFunc(func(time.Time) Phase { return raw }),
		DebounceConfig{StableFor: 5 * time.Second})

	var t0 = time.Unix(1000, 0)
	require.Equal(t, Working, e.Current(t0, nil))

	raw = NonWorking
	require.Equal(t, Working, e.Current(t0.Add(1*time.Second), nil))
	require.Equal(t, Working, e.Current(t0.Add(4*time.Second), nil))
	// Candidate has now persisted for the full window.
	require.Equal(t, NonWorking, e.Current(t0.Add(6*time.Second), nil))
	require.Equal(t, NonWorking, e.Committed())

	// A candidate matching the committed phase resets pending state, so
	// a later flip starts its window from scratch.
	raw = Working
	require.Equal(t, NonWorking, e.Current(t0.Add(7*time.Second), nil))
	raw = NonWorking
	require.Equal(t, NonWorking, e.Current(t0.Add(8*time.Second), nil))
	raw = Working
	require.Equal(t, NonWorking, e.Current(t0.Add(9*time.Second), nil))
	require.Equal(t, NonWorking, e.Current(t0.Add(13*time.Second), nil))
	require.Equal(t, Working, e.Current(t0.Add(14*time.Second), nil))
}

func TestStaleFreezeHoldsCommittedPhase(t *testing.T) {
	var raw = Working
	var e = NewDebouncedEngine(schedFunc(func(time.Time) Phase { return raw }),
		DebounceConfig{StableFor: time.Second, StaleAfter: 10 * time.Second, StaleMode: StaleFreeze})

	var t0 = time.Unix(1000, 0)
	require.Equal(t, Working, e.Current(t0, fixedAge(0)))

	// Events stop; the scheduler flips, but the phase is frozen.
	raw = NonWorking
	require.Equal(t, Working, e.Current(t0.Add(15*time.Second), fixedAge(15*time.Second)))
	require.Equal(t, Working, e.Current(t0.Add(30*time.Second), fixedAge(30*time.Second)))
	require.Equal(t, Working, e.Committed())

	// Events resume: normal debouncing picks up again.
	require.Equal(t, Working, e.Current(t0.Add(31*time.Second), fixedAge(time.Second)))
	require.Equal(t, NonWorking, e.Current(t0.Add(33*time.Second), fixedAge(time.Second)))
}

func TestStaleUnknownForcesUnknownPhase(t *testing.T) {
	var e = NewDebouncedEngine(SingleScheduler{},
		DebounceConfig{
			StableFor:    time.Second,
			StaleAfter:   10 * time.Second,
			StaleMode:    StaleUnknown,
			UnknownPhase: "idle",
		})

	var t0 = time.Unix(1000, 0)
	require.Equal(t, Working, e.Current(t0, fixedAge(0)))

	require.Equal(t, Phase("idle"), e.Current(t0.Add(15*time.Second), fixedAge(15*time.Second)))
	require.Equal(t, Phase("idle"), e.Committed())

	// Recovery must re-earn the working phase through the debounce window.
	require.Equal(t, Phase("idle"), e.Current(t0.Add(16*time.Second), fixedAge(0)))
	require.Equal(t, Working, e.Current(t0.Add(18*time.Second), fixedAge(0)))
}

func TestStaleBeforeFirstCommit(t *testing.T) {
	// Freeze mode with nothing committed reports the scheduler's output.
	var e = NewDebouncedEngine(SingleScheduler{Phase: NonWorking},
		DebounceConfig{StableFor: time.Second, StaleAfter: 10 * time.Second, StaleMode: StaleFreeze})
	require.Equal(t, NonWorking, e.Current(time.Unix(1000, 0), fixedAge(time.Hour)))

	// Unknown mode commits the unknown phase.
	e = NewDebouncedEngine(SingleScheduler{},
		DebounceConfig{StableFor: time.Second, StaleAfter: 10 * time.Second, StaleMode: StaleUnknown})
	require.Equal(t, Unknown, e.Current(time.Unix(1000, 0), fixedAge(time.Hour)))
	require.Equal(t, Unknown, e.Committed())
}

func TestStaleDisabledIgnoresAge(t *testing.T) {
	var e = NewDebouncedEngine(SingleScheduler{}, DebounceConfig{StableFor: time.Second})
	require.Equal(t, Working, e.Current(time.Unix(1000, 0), fixedAge(time.Hour)))
}
