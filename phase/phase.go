// Package phase decides the operational phase of a site: schedulers
// produce a raw candidate from time windows or external signals, and
// engines wrap a scheduler with debouncing and stale-data handling.
package phase

import (
	"fmt"
	"strings"
	"time"
)

// Phase is a site-wide operational label. The configured pipeline
// schedule maps each phase to the pipeline which services it.
type Phase string

const (
	Working    Phase = "working"
	NonWorking Phase = "non_working"
	// Unknown is the reserved fallback when the site's true phase can't
	// be determined (see StaleUnknown).
	Unknown Phase = "unknown"
)

// Scheduler answers: given the current time, what is the raw candidate
// phase? Schedulers are pure with respect to external I/O.
type Scheduler interface {
	Raw(now time.Time) Phase
}

// SingleScheduler always reports the same phase. It's the default:
// sites without working-hour windows run the working pipeline forever.
type SingleScheduler struct {
	Phase Phase
}

func (s SingleScheduler) Raw(time.Time) Phase {
	if s.Phase == "" {
		return Working
	}
	return s.Phase
}

// Window is a working-hour window in local time, inclusive of Start and
// exclusive of End, held as minutes since midnight.
type Window struct {
	Start, End int
}

// Contains reports whether the local time of day falls in the window.
func (w Window) Contains(t time.Time) bool {
	var minute = t.Hour()*60 + t.Minute()
	return minute >= w.Start && minute < w.End
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}

// ParseWindows parses a comma-separated list of HH:MM-HH:MM windows.
func ParseWindows(raw string) ([]Window, error) {
	var out []Window
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var bounds = strings.Split(part, "-")
		if len(bounds) != 2 {
			return nil, fmt.Errorf("window %q is not of the form HH:MM-HH:MM", part)
		}
		start, err := parseMinute(bounds[0])
		if err != nil {
			return nil, fmt.Errorf("window %q: %w", part, err)
		}
		end, err := parseMinute(bounds[1])
		if err != nil {
			return nil, fmt.Errorf("window %q: %w", part, err)
		}
		if start >= end {
			return nil, fmt.Errorf("window %q is empty (start is not before end)", part)
		}
		out = append(out, Window{Start: start, End: end})
	}
	return out, nil
}

func parseMinute(raw string) (int, error) {
	var t, err = time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing time of day %q: %w", raw, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// TimeWindowScheduler reports Working inside any configured window,
// evaluated in the site's timezone, and NonWorking otherwise.
type TimeWindowScheduler struct {
	windows []Window
	loc     *time.Location
}

func NewTimeWindowScheduler(windows []Window, loc *time.Location) *TimeWindowScheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &TimeWindowScheduler{windows: windows, loc: loc}
}

func (s *TimeWindowScheduler) Raw(now time.Time) Phase {
	var local = now.In(s.loc)
	for _, w := range s.windows {
		if w.Contains(local) {
			return Working
		}
	}
	return NonWorking
}

// DoorState reports an externally-fed gate signal: whether the gate is
// open, and whether the source has reported at all.
type DoorState func() (open, known bool)

// IronGateScheduler keys the phase off a physical gate: an open gate
// means the site is working. An unknown signal is treated as closed.
type IronGateScheduler struct {
	Door DoorState
}

func (s IronGateScheduler) Raw(time.Time) Phase {
	if s.Door == nil {
		return NonWorking
	}
	if open, known := s.Door(); known && open {
		return Working
	}
	return NonWorking
}
