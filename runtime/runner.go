package runtime

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sitewatch/edgebridge/phase"
	"github.com/sitewatch/edgebridge/pipeline"
)

// Runner is the workflow loop: each tick it resolves the phase,
// heartbeats the phase publish, dispatches phase changes, selects and
// runs a pipeline, and sleeps the resolved interval.
type Runner struct {
	daemon *Daemon
	clock  func() time.Time

	previous    phase.Phase
	lastPublish time.Time
	lastRun     map[string]time.Time
}

func NewRunner(daemon *Daemon) *Runner {
	return &Runner{
		daemon:  daemon,
		clock:   time.Now,
		lastRun: make(map[string]time.Time),
	}
}

// Run ticks until the context is cancelled, then shuts the daemon down:
// ingestion stops first, the queue is flushed through dispatch, and
// transports are released.
func (r *Runner) Run(ctx context.Context) error {
	log.WithField("interval", r.daemon.Config.LoopInterval()).Info("starting workflow loop")

	var timer = time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		var sleep = r.Tick(ctx)

		timer.Reset(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return r.shutdown()
		case <-timer.C:
		}
	}
}

// shutdown stops ingestion, flushes buffered dispatch events, and
// releases resources in reverse acquisition order.
func (r *Runner) shutdown() error {
	log.Info("shutting down workflow loop")

	var err = r.daemon.Ingest.Stop()

	if queued := r.daemon.Context.Queue.Drain(); len(queued) != 0 {
		log.WithField("events", len(queued)).Info("flushing event queue")
		var ctx, cancel = context.WithTimeout(context.Background(), stopFlushGrace)
		r.daemon.Dispatcher.Dispatch(ctx, queued)
		cancel()
	}

	if stopErr := r.daemon.Stop(); err == nil {
		err = stopErr
	}
	return err
}

// stopFlushGrace bounds the shutdown queue flush.
const stopFlushGrace = 5 * time.Second

// Tick runs one loop iteration and returns the sleep before the next.
func (r *Runner) Tick(ctx context.Context) time.Duration {
	var now = r.clock()
	var cfg = r.daemon.Config
	ticks.Inc()

	// 1. Resolve the phase, then publish it: on every change, and at
	// the heartbeat cadence regardless of change or past publish
	// outcome. Publish is ordered after the commit and before the
	// phase's pipeline runs.
	var current = r.daemon.PhaseEngine.Current(now, r.daemon.Store)
	var changed = r.previous != "" && current != r.previous

	if changed || r.lastPublish.IsZero() || now.Sub(r.lastPublish) >= cfg.Heartbeat() {
		if !r.daemon.Publish.PublishPhase(string(current), epochSeconds(now)) {
			log.WithField("phase", current).Warn("phase publish was not accepted")
		}
		r.lastPublish = now
	}

	// 2. Select the pipeline. The selector is authoritative on the
	// name; an unknown name skips the tick but never stops the loop.
	// Its metadata may also flag a transition the engine can't see.
	var name, meta = r.daemon.Selector.Select(current, r.daemon.Context)

	if changed || meta.PhaseChanged {
		r.daemon.Hook.OnPhaseChange(r.previous, current)
		r.daemon.Context.Queue.Push(pipeline.NewDispatchEvent(
			"phase",
			[]string{"monitor"},
			map[string]any{
				"name": "phase_change",
				"from": string(r.previous),
				"to":   string(current),
				"at":   epochSeconds(now),
			},
			now,
		))
		phaseChanges.Inc()
	}
	r.previous = current

	var task, defaultSleep, err = r.daemon.Registry.Get(name)
	if err != nil {
		log.WithFields(log.Fields{"pipeline": name, "err": err}).Error("cannot select pipeline; skipping tick")
		skippedTicks.WithLabelValues("unknown_pipeline").Inc()
		return r.capSleep(now, cfg.LoopInterval())
	}

	// 3. Apply the phase's run throttle, if configured.
	if interval, ok := r.daemon.intervals[name]; ok {
		if since := now.Sub(r.lastRun[name]); !r.lastRun[name].IsZero() && since < interval {
			skippedTicks.WithLabelValues("throttled").Inc()
			return r.capSleep(now, interval-since)
		}
	}
	r.lastRun[name] = now

	// 4. Run the pipeline and resolve the next sleep:
	// task payload > selector metadata > registry default > loop interval.
	r.daemon.Context.BeginTick(now, current)
	var result = task.Run(ctx, r.daemon.Context)

	var sleep = cfg.LoopInterval()
	if override, ok := result.SleepOverride(); ok {
		sleep = override
	} else if meta.Sleep != nil {
		sleep = *meta.Sleep
	} else if defaultSleep != nil {
		sleep = *defaultSleep
	}
	return r.capSleep(now, sleep)
}

// capSleep bounds a sleep so the next heartbeat publish isn't missed by
// a long-sleeping pipeline.
func (r *Runner) capSleep(now time.Time, sleep time.Duration) time.Duration {
	if sleep < 0 {
		sleep = 0
	}
	if heartbeat := r.daemon.Config.Heartbeat(); heartbeat > 0 && !r.lastPublish.IsZero() {
		if remaining := heartbeat - now.Sub(r.lastPublish); remaining < sleep {
			sleep = remaining
		}
		if sleep < 0 {
			sleep = 0
		}
	}
	return sleep
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
