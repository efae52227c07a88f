package runtime

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sitewatch/edgebridge/comm"
	"github.com/sitewatch/edgebridge/dispatch"
	"github.com/sitewatch/edgebridge/phase"
	"github.com/sitewatch/edgebridge/pipeline"
	"github.com/sitewatch/edgebridge/store"
)

// PhaseChangeHook observes committed phase transitions.
type PhaseChangeHook interface {
	OnPhaseChange(from, to phase.Phase)
}

// logPhaseChange is the default hook.
type logPhaseChange struct{}

func (logPhaseChange) OnPhaseChange(from, to phase.Phase) {
	log.WithFields(log.Fields{"from": from, "to": to}).Info("phase changed")
}

// Daemon is the fully wired edgebridge process, ready to run.
type Daemon struct {
	Config  *Config
	Store   *store.Store
	Ingest  comm.Adapter
	Publish comm.Adapter

	PhaseEngine phase.Engine
	Selector    pipeline.Selector
	Registry    *pipeline.Registry
	Dispatcher  dispatch.Engine
	Context     *pipeline.TaskContext
	Hook        PhaseChangeHook

	// intervals throttles phases configured with interval_seconds.
	intervals map[string]time.Duration

	journal *dispatch.JournalHandler
}

// Build constructs the daemon in dependency order: store, comm
// adapters, ingestion start, engines, schedule, registry, selector,
// dispatch. Configuration failures return a *ConfigError.
func Build(ctx context.Context, cfg *Config) (*Daemon, error) {
	var d = &Daemon{
		Config:    cfg,
		Hook:      logPhaseChange{},
		intervals: make(map[string]time.Duration),
	}

	d.Store = store.NewStore(
		time.Duration(cfg.Edge.MaxAgeSeconds)*time.Second,
		2*time.Second,
	)

	var commCfg = commConfig(cfg)
	ingest, err := comm.New(comm.Backend(cfg.Edge.Backend), commCfg)
	if err != nil {
		return nil, configErrorf("EDGE_EVENT_BACKEND: %w", err)
	}
	d.Ingest = ingest

	// Absent a distinct publish backend, the ingestion adapter also
	// owns phase publish: one lifecycle owner for both directions.
	d.Publish = d.Ingest
	if pb := cfg.Edge.PublishBackend; pb != "" && pb != cfg.Edge.Backend {
		publish, err := comm.New(comm.Backend(pb), commCfg)
		if err != nil {
			return nil, configErrorf("PHASE_PUBLISH_BACKEND: %w", err)
		}
		d.Publish = publish
	}

	if err = d.Ingest.StartEventIngestion(func(event store.EdgeEvent) bool {
		return d.Store.Add(event)
	}); err != nil {
		_ = d.Ingest.Stop()
		return nil, fmt.Errorf("starting event ingestion: %w", err)
	}

	if err = d.buildEngines(cfg); err != nil {
		_ = d.Stop()
		return nil, err
	}
	if err = d.buildDispatch(ctx, cfg); err != nil {
		_ = d.Stop()
		return nil, err
	}
	if err = d.buildRegistry(cfg); err != nil {
		_ = d.Stop()
		return nil, err
	}

	d.Context = pipeline.NewTaskContext(d.Store, d.Ingest)
	return d, nil
}

func commConfig(cfg *Config) comm.Config {
	var out comm.Config
	out.ServiceName = cfg.Monitor.ServiceName
	out.HTTP.Host = cfg.Edge.Host
	out.HTTP.Port = cfg.Edge.Port
	out.HTTP.MaxConns = cfg.Edge.MaxConns
	out.HTTP.PublishEndpoint = cfg.Monitor.Endpoint
	out.MQTT.Host = cfg.MQTT.Host
	out.MQTT.Port = cfg.MQTT.Port
	out.MQTT.ClientID = cfg.MQTT.ClientID
	out.MQTT.QoS = byte(cfg.MQTT.QoS)
	out.MQTT.Retain = cfg.MQTT.Retain
	out.MQTT.EventsTopic = cfg.MQTT.EventsTopic
	out.MQTT.PhaseTopic = cfg.MQTT.PhaseTopic
	out.MQTT.RetryBackoff = time.Duration(cfg.Loop.RetryBackoffSecs) * time.Second
	return out
}

func (d *Daemon) buildEngines(cfg *Config) error {
	schedCtor, err := build(Schedulers, cfg.Engines.Scheduler)
	if err != nil {
		return err
	}
	scheduler, err := schedCtor(cfg)
	if err != nil {
		return err
	}

	engineCtor, err := build(PhaseEngines, cfg.Engines.Phase)
	if err != nil {
		return err
	}
	if d.PhaseEngine, err = engineCtor(cfg, scheduler); err != nil {
		return err
	}

	selectorCtor, err := build(Selectors, cfg.Engines.Selector)
	if err != nil {
		return err
	}
	if d.Selector, err = selectorCtor(cfg); err != nil {
		return err
	}

	hookCtor, err := build(PhaseHooks, cfg.Engines.PhaseHook)
	if err != nil {
		return err
	}
	d.Hook, err = hookCtor(cfg)
	return err
}

func (d *Daemon) buildDispatch(ctx context.Context, cfg *Config) error {
	var handlers = []dispatch.Handler{
		dispatch.LogHandler{},
		dispatch.NewMonitorHandler(cfg.Monitor.Endpoint, cfg.Monitor.ServiceName),
	}

	if cfg.Monitor.JournalPath != "" {
		var journal, err = dispatch.NewJournalHandler(ctx, cfg.Monitor.JournalPath)
		if err != nil {
			return configErrorf("EVENT_JOURNAL_PATH: %w", err)
		}
		d.journal = journal
		handlers = append(handlers, journal)
	}

	if mqttAdapter, ok := d.Publish.(*comm.MQTTAdapter); ok {
		handlers = append(handlers, &dispatch.MQTTHandler{
			Topic:     cfg.MQTT.DispatchTopic,
			Transport: mqttAdapter,
		})
	}

	var ctor, err = build(DispatchEngines, cfg.Engines.Dispatch)
	if err != nil {
		return err
	}
	d.Dispatcher, err = ctor(cfg, handlers)
	return err
}

func (d *Daemon) buildRegistry(cfg *Config) error {
	var schedule, err = pipeline.LoadSchedule(
		cfg.Pipeline.SchedulePath, cfg.Pipeline.ConfigRoot, os.Getenv)
	if err != nil {
		return configErrorf("%w", err)
	}

	classOverrides, err := cfg.TaskClassOverrides()
	if err != nil {
		return configErrorf("%w", err)
	}
	sleepOverrides, err := cfg.SleepOverrides()
	if err != nil {
		return configErrorf("%w", err)
	}

	// Instantiate each declared pipeline once; phases referencing the
	// same pipeline share the instance.
	var instances = make(map[string]pipeline.Task)
	for name, spec := range schedule.Pipelines {
		var class = spec.Class
		if override, ok := classOverrides[name]; ok {
			class = override
		}
		ctor, err := build(PipelineClasses, class)
		if err != nil {
			return err
		}
		task, err := ctor(PipelineArgs{
			Config:     cfg,
			Store:      d.Store,
			Dispatcher: d.Dispatcher,
			Kwargs:     spec.Kwargs,
		})
		if err != nil {
			return configErrorf("building pipeline %q: %w", name, err)
		}
		instances[name] = task
	}

	d.Registry = pipeline.NewRegistry()
	for phaseName, spec := range schedule.Phases {
		var defaultSleep *time.Duration
		if sleep, ok := sleepOverrides[spec.Pipeline]; ok {
			defaultSleep = &sleep
		}
		if err := d.Registry.Register(phaseName, instances[spec.Pipeline], defaultSleep); err != nil {
			return configErrorf("%w", err)
		}
		if interval := spec.Interval(); interval > 0 {
			d.intervals[phaseName] = interval
		}
	}
	d.Registry.Seal()

	log.WithFields(log.Fields{
		"pipelines": len(instances),
		"phases":    d.Registry.Names(),
	}).Info("pipeline registry initialized")
	return nil
}

// Stop releases the daemon's transports and handlers in reverse
// acquisition order. It's idempotent.
func (d *Daemon) Stop() error {
	var err error
	if d.journal != nil {
		err = d.journal.Close()
		d.journal = nil
	}
	if d.Publish != nil && d.Publish != d.Ingest {
		if stopErr := d.Publish.Stop(); err == nil {
			err = stopErr
		}
	}
	if d.Ingest != nil {
		if stopErr := d.Ingest.Stop(); err == nil {
			err = stopErr
		}
	}
	return err
}
