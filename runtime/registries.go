package runtime

import (
	"context"
	"time"

	"github.com/sitewatch/edgebridge/dispatch"
	"github.com/sitewatch/edgebridge/nodes"
	"github.com/sitewatch/edgebridge/phase"
	"github.com/sitewatch/edgebridge/pipeline"
	"github.com/sitewatch/edgebridge/plugin"
	"github.com/sitewatch/edgebridge/store"
)

// The engine-class settings select keys from these registries: the
// compile-time analogue of the class-path strings they historically
// held. Deployments with custom engines register additional keys from
// their own init functions before Build runs.

// PipelineArgs is handed to pipeline task factories.
type PipelineArgs struct {
	Config     *Config
	Store      *store.Store
	Dispatcher dispatch.Engine
	Kwargs     map[string]any
}

var (
	Schedulers      = plugin.NewRegistry[func(*Config) (phase.Scheduler, error)]("scheduler engine")
	PhaseEngines    = plugin.NewRegistry[func(*Config, phase.Scheduler) (phase.Engine, error)]("phase engine")
	IngestEngines   = plugin.NewRegistry[func(*Config) (nodes.IngestionEngine, error)]("ingestion engine")
	TrackingEngines = plugin.NewRegistry[func(*Config) (nodes.TrackingEngine, error)]("tracking engine")
	FormatEngines   = plugin.NewRegistry[func(*Config) (nodes.FormatStrategy, error)]("format strategy")
	RuleEngines     = plugin.NewRegistry[func(*Config) (nodes.RuleEngine, error)]("rules engine")
	DispatchEngines = plugin.NewRegistry[func(*Config, []dispatch.Handler) (dispatch.Engine, error)]("dispatch engine")
	Selectors       = plugin.NewRegistry[func(*Config) (pipeline.Selector, error)]("pipeline selector")
	PipelineClasses = plugin.NewRegistry[func(PipelineArgs) (pipeline.Task, error)]("pipeline class")
	PhaseHooks      = plugin.NewRegistry[func(*Config) (PhaseChangeHook, error)]("phase change hook")
)

// register adapts a plain constructor to the registry's factory shape.
func register[T any](r *plugin.Registry[T], key string, ctor T) {
	r.Register(key, func(map[string]any) (T, error) { return ctor, nil })
}

// build resolves the constructor bound to |key|.
func build[T any](r *plugin.Registry[T], key string) (T, error) {
	var ctor, err = r.Build(key, nil)
	if err != nil {
		var zero T
		return zero, configErrorf("%w", err)
	}
	return ctor, nil
}

// noopRules is the default rule engine: no rules configured, no events.
type noopRules struct{}

func (noopRules) Evaluate(context.Context, *pipeline.RulesPayload) ([]nodes.RuleEvent, error) {
	return nil, nil
}

func init() {
	register(Schedulers, "single", func(*Config) (phase.Scheduler, error) {
		return phase.SingleScheduler{}, nil
	})
	register(Schedulers, "time_window", func(cfg *Config) (phase.Scheduler, error) {
		var windows, err = phase.ParseWindows(cfg.Phase.Windows)
		if err != nil {
			return nil, configErrorf("WORKING_WINDOWS: %w", err)
		}
		loc, err := time.LoadLocation(cfg.Phase.Timezone)
		if err != nil {
			return nil, configErrorf("APP_TIMEZONE: %w", err)
		}
		return phase.NewTimeWindowScheduler(windows, loc), nil
	})
	register(Schedulers, "iron_gate", func(*Config) (phase.Scheduler, error) {
		// The door-state source is deployment specific; without one the
		// gate reads as closed. Site builds register their own key with
		// a wired DoorState.
		return phase.IronGateScheduler{}, nil
	})

	register(PhaseEngines, "time_based", func(_ *Config, s phase.Scheduler) (phase.Engine, error) {
		return &phase.TimeBasedEngine{Scheduler: s}, nil
	})
	register(PhaseEngines, "debounced", func(cfg *Config, s phase.Scheduler) (phase.Engine, error) {
		return phase.NewDebouncedEngine(s, phase.DebounceConfig{
			StableFor:    time.Duration(cfg.Phase.StableSeconds) * time.Second,
			StaleAfter:   time.Duration(cfg.Phase.StaleSeconds) * time.Second,
			StaleMode:    phase.StaleMode(cfg.Phase.StaleMode),
			UnknownPhase: phase.Phase(cfg.Phase.UnknownPhase),
		}), nil
	})

	register(IngestEngines, "passthrough", func(*Config) (nodes.IngestionEngine, error) {
		return nodes.PassthroughIngestion{}, nil
	})

	// Tracking is external: the default build runs without a tracker.
	register(TrackingEngines, "disabled", func(*Config) (nodes.TrackingEngine, error) {
		return nil, nil
	})

	register(FormatEngines, "summary", func(*Config) (nodes.FormatStrategy, error) {
		return nodes.SummaryFormat{}, nil
	})

	register(RuleEngines, "noop", func(*Config) (nodes.RuleEngine, error) {
		return noopRules{}, nil
	})

	register(DispatchEngines, "router", func(_ *Config, handlers []dispatch.Handler) (dispatch.Engine, error) {
		return dispatch.NewRouter(handlers...), nil
	})

	register(Selectors, "working_hours", func(*Config) (pipeline.Selector, error) {
		return pipeline.WorkingHoursSelector{}, nil
	})

	register(PhaseHooks, "log", func(*Config) (PhaseChangeHook, error) {
		return logPhaseChange{}, nil
	})

	register(PipelineClasses, "working", newWorkingPipeline)
	register(PipelineClasses, "noop", func(args PipelineArgs) (pipeline.Task, error) {
		return pipeline.NewSequence("noop",
			&nodes.NoopTask{},
			&nodes.EventDispatchTask{Engine: args.Dispatcher},
		), nil
	})
	register(PipelineClasses, "idle", func(args PipelineArgs) (pipeline.Task, error) {
		var sleep = float64(args.Config.Loop.NonWorkingIdleSecs)
		if v, ok := args.Kwargs["sleep"].(float64); ok {
			sleep = v
		}
		return pipeline.NewSequence("idle",
			&nodes.IdleTask{Sleep: sleep},
			&nodes.EventDispatchTask{Engine: args.Dispatcher},
		), nil
	})
}

// newWorkingPipeline assembles the default working pipeline:
// Ingestion → Tracking → Format → Rules → EventDispatch, with the
// optional stages gated by configuration.
func newWorkingPipeline(args PipelineArgs) (pipeline.Task, error) {
	var cfg = args.Config

	ingest, err := build(IngestEngines, cfg.Engines.Ingestion)
	if err != nil {
		return nil, err
	}
	ingestEngine, err := ingest(cfg)
	if err != nil {
		return nil, err
	}

	var tasks = []pipeline.Task{&nodes.IngestionTask{Engine: ingestEngine}}

	if cfg.Tasks.MCMOTEnabled {
		track, err := build(TrackingEngines, cfg.Engines.Tracking)
		if err != nil {
			return nil, err
		}
		trackEngine, err := track(cfg)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, &nodes.TrackingTask{Engine: trackEngine})
	}

	if cfg.Tasks.FormatEnabled {
		format, err := build(FormatEngines, cfg.Engines.Format)
		if err != nil {
			return nil, err
		}
		strategy, err := format(cfg)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, &nodes.FormatTask{Strategy: strategy})
	}

	rules, err := build(RuleEngines, cfg.Engines.Rules)
	if err != nil {
		return nil, err
	}
	ruleEngine, err := rules(cfg)
	if err != nil {
		return nil, err
	}
	tasks = append(tasks,
		nodes.NewRuleTask(ruleEngine, time.Duration(cfg.Tasks.RuleCooldownSeconds)*time.Second),
		&nodes.EventDispatchTask{Engine: args.Dispatcher},
	)

	return pipeline.NewSequence("working", tasks...), nil
}
