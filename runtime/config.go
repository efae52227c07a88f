// Package runtime wires the edgebridge daemon together: configuration,
// engine registries, startup construction, and the workflow loop.
package runtime

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	mbp "go.gazette.dev/core/mainboilerplate"
)

// Config configures the edgebridge daemon. Every setting is available
// as a flag and as its historical environment variable.
type Config struct {
	Loop struct {
		IntervalSeconds    int `long:"interval-seconds" env:"LOOP_INTERVAL_SECONDS" default:"5" description:"Fallback seconds between workflow ticks"`
		NonWorkingIdleSecs int `long:"non-working-idle-seconds" env:"NON_WORKING_IDLE_SECONDS" default:"30" description:"Idle pipeline sleep in seconds"`
		RetryBackoffSecs   int `long:"retry-backoff-seconds" env:"RETRY_BACKOFF_SECONDS" default:"10" description:"Transport reconnect backoff in seconds"`
	} `group:"Workflow loop" namespace:"loop"`

	Phase struct {
		StableSeconds int    `long:"stable-seconds" env:"PHASE_STABLE_SECONDS" default:"180" description:"Seconds a candidate phase must persist before commit"`
		StaleSeconds  int    `long:"stale-seconds" env:"EDGE_EVENT_STALE_SECONDS" default:"0" description:"Edge event staleness threshold in seconds (0 disables)"`
		StaleMode     string `long:"stale-mode" env:"EDGE_EVENT_STALE_MODE" default:"freeze" choice:"freeze" choice:"unknown" description:"Behavior while edge events are stale"`
		UnknownPhase  string `long:"unknown-phase" env:"EDGE_EVENT_UNKNOWN_PHASE" default:"unknown" description:"Phase committed under stale mode unknown"`
		Windows       string `long:"working-windows" env:"WORKING_WINDOWS" default:"00:00-23:59" description:"Comma-separated HH:MM-HH:MM working windows"`
		Timezone      string `long:"timezone" env:"APP_TIMEZONE" default:"UTC" description:"IANA timezone the working windows are evaluated in"`
	} `group:"Phase" namespace:"phase"`

	Edge struct {
		Backend        string `long:"backend" env:"EDGE_EVENT_BACKEND" default:"http" choice:"http" choice:"mqtt" description:"Edge event ingestion transport"`
		PublishBackend string `long:"publish-backend" env:"PHASE_PUBLISH_BACKEND" description:"Phase publish transport (defaults to the ingestion backend)"`
		Host           string `long:"host" env:"EDGE_EVENT_HOST" default:"0.0.0.0" description:"HTTP ingestion bind host"`
		Port           int    `long:"port" env:"EDGE_EVENT_PORT" default:"9000" description:"HTTP ingestion bind port"`
		MaxAgeSeconds  int    `long:"max-age-seconds" env:"EDGE_EVENT_MAX_AGE" default:"5" description:"Drop edge events older than this at ingest"`
		MaxConns       int    `long:"max-conns" env:"EDGE_EVENT_MAX_CONNS" default:"64" description:"Concurrent ingestion connection cap"`
	} `group:"Edge events" namespace:"edge"`

	MQTT struct {
		Host             string `long:"host" env:"MQTT_HOST" default:"localhost" description:"MQTT broker host"`
		Port             int    `long:"port" env:"MQTT_PORT" default:"1883" description:"MQTT broker port"`
		ClientID         string `long:"client-id" env:"MQTT_CLIENT_ID" default:"edgebridge" description:"MQTT client identifier"`
		QoS              int    `long:"qos" env:"MQTT_QOS" default:"1" description:"MQTT quality of service"`
		Retain           bool   `long:"retain" env:"MQTT_RETAIN" default:"true" description:"Publish phase documents with the retain flag"`
		HeartbeatSeconds int    `long:"heartbeat-seconds" env:"MQTT_HEARTBEAT_SECONDS" default:"600" description:"Maximum seconds between phase publishes"`
		PhaseTopic       string `long:"phase-topic" env:"PHASE_MQTT_TOPIC" default:"integration/phase" description:"Phase publish topic"`
		EventsTopic      string `long:"events-topic" env:"EDGE_EVENTS_MQTT_TOPIC" default:"edge/events" description:"Edge event subscription topic"`
		DispatchTopic    string `long:"dispatch-topic" env:"DISPATCH_MQTT_TOPIC" default:"integration/events" description:"Dispatch event publish topic"`
	} `group:"MQTT" namespace:"mqtt"`

	Pipeline struct {
		SchedulePath string `long:"schedule-path" env:"PIPELINE_SCHEDULE_PATH" required:"true" description:"Path of the pipeline schedule JSON document"`
		ConfigRoot   string `long:"config-root" env:"CONFIG_ROOT" description:"Base directory for relative configuration paths"`
		TaskClasses  string `long:"task-classes" env:"PIPELINE_TASK_CLASSES" description:"Comma-separated name=key pipeline class overrides"`
		SleepSecs    string `long:"sleep-seconds" env:"PIPELINE_SLEEP_SECONDS" description:"Comma-separated name=seconds default sleep overrides"`
	} `group:"Pipeline schedule" namespace:"pipeline"`

	Engines struct {
		Phase     string `long:"phase" env:"PHASE_ENGINE_CLASS" default:"debounced" description:"Phase engine class"`
		Scheduler string `long:"scheduler" env:"SCHEDULER_ENGINE_CLASS" default:"single" description:"Scheduler engine class"`
		Ingestion string `long:"ingestion" env:"INGESTION_ENGINE_CLASS" default:"passthrough" description:"Ingestion engine class"`
		Tracking  string `long:"tracking" env:"TRACKING_ENGINE_CLASS" default:"disabled" description:"Tracking engine class"`
		Format    string `long:"format" env:"FORMAT_STRATEGY_CLASS" default:"summary" description:"Format strategy class"`
		Rules     string `long:"rules" env:"RULES_ENGINE_CLASS" default:"noop" description:"Rules engine class"`
		Dispatch  string `long:"dispatch" env:"EVENT_DISPATCH_ENGINE_CLASS" default:"router" description:"Event dispatch engine class"`
		Selector  string `long:"selector" env:"PIPELINE_SELECTOR_CLASS" default:"working_hours" description:"Pipeline selector class"`
		PhaseHook string `long:"phase-hook" env:"PHASE_CHANGE_ENGINE_CLASS" default:"log" description:"Phase change hook class"`
	} `group:"Engine classes" namespace:"engines"`

	Tasks struct {
		MCMOTEnabled        bool `long:"mcmot-enabled" env:"MCMOT_ENABLED" default:"true" description:"Enable the multi-camera tracking task"`
		FormatEnabled       bool `long:"format-enabled" env:"FORMAT_TASK_ENABLED" default:"true" description:"Enable the format conversion task"`
		RuleCooldownSeconds int  `long:"rule-cooldown-seconds" env:"RULE_COOLDOWN_SECONDS" default:"0" description:"Suppress repeated rule events per camera for this many seconds (0 disables)"`
	} `group:"Tasks" namespace:"tasks"`

	Monitor struct {
		Endpoint    string `long:"endpoint" env:"MONITOR_ENDPOINT" description:"External monitoring service base URL"`
		ServiceName string `long:"service-name" env:"MONITOR_SERVICE_NAME" default:"edgebridge" description:"Service name reported to the monitor"`
		JournalPath string `long:"journal-path" env:"EVENT_JOURNAL_PATH" description:"SQLite event journal path (empty disables)"`
		Summary     bool   `long:"config-summary" env:"CONFIG_SUMMARY" description:"Print a resolved configuration table at startup"`
	} `group:"Monitoring" namespace:"monitor"`

	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

// LoopInterval is the fallback tick interval.
func (cfg *Config) LoopInterval() time.Duration {
	return time.Duration(cfg.Loop.IntervalSeconds) * time.Second
}

// Heartbeat is the maximum wall time between phase publishes.
func (cfg *Config) Heartbeat() time.Duration {
	return time.Duration(cfg.MQTT.HeartbeatSeconds) * time.Second
}

// parsePairs splits a "name=value,name=value" csv setting.
func parsePairs(raw string) (map[string]string, error) {
	var out = make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var name, value, ok = strings.Cut(part, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed entry %q (expected name=value)", part)
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return out, nil
}

// TaskClassOverrides parses PIPELINE_TASK_CLASSES.
func (cfg *Config) TaskClassOverrides() (map[string]string, error) {
	var out, err = parsePairs(cfg.Pipeline.TaskClasses)
	if err != nil {
		return nil, fmt.Errorf("PIPELINE_TASK_CLASSES: %w", err)
	}
	return out, nil
}

// SleepOverrides parses PIPELINE_SLEEP_SECONDS.
func (cfg *Config) SleepOverrides() (map[string]time.Duration, error) {
	var pairs, err = parsePairs(cfg.Pipeline.SleepSecs)
	if err != nil {
		return nil, fmt.Errorf("PIPELINE_SLEEP_SECONDS: %w", err)
	}
	var out = make(map[string]time.Duration, len(pairs))
	for name, value := range pairs {
		seconds, err := strconv.ParseFloat(value, 64)
		if err != nil || seconds < 0 {
			return nil, fmt.Errorf("PIPELINE_SLEEP_SECONDS: invalid seconds %q for %q", value, name)
		}
		out[name] = time.Duration(seconds * float64(time.Second))
	}
	return out, nil
}
