package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// PipelineSpec declares one instantiable pipeline of the schedule.
type PipelineSpec struct {
	// Class is the registered pipeline factory key.
	Class string `json:"class"`
	// Kwargs are passed opaquely to the factory.
	Kwargs map[string]any `json:"kwargs,omitempty"`
	// EnabledEnv names an environment variable which gates the
	// pipeline: set to a falsy value, the pipeline is skipped.
	EnabledEnv string `json:"enabled_env,omitempty"`
}

// PhaseSpec binds a phase to a pipeline, optionally throttled.
type PhaseSpec struct {
	Pipeline        string  `json:"pipeline"`
	IntervalSeconds float64 `json:"interval_seconds,omitempty"`
}

// UnmarshalJSON accepts the short form (a bare pipeline-name string) as
// well as the object form.
func (s *PhaseSpec) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &s.Pipeline)
	}
	type alias PhaseSpec
	return json.Unmarshal(data, (*alias)(s))
}

// Interval is the phase's run throttle, or zero when unthrottled.
func (s PhaseSpec) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds * float64(time.Second))
}

// Schedule is the parsed pipeline schedule document: which pipelines
// exist, and which phase each one services.
type Schedule struct {
	Pipelines map[string]PipelineSpec `json:"pipelines"`
	Phases    map[string]PhaseSpec    `json:"phases"`
}

// scheduleKeys are the recognized top-level document keys.
var scheduleKeys = map[string]bool{"pipelines": true, "phases": true}

// LoadSchedule reads and validates the schedule document at |path|,
// resolved against |configRoot| when relative. |env| looks up the
// enabled_env gates (pass os.Getenv).
func LoadSchedule(path, configRoot string, env func(string) string) (*Schedule, error) {
	if path == "" {
		return nil, fmt.Errorf("pipeline schedule path is required")
	}
	if configRoot != "" && !filepath.IsAbs(path) {
		path = filepath.Join(configRoot, path)
	}

	var data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline schedule: %w", err)
	}
	schedule, err := ParseSchedule(data, env)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", path, err)
	}
	return schedule, nil
}

// ParseSchedule parses and validates a schedule document.
func ParseSchedule(data []byte, env func(string) string) (*Schedule, error) {
	// First pass over raw keys, to warn on unrecognized ones.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing schedule document: %w", err)
	}
	for key := range raw {
		if !scheduleKeys[key] {
			log.WithField("key", key).Warn("ignoring unknown schedule document key")
		}
	}

	var schedule Schedule
	if err := json.Unmarshal(data, &schedule); err != nil {
		return nil, fmt.Errorf("parsing schedule document: %w", err)
	}
	if err := schedule.Validate(env); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// Validate checks the schedule's internal consistency: phases must
// exist, and every phase must reference a declared, enabled pipeline
// with a factory class.
func (s *Schedule) Validate(env func(string) string) error {
	if len(s.Phases) == 0 {
		return fmt.Errorf("schedule declares no phases")
	}

	for name, spec := range s.Pipelines {
		if spec.Class == "" {
			return fmt.Errorf("pipeline %q: class is required", name)
		}
	}

	for phase, spec := range s.Phases {
		if spec.Pipeline == "" {
			return fmt.Errorf("phase %q: pipeline is required", phase)
		}
		pipeline, ok := s.Pipelines[spec.Pipeline]
		if !ok {
			return fmt.Errorf("phase %q references undeclared pipeline %q", phase, spec.Pipeline)
		}
		if !pipeline.Enabled(env) {
			return fmt.Errorf("phase %q references pipeline %q, which is disabled by %s",
				phase, spec.Pipeline, pipeline.EnabledEnv)
		}
		if spec.IntervalSeconds < 0 {
			return fmt.Errorf("phase %q: interval_seconds must not be negative", phase)
		}
	}
	return nil
}

// Enabled evaluates the pipeline's enabled_env gate.
func (s PipelineSpec) Enabled(env func(string) string) bool {
	if s.EnabledEnv == "" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(env(s.EnabledEnv))) {
	case "0", "false", "no", "off":
		return false
	}
	return true
}
