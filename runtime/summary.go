package runtime

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var green = color.New(color.FgGreen).SprintFunc()
var yellow = color.New(color.FgYellow).SprintFunc()

// ConfigSummary renders the resolved operational settings as a table
// for startup review. Enabled with CONFIG_SUMMARY=true.
func ConfigSummary(w io.Writer, cfg *Config) {
	var rows = []struct{ name, value string }{
		{"edge event backend", cfg.Edge.Backend},
		{"phase publish backend", orDefault(cfg.Edge.PublishBackend, cfg.Edge.Backend+" (same adapter)")},
		{"edge event max age", fmt.Sprintf("%ds", cfg.Edge.MaxAgeSeconds)},
		{"loop interval", fmt.Sprintf("%ds", cfg.Loop.IntervalSeconds)},
		{"phase engine", cfg.Engines.Phase},
		{"scheduler engine", cfg.Engines.Scheduler},
		{"phase stable window", fmt.Sprintf("%ds", cfg.Phase.StableSeconds)},
		{"stale threshold", staleSummary(cfg)},
		{"working windows", cfg.Phase.Windows},
		{"timezone", cfg.Phase.Timezone},
		{"pipeline schedule", cfg.Pipeline.SchedulePath},
		{"rules engine", cfg.Engines.Rules},
		{"tracking", enabledSummary(cfg.Tasks.MCMOTEnabled, cfg.Engines.Tracking)},
		{"format task", enabledSummary(cfg.Tasks.FormatEnabled, cfg.Engines.Format)},
		{"heartbeat", fmt.Sprintf("%ds", cfg.MQTT.HeartbeatSeconds)},
		{"monitor endpoint", orDefault(cfg.Monitor.Endpoint, "(none)")},
		{"event journal", orDefault(cfg.Monitor.JournalPath, "(none)")},
		{"service name", cfg.Monitor.ServiceName},
	}

	fmt.Fprintf(w, "%s\n", green("edgebridge configuration:"))
	for _, row := range rows {
		fmt.Fprintf(w, "  %-24s %s\n", row.name, row.value)
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func staleSummary(cfg *Config) string {
	if cfg.Phase.StaleSeconds <= 0 {
		return "disabled"
	}
	return yellow(fmt.Sprintf("%ds (mode %s)", cfg.Phase.StaleSeconds, cfg.Phase.StaleMode))
}

func enabledSummary(enabled bool, engine string) string {
	if !enabled {
		return "disabled"
	}
	return engine
}
