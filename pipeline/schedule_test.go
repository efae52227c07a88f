package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func TestScheduleParsesBothPhaseForms(t *testing.T) {
	var doc = `{
		"pipelines": {
			"working":     {"class": "working"},
			"non_working": {"class": "idle", "kwargs": {"sleep": 30}}
		},
		"phases": {
			"working":     {"pipeline": "working", "interval_seconds": 2.5},
			"non_working": "non_working"
		}
	}`

	var schedule, err = ParseSchedule([]byte(doc), noEnv)
	require.NoError(t, err)

	require.Equal(t, "working", schedule.Phases["working"].Pipeline)
	require.Equal(t, 2500*time.Millisecond, schedule.Phases["working"].Interval())
	require.Equal(t, "non_working", schedule.Phases["non_working"].Pipeline)
	require.Zero(t, schedule.Phases["non_working"].Interval())
	require.Equal(t, float64(30), schedule.Pipelines["non_working"].Kwargs["sleep"])
}

func TestScheduleValidation(t *testing.T) {
	var cases = []struct {
		name string
		doc  string
		err  string
	}{
		{
			name: "empty phases",
			doc:  `{"pipelines": {"working": {"class": "working"}}, "phases": {}}`,
			err:  "declares no phases",
		},
		{
			name: "dangling pipeline reference",
			doc:  `{"pipelines": {}, "phases": {"working": "working"}}`,
			err:  `references undeclared pipeline "working"`,
		},
		{
			name: "missing class",
			doc:  `{"pipelines": {"working": {}}, "phases": {"working": "working"}}`,
			err:  "class is required",
		},
		{
			name: "missing pipeline name",
			doc:  `{"pipelines": {"working": {"class": "working"}}, "phases": {"working": {}}}`,
			err:  "pipeline is required",
		},
		{
			name: "negative interval",
			doc: `{"pipelines": {"working": {"class": "working"}},
				"phases": {"working": {"pipeline": "working", "interval_seconds": -1}}}`,
			err: "must not be negative",
		},
		{
			name: "malformed document",
			doc:  `{"pipelines": [`,
			err:  "parsing schedule document",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var _, err = ParseSchedule([]byte(tc.doc), noEnv)
			require.ErrorContains(t, err, tc.err)
		})
	}
}

func TestScheduleEnabledEnvGate(t *testing.T) {
	var doc = `{
		"pipelines": {"working": {"class": "working", "enabled_env": "WORKING_PIPELINE"}},
		"phases": {"working": "working"}
	}`

	// Unset, or set to anything non-falsy, enables the pipeline.
	for _, value := range []string{"", "1", "true", "yes"} {
		var _, err = ParseSchedule([]byte(doc), func(string) string { return value })
		require.NoError(t, err)
	}
	// Falsy values disable it, failing the phase which references it.
	for _, value := range []string{"0", "false", "no", "off", " False "} {
		var _, err = ParseSchedule([]byte(doc), func(string) string { return value })
		require.ErrorContains(t, err, `disabled by WORKING_PIPELINE`)
	}
}

func TestLoadScheduleResolvesConfigRoot(t *testing.T) {
	var dir = t.TempDir()
	var doc = `{"pipelines": {"working": {"class": "working"}}, "phases": {"working": "working"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schedule.json"), []byte(doc), 0o600))

	var schedule, err = LoadSchedule("schedule.json", dir, noEnv)
	require.NoError(t, err)
	require.Len(t, schedule.Phases, 1)

	_, err = LoadSchedule("missing.json", dir, noEnv)
	require.ErrorContains(t, err, "reading pipeline schedule")

	_, err = LoadSchedule("", dir, noEnv)
	require.ErrorContains(t, err, "schedule path is required")
}
