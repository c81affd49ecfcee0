package config

import (
	"time"
)

// RunConfig is the resolved configuration for scaffold commands. It
// comes from a CUE file (scaffold.cue by convention), optionally
// layered, with CLI flags applied on top by the command layer.
type RunConfig struct {
	// Target is the target tree: a local path or an ssh://user@host/path URL.
	Target string `json:"target"`

	// PluginDirs are the roots searched for plugin manifests.
	PluginDirs []string `json:"plugin_dirs" validate:"min=1,dive,min=1"`

	// Params are explicit parameter bindings, applied at every node.
	Params map[string]string `json:"params"`

	// Declined lists plugin IDs opted out of runs.
	Declined []string `json:"declined"`

	// Concurrency is the executor worker count.
	Concurrency int `json:"concurrency" validate:"min=1"`

	// FailFast stops dispatching after the first blocking failure.
	FailFast bool `json:"fail_fast"`

	// CheckTimeoutSeconds bounds each predicate evaluation.
	CheckTimeoutSeconds int `json:"check_timeout_seconds" validate:"min=1"`

	// StatePath is the execution log database path. Empty disables the
	// execution log.
	StatePath string `json:"state_path"`

	// PolicyDirs are additional Rego policy directories evaluated
	// against the graph before a run.
	PolicyDirs []string `json:"policy_dirs"`

	// PresetPath is an optional Starlark file computing parameter
	// presets; its result merges under Params.
	PresetPath string `json:"preset_path"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry TelemetryConfig `json:"telemetry"`
}

// TelemetryConfig is the telemetry slice of the run configuration.
type TelemetryConfig struct {
	// LogLevel is trace, debug, info, warn, error, or fatal.
	LogLevel string `json:"log_level"`

	// LogFormat is console or json.
	LogFormat string `json:"log_format"`

	// MetricsEnabled turns on the Prometheus endpoint.
	MetricsEnabled bool `json:"metrics_enabled"`

	// MetricsListen is the metrics endpoint address.
	MetricsListen string `json:"metrics_listen"`

	// TracingEnabled turns on OpenTelemetry tracing.
	TracingEnabled bool `json:"tracing_enabled"`

	// TracingExporter is otlp, stdout, or none.
	TracingExporter string `json:"tracing_exporter"`

	// TracingEndpoint is the OTLP endpoint.
	TracingEndpoint string `json:"tracing_endpoint"`
}

// CheckTimeout returns the check timeout as a duration.
func (c *RunConfig) CheckTimeout() time.Duration {
	return time.Duration(c.CheckTimeoutSeconds) * time.Second
}

// DeclinedSet returns the declined plugin IDs as a lookup set.
func (c *RunConfig) DeclinedSet() map[string]bool {
	set := make(map[string]bool, len(c.Declined))
	for _, id := range c.Declined {
		set[id] = true
	}
	return set
}

// Default returns the configuration used when no config file exists.
func Default() *RunConfig {
	return &RunConfig{
		Target:              ".",
		PluginDirs:          []string{"plugins"},
		Params:              map[string]string{},
		Declined:            []string{},
		Concurrency:         4,
		CheckTimeoutSeconds: 30,
		StatePath:           ".scaffold/state.db",
		PolicyDirs:          []string{},
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "console",
			MetricsListen:   ":9090",
			TracingExporter: "stdout",
		},
	}
}
