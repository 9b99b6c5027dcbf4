// Package cfgstore holds the component's mutable configuration document:
// the logs flag and the nested per-metric telemetry settings.
package cfgstore

const (
	DefaultIntervalS              = 2.0
	DefaultChangeThresholdPercent = 2.0
)

// MetricConfig controls how one metric is gated.
type MetricConfig struct {
	Enabled                bool    `json:"enabled"`
	IntervalS              float64 `json:"interval_s"`
	ChangeThresholdPercent float64 `json:"change_threshold_percent"`
}

// DefaultMetricConfig is used for any metric without explicit settings.
func DefaultMetricConfig() MetricConfig {
	return MetricConfig{
		Enabled:                true,
		IntervalS:              DefaultIntervalS,
		ChangeThresholdPercent: DefaultChangeThresholdPercent,
	}
}

type TelemetryConfig struct {
	Metrics map[string]MetricConfig `json:"metrics"`
}

// Clone returns a deep copy.
func (t TelemetryConfig) Clone() TelemetryConfig {
	out := TelemetryConfig{Metrics: make(map[string]MetricConfig, len(t.Metrics))}
	for name, mc := range t.Metrics {
		out.Metrics[name] = mc
	}

	return out
}

// Document is the retained cfg payload.
type Document struct {
	LogsEnabled bool            `json:"logs_enabled"`
	Telemetry   TelemetryConfig `json:"telemetry"`
}

// Field names accepted in a set document.
const (
	keyLogsEnabled = "logs_enabled"
	keyTelemetry   = "telemetry"
	keyMetrics     = "metrics"
	keyEnabled     = "enabled"
	keyInterval    = "interval_s"
	keyThreshold   = "change_threshold_percent"
)
