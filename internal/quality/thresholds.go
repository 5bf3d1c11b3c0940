package quality

import "fmt"

// Status is the threshold evaluation outcome for a single metric value.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Rank orders statuses by severity for at-or-above comparisons.
func (s Status) Rank() int {
	switch s {
	case StatusWarning:
		return 1
	case StatusCritical:
		return 2
	default:
		return 0
	}
}

// ParseStatus converts a configuration string into a Status.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusOK, StatusWarning, StatusCritical:
		return Status(raw), nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// Built-in metric keys produced by the measurement pipeline.
const (
	MetricMissingProfilePct         = "missing_profile_pct"
	MetricMissingTimestampPct       = "missing_timestamp_pct"
	MetricDuplicateIDPct            = "duplicate_id_pct"
	MetricFreshnessLagMinutes       = "freshness_lag_minutes"
	MetricAttributableConversionPct = "attributable_conversion_pct"
)

// ThresholdConfig is the static per-metric-key threshold table entry.
// Invert=false means lower values are better; Invert=true flips that.
// Critical is carried for display alongside the other boundaries but the
// evaluator degrades straight from warning to critical at Warn.
type ThresholdConfig struct {
	MetricKey   string  `mapstructure:"metric_key"`
	OK          float64 `mapstructure:"ok"`
	Warn        float64 `mapstructure:"warn"`
	Critical    float64 `mapstructure:"critical"`
	Unit        string  `mapstructure:"unit"`
	Invert      bool    `mapstructure:"invert"`
	Description string  `mapstructure:"description"`
}

// DefaultThresholds returns the built-in threshold table.
func DefaultThresholds() []ThresholdConfig {
	return []ThresholdConfig{
		{
			MetricKey:   MetricMissingProfilePct,
			OK:          5,
			Warn:        15,
			Critical:    30,
			Unit:        "%",
			Description: "share of events missing required profile fields",
		},
		{
			MetricKey:   MetricMissingTimestampPct,
			OK:          5,
			Warn:        15,
			Critical:    30,
			Unit:        "%",
			Description: "share of events missing a usable event timestamp",
		},
		{
			MetricKey:   MetricDuplicateIDPct,
			OK:          3,
			Warn:        8,
			Critical:    15,
			Unit:        "%",
			Description: "share of events carrying a duplicate event id",
		},
		{
			MetricKey:   MetricFreshnessLagMinutes,
			OK:          120,
			Warn:        360,
			Critical:    720,
			Unit:        "min",
			Description: "minutes since the source last delivered data",
		},
		{
			MetricKey:   MetricAttributableConversionPct,
			OK:          85,
			Warn:        70,
			Critical:    50,
			Unit:        "%",
			Invert:      true,
			Description: "share of conversions attributable to a known profile",
		},
	}
}

// Table resolves metric keys to threshold configuration. It is loaded once
// at startup and read-only afterwards.
type Table struct {
	byKey map[string]ThresholdConfig
}

// NewTable builds a threshold table from configuration entries.
func NewTable(configs []ThresholdConfig) *Table {
	byKey := make(map[string]ThresholdConfig, len(configs))
	for _, cfg := range configs {
		byKey[cfg.MetricKey] = cfg
	}
	return &Table{byKey: byKey}
}

// Lookup returns the configuration for a metric key.
func (t *Table) Lookup(metricKey string) (ThresholdConfig, bool) {
	cfg, ok := t.byKey[metricKey]
	return cfg, ok
}

// Keys lists the configured metric keys.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.byKey))
	for key := range t.byKey {
		keys = append(keys, key)
	}
	return keys
}

// HigherIsBetter reports the metric's directionality. Unconfigured metrics
// default to lower-is-better.
func (t *Table) HigherIsBetter(metricKey string) bool {
	cfg, ok := t.byKey[metricKey]
	return ok && cfg.Invert
}

// Evaluate maps a metric value to a status. Unknown metric keys are not
// alarmed and resolve to ok. Boundaries are inclusive on the passing side.
func (t *Table) Evaluate(metricKey string, value float64) Status {
	cfg, ok := t.byKey[metricKey]
	if !ok {
		return StatusOK
	}

	if cfg.Invert {
		switch {
		case value >= cfg.OK:
			return StatusOK
		case value >= cfg.Warn:
			return StatusWarning
		default:
			return StatusCritical
		}
	}

	switch {
	case value <= cfg.OK:
		return StatusOK
	case value <= cfg.Warn:
		return StatusWarning
	default:
		return StatusCritical
	}
}
