package storage

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// MetricSnapshot represents one immutable measurement of a metric for a
// source within a time bucket. Snapshots are never mutated after creation.
type MetricSnapshot struct {
	ID        int64
	Bucket    time.Time
	Source    string
	MetricKey string
	Value     decimal.Decimal
	Meta      map[string]string
	CreatedAt time.Time
}

// NewSnapshot validates raw producer output and builds a snapshot.
func NewSnapshot(bucket time.Time, source, metricKey string, value float64, meta map[string]string) (MetricSnapshot, error) {
	if bucket.IsZero() {
		return MetricSnapshot{}, &ValidationError{Field: "ts_bucket", Reason: "is required"}
	}
	if source == "" {
		return MetricSnapshot{}, &ValidationError{Field: "source", Reason: "is required"}
	}
	if metricKey == "" {
		return MetricSnapshot{}, &ValidationError{Field: "metric_key", Reason: "is required"}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return MetricSnapshot{}, &ValidationError{Field: "metric_value", Reason: "must be finite"}
	}
	return MetricSnapshot{
		Bucket:    bucket.UTC(),
		Source:    source,
		MetricKey: metricKey,
		Value:     decimal.NewFromFloat(value),
		Meta:      meta,
	}, nil
}

// AlertSeverity classifies rule importance.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarn     AlertSeverity = "warn"
	SeverityCritical AlertSeverity = "critical"
)

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s AlertSeverity) bool {
	switch s {
	case SeverityInfo, SeverityWarn, SeverityCritical:
		return true
	}
	return false
}

// Condition kinds understood by the rule evaluator.
const (
	ConditionStatus     = "status"   // delegate to the threshold table
	ConditionAbove      = "gt"       // value > Value
	ConditionBelow      = "lt"       // value < Value
	ConditionDeltaAbove = "delta_gt" // value - previous bucket value > Value
)

// BaselinePreviousBucket compares against the immediately preceding bucket.
const BaselinePreviousBucket = "previous_bucket"

// RuleCondition describes when a rule fires for a snapshot.
type RuleCondition struct {
	Kind string
	// MinStatus applies to ConditionStatus: fire at or above this status
	// ("warning" or "critical"). Defaults to "warning".
	MinStatus string
	// Value applies to the comparison kinds.
	Value decimal.Decimal
}

// AlertRule is loaded from configuration and read-only at runtime.
type AlertRule struct {
	ID        int64
	Name      string
	MetricKey string
	// Source restricts the rule to one source; empty matches any source.
	Source    string
	Severity  AlertSeverity
	Condition RuleCondition
	// Baseline selects the baseline strategy, e.g. BaselinePreviousBucket.
	Baseline string
}

// Validate checks rule invariants at load time.
func (r AlertRule) Validate() error {
	if r.Name == "" {
		return &ValidationError{Field: "rule.name", Reason: "is required"}
	}
	if r.MetricKey == "" {
		return &ValidationError{Field: "rule.metric_key", Reason: "is required"}
	}
	if !ValidSeverity(r.Severity) {
		return &ValidationError{Field: "rule.severity", Reason: "must be info, warn, or critical"}
	}
	switch r.Condition.Kind {
	case ConditionStatus, ConditionAbove, ConditionBelow:
	case ConditionDeltaAbove:
		if r.Baseline == "" {
			return &ValidationError{Field: "rule.baseline", Reason: "is required for delta conditions"}
		}
	default:
		return &ValidationError{Field: "rule.condition", Reason: "unknown kind " + r.Condition.Kind}
	}
	return nil
}

// AlertStatus models the alert lifecycle state.
type AlertStatus string

const (
	AlertOpen     AlertStatus = "open"
	AlertAcked    AlertStatus = "acked"
	AlertResolved AlertStatus = "resolved"
)

// ValidAlertStatus reports whether s is a known lifecycle state.
func ValidAlertStatus(s AlertStatus) bool {
	switch s {
	case AlertOpen, AlertAcked, AlertResolved:
		return true
	}
	return false
}

// Alert captures a rule firing for one bucket. MetricKey, Source, and
// Severity are denormalised from the rule for filtering. Value, Baseline,
// and TriggeredAt are fixed at creation; only Status and Note change.
type Alert struct {
	ID          int64
	RuleID      int64
	RuleName    string
	MetricKey   string
	Source      string
	Severity    AlertSeverity
	Bucket      time.Time
	TriggeredAt time.Time
	Value       decimal.Decimal
	Baseline    *decimal.Decimal
	Status      AlertStatus
	Message     string
	Note        *string
}

// ConflictPolicy governs re-ingestion of an already stored bucket.
type ConflictPolicy string

const (
	// ConflictReplace upserts snapshots per (bucket, source, metric key).
	ConflictReplace ConflictPolicy = "replace"
	// ConflictReject fails the run when the bucket already holds snapshots.
	ConflictReject ConflictPolicy = "reject"
)

// SnapshotFilter narrows Query results.
type SnapshotFilter struct {
	Source    string
	MetricKey string
	Since     *time.Time
	Limit     int
}

// DefaultQueryLimit caps result size when the caller does not set one.
const DefaultQueryLimit = 200

// AlertFilter narrows ListAlerts results.
type AlertFilter struct {
	Status   AlertStatus
	Severity AlertSeverity
	Source   string
	Limit    int
}
