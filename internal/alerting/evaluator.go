package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dqwatch/internal/quality"
	"dqwatch/internal/storage"
)

// DefaultRules returns one warn-severity threshold rule per built-in
// metric key, with previous-bucket baselines recorded for context.
func DefaultRules() []storage.AlertRule {
	keys := []string{
		quality.MetricMissingProfilePct,
		quality.MetricMissingTimestampPct,
		quality.MetricDuplicateIDPct,
		quality.MetricFreshnessLagMinutes,
		quality.MetricAttributableConversionPct,
	}
	rules := make([]storage.AlertRule, 0, len(keys))
	for i, key := range keys {
		rules = append(rules, storage.AlertRule{
			ID:        int64(i + 1),
			Name:      key + " threshold",
			MetricKey: key,
			Severity:  storage.SeverityWarn,
			Condition: storage.RuleCondition{
				Kind:      storage.ConditionStatus,
				MinStatus: string(quality.StatusWarning),
			},
			Baseline: storage.BaselinePreviousBucket,
		})
	}
	return rules
}

// Evaluator scans configured rules against freshly ingested snapshots and
// opens alerts for newly met conditions. It never resolves alerts: recovery
// is explicit triage, not automatic detection.
type Evaluator struct {
	store  storage.SnapshotStore
	alerts storage.AlertStore
	table  *quality.Table
	rules  []storage.AlertRule
	logger zerolog.Logger
}

// NewEvaluator wires the rule evaluator.
func NewEvaluator(store storage.SnapshotStore, alerts storage.AlertStore, table *quality.Table, rules []storage.AlertRule, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		store:  store,
		alerts: alerts,
		table:  table,
		rules:  rules,
		logger: logger.With().Str("component", "rule_evaluator").Logger(),
	}
}

// EvaluateBucket runs every rule against the bucket's snapshots and returns
// the alerts created by this pass. Re-evaluating an already alerted bucket
// is idempotent; each alert creation stands alone, so an aborted pass
// leaves no inconsistent state and can simply be re-run.
func (e *Evaluator) EvaluateBucket(ctx context.Context, bucket time.Time, snapshots []storage.MetricSnapshot) ([]storage.Alert, error) {
	created := make([]storage.Alert, 0)

	for _, rule := range e.rules {
		for _, snap := range snapshots {
			if err := ctx.Err(); err != nil {
				return created, err
			}
			if snap.MetricKey != rule.MetricKey {
				continue
			}
			if rule.Source != "" && snap.Source != rule.Source {
				continue
			}

			var baseline *decimal.Decimal
			if rule.Baseline == storage.BaselinePreviousBucket {
				value, err := e.previousValue(ctx, bucket, snap.MetricKey, snap.Source)
				if err != nil {
					return created, err
				}
				baseline = value
			}

			if !e.conditionMet(rule, snap, baseline) {
				continue
			}

			alert := storage.Alert{
				RuleID:      rule.ID,
				RuleName:    rule.Name,
				MetricKey:   snap.MetricKey,
				Source:      snap.Source,
				Severity:    rule.Severity,
				Bucket:      bucket,
				TriggeredAt: time.Now().UTC(),
				Value:       snap.Value,
				Baseline:    baseline,
				Status:      storage.AlertOpen,
				Message:     e.renderMessage(rule, snap),
			}

			stored, isNew, err := e.alerts.CreateAlert(ctx, alert)
			if err != nil {
				return created, fmt.Errorf("create alert for rule %q: %w", rule.Name, err)
			}
			if !isNew {
				continue
			}
			created = append(created, stored)
			e.logger.Info().Str("rule", rule.Name).
				Str("source", snap.Source).
				Str("metric", snap.MetricKey).
				Str("value", snap.Value.String()).
				Msg("alert opened")
		}
	}
	return created, nil
}

// previousValue looks up the snapshot for (metric, source) in the distinct
// bucket immediately preceding bucket, if any.
func (e *Evaluator) previousValue(ctx context.Context, bucket time.Time, metricKey, source string) (*decimal.Decimal, error) {
	snapshots, err := e.store.Query(ctx, storage.SnapshotFilter{MetricKey: metricKey, Source: source})
	if err != nil {
		return nil, fmt.Errorf("query baseline: %w", err)
	}
	for i := range snapshots {
		if snapshots[i].Bucket.Before(bucket.UTC()) {
			value := snapshots[i].Value
			return &value, nil
		}
	}
	return nil, nil
}

func (e *Evaluator) conditionMet(rule storage.AlertRule, snap storage.MetricSnapshot, baseline *decimal.Decimal) bool {
	switch rule.Condition.Kind {
	case storage.ConditionStatus:
		min := quality.StatusWarning
		if rule.Condition.MinStatus != "" {
			parsed, err := quality.ParseStatus(rule.Condition.MinStatus)
			if err == nil {
				min = parsed
			}
		}
		status := e.table.Evaluate(snap.MetricKey, snap.Value.InexactFloat64())
		return status.Rank() >= min.Rank()
	case storage.ConditionAbove:
		return snap.Value.GreaterThan(rule.Condition.Value)
	case storage.ConditionBelow:
		return snap.Value.LessThan(rule.Condition.Value)
	case storage.ConditionDeltaAbove:
		if baseline == nil {
			return false
		}
		return snap.Value.Sub(*baseline).GreaterThan(rule.Condition.Value)
	}
	return false
}

func (e *Evaluator) renderMessage(rule storage.AlertRule, snap storage.MetricSnapshot) string {
	unit := ""
	if cfg, ok := e.table.Lookup(snap.MetricKey); ok {
		unit = cfg.Unit
	}
	status := e.table.Evaluate(snap.MetricKey, snap.Value.InexactFloat64())
	return fmt.Sprintf("%s on %s reached %s%s (%s)", snap.MetricKey, snap.Source, snap.Value.StringFixed(2), unit, status)
}
