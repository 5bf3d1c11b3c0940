package quality

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"dqwatch/internal/storage"
)

// ErrUnknownMetric indicates a drilldown request for a metric key with no
// configuration or remediation mapping. Unlike threshold lookups, which
// degrade to ok, drilldown fails loudly so configuration gaps surface.
var ErrUnknownMetric = errors.New("quality: unknown metric key")

// SourceValue is one source's latest reading of a metric.
type SourceValue struct {
	Source string          `json:"source"`
	Bucket string          `json:"bucket"`
	Value  decimal.Decimal `json:"value"`
	Status Status          `json:"status"`
}

// DrilldownResult explains one metric across sources.
type DrilldownResult struct {
	MetricKey          string          `json:"metric_key"`
	Definition         ThresholdConfig `json:"definition"`
	BreakdownBySource  []SourceValue   `json:"breakdown_by_source"`
	TopOffenders       []SourceValue   `json:"top_offenders"`
	RecommendedActions []string        `json:"recommended_actions"`
}

// topOffenderCount limits the worst-first offender list.
const topOffenderCount = 3

// defaultActions maps every supported metric key to at least one
// remediation hint. The mapping is total over DefaultThresholds keys.
var defaultActions = map[string][]string{
	MetricMissingProfilePct: {
		"Reconcile identity fields between the source system and the profile store.",
		"Check recent schema changes on the affected source for dropped profile columns.",
	},
	MetricMissingTimestampPct: {
		"Verify the source's event clock and timezone configuration.",
		"Backfill missing timestamps from ingestion receipt times where acceptable.",
	},
	MetricDuplicateIDPct: {
		"Audit the source's id generation for retry-induced duplicates.",
		"Enable idempotency keys on the affected upload path.",
	},
	MetricFreshnessLagMinutes: {
		"Check the source's delivery pipeline and last successful sync run.",
		"Confirm upstream credentials and API quotas have not expired.",
	},
	MetricAttributableConversionPct: {
		"Review consent and identifier coverage feeding the attribution join.",
		"Reconcile conversion exports with the data-source mapping table.",
	},
}

// Analyzer builds explanatory drilldowns from store contents.
type Analyzer struct {
	store   storage.SnapshotStore
	table   *Table
	actions map[string][]string
}

// NewAnalyzer wires the drilldown analyzer. Nil actions fall back to the
// built-in remediation mapping.
func NewAnalyzer(store storage.SnapshotStore, table *Table, actions map[string][]string) *Analyzer {
	if actions == nil {
		actions = defaultActions
	}
	return &Analyzer{store: store, table: table, actions: actions}
}

// Drilldown aggregates the latest value of metricKey per distinct source
// and attaches remediation hints.
func (a *Analyzer) Drilldown(ctx context.Context, metricKey string) (*DrilldownResult, error) {
	definition, configured := a.table.Lookup(metricKey)
	actions, hasActions := a.actions[metricKey]
	if !configured || !hasActions || len(actions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, metricKey)
	}

	snapshots, err := a.store.Query(ctx, storage.SnapshotFilter{MetricKey: metricKey})
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}

	// Query order is newest first, so the first hit per source is its
	// latest reading.
	seen := make(map[string]struct{})
	breakdown := make([]SourceValue, 0)
	for _, snap := range snapshots {
		if _, dup := seen[snap.Source]; dup {
			continue
		}
		seen[snap.Source] = struct{}{}
		breakdown = append(breakdown, SourceValue{
			Source: snap.Source,
			Bucket: snap.Bucket.UTC().Format("2006-01-02T15:04:05Z"),
			Value:  snap.Value,
			Status: a.table.Evaluate(metricKey, snap.Value.InexactFloat64()),
		})
	}
	sort.Slice(breakdown, func(i, j int) bool { return breakdown[i].Source < breakdown[j].Source })

	offenders := make([]SourceValue, len(breakdown))
	copy(offenders, breakdown)
	higherIsBetter := a.table.HigherIsBetter(metricKey)
	sort.SliceStable(offenders, func(i, j int) bool {
		if higherIsBetter {
			return offenders[i].Value.LessThan(offenders[j].Value)
		}
		return offenders[i].Value.GreaterThan(offenders[j].Value)
	})
	if len(offenders) > topOffenderCount {
		offenders = offenders[:topOffenderCount]
	}

	return &DrilldownResult{
		MetricKey:          metricKey,
		Definition:         definition,
		BreakdownBySource:  breakdown,
		TopOffenders:       offenders,
		RecommendedActions: actions,
	}, nil
}
