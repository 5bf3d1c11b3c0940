package quality

import (
	"fmt"
	"math"

	"dqwatch/internal/storage"
)

// Score labels.
const (
	LabelHigh   = "High"
	LabelMedium = "Medium"
	LabelLow    = "Low"
)

// Penalty weights of the composite confidence score. The formula is part of
// the contract, not tunable configuration.
const (
	missingProfileWeight   = 1.5
	missingTimestampWeight = 1.5
	duplicateIDWeight      = 0.5
	freshnessWeight        = 2.0
	freshnessPenaltyCap    = 20.0
	conversionWeight       = 0.3
)

// Driver materiality cutoffs: inputs past these emit a driver string.
const (
	missingProfileDriverPct   = 5.0
	missingTimestampDriverPct = 5.0
	duplicateIDDriverPct      = 3.0
	freshnessDriverHours      = 6.0
	conversionDriverPct       = 70.0
)

// ScoreInputs are the latest values per required metric key. Missing inputs
// stay at their zero value, which deliberately penalises incompleteness for
// the higher-is-better conversion input.
type ScoreInputs struct {
	MissingProfilePct         float64
	MissingTimestampPct       float64
	DuplicateIDPct            float64
	FreshnessLagHours         float64
	AttributableConversionPct float64
}

// ScoreResult is the derived composite confidence score. It has no
// independent lifecycle and is recomputed on demand.
type ScoreResult struct {
	Score   int      `json:"score"`
	Label   string   `json:"label"`
	Drivers []string `json:"drivers"`
}

// TopDrivers returns the first n drivers in check order.
func (r ScoreResult) TopDrivers(n int) []string {
	if n >= len(r.Drivers) {
		return r.Drivers
	}
	return r.Drivers[:n]
}

// BuildScoreInputs reduces latest-bucket snapshots to score inputs.
// Percentage metrics average across sources; freshness lag takes the
// per-source maximum in minutes and converts to hours.
func BuildScoreInputs(snapshots []storage.MetricSnapshot) ScoreInputs {
	var in ScoreInputs

	sums := make(map[string]float64)
	counts := make(map[string]int)
	maxLagMinutes := 0.0
	sawLag := false

	for _, snap := range snapshots {
		value := snap.Value.InexactFloat64()
		if snap.MetricKey == MetricFreshnessLagMinutes {
			if !sawLag || value > maxLagMinutes {
				maxLagMinutes = value
				sawLag = true
			}
			continue
		}
		sums[snap.MetricKey] += value
		counts[snap.MetricKey]++
	}

	mean := func(key string) float64 {
		if counts[key] == 0 {
			return 0
		}
		return sums[key] / float64(counts[key])
	}

	in.MissingProfilePct = mean(MetricMissingProfilePct)
	in.MissingTimestampPct = mean(MetricMissingTimestampPct)
	in.DuplicateIDPct = mean(MetricDuplicateIDPct)
	in.AttributableConversionPct = mean(MetricAttributableConversionPct)
	if sawLag {
		in.FreshnessLagHours = maxLagMinutes / 60
	}
	return in
}

// ComputeScore folds the inputs into a 0-100 confidence score, a label, and
// ordered driver strings. It is a pure function of its inputs.
func ComputeScore(in ScoreInputs) ScoreResult {
	score := 100.0
	score -= in.MissingProfilePct * missingProfileWeight
	score -= in.MissingTimestampPct * missingTimestampWeight
	score -= in.DuplicateIDPct * duplicateIDWeight
	score -= math.Min(freshnessPenaltyCap, in.FreshnessLagHours*freshnessWeight)
	score -= math.Max(0, 100-in.AttributableConversionPct) * conversionWeight

	rounded := int(math.Round(score))
	if rounded < 0 {
		rounded = 0
	}
	if rounded > 100 {
		rounded = 100
	}

	label := LabelLow
	switch {
	case rounded >= 80:
		label = LabelHigh
	case rounded >= 50:
		label = LabelMedium
	}

	// Drivers follow the order of the penalty checks, not magnitude.
	drivers := make([]string, 0, 5)
	if in.MissingProfilePct > missingProfileDriverPct {
		drivers = append(drivers, fmt.Sprintf("%.1f%% of events are missing profile fields", in.MissingProfilePct))
	}
	if in.MissingTimestampPct > missingTimestampDriverPct {
		drivers = append(drivers, fmt.Sprintf("%.1f%% of events are missing timestamps", in.MissingTimestampPct))
	}
	if in.DuplicateIDPct > duplicateIDDriverPct {
		drivers = append(drivers, fmt.Sprintf("%.1f%% of events carry duplicate ids", in.DuplicateIDPct))
	}
	if in.FreshnessLagHours > freshnessDriverHours {
		drivers = append(drivers, fmt.Sprintf("freshest source data is %.1f hours old", in.FreshnessLagHours))
	}
	if in.AttributableConversionPct < conversionDriverPct {
		drivers = append(drivers, fmt.Sprintf("only %.1f%% of conversions are attributable", in.AttributableConversionPct))
	}

	return ScoreResult{Score: rounded, Label: label, Drivers: drivers}
}
