package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"dqwatch/internal/alerting"
	"dqwatch/internal/producer"
	"dqwatch/internal/quality"
	"dqwatch/internal/scheduler"
	"dqwatch/internal/storage"
)

// latestBucketLimit bounds latest-bucket reads used by score computation.
const latestBucketLimit = 10000

// RunResult summarises one ingestion run.
type RunResult struct {
	Bucket           time.Time     `json:"latest_bucket"`
	SnapshotsCreated int           `json:"snapshots_created"`
	AlertsCreated    int           `json:"alerts_created"`
	Duration         time.Duration `json:"duration"`
}

// Service is the engine facade: it orchestrates ingestion, rule
// evaluation, and the read paths the presentation layer depends on.
type Service struct {
	sched     *scheduler.Scheduler
	producer  producer.Producer
	store     storage.Store
	table     *quality.Table
	trends    *quality.TrendCalculator
	drill     *quality.Analyzer
	evaluator *alerting.Evaluator
	lifecycle *alerting.Lifecycle
	notifier  alerting.Notifier
	policy    storage.ConflictPolicy
	logger    zerolog.Logger
}

// New constructs the monitoring engine.
func New(sched *scheduler.Scheduler, prod producer.Producer, store storage.Store, table *quality.Table, rules []storage.AlertRule, notifier alerting.Notifier, policy storage.ConflictPolicy, logger zerolog.Logger) *Service {
	if policy == "" {
		policy = storage.ConflictReplace
	}
	return &Service{
		sched:     sched,
		producer:  prod,
		store:     store,
		table:     table,
		trends:    quality.NewTrendCalculator(store, table),
		drill:     quality.NewAnalyzer(store, table, nil),
		evaluator: alerting.NewEvaluator(store, store, table, rules, logger),
		lifecycle: alerting.NewLifecycle(store, logger),
		notifier:  notifier,
		policy:    policy,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the aligned ingestion loop.
func (s *Service) Run(ctx context.Context) error {
	if s.sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.sched.Run(ctx, s.ProcessBucket)
}

// ProcessBucket collects a batch from the producer and ingests it.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	if s.producer == nil {
		return fmt.Errorf("producer not configured")
	}

	batch, err := s.producer.Collect(ctx, bucket)
	if err != nil {
		return fmt.Errorf("collect measurements: %w", err)
	}
	if len(batch) == 0 {
		s.logger.Warn().Time("bucket", bucket).Msg("producer returned empty batch")
		return nil
	}

	result, err := s.Ingest(ctx, bucket, batch)
	if err != nil {
		return err
	}

	s.logger.Info().Time("bucket", result.Bucket).
		Int("snapshots", result.SnapshotsCreated).
		Int("alerts", result.AlertsCreated).
		Dur("duration", result.Duration).
		Msg("run completed")
	return nil
}

// Ingest stores a run's snapshot batch and evaluates alert rules against
// it. A created count lower than the batch size is reported in the result,
// never hidden. Concurrent runs for the same bucket fail with
// storage.ErrConcurrentRun.
func (s *Service) Ingest(ctx context.Context, bucket time.Time, batch []storage.MetricSnapshot) (RunResult, error) {
	start := time.Now()
	if bucket.IsZero() {
		return RunResult{}, &storage.ValidationError{Field: "ts_bucket", Reason: "is required"}
	}
	bucket = bucket.UTC()

	written, err := s.store.IngestBatch(ctx, bucket, batch, s.policy)
	if err != nil {
		return RunResult{}, err
	}
	if written < len(batch) {
		s.logger.Warn().Time("bucket", bucket).
			Int("batch", len(batch)).
			Int("written", written).
			Msg("batch partially ingested")
	}

	result := RunResult{Bucket: bucket, SnapshotsCreated: written}

	alerts, evalErr := s.evaluator.EvaluateBucket(ctx, bucket, batch)
	result.AlertsCreated = len(alerts)
	result.Duration = time.Since(start)
	if evalErr != nil {
		// Alert creation is idempotent, so a partially evaluated bucket
		// is resumable by re-running the same batch.
		return result, fmt.Errorf("evaluate rules: %w", evalErr)
	}

	if s.notifier != nil {
		for _, alert := range alerts {
			if err := s.notifier.Notify(ctx, alert); err != nil {
				s.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to dispatch alert")
			}
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Query is the snapshot read path.
func (s *Service) Query(ctx context.Context, filter storage.SnapshotFilter) ([]storage.MetricSnapshot, error) {
	return s.store.Query(ctx, filter)
}

// ListBuckets exposes distinct buckets, most recent first.
func (s *Service) ListBuckets(ctx context.Context) ([]time.Time, error) {
	return s.store.ListBuckets(ctx)
}

// ListAlerts is the alert read path.
func (s *Service) ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]storage.Alert, error) {
	return s.store.ListAlerts(ctx, filter)
}

// SetAlertStatus transitions one alert through the lifecycle machine.
func (s *Service) SetAlertStatus(ctx context.Context, id int64, status storage.AlertStatus) (storage.Alert, error) {
	return s.lifecycle.SetStatus(ctx, id, status)
}

// SetAlertNote attaches a triage note to one alert.
func (s *Service) SetAlertNote(ctx context.Context, id int64, text string) (storage.Alert, error) {
	return s.lifecycle.SetNote(ctx, id, text)
}

// ComputeScore derives the composite confidence score from the latest
// bucket's snapshots, optionally scoped to one source.
func (s *Service) ComputeScore(ctx context.Context, source string) (quality.ScoreResult, error) {
	buckets, err := s.store.ListBuckets(ctx)
	if err != nil {
		return quality.ScoreResult{}, err
	}

	var inputs quality.ScoreInputs
	if len(buckets) > 0 {
		latest := buckets[0]
		snapshots, err := s.store.Query(ctx, storage.SnapshotFilter{
			Source: source,
			Since:  &latest,
			Limit:  latestBucketLimit,
		})
		if err != nil {
			return quality.ScoreResult{}, err
		}
		inputs = quality.BuildScoreInputs(snapshots)
	}
	return quality.ComputeScore(inputs), nil
}

// Trend compares the two most recent runs for a metric.
func (s *Service) Trend(ctx context.Context, metricKey, source string) (*quality.Trend, error) {
	return s.trends.Trend(ctx, metricKey, source)
}

// Drilldown explains one metric across sources.
func (s *Service) Drilldown(ctx context.Context, metricKey string) (*quality.DrilldownResult, error) {
	return s.drill.Drilldown(ctx, metricKey)
}
