package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dqwatch/internal/alerting"
	"dqwatch/internal/api"
	"dqwatch/internal/config"
	"dqwatch/internal/producer"
	"dqwatch/internal/quality"
	"dqwatch/internal/scheduler"
	"dqwatch/internal/service"
	"dqwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) thresholdTable() *quality.Table {
	return quality.NewTable(a.Config.Quality.Thresholds)
}

// rules converts configured alert rules, falling back to the built-in set.
func (a *App) rules() ([]storage.AlertRule, error) {
	if len(a.Config.Rules) == 0 {
		return alerting.DefaultRules(), nil
	}

	rules := make([]storage.AlertRule, 0, len(a.Config.Rules))
	for i, rc := range a.Config.Rules {
		rule := storage.AlertRule{
			ID:        rc.ID,
			Name:      rc.Name,
			MetricKey: rc.MetricKey,
			Source:    rc.Source,
			Severity:  storage.AlertSeverity(rc.Severity),
			Condition: storage.RuleCondition{
				Kind:      rc.Condition.Kind,
				MinStatus: rc.Condition.MinStatus,
				Value:     decimal.NewFromFloat(rc.Condition.Value),
			},
			Baseline: rc.Baseline,
		}
		if rule.ID == 0 {
			rule.ID = int64(i + 1)
		}
		if rule.Condition.Kind == "" {
			rule.Condition.Kind = storage.ConditionStatus
		}
		if rule.Severity == "" {
			rule.Severity = storage.SeverityWarn
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// openStore connects PostgreSQL when configured, otherwise falls back to
// the in-memory store.
func (a *App) openStore(ctx context.Context) (storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store")
		return storage.NewMemoryStore(), func() {}, nil
	}

	pool, err := storage.NewPool(ctx, storage.PoolConfig{
		DSN:             a.Config.Database.DSN,
		MaxOpenConns:    a.Config.Database.MaxOpenConns,
		MaxIdleConns:    a.Config.Database.MaxIdleConns,
		ConnMaxLifetime: a.Config.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	store := storage.NewPostgresStore(pool)
	return store, store.Close, nil
}

// requireDBStore opens the PostgreSQL store for one-shot commands, which
// are pointless against an empty in-memory store.
func (a *App) requireDBStore(ctx context.Context) (storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured; this command needs persistent storage")
	}
	return a.openStore(ctx)
}

func (a *App) conflictPolicy() storage.ConflictPolicy {
	return storage.ConflictPolicy(a.Config.Ingest.OnConflict)
}

// engine assembles a service for one-shot commands, without a scheduler.
func (a *App) engine(ctx context.Context, withNotifier bool) (*service.Service, func(), error) {
	store, closeStore, err := a.requireDBStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	rules, err := a.rules()
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	var notifier alerting.Notifier
	if withNotifier {
		notifier = a.newNotifier()
	}

	svc := service.New(nil, nil, store, a.thresholdTable(), rules, notifier, a.conflictPolicy(), a.Logger)
	return svc, closeStore, nil
}

// Run executes the long-running monitoring engine.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rules, err := a.rules()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var prod producer.Producer
	if a.Config.Producer.BaseURL != "" {
		prod = producer.NewHTTP(producer.HTTPOptions{
			BaseURL:   a.Config.Producer.BaseURL,
			Timeout:   a.Config.Producer.RequestTimeout,
			UserAgent: a.Config.Producer.UserAgent,
		}, a.Logger)
	}

	svc := service.New(sched, prod, store, a.thresholdTable(), rules, a.newNotifier(), a.conflictPolicy(), a.Logger)

	var (
		srv     *api.Server
		apiErrs chan error
	)
	if a.Config.API.Enabled {
		handler := api.NewHandler(svc, a.Logger)
		srv = api.NewServer(a.Config.API, api.NewRouter(handler, a.Logger), a.Logger)
		apiErrs = make(chan error, 1)
		go func() { apiErrs <- srv.Start() }()
	}

	runErrs := make(chan error, 1)
	if prod != nil {
		go func() { runErrs <- svc.Run(ctx) }()
	} else {
		a.Logger.Warn().Msg("producer.base_url not configured; scheduled runs disabled, ingest via API only")
	}

	a.Logger.Info().Msg("monitoring engine started")

	var cause error
	select {
	case <-ctx.Done():
	case cause = <-apiErrs:
	case cause = <-runErrs:
	}
	cancel()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.Config.API.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error().Err(err).Msg("api shutdown failed")
		}
	}

	if cause != nil && !errors.Is(cause, context.Canceled) {
		a.Logger.Error().Err(cause).Msg("engine terminated with error")
		return cause
	}

	a.Logger.Info().Msg("monitoring engine stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Source string
	Metric string
}

// AlertsOptions configure alert listing.
type AlertsOptions struct {
	Status   string
	Severity string
	Source   string
	Limit    int
}

// ExportOptions hold parameters for exporting metric history.
type ExportOptions struct {
	Metric    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// IngestOptions configure batch-file ingestion.
type IngestOptions struct {
	File   string
	Bucket time.Time
}

// SimulateOptions configure a simulated run.
type SimulateOptions struct {
	Source string
	Metric string
	Value  float64
}
