package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"price-notifier/internal/alerting"
	"price-notifier/internal/config"
	"price-notifier/internal/fetcher"
	"price-notifier/internal/scheduler"
	"price-notifier/internal/service"
	"price-notifier/internal/storage"
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

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newFetcher() fetcher.PriceFetcher {
	return fetcher.NewResolver(fetcher.ResolverOptions{
		BaseURL:   a.Config.Fetch.BaseURL,
		Timeout:   a.Config.Fetch.RequestTimeout,
		UserAgent: a.Config.Fetch.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newFilter(log alerting.AlertLog) *alerting.Filter {
	cfg := a.Config.Alerting
	return alerting.NewFilter(log, alerting.FilterConfig{
		DedupWindow:     cfg.DedupWindow,
		MinAbsChange:    cfg.MinAbsChange,
		MinPctChange:    cfg.MinPctChange,
		MaxAlertsPerDay: cfg.MaxAlertsPerDay,
	})
}

func (a *App) newService(store *storage.Store, sched *scheduler.Scheduler) *service.Service {
	deps := service.Deps{
		Scheduler:     sched,
		Fetcher:       a.newFetcher(),
		Items:         store,
		History:       store,
		Subscriptions: store,
		Alerts:        store,
		Filter:        a.newFilter(store),
		Notifier:      a.newNotifier(),
	}
	return service.New(a.Config, deps, a.Logger)
}

// Run executes the long-running sweep service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.Config.Database.AutoMigrate {
		if err := storage.Migrate(a.Config.Database); err != nil {
			return err
		}
		a.Logger.Info().Msg("schema migrations applied")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := a.newService(store, sched)

	a.Logger.Info().Msg("starting sweep service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("sweep service stopped")
	return nil
}

// Sweep runs one batch pass immediately and exits.
func (a *App) Sweep(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(store, nil)
	return svc.ProcessSweep(ctx, time.Now().UTC())
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(_ context.Context) error {
	if err := storage.Migrate(a.Config.Database); err != nil {
		return err
	}
	a.Logger.Info().Msg("schema migrations applied")
	return nil
}
