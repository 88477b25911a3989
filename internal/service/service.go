package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"price-notifier/internal/alerting"
	"price-notifier/internal/config"
	"price-notifier/internal/fetcher"
	"price-notifier/internal/scheduler"
	"price-notifier/internal/storage"
)

const pendingRetryBatch = 100

// Deps bundle the collaborators the sweep service orchestrates.
type Deps struct {
	Scheduler     *scheduler.Scheduler
	Fetcher       fetcher.PriceFetcher
	Items         storage.ItemStore
	History       storage.PriceHistoryStore
	Subscriptions storage.SubscriptionStore
	Alerts        storage.AlertStore
	Filter        *alerting.Filter
	Notifier      alerting.Notifier
}

// Service runs price sweeps: fetch, ingest, evaluate, filter, dispatch.
type Service struct {
	deps   Deps
	logger zerolog.Logger

	alertsOn            bool
	maxRetries          int
	retryBackoff        time.Duration
	maxDeliveryAttempts int
	retryGrace          time.Duration
	locker              storage.AdvisoryLocker
	lockKey             int64
	now                 func() time.Time

	mu        sync.Mutex
	itemLocks map[int64]*sync.Mutex
}

// New constructs the sweep service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	backoff := cfg.Fetch.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	retryGrace := cfg.Scheduler.Interval
	if retryGrace <= 0 {
		retryGrace = time.Minute
	}

	var locker storage.AdvisoryLocker
	if l, ok := deps.Alerts.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		deps:                deps,
		logger:              logger.With().Str("component", "service").Logger(),
		alertsOn:            cfg.Alerting.Enabled,
		maxRetries:          cfg.Fetch.MaxRetries,
		retryBackoff:        backoff,
		maxDeliveryAttempts: cfg.Alerting.MaxDeliveryAttempts,
		retryGrace:          retryGrace,
		locker:              locker,
		lockKey:             cfg.Scheduler.AdvisoryLockKey,
		now:                 time.Now,
		itemLocks:           make(map[int64]*sync.Mutex),
	}
}

// Run begins the scheduled sweep loop.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, s.ProcessSweep)
}

// ProcessSweep executes one batch pass over all active items. Individual
// item failures are recorded and skipped; the sweep itself only fails on
// cancellation or when the item list cannot be read.
func (s *Service) ProcessSweep(ctx context.Context, sweepAt time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("sweep_at", sweepAt).Msg("skip sweep because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	s.retryPendingAlerts(ctx)

	items, err := s.deps.Items.ListActiveItems(ctx)
	if err != nil {
		return fmt.Errorf("list active items: %w", err)
	}

	processed := 0
	failed := 0
	for _, item := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.processItem(ctx, item); err != nil {
			failed++
			s.logger.Warn().Err(err).Int64("item_id", item.ID).Str("item", item.Name).Msg("item sweep failed, continuing")
			continue
		}
		processed++
	}

	s.logger.Info().Time("sweep_at", sweepAt).Int("processed", processed).Int("failed", failed).Msg("sweep complete")
	return nil
}

func (s *Service) processItem(ctx context.Context, item storage.Item) error {
	price, err := s.fetchPrice(ctx, item.URL)
	if err != nil {
		return fmt.Errorf("fetch price: %w", err)
	}
	return s.Observe(ctx, item, price, s.now().UTC())
}

// Observe ingests one price observation for an item: append to history,
// advance the current price, evaluate every active subscription, and
// dispatch whatever the filter lets through. The whole read-evaluate-write
// sequence is serialized per item so concurrent observations cannot both
// read the same old price.
func (s *Service) Observe(ctx context.Context, item storage.Item, price decimal.Decimal, observedAt time.Time) error {
	lock := s.lockFor(item.ID)
	lock.Lock()
	defer lock.Unlock()

	// The caller's snapshot may predate the lock; reload so the old price
	// reflects whatever a concurrent observation just wrote.
	current, err := s.deps.Items.GetItem(ctx, item.ID)
	switch {
	case err == nil:
		item = current
	case errors.Is(err, storage.ErrNotFound):
		// Item not persisted; the snapshot is all there is.
	default:
		return fmt.Errorf("reload item: %w", err)
	}

	latest, err := s.deps.History.LatestPricePoint(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("latest price point: %w", err)
	}
	if latest != nil && observedAt.Before(latest.RecordedAt) {
		s.logger.Warn().Int64("item_id", item.ID).
			Time("observed_at", observedAt).
			Time("latest_at", latest.RecordedAt).
			Msg("stale observation dropped")
		return nil
	}

	oldPrice := item.CurrentPrice

	point := storage.PricePoint{ItemID: item.ID, Price: price, RecordedAt: observedAt}
	if err := s.deps.History.InsertPricePoint(ctx, point); err != nil {
		return fmt.Errorf("append price point: %w", err)
	}
	if err := s.deps.Items.UpdateItemPrice(ctx, item.ID, price, observedAt); err != nil {
		return fmt.Errorf("update current price: %w", err)
	}

	s.logger.Info().Int64("item_id", item.ID).Str("item", item.Name).
		Str("old_price", oldPrice.String()).
		Str("new_price", price.String()).
		Msg("price recorded")

	subs, err := s.deps.Subscriptions.ListActiveSubscriptions(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	for _, sub := range subs {
		candidate := alerting.Evaluate(sub, oldPrice, price, observedAt)
		if candidate == nil {
			continue
		}

		alert, err := s.deps.Alerts.InsertAlert(ctx, *candidate)
		if err != nil {
			s.logger.Error().Err(err).Int64("subscription_id", sub.ID).Msg("failed to persist alert")
			continue
		}

		if err := s.dispatch(ctx, alert, sub, item); err != nil {
			s.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("alert dispatch failed")
		}
	}

	return nil
}

// dispatch runs the filter and, when the alert is deliverable, hands it to
// the notifier. Delivery failure leaves the alert PENDING until the
// attempt budget is spent, then suppresses it.
func (s *Service) dispatch(ctx context.Context, alert storage.Alert, sub storage.Subscription, item storage.Item) error {
	if !s.alertsOn {
		return nil
	}

	if s.deps.Filter != nil {
		ok, reason, err := s.deps.Filter.ShouldSend(ctx, alert, sub)
		if err != nil {
			return fmt.Errorf("alert filter: %w", err)
		}
		if !ok {
			if err := s.deps.Alerts.MarkAlertSuppressed(ctx, alert.ID, reason); err != nil {
				return fmt.Errorf("mark suppressed: %w", err)
			}
			s.logger.Debug().Int64("alert_id", alert.ID).Str("reason", reason).Msg("alert suppressed")
			return nil
		}
	}

	if s.deps.Notifier == nil {
		s.logger.Warn().Int64("alert_id", alert.ID).Msg("no delivery channel configured; alert stays pending")
		return nil
	}

	note := alerting.Notification{
		ItemName:    item.Name,
		ItemURL:     item.URL,
		AlertType:   alert.AlertType,
		OldPrice:    alert.OldPrice,
		NewPrice:    alert.NewPrice,
		TargetValue: sub.TargetValue,
		TriggeredAt: alert.TriggeredAt,
	}

	if err := s.deps.Notifier.Notify(ctx, note); err != nil {
		if recErr := s.deps.Alerts.RecordAlertAttempt(ctx, alert.ID); recErr != nil {
			s.logger.Error().Err(recErr).Int64("alert_id", alert.ID).Msg("failed to record delivery attempt")
		}
		attempts := alert.Attempts + 1
		if attempts >= s.maxDeliveryAttempts {
			reason := fmt.Sprintf("delivery failed after %d attempts", attempts)
			if supErr := s.deps.Alerts.MarkAlertSuppressed(ctx, alert.ID, reason); supErr != nil {
				s.logger.Error().Err(supErr).Int64("alert_id", alert.ID).Msg("failed to suppress exhausted alert")
			}
		}
		return fmt.Errorf("deliver alert: %w", err)
	}

	if err := s.deps.Alerts.MarkAlertSent(ctx, alert.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// retryPendingAlerts re-dispatches alerts whose earlier delivery failed.
func (s *Service) retryPendingAlerts(ctx context.Context) {
	if !s.alertsOn {
		return
	}

	pending, err := s.deps.Alerts.ListPendingAlerts(ctx, pendingRetryBatch)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list pending alerts")
		return
	}

	for _, alert := range pending {
		if alert.Attempts == 0 && s.now().UTC().Sub(alert.TriggeredAt) < s.retryGrace {
			// Fresh alerts are still in flight on the observation path.
			// Older attempt-0 alerts are ones created while no delivery
			// channel was configured; pick those up once they have aged
			// past a sweep interval.
			continue
		}

		sub, err := s.deps.Subscriptions.GetSubscription(ctx, alert.SubscriptionID)
		if err != nil {
			s.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to load subscription for retry")
			continue
		}
		item, err := s.deps.Items.GetItem(ctx, sub.ItemID)
		if err != nil {
			s.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to load item for retry")
			continue
		}

		if err := s.dispatch(ctx, alert, sub, item); err != nil {
			s.logger.Warn().Err(err).Int64("alert_id", alert.ID).Msg("pending alert retry failed")
		}
	}
}

func (s *Service) fetchPrice(ctx context.Context, url string) (decimal.Decimal, error) {
	var price decimal.Decimal

	backoff := retry.WithMaxRetries(uint64(s.maxRetries), retry.NewExponential(s.retryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		fetched, fetchErr := s.deps.Fetcher.Fetch(ctx, url)
		if fetchErr != nil {
			return retry.RetryableError(fetchErr)
		}
		price = fetched
		return nil
	})
	return price, err
}

func (s *Service) lockFor(itemID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.itemLocks[itemID]
	if !ok {
		lock = &sync.Mutex{}
		s.itemLocks[itemID] = lock
	}
	return lock
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
