package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"price-notifier/internal/alerting"
	"price-notifier/internal/storage"
)

// SimulateOptions describe a synthetic price transition.
type SimulateOptions struct {
	AlertType string
	Target    string
	OldPrice  string
	NewPrice  string
}

// SimulateAlert runs a synthetic price transition through the rule
// evaluator and the filter, without touching the database, and delivers
// the result when a channel is configured.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}

	oldPrice, err := decimal.NewFromString(opts.OldPrice)
	if err != nil {
		return fmt.Errorf("invalid --old value: %w", err)
	}
	newPrice, err := decimal.NewFromString(opts.NewPrice)
	if err != nil {
		return fmt.Errorf("invalid --new value: %w", err)
	}

	target := decimal.Zero
	if opts.Target != "" {
		target, err = decimal.NewFromString(opts.Target)
		if err != nil {
			return fmt.Errorf("invalid --target value: %w", err)
		}
	}

	sub := storage.Subscription{
		ID:          1,
		ItemID:      1,
		UserID:      "simulated",
		AlertType:   storage.AlertType(opts.AlertType),
		TargetValue: target,
		IsActive:    true,
	}
	if err := sub.Validate(); err != nil {
		return err
	}

	alert := alerting.Evaluate(sub, oldPrice, newPrice, time.Now().UTC())
	if alert == nil {
		fmt.Fprintln(os.Stdout, "rule did not fire")
		return nil
	}

	filter := a.newFilter(emptyAlertLog{})
	ok, reason, err := filter.ShouldSend(ctx, *alert, sub)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(os.Stdout, "alert fired but would be suppressed: %s\n", reason)
		return nil
	}

	fmt.Fprintf(os.Stdout, "alert fired: %s (%s -> %s)\n",
		alert.AlertType, alert.OldPrice.StringFixed(2), alert.NewPrice.StringFixed(2))

	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("no delivery channel configured; skipping send")
		return nil
	}

	return notifier.Notify(ctx, alerting.Notification{
		ItemName:    "simulated item",
		AlertType:   alert.AlertType,
		OldPrice:    alert.OldPrice,
		NewPrice:    alert.NewPrice,
		TargetValue: sub.TargetValue,
		TriggeredAt: alert.TriggeredAt,
	})
}

// emptyAlertLog is an AlertLog with no history, used for simulations.
type emptyAlertLog struct{}

func (emptyAlertLog) SimilarAlertSentSince(_ context.Context, _ int64, _ storage.AlertType, _ time.Time) (bool, error) {
	return false, nil
}

func (emptyAlertLog) CountSentToUserSince(_ context.Context, _ string, _ time.Time) (int, error) {
	return 0, nil
}

var _ alerting.AlertLog = emptyAlertLog{}
