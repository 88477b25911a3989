package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"price-notifier/internal/storage"
)

// Suppression reasons recorded on filtered alerts.
const (
	ReasonDuplicate   = "similar alert sent within dedup window"
	ReasonMinorChange = "minor price change"
	ReasonDailyLimit  = "daily alert limit reached"
)

// AlertLog is the slice of the alert store the filter consults.
type AlertLog interface {
	SimilarAlertSentSince(ctx context.Context, subscriptionID int64, alertType storage.AlertType, since time.Time) (bool, error)
	CountSentToUserSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// FilterConfig carries the suppression policy knobs.
type FilterConfig struct {
	DedupWindow     time.Duration
	MinAbsChange    decimal.Decimal
	MinPctChange    decimal.Decimal
	MaxAlertsPerDay int
}

// Filter decides whether a fired alert should actually be delivered.
// It never mutates the alert; the caller owns the status transition.
type Filter struct {
	log AlertLog
	cfg FilterConfig
	now func() time.Time
}

// NewFilter constructs a Filter, falling back to the stock thresholds for
// unset policy values.
func NewFilter(log AlertLog, cfg FilterConfig) *Filter {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 24 * time.Hour
	}
	if cfg.MinAbsChange.IsZero() {
		cfg.MinAbsChange = decimal.NewFromInt(1)
	}
	if cfg.MinPctChange.IsZero() {
		cfg.MinPctChange = decimal.NewFromInt(1)
	}
	return &Filter{log: log, cfg: cfg, now: time.Now}
}

// ShouldSend runs the three independent suppression checks; all must pass
// for the alert to be deliverable. The returned string names the failed
// check for auditing.
func (f *Filter) ShouldSend(ctx context.Context, alert storage.Alert, sub storage.Subscription) (bool, string, error) {
	now := f.now().UTC()

	sentRecently, err := f.log.SimilarAlertSentSince(ctx, alert.SubscriptionID, alert.AlertType, now.Add(-f.cfg.DedupWindow))
	if err != nil {
		return false, "", fmt.Errorf("dedup lookup: %w", err)
	}
	if sentRecently {
		return false, ReasonDuplicate, nil
	}

	if f.isMinorChange(alert.OldPrice, alert.NewPrice) {
		return false, ReasonMinorChange, nil
	}

	if f.cfg.MaxAlertsPerDay > 0 {
		count, err := f.log.CountSentToUserSince(ctx, sub.UserID, startOfDay(now))
		if err != nil {
			return false, "", fmt.Errorf("daily count lookup: %w", err)
		}
		if count >= f.cfg.MaxAlertsPerDay {
			return false, ReasonDailyLimit, nil
		}
	}

	return true, "", nil
}

// isMinorChange suppresses changes that are small in both absolute and
// relative terms. Both comparisons use magnitudes, so a large dollar drop
// on an expensive item still alerts, as does a large percentage move on a
// cheap one.
func (f *Filter) isMinorChange(oldPrice, newPrice decimal.Decimal) bool {
	diff := oldPrice.Sub(newPrice).Abs()
	pct := PercentChange(oldPrice, newPrice).Abs()
	return diff.LessThan(f.cfg.MinAbsChange) && pct.LessThan(f.cfg.MinPctChange)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
