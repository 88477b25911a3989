package alerting

import (
	"time"

	"github.com/shopspring/decimal"

	"price-notifier/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// ruleFunc reports whether a subscription's rule fires for a price transition.
type ruleFunc func(sub storage.Subscription, oldPrice, newPrice decimal.Decimal) bool

// rules maps each alert type to its trigger condition. The set is closed;
// dispatch is a table lookup.
var rules = map[storage.AlertType]ruleFunc{
	storage.AlertPriceDrop:      priceDropFires,
	storage.AlertTargetReached:  targetReachedFires,
	storage.AlertPercentageDrop: percentageDropFires,
	storage.AlertBackInStock:    backInStockFires,
}

// Evaluate runs the subscription's rule against a price transition and
// returns a PENDING alert when it fires, nil otherwise. It holds no state
// and is safe to re-run; collapsing repeated triggers is the Filter's job.
func Evaluate(sub storage.Subscription, oldPrice, newPrice decimal.Decimal, now time.Time) *storage.Alert {
	if !sub.IsActive {
		return nil
	}
	rule, ok := rules[sub.AlertType]
	if !ok || !rule(sub, oldPrice, newPrice) {
		return nil
	}
	return &storage.Alert{
		SubscriptionID: sub.ID,
		OldPrice:       oldPrice,
		NewPrice:       newPrice,
		AlertType:      sub.AlertType,
		TriggeredAt:    now,
		Status:         storage.AlertStatusPending,
	}
}

// priceDropFires on any decrease, however small.
func priceDropFires(_ storage.Subscription, oldPrice, newPrice decimal.Decimal) bool {
	return newPrice.LessThan(oldPrice)
}

// targetReachedFires when the price reaches or goes below the absolute target.
func targetReachedFires(sub storage.Subscription, _, newPrice decimal.Decimal) bool {
	return newPrice.LessThanOrEqual(sub.TargetValue)
}

// percentageDropFires when the price drops by at least the configured
// percentage. PercentChange is positive only for decreases, so increases
// never reach a positive threshold.
func percentageDropFires(sub storage.Subscription, oldPrice, newPrice decimal.Decimal) bool {
	return PercentChange(oldPrice, newPrice).GreaterThanOrEqual(sub.TargetValue)
}

// backInStockFires when a stored price of exactly zero (out of stock)
// becomes positive.
func backInStockFires(_ storage.Subscription, oldPrice, newPrice decimal.Decimal) bool {
	return oldPrice.IsZero() && newPrice.IsPositive()
}

// PercentChange returns (old-new)/old*100 rounded half-up to four decimal
// places: positive for a decrease, negative for an increase. A zero old
// price yields zero rather than a division error.
func PercentChange(oldPrice, newPrice decimal.Decimal) decimal.Decimal {
	if oldPrice.IsZero() {
		return decimal.Zero
	}
	return oldPrice.Sub(newPrice).Div(oldPrice).Mul(hundred).Round(4)
}
