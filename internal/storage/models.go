package storage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AlertType enumerates the subscription rule kinds. The set is closed:
// evaluation dispatches on it and no other value is valid.
type AlertType string

const (
	AlertPriceDrop      AlertType = "PRICE_DROP"
	AlertTargetReached  AlertType = "TARGET_REACHED"
	AlertPercentageDrop AlertType = "PERCENTAGE_DROP"
	AlertBackInStock    AlertType = "BACK_IN_STOCK"
)

// AlertStatus tracks the delivery lifecycle of an alert.
type AlertStatus string

const (
	AlertStatusPending    AlertStatus = "PENDING"
	AlertStatusSent       AlertStatus = "SENT"
	AlertStatusSuppressed AlertStatus = "SUPPRESSED"
)

// Valid reports whether t is one of the four known alert types.
func (t AlertType) Valid() bool {
	switch t {
	case AlertPriceDrop, AlertTargetReached, AlertPercentageDrop, AlertBackInStock:
		return true
	}
	return false
}

// Item is a tracked marketplace listing. Removal is a soft delete:
// IsActive flips to false, history stays.
type Item struct {
	ID           int64
	Name         string
	URL          string
	Category     string
	Retailer     string
	CurrentPrice decimal.Decimal
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PricePoint is one immutable observed price. Points are append-only and
// ordered by RecordedAt.
type PricePoint struct {
	ItemID     int64
	Price      decimal.Decimal
	RecordedAt time.Time
}

// Subscription is a user's standing rule for when to be alerted about one
// item. TargetValue is an absolute price for TARGET_REACHED, a percentage
// threshold for PERCENTAGE_DROP, and unused otherwise.
type Subscription struct {
	ID          int64
	ItemID      int64
	UserID      string
	AlertType   AlertType
	TargetValue decimal.Decimal
	IsActive    bool
	CreatedAt   time.Time
}

// Validate rejects malformed subscription rules at configuration time so
// they never reach the evaluator.
func (s Subscription) Validate() error {
	if s.ItemID <= 0 {
		return fmt.Errorf("subscription: item id is required")
	}
	if s.UserID == "" {
		return fmt.Errorf("subscription: user id is required")
	}
	if !s.AlertType.Valid() {
		return fmt.Errorf("subscription: unknown alert type %q", s.AlertType)
	}
	if s.TargetValue.IsNegative() {
		return fmt.Errorf("subscription: target value cannot be negative")
	}
	return nil
}

// Alert records one fired rule. Status transitions are owned by the
// dispatch path: PENDING on creation, then SENT or SUPPRESSED.
type Alert struct {
	ID             int64
	SubscriptionID int64
	OldPrice       decimal.Decimal
	NewPrice       decimal.Decimal
	AlertType      AlertType
	TriggeredAt    time.Time
	Status         AlertStatus
	SentAt         *time.Time
	Attempts       int
	SuppressReason *string
	CreatedAt      time.Time
}
