package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"price-notifier/internal/storage"
)

// AddItemOptions describe a new tracked item.
type AddItemOptions struct {
	Name         string
	URL          string
	Category     string
	Retailer     string
	InitialPrice string
}

// AddItem registers a listing for tracking.
func (a *App) AddItem(ctx context.Context, opts AddItemOptions) error {
	if opts.Name == "" {
		return errors.New("item name is required")
	}
	if opts.URL == "" {
		return errors.New("item url is required")
	}

	price := decimal.Zero
	if opts.InitialPrice != "" {
		parsed, err := decimal.NewFromString(opts.InitialPrice)
		if err != nil {
			return fmt.Errorf("invalid initial price: %w", err)
		}
		if parsed.IsNegative() {
			return errors.New("initial price cannot be negative")
		}
		price = parsed
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	item, err := store.InsertItem(ctx, storage.Item{
		Name:         opts.Name,
		URL:          opts.URL,
		Category:     opts.Category,
		Retailer:     opts.Retailer,
		CurrentPrice: price,
	})
	if err != nil {
		return err
	}

	a.Logger.Info().Int64("item_id", item.ID).Str("item", item.Name).Msg("item tracked")
	fmt.Fprintf(os.Stdout, "tracking item %d: %s\n", item.ID, item.Name)
	return nil
}

// ListItems prints all tracked items.
func (a *App) ListItems(ctx context.Context, includeInactive bool) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	var items []storage.Item
	if includeInactive {
		items, err = store.ListItems(ctx)
	} else {
		items, err = store.ListActiveItems(ctx)
	}
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(os.Stdout, "no tracked items")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tName\tRetailer\tCategory\tPrice\tActive\tUpdated (UTC)")
	for _, item := range items {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%t\t%s\n",
			item.ID,
			item.Name,
			item.Retailer,
			item.Category,
			item.CurrentPrice.StringFixed(2),
			item.IsActive,
			item.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}
	writer.Flush()
	return nil
}

// RemoveItem stops tracking an item. History and subscriptions stay.
func (a *App) RemoveItem(ctx context.Context, id int64) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.DeactivateItem(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "item %d deactivated\n", id)
	return nil
}

// SubscribeOptions describe a new alert subscription.
type SubscribeOptions struct {
	ItemID    int64
	UserID    string
	AlertType string
	Target    string
}

// Subscribe creates an alert subscription on a tracked item. Malformed
// rules are rejected here, before they can reach the evaluator.
func (a *App) Subscribe(ctx context.Context, opts SubscribeOptions) error {
	target := decimal.Zero
	if opts.Target != "" {
		parsed, err := decimal.NewFromString(opts.Target)
		if err != nil {
			return fmt.Errorf("invalid target value: %w", err)
		}
		target = parsed
	}

	sub := storage.Subscription{
		ItemID:      opts.ItemID,
		UserID:      opts.UserID,
		AlertType:   storage.AlertType(opts.AlertType),
		TargetValue: target,
		IsActive:    true,
	}
	if err := sub.Validate(); err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if _, err := store.GetItem(ctx, opts.ItemID); err != nil {
		return fmt.Errorf("item %d: %w", opts.ItemID, err)
	}

	created, err := store.InsertSubscription(ctx, sub)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "subscription %d created (%s on item %d)\n", created.ID, created.AlertType, created.ItemID)
	return nil
}

// Unsubscribe deactivates a subscription. The record is kept for audit.
func (a *App) Unsubscribe(ctx context.Context, id int64) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.DeactivateSubscription(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "subscription %d deactivated\n", id)
	return nil
}
