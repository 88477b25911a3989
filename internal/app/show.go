package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// ShowOptions configure the show command.
type ShowOptions struct {
	ItemID int64
	Days   int
	Limit  int
}

// Show prints an item's recent price history and the latest alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.ItemID > 0 {
		item, err := store.GetItem(ctx, opts.ItemID)
		if err != nil {
			return err
		}

		since := time.Now().UTC().AddDate(0, 0, -opts.Days)
		points, err := store.ListPricePointsSince(ctx, opts.ItemID, since)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "%s (current %s)\n", item.Name, item.CurrentPrice.StringFixed(2))
		if len(points) == 0 {
			fmt.Fprintln(os.Stdout, "no price history in window")
		} else {
			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "Recorded (UTC)\tPrice")
			for _, point := range points {
				fmt.Fprintf(writer, "%s\t%s\n", point.RecordedAt.UTC().Format(time.RFC3339), point.Price.StringFixed(2))
			}
			writer.Flush()
		}
		fmt.Fprintln(os.Stdout)
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts recorded")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Triggered (UTC)\tType\tOld\tNew\tStatus\tReason")
	for _, alert := range alerts {
		reason := ""
		if alert.SuppressReason != nil {
			reason = sanitizeInline(*alert.SuppressReason)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.TriggeredAt.UTC().Format(time.RFC3339),
			alert.AlertType,
			alert.OldPrice.StringFixed(2),
			alert.NewPrice.StringFixed(2),
			alert.Status,
			reason,
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
