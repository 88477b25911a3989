package app

import (
	"context"
	"fmt"
	"os"

	"price-notifier/internal/analysis"
)

// Recommend prints the buy recommendation for a tracked item along with
// the trend context it was derived from.
func (a *App) Recommend(ctx context.Context, itemID int64) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	item, err := store.GetItem(ctx, itemID)
	if err != nil {
		return err
	}

	analyzer := analysis.NewAnalyzer(store)
	recommender := analysis.NewRecommender(analyzer)

	rec, err := recommender.Recommend(ctx, item)
	if err != nil {
		return err
	}

	trend, err := analyzer.Analyze(ctx, item.ID, 30)
	if err != nil {
		return err
	}
	average, err := analyzer.AveragePrice(ctx, item, 30)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%s\n", item.Name)
	fmt.Fprintf(os.Stdout, "signal:  %s\n", rec.Signal)
	fmt.Fprintf(os.Stdout, "reason:  %s\n", rec.Reason)
	fmt.Fprintf(os.Stdout, "current: %s\n", item.CurrentPrice.StringFixed(2))
	if trend.Lowest.IsZero() && trend.Highest.IsZero() {
		fmt.Fprintln(os.Stdout, "30d:     no price history")
		return nil
	}
	fmt.Fprintf(os.Stdout, "30d:     %s trend, low %s, high %s, avg %s\n",
		trend.Direction,
		trend.Lowest.StringFixed(2),
		trend.Highest.StringFixed(2),
		average.StringFixed(2),
	)
	return nil
}
