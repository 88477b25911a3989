package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-notifier/internal/app"
)

var (
	showItemID int64
	showDays   int
	showLimit  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent price history and alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		if showDays <= 0 {
			return fmt.Errorf("--days must be greater than zero")
		}

		opts := app.ShowOptions{
			ItemID: showItemID,
			Days:   showDays,
			Limit:  showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().Int64Var(&showItemID, "item", 0, "Tracked item id (optional)")
	showCmd.Flags().IntVar(&showDays, "days", 30, "History window in days")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of alerts to display")
}
