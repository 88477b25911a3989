package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-notifier/internal/app"
)

var (
	trackName     string
	trackURL      string
	trackCategory string
	trackRetailer string
	trackPrice    string

	trackListAll bool
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Manage tracked items",
}

var trackAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Start tracking a listing",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AddItemOptions{
			Name:         trackName,
			URL:          trackURL,
			Category:     trackCategory,
			Retailer:     trackRetailer,
			InitialPrice: trackPrice,
		}
		return getApp().AddItem(cmd.Context(), opts)
	},
}

var trackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked items",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListItems(cmd.Context(), trackListAll)
	},
}

var trackRemoveCmd = &cobra.Command{
	Use:   "remove <item-id>",
	Short: "Stop tracking an item (soft delete)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return fmt.Errorf("invalid item id: %w", err)
		}
		return getApp().RemoveItem(cmd.Context(), id)
	},
}

func init() {
	trackAddCmd.Flags().StringVar(&trackName, "name", "", "Item name")
	trackAddCmd.Flags().StringVar(&trackURL, "url", "", "Listing URL")
	trackAddCmd.Flags().StringVar(&trackCategory, "category", "", "Item category")
	trackAddCmd.Flags().StringVar(&trackRetailer, "retailer", "", "Retailer name")
	trackAddCmd.Flags().StringVar(&trackPrice, "price", "", "Known current price (optional)")

	trackListCmd.Flags().BoolVar(&trackListAll, "all", false, "Include deactivated items")

	trackCmd.AddCommand(trackAddCmd)
	trackCmd.AddCommand(trackListCmd)
	trackCmd.AddCommand(trackRemoveCmd)
}
