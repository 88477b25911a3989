package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"price-notifier/internal/app"
)

var (
	subscribeItemID int64
	subscribeUser   string
	subscribeType   string
	subscribeTarget string
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Create an alert subscription on a tracked item",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SubscribeOptions{
			ItemID:    subscribeItemID,
			UserID:    subscribeUser,
			AlertType: subscribeType,
			Target:    subscribeTarget,
		}
		return getApp().Subscribe(cmd.Context(), opts)
	},
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe <subscription-id>",
	Short: "Deactivate an alert subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return fmt.Errorf("invalid subscription id: %w", err)
		}
		return getApp().Unsubscribe(cmd.Context(), id)
	},
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

func init() {
	subscribeCmd.Flags().Int64Var(&subscribeItemID, "item", 0, "Tracked item id")
	subscribeCmd.Flags().StringVar(&subscribeUser, "user", "", "Destination user id")
	subscribeCmd.Flags().StringVar(&subscribeType, "type", "", "Alert type: PRICE_DROP, TARGET_REACHED, PERCENTAGE_DROP, BACK_IN_STOCK")
	subscribeCmd.Flags().StringVar(&subscribeTarget, "target", "", "Target price or percentage threshold, depending on type")
}
