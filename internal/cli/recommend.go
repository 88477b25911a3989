package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend <item-id>",
	Short: "Print the buy recommendation for a tracked item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return fmt.Errorf("invalid item id: %w", err)
		}
		return getApp().Recommend(cmd.Context(), id)
	},
}
