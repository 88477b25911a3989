package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"price-notifier/internal/app"
)

var (
	simulateType   string
	simulateTarget string
	simulateOld    string
	simulateNew    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Run a synthetic price transition through the alert pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateOld == "" || simulateNew == "" {
			return errors.New("--old and --new must be provided")
		}

		opts := app.SimulateOptions{
			AlertType: simulateType,
			Target:    simulateTarget,
			OldPrice:  simulateOld,
			NewPrice:  simulateNew,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateType, "type", "PRICE_DROP", "Alert type to evaluate")
	simulateCmd.Flags().StringVar(&simulateTarget, "target", "", "Target value for the rule (when applicable)")
	simulateCmd.Flags().StringVar(&simulateOld, "old", "", "Old price")
	simulateCmd.Flags().StringVar(&simulateNew, "new", "", "New price")
}
