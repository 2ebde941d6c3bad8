package cli

import (
	"github.com/spf13/cobra"

	"github.com/lgaroche/stakemon/internal/app"
)

var (
	simulateOwner  uint64
	simulateIndex  uint64
	simulateKind   string
	simulateAmount uint64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic alert through the configured channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Owner:  simulateOwner,
			Index:  simulateIndex,
			Kind:   simulateKind,
			Amount: simulateAmount,
		})
	},
}

func init() {
	simulateCmd.Flags().Uint64Var(&simulateOwner, "owner", 0, "Recipient owner id (Telegram user id)")
	simulateCmd.Flags().Uint64Var(&simulateIndex, "index", 0, "Validator index named in the alert")
	simulateCmd.Flags().StringVar(&simulateKind, "kind", "not_rewarded", "Alert kind: not_rewarded or slashed")
	simulateCmd.Flags().Uint64Var(&simulateAmount, "amount", 0, "Balance decrease in gwei, for slashed alerts")
	_ = simulateCmd.MarkFlagRequired("owner")
}
