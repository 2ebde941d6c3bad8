package cli

import (
	"github.com/spf13/cobra"

	"github.com/lgaroche/stakemon/internal/app"
)

var checkNotify bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single monitor cycle and print the alerts",
	Long:  "Run a single monitor cycle. Stored balances advance as in a scheduled cycle.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Check(cmd.Context(), app.CheckOptions{Notify: checkNotify})
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkNotify, "notify", false, "Deliver the alerts through the configured channels")
}
