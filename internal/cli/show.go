package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lgaroche/stakemon/internal/app"
)

var (
	showLimit int
	showOwner uint64
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display watched validators and their last balances",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit < 0 {
			return fmt.Errorf("--limit cannot be negative")
		}

		opts := app.ShowOptions{
			Owner: ownerFlag(cmd, showOwner),
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 0, "Maximum number of entries to display (0 for all)")
	showCmd.Flags().Uint64Var(&showOwner, "owner", 0, "Only show validators of this owner")
}
