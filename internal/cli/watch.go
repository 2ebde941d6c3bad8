package cli

import (
	"github.com/spf13/cobra"
)

var (
	watchOwner  uint64
	watchIndex  uint64
	forgetOwner uint64
	forgetIndex uint64
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start monitoring a validator for an owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Watch(cmd.Context(), watchOwner, watchIndex)
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Stop monitoring a validator for an owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Forget(cmd.Context(), forgetOwner, forgetIndex)
	},
}

func init() {
	watchCmd.Flags().Uint64Var(&watchOwner, "owner", 0, "Owner id (Telegram user id)")
	watchCmd.Flags().Uint64Var(&watchIndex, "index", 0, "Validator index")
	_ = watchCmd.MarkFlagRequired("owner")
	_ = watchCmd.MarkFlagRequired("index")

	forgetCmd.Flags().Uint64Var(&forgetOwner, "owner", 0, "Owner id (Telegram user id)")
	forgetCmd.Flags().Uint64Var(&forgetIndex, "index", 0, "Validator index")
	_ = forgetCmd.MarkFlagRequired("owner")
	_ = forgetCmd.MarkFlagRequired("index")
}
