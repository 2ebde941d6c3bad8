package cli

import (
	"github.com/spf13/cobra"

	"github.com/lgaroche/stakemon/internal/app"
)

var (
	exportPNGPath string
	exportCSVPath string
	exportOwner   uint64
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the watch list as CSV and/or a PNG balance chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Owner:   ownerFlag(cmd, exportOwner),
			PNGPath: exportPNGPath,
			CSVPath: exportCSVPath,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().Uint64Var(&exportOwner, "owner", 0, "Only export validators of this owner")
}
