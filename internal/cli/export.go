package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"primepulse/internal/app"
)

var (
	exportItemID    int64
	exportDays      int
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export one item's observation history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportItemID <= 0 {
			return errors.New("--item must be greater than zero")
		}

		opts := app.ExportOptions{
			ItemID:    exportItemID,
			Days:      exportDays,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().Int64Var(&exportItemID, "item", 0, "Tracked item ID to export")
	exportCmd.Flags().IntVar(&exportDays, "days", 30, "Trailing window in days")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
