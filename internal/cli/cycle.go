package cli

import (
	"github.com/spf13/cobra"

	"primepulse/internal/app"
)

var cycleScope string

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single monitoring cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Cycle(cmd.Context(), app.CycleOptions{Scope: cycleScope})
	},
}

func init() {
	cycleCmd.Flags().StringVar(&cycleScope, "scope", "default", "Tracking scope to process")
}
