package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"primepulse/internal/app"
)

var threatsLimit int

var threatsCmd = &cobra.Command{
	Use:   "threats",
	Short: "Display the ranked price-drop predictions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if threatsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Threats(cmd.Context(), app.ThreatsOptions{Limit: threatsLimit})
	},
}

func init() {
	threatsCmd.Flags().IntVar(&threatsLimit, "limit", 10, "Number of predictions to display")
}
