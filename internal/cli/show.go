package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"primepulse/internal/app"
)

var (
	showScope string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent alerts for a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Scope: showScope,
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showScope, "scope", "default", "Tracking scope to query")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of alerts to display")
}
