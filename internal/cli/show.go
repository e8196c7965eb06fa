package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lp-pnl/internal/app"
)

var (
	showLimit int
	showStats bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the latest stored pool reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
			Stats: showStats,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 50, "Number of report rows to display")
	showCmd.Flags().BoolVar(&showStats, "stats", false, "Also display recent per-account totals")
}
