package cli

import (
	"github.com/spf13/cobra"

	"lp-pnl/internal/app"
)

var (
	reportQuote   bool
	reportCSVPath string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Run one reconstruction batch and print per-pool PnL",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ReportOptions{
			Quote:   reportQuote,
			CSVPath: reportCSVPath,
		}
		return getApp().Report(cmd.Context(), opts)
	},
}

func init() {
	reportCmd.Flags().BoolVar(&reportQuote, "quote", false, "Include quote-token denominated PnL columns")
	reportCmd.Flags().StringVar(&reportCSVPath, "csv", "", "Path to write per-position detail CSV")
}
