// Command market-index computes and serves the collectible market indexes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "market-index",
	Short: "Chain-linked price indexes for the collectible card market",
	Long: `market-index selects and weights index constituents once a month and
appends one chain-linked value per index per day. Configuration comes from the
environment (and .env); index methodology from METHODOLOGY_FILE.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSlice("index", nil, "restrict the run to these index codes (default: all configured)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dailyCmd)
	rootCmd.AddCommand(rebalanceCmd)
	rootCmd.AddCommand(healthcheckCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("market-index %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}
