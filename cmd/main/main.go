package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags.
	flagConfig   string
	flagLogLevel string
)

// -----------------------------------------------------------------------------

func main() {
	rootCmd := &cobra.Command{
		Use:   "market-feed",
		Short: "Market data push feed: server, observer and remote control",
		Long: `market-feed runs both ends of a market-data push feed.

  serve     push server fed by synthetic or Yahoo sources
  observe   feed client that subscribes, records and summarizes
  ctl       remote control of a running observer or server over gRPC`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log_level (DEBUG, INFO, WARNING, ERROR)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(observeCmd())
	rootCmd.AddCommand(ctlCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
