package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/riskbatch/internal/app"
	"github.com/bobmcallan/riskbatch/internal/common"
)

var configPath string

// rootCmd is the base command for the riskbatch CLI
var rootCmd = &cobra.Command{
	Use:   "riskbatch",
	Short: "Daily portfolio risk batch",
	Long: `riskbatch collects end-of-day market data, computes symbol factor exposures and
writes one immutable P&L snapshot per portfolio per trading day, backfilling any
dates missed since the last complete snapshot.`,
	SilenceUsage: true,
	Version:      common.GetFullVersion(),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to riskbatch.toml (default: $RISKBATCH_CONFIG, then the binary directory)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openApp initializes the app and prints the startup banner.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.NewApp(ctx, configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}
	common.PrintBanner(a.Config, a.Logger)
	return a, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
