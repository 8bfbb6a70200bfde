package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/models"
)

var (
	runEndDate   string
	runPortfolio string
	runForce     bool
)

// runCmd executes one backfill and exits
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the batch once, backfilling every missing date",
	Long: `Run the batch once. Without --end-date the target is today when the market has
closed, otherwise the previous trading day.

Examples:
  riskbatch run
  riskbatch run --end-date 2024-04-01
  riskbatch run --portfolio p1 --force`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runEndDate, "end-date", "", "Last calculation date (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&runPortfolio, "portfolio", "", "Restrict the run to one portfolio")
	runCmd.Flags().BoolVar(&runForce, "force", false, "Re-fetch fundamentals regardless of freshness")
}

func runBatch(cmd *cobra.Command, args []string) error {
	req := interfaces.BackfillRequest{PortfolioID: runPortfolio, Force: runForce}
	if runEndDate != "" {
		d, err := time.Parse("2006-01-02", runEndDate)
		if err != nil {
			return fmt.Errorf("invalid --end-date %q: %w", runEndDate, err)
		}
		req.EndDate = &d
	}

	// Interrupts cancel the run; the orchestrator still finalizes its record
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Batch.RunBackfill(ctx, req)
	if err != nil {
		return err
	}
	if err := printJSON(res); err != nil {
		return err
	}
	if res.Status == models.BatchStatusFailed {
		return fmt.Errorf("batch %s failed", res.BatchRunID)
	}
	return nil
}
