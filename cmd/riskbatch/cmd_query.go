package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/riskbatch/internal/calendar"
)

var (
	historyLimit int
	historyJSON  bool

	betasDate   string
	betasMethod string

	cleanupAge time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent batch runs",
	RunE:  runHistory,
}

var betasCmd = &cobra.Command{
	Use:   "betas SYMBOL [SYMBOL...]",
	Short: "Show stored factor betas for symbols",
	Long: `Show stored factor betas for symbols on a calculation date.

Examples:
  riskbatch betas AAPL MSFT --date 2024-04-01
  riskbatch betas AAPL --method ridge_factors`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBetas,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete stale incomplete snapshot placeholders",
	RunE:  runCleanup,
}

func init() {
	rootCmd.AddCommand(historyCmd, betasCmd, cleanupCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print JSON instead of a table")

	betasCmd.Flags().StringVar(&betasDate, "date", "", "Calculation date (YYYY-MM-DD, default: the last completed trading day)")
	betasCmd.Flags().StringVar(&betasMethod, "method", "", "Calculation method (default: ols_market)")

	cleanupCmd.Flags().DurationVar(&cleanupAge, "older-than", 0, "Minimum placeholder age (default: batch.stale_placeholder_age)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.Batch.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		return printJSON(runs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTATUS\tDATES\tDONE\tFAILED\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			r.BatchRunID, r.Status, r.TotalJobs, r.CompletedJobs, r.FailedJobs,
			r.StartedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runBetas(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	date := a.Batch.TargetDate(nil)
	if betasDate != "" {
		d, err := time.Parse("2006-01-02", betasDate)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", betasDate, err)
		}
		date = calendar.Normalize(d)
	}

	symbols := make([]string, len(args))
	for i, s := range args {
		symbols[i] = strings.ToUpper(s)
	}

	betas, err := a.FactorService.GetSymbolBetas(cmd.Context(), symbols, date, betasMethod)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"date":   date.Format("2006-01-02"),
		"method": betasMethod,
		"betas":  betas,
	})
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	age := cleanupAge
	if age <= 0 {
		age = a.Config.Batch.GetStalePlaceholderAge()
	}
	n, err := a.LedgerService.CleanupStale(cmd.Context(), age)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d stale placeholder(s) older than %s\n", n, age)
	return nil
}
