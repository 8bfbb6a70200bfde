package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/riskbatch/internal/common"
)

var serveNoSchedule bool

// serveCmd runs the HTTP surface and the daily scheduler until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve health, run history and metrics, and run the batch on schedule",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveNoSchedule, "no-schedule", false, "Serve HTTP only; do not start the batch scheduler")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}

	if !serveNoSchedule {
		if err := a.StartScheduler(); err != nil {
			a.Close()
			return err
		}
	}

	host := a.Config.Server.Host
	port := a.Config.Server.Port
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      a.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		a.Logger.Info().Int("port", port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	a.Logger.Info().
		Str("url", fmt.Sprintf("http://localhost:%d", port)).
		Str("metrics", fmt.Sprintf("http://localhost:%d/metrics", port)).
		Msg("Server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	a.Logger.Info().Msg("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Close stops the scheduler, which cancels and waits for any in-flight run
	a.Close()
	common.PrintShutdownBanner(a.Logger)
	return nil
}
