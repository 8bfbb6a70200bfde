// Package app wires configuration, storage, clients and services into a runnable batch.
// It is the shared core used by every cmd/riskbatch subcommand.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/riskbatch/internal/calendar"
	"github.com/bobmcallan/riskbatch/internal/clients/eodhd"
	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/metrics"
	"github.com/bobmcallan/riskbatch/internal/services/analytics"
	"github.com/bobmcallan/riskbatch/internal/services/batch"
	"github.com/bobmcallan/riskbatch/internal/services/factors"
	"github.com/bobmcallan/riskbatch/internal/services/ledger"
	"github.com/bobmcallan/riskbatch/internal/services/market"
	"github.com/bobmcallan/riskbatch/internal/storage"
)

// App holds all initialized services and clients.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Storage     interfaces.StorageManager
	Calendar    calendar.Calendar
	EODHDClient *eodhd.Client // nil when no API key is configured
	Metrics     *metrics.Registry

	MarketService    *market.Service
	FactorService    *factors.Service
	LedgerService    *ledger.Service
	AnalyticsService *analytics.Service
	Batch            *batch.Orchestrator

	StartupTime time.Time

	scheduler *Scheduler
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// ResolveConfigPath picks the config file: the explicit path, RISKBATCH_CONFIG, the
// binary directory, then the development fallback.
func ResolveConfigPath(configPath string) string {
	if configPath == "" {
		configPath = os.Getenv("RISKBATCH_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(getBinaryDir(), "riskbatch.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/riskbatch.toml"
		}
	}
	return configPath
}

// NewApp loads configuration and initializes the app.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	common.LoadVersionFromFile()

	config, err := common.LoadConfig(ResolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewAppFromConfig(ctx, config, common.NewLoggerFromConfig(config.Logging))
}

// NewAppFromConfig initializes storage, the EODHD client and every service from config.
func NewAppFromConfig(ctx context.Context, config *common.Config, logger *common.Logger) (*App, error) {
	startupStart := time.Now()

	storageManager, err := storage.NewStorageManager(ctx, logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	cal := calendar.NewNYSE()
	reg := metrics.NewRegistry()

	// A nil *Client must not reach the service as a non-nil interface
	var provider interfaces.MarketDataProvider
	var eodhdClient *eodhd.Client
	if config.Clients.EODHD.APIKey != "" {
		eodhdClient = eodhd.NewClientFromConfig(config.Clients.EODHD, config.Batch.Exchange, logger.WithComponent("eodhd"))
		provider = eodhdClient
	} else {
		logger.Warn().Msg("EODHD API key not configured - market data collection will be unavailable")
	}

	marketService := market.NewService(storageManager.MarketDataStorage(), provider, cal, config.Batch, logger.WithComponent("market"))
	factorService := factors.NewService(storageManager, cal, config.Factors, logger.WithComponent("factors"))
	ledgerService := ledger.NewService(storageManager, nil, logger.WithComponent("ledger"))
	analyticsService := analytics.NewService(storageManager, logger.WithComponent("analytics"))

	orchestrator := batch.NewOrchestrator(batch.Deps{
		Storage:   storageManager,
		Market:    marketService,
		Factors:   factorService,
		Ledger:    ledgerService,
		Analytics: analyticsService,
		Calendar:  cal,
		Metrics:   reg,
	}, config.Batch, logger.WithComponent("batch"))

	a := &App{
		Config:           config,
		Logger:           logger,
		Storage:          storageManager,
		Calendar:         cal,
		EODHDClient:      eodhdClient,
		Metrics:          reg,
		MarketService:    marketService,
		FactorService:    factorService,
		LedgerService:    ledgerService,
		AnalyticsService: analyticsService,
		Batch:            orchestrator,
		StartupTime:      startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// StartScheduler starts the cron-driven daily backfill.
func (a *App) StartScheduler() error {
	if a.scheduler != nil {
		return nil
	}
	s, err := NewScheduler(a.Config.Batch, a.Batch, a.Logger.WithComponent("scheduler"))
	if err != nil {
		return err
	}
	s.Start()
	a.scheduler = s
	return nil
}

// Close stops the scheduler and releases storage.
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
		a.scheduler = nil
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
	}
}
