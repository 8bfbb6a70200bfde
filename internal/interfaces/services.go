// Package interfaces defines service contracts for riskbatch
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/riskbatch/internal/models"
)

// PriceSource is a read-only view of closing prices and returns
type PriceSource interface {
	// Price returns the close for symbol on exactly date
	Price(symbol string, date time.Time) (float64, bool)

	// PriceOnOrBefore returns the close on date or the nearest prior trading day
	// no more than maxTradingDays back, along with the date actually used
	PriceOnOrBefore(symbol string, date time.Time, maxTradingDays int) (float64, time.Time, bool)

	// Series returns closes in [from, to], ascending
	Series(symbol string, from, to time.Time) []models.PricePoint

	// Returns returns simple daily returns in [from, to], ascending
	Returns(symbol string, from, to time.Time) []models.PricePoint

	// AlignedReturns returns the dates on which every symbol has a return, and each
	// symbol's returns on exactly those dates
	AlignedReturns(symbols []string, from, to time.Time) ([]time.Time, map[string][]float64)
}

// EquityRollforward advances a portfolio's equity balance for a completed snapshot.
// It runs inside the snapshot transaction.
type EquityRollforward interface {
	Apply(ctx context.Context, tx Tx, portfolio *models.Portfolio, snap *models.PortfolioSnapshot) error
}

// CollectRequest scopes a market-data collection pass
type CollectRequest struct {
	Symbols []string
	Dates   []time.Time // ascending calculation dates
}

// CollectResult reports a collection pass
type CollectResult struct {
	BulkDates      int // dates satisfied by the exchange bulk endpoint
	SymbolFetches  int // per-symbol fallback fetches
	HistoryFetches int
	Failed         []string
}

// MarketService handles market data operations (phases 0, 1 and 2)
type MarketService interface {
	// SyncCompanyProfiles refreshes stale company profiles. Returns updated count.
	SyncCompanyProfiles(ctx context.Context, symbols []string) (int, error)

	// CollectMarketData ensures every symbol has a bar for every requested date
	CollectMarketData(ctx context.Context, req CollectRequest) (*CollectResult, error)

	// CollectFundamentals refreshes fundamentals older than the freshness window.
	// When force is true, all fundamentals are re-fetched.
	CollectFundamentals(ctx context.Context, symbols []string, force bool) (int, error)

	// Profiles returns stored company profiles keyed by symbol
	Profiles(ctx context.Context, symbols []string) (map[string]*models.CompanyProfile, error)
}

// FactorRequest scopes one factor engine run
type FactorRequest struct {
	Date    time.Time
	Symbols []string
	Prices  PriceSource
	Methods []string // empty means every method
}

// FactorResult reports a factor engine run
type FactorResult struct {
	Symbols  int
	Computed int // (symbol, method) pairs written
	Cached   int // (symbol, method) pairs skipped by the cache check
	Omitted  int // single-factor results below the observation gate
	Failed   int // symbols in failed batches
	Errors   []string
}

// FactorService computes and serves symbol factor exposures
type FactorService interface {
	ComputeSymbolFactors(ctx context.Context, req FactorRequest) (*FactorResult, error)

	// GetSymbolBetas returns symbol → factor → beta. Empty method means ols_market.
	GetSymbolBetas(ctx context.Context, symbols []string, date time.Time, method string) (map[string]map[string]float64, error)
}

// BackfillRequest scopes one orchestrator run
type BackfillRequest struct {
	EndDate     *time.Time // nil means the effective target date
	PortfolioID string     // empty means every portfolio

	// Force re-fetches fundamentals regardless of freshness.
	Force bool
}

// BatchService runs and reports the daily batch
type BatchService interface {
	RunBackfill(ctx context.Context, req BackfillRequest) (*models.BackfillResult, error)
	Progress() models.BatchProgress
	ListRuns(ctx context.Context, limit int) ([]*models.BatchRunRecord, error)
}
