// Package interfaces defines service contracts for riskbatch
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/riskbatch/internal/models"
)

// LedgerStorage coordinates the transactional ledger stores
type LedgerStorage interface {
	// Storage accessors
	PortfolioStore() PortfolioStore
	PositionStore() PositionStore
	SnapshotStore() SnapshotStore
	FactorStore() FactorStore
	SymbolMetricsStore() SymbolMetricsStore
	RiskMetricsStore() RiskMetricsStore
	BatchRunStore() BatchRunStore

	// WithinTx runs fn inside one ledger transaction. A non-nil error from fn
	// (or a panic) rolls the transaction back; otherwise it commits.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// MaxConns reports the connection pool size; parallel writers never exceed it.
	MaxConns() int

	// Lifecycle
	Close() error
}

// StorageManager is the full storage surface: ledger plus market store
type StorageManager interface {
	LedgerStorage
	MarketDataStorage() MarketDataStorage
}

// Tx exposes the stores bound to an open transaction.
type Tx interface {
	Portfolios() PortfolioStore
	Positions() PositionStore
	Snapshots() SnapshotStore
	Factors() FactorStore
	RiskMetrics() RiskMetricsStore
}

// PortfolioStore manages portfolio rows
type PortfolioStore interface {
	GetPortfolio(ctx context.Context, id string) (*models.Portfolio, error)

	// GetPortfolioForUpdate reads the portfolio and holds a row lock until the
	// enclosing transaction ends. Outside a transaction it behaves like GetPortfolio.
	GetPortfolioForUpdate(ctx context.Context, id string) (*models.Portfolio, error)

	ListPortfolios(ctx context.Context) ([]*models.Portfolio, error)
	SavePortfolio(ctx context.Context, p *models.Portfolio) error
	UpdateEquityBalance(ctx context.Context, id string, balance float64) error
}

// PositionStore manages holdings
type PositionStore interface {
	SavePosition(ctx context.Context, p *models.Position) error
	ListPositions(ctx context.Context, portfolioID string) ([]*models.Position, error)

	// ListOpenPositions returns positions held at the close of date.
	ListOpenPositions(ctx context.Context, portfolioID string, date time.Time) ([]*models.Position, error)

	// HeldSymbols returns distinct priced and underlying symbols of open positions.
	// An empty portfolioID means every portfolio.
	HeldSymbols(ctx context.Context, portfolioID string) ([]string, error)

	// EarliestEntryDate returns the first entry date across the given portfolios,
	// or nil when they hold no positions.
	EarliestEntryDate(ctx context.Context, portfolioIDs []string) (*time.Time, error)

	UpdateValuation(ctx context.Context, positionID string, lastPrice, marketValue, unrealizedPnL float64) error
	UpdateSector(ctx context.Context, positionID, sector string) error
}

// SnapshotStore manages portfolio snapshots and their placeholder rows
type SnapshotStore interface {
	// InsertPlaceholder claims the (portfolio, date) slot. Returns models.ErrDuplicateRun
	// when the slot is already taken.
	InsertPlaceholder(ctx context.Context, snap *models.PortfolioSnapshot) error

	// Update writes every metric column of an existing row by id.
	Update(ctx context.Context, snap *models.PortfolioSnapshot) error

	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, portfolioID string, date time.Time) (*models.PortfolioSnapshot, error)

	// GetPreviousComplete returns the latest complete snapshot strictly before date, or nil.
	GetPreviousComplete(ctx context.Context, portfolioID string, date time.Time) (*models.PortfolioSnapshot, error)

	// LatestCompleteDate returns max(snapshot_date) of complete rows across the
	// given portfolios, or nil when none exist.
	LatestCompleteDate(ctx context.Context, portfolioIDs []string) (*time.Time, error)

	List(ctx context.Context, portfolioID string, from, to time.Time) ([]*models.PortfolioSnapshot, error)

	// DeleteIncompleteBefore removes placeholders created before cutoff.
	DeleteIncompleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// FactorStore manages symbol factor exposures
type FactorStore interface {
	// CountForMethod counts stored rows for (symbol, date, method).
	CountForMethod(ctx context.Context, symbol string, date time.Time, method string) (int, error)

	// Upsert writes rows keyed by (symbol, factor, date, method).
	Upsert(ctx context.Context, rows []*models.SymbolFactorExposure) error

	// GetBetas returns symbol → factor → beta for one date and method.
	GetBetas(ctx context.Context, symbols []string, date time.Time, method string) (map[string]map[string]float64, error)

	List(ctx context.Context, symbol string, date time.Time) ([]*models.SymbolFactorExposure, error)
}

// SymbolMetricsStore manages per-symbol derived metrics
type SymbolMetricsStore interface {
	Upsert(ctx context.Context, rows []*models.SymbolDailyMetrics) error
	GetForDate(ctx context.Context, symbols []string, date time.Time) (map[string]*models.SymbolDailyMetrics, error)
}

// RiskMetricsStore manages portfolio risk analytics rows
type RiskMetricsStore interface {
	Upsert(ctx context.Context, m *models.PortfolioRiskMetrics) error
	Get(ctx context.Context, portfolioID string, date time.Time) (*models.PortfolioRiskMetrics, error)
}

// BatchRunStore manages the batch run history
type BatchRunStore interface {
	Create(ctx context.Context, rec *models.BatchRunRecord) error
	Update(ctx context.Context, rec *models.BatchRunRecord) error
	Get(ctx context.Context, batchRunID string) (*models.BatchRunRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*models.BatchRunRecord, error)
}

// MarketDataStorage handles market data persistence
type MarketDataStorage interface {
	// GetMarketData retrieves market data for a ticker. Returns models.ErrNotFound when absent.
	GetMarketData(ctx context.Context, ticker string) (*models.MarketData, error)

	// SaveMarketData persists market data
	SaveMarketData(ctx context.Context, data *models.MarketData) error

	// GetMarketDataBatch retrieves market data for multiple tickers, skipping unknown ones
	GetMarketDataBatch(ctx context.Context, tickers []string) ([]*models.MarketData, error)

	// ListTickers returns every ticker in the store (the symbol universe)
	ListTickers(ctx context.Context) ([]string, error)
}
