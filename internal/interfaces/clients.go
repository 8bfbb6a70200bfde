// Package interfaces defines service contracts for riskbatch
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/riskbatch/internal/models"
)

// MarketDataProvider is the external source of prices, profiles and fundamentals
type MarketDataProvider interface {
	// GetEOD retrieves end-of-day price data for one ticker
	GetEOD(ctx context.Context, ticker string, opts ...EODOption) (*models.EODResponse, error)

	// GetBulkEOD retrieves one day's bars for a whole exchange, keyed by ticker
	GetBulkEOD(ctx context.Context, exchange string, date time.Time) (map[string]models.EODBar, error)

	// GetCompanyProfile retrieves sector, industry and provider beta
	GetCompanyProfile(ctx context.Context, ticker string) (*models.CompanyProfile, error)

	// GetFundamentals retrieves valuation fundamentals
	GetFundamentals(ctx context.Context, ticker string) (*models.Fundamentals, error)
}

// EODOption configures EOD data requests
type EODOption func(*EODParams)

// EODParams holds EOD query parameters
type EODParams struct {
	From  time.Time
	To    time.Time
	Order string // a=ascending, d=descending
	Limit int
}

// WithDateRange sets the date range for EOD query
func WithDateRange(from, to time.Time) EODOption {
	return func(p *EODParams) {
		p.From = from
		p.To = to
	}
}

// WithLimit sets the limit for EOD query
func WithLimit(limit int) EODOption {
	return func(p *EODParams) {
		p.Limit = limit
	}
}
