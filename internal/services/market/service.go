// Package market provides market data collection: company profiles, EOD bars and fundamentals
package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bobmcallan/riskbatch/internal/calendar"
	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/models"
)

const defaultMaxConcurrent = 5

// Service implements MarketService
type Service struct {
	store       interfaces.MarketDataStorage
	provider    interfaces.MarketDataProvider
	cal         calendar.Calendar
	exchange    string
	historyDays int
	logger      *common.Logger
	now         func() time.Time
}

// NewService creates a new market service. provider may be nil, in which case every
// fetching operation fails and stored data is served as-is.
func NewService(
	store interfaces.MarketDataStorage,
	provider interfaces.MarketDataProvider,
	cal calendar.Calendar,
	config common.BatchConfig,
	logger *common.Logger,
) *Service {
	exchange := config.Exchange
	if exchange == "" {
		exchange = "US"
	}
	historyDays := config.HistoryFetchDays
	if historyDays <= 0 {
		historyDays = 400
	}
	return &Service{
		store:       store,
		provider:    provider,
		cal:         cal,
		exchange:    exchange,
		historyDays: historyDays,
		logger:      logger,
		now:         time.Now,
	}
}

// Universe returns every ticker in the market store.
func (s *Service) Universe(ctx context.Context) ([]string, error) {
	return s.store.ListTickers(ctx)
}

// Profiles returns stored company profiles keyed by symbol
func (s *Service) Profiles(ctx context.Context, symbols []string) (map[string]*models.CompanyProfile, error) {
	docs, err := s.store.GetMarketDataBatch(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	out := make(map[string]*models.CompanyProfile, len(docs))
	for _, md := range docs {
		if md != nil && md.Profile != nil {
			out[md.Ticker] = md.Profile
		}
	}
	return out, nil
}

// load returns the stored documents for symbols, creating blank ones for unknown tickers.
func (s *Service) load(ctx context.Context, symbols []string) (map[string]*models.MarketData, error) {
	docs, err := s.store.GetMarketDataBatch(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to load market data: %w", err)
	}
	out := make(map[string]*models.MarketData, len(symbols))
	for _, md := range docs {
		if md != nil {
			out[md.Ticker] = md
		}
	}
	for _, sym := range symbols {
		if _, ok := out[sym]; !ok {
			out[sym] = &models.MarketData{Ticker: sym, Exchange: s.exchange}
		}
	}
	return out, nil
}

func (s *Service) requireProvider() error {
	if s.provider == nil {
		return fmt.Errorf("market data provider not configured")
	}
	return nil
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Ensure Service implements MarketService
var _ interfaces.MarketService = (*Service)(nil)
