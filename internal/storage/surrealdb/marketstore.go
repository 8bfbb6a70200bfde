package surrealdb

import (
	"context"
	"fmt"
	"sort"

	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// MarketStore keeps one market_data record per ticker: bars, profile and fundamentals.
type MarketStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewMarketStore(db *surrealdb.DB, logger *common.Logger) *MarketStore {
	return &MarketStore{
		db:     db,
		logger: logger,
	}
}

func (s *MarketStore) GetMarketData(ctx context.Context, ticker string) (*models.MarketData, error) {
	data, err := surrealdb.Select[models.MarketData](ctx, s.db, surrealmodels.NewRecordID("market_data", ticker))
	if err != nil {
		return nil, fmt.Errorf("failed to select market data: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("market data %s: %w", ticker, models.ErrNotFound)
	}
	return data, nil
}

func (s *MarketStore) SaveMarketData(ctx context.Context, data *models.MarketData) error {
	sql := "UPSERT $rid CONTENT $data"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("market_data", data.Ticker), "data": data}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]models.MarketData](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		lastErr = err
		s.logger.Debug().Str("ticker", data.Ticker).Int("attempt", attempt).Err(err).Msg("Market data save retry")
	}
	return fmt.Errorf("failed to save market data after retries: %w", lastErr)
}

func (s *MarketStore) GetMarketDataBatch(ctx context.Context, tickers []string) ([]*models.MarketData, error) {
	if len(tickers) == 0 {
		return nil, nil
	}

	sql := "SELECT * FROM market_data WHERE ticker IN $tickers"
	vars := map[string]any{"tickers": tickers}

	results, err := surrealdb.Query[[]models.MarketData](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get market data batch: %w", err)
	}

	if results != nil && len(*results) > 0 {
		var mapped []*models.MarketData
		for i := range (*results)[0].Result {
			mapped = append(mapped, &(*results)[0].Result[i])
		}
		return mapped, nil
	}
	return nil, nil
}

func (s *MarketStore) ListTickers(ctx context.Context) ([]string, error) {
	type tickerResult struct {
		Ticker string `json:"ticker"`
	}

	results, err := surrealdb.Query[[]tickerResult](ctx, s.db, "SELECT ticker FROM market_data", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickers: %w", err)
	}

	var tickers []string
	if results != nil && len(*results) > 0 {
		for _, res := range (*results)[0].Result {
			tickers = append(tickers, res.Ticker)
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}
