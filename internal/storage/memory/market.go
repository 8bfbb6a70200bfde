package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/bobmcallan/riskbatch/internal/models"
)

// MarketStore implements interfaces.MarketDataStorage.
type MarketStore struct {
	st *state
}

func (s *MarketStore) GetMarketData(ctx context.Context, ticker string) (*models.MarketData, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	md, ok := s.st.market[ticker]
	if !ok {
		return nil, fmt.Errorf("market data %s: %w", ticker, models.ErrNotFound)
	}
	return cloneMarketData(md), nil
}

func (s *MarketStore) SaveMarketData(ctx context.Context, data *models.MarketData) error {
	if data.Ticker == "" {
		return fmt.Errorf("ticker is required")
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.market[data.Ticker] = cloneMarketData(data)
	return nil
}

func (s *MarketStore) GetMarketDataBatch(ctx context.Context, tickers []string) ([]*models.MarketData, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []*models.MarketData
	for _, t := range tickers {
		if md, ok := s.st.market[t]; ok {
			out = append(out, cloneMarketData(md))
		}
	}
	return out, nil
}

func (s *MarketStore) ListTickers(ctx context.Context) ([]string, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	out := make([]string, 0, len(s.st.market))
	for t := range s.st.market {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func cloneMarketData(md *models.MarketData) *models.MarketData {
	cp := *md
	cp.EOD = append([]models.EODBar(nil), md.EOD...)
	if md.Profile != nil {
		p := *md.Profile
		cp.Profile = &p
	}
	if md.Fundamentals != nil {
		f := *md.Fundamentals
		cp.Fundamentals = &f
	}
	return &cp
}
