package factors

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/riskbatch/internal/calendar"
	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/models"
)

// SymbolMetricsRequest scopes one symbol-metrics pass
type SymbolMetricsRequest struct {
	Date    time.Time
	Symbols []string
	Prices  interfaces.PriceSource
	// PrevCloseLookback bounds the walk back for the previous close, in trading days.
	PrevCloseLookback int
}

// ComputeSymbolMetrics writes one SymbolDailyMetrics row per symbol that has a close
// on the date. Returns the number of rows written and the symbols without a close.
func (s *Service) ComputeSymbolMetrics(ctx context.Context, req SymbolMetricsRequest) (int, []string, error) {
	if req.Prices == nil {
		return 0, nil, fmt.Errorf("symbol metrics require a price source")
	}

	date := calendar.Normalize(req.Date)
	symbols := common.DedupeSymbols(req.Symbols)
	if len(symbols) == 0 {
		return 0, nil, nil
	}

	lookback := req.PrevCloseLookback
	if lookback <= 0 {
		lookback = 10
	}

	docs, err := s.storage.MarketDataStorage().GetMarketDataBatch(ctx, symbols)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load market documents for symbol metrics")
	}
	byTicker := make(map[string]*models.MarketData, len(docs))
	for _, md := range docs {
		if md != nil {
			byTicker[md.Ticker] = md
		}
	}

	prev := s.cal.PreviousTradingDay(date)
	back5 := s.tradingDaysBack(date, 5)
	back21 := s.tradingDaysBack(date, 21)
	yearEnd := calendar.Date(date.Year()-1, time.December, 31)

	now := s.now()
	rows := make([]*models.SymbolDailyMetrics, 0, len(symbols))
	var missing []string

	for _, symbol := range symbols {
		px, ok := req.Prices.Price(symbol, date)
		if !ok {
			missing = append(missing, symbol)
			continue
		}

		row := &models.SymbolDailyMetrics{
			Symbol:     symbol,
			MetricDate: date,
			Close:      px,
			UpdatedAt:  now,
		}

		if p, _, ok := req.Prices.PriceOnOrBefore(symbol, prev, lookback); ok {
			row.PrevClose = p
			row.Return1D = returnFrom(px, p)
		}
		if p, _, ok := req.Prices.PriceOnOrBefore(symbol, back5, lookback); ok {
			row.Return5D = returnFrom(px, p)
		}
		if p, _, ok := req.Prices.PriceOnOrBefore(symbol, back21, lookback); ok {
			row.Return21D = returnFrom(px, p)
		}
		if p, _, ok := req.Prices.PriceOnOrBefore(symbol, yearEnd, lookback); ok {
			row.ReturnYTD = returnFrom(px, p)
		}

		if md := byTicker[symbol]; md != nil {
			if f := md.Fundamentals; f != nil {
				row.PERatio = positive(f.PE)
				row.PBRatio = positive(f.PB)
				row.MarketCap = positive(f.MarketCap)
			}
			if md.Profile != nil {
				row.Sector = md.Profile.Sector
			}
		}

		rows = append(rows, row)
	}

	if len(rows) > 0 {
		if err := s.storage.SymbolMetricsStore().Upsert(ctx, rows); err != nil {
			return 0, missing, fmt.Errorf("failed to save symbol metrics: %w", err)
		}
	}

	s.logger.Debug().
		Str("date", date.Format("2006-01-02")).
		Int("rows", len(rows)).
		Int("missing", len(missing)).
		Msg("Symbol metrics written")

	return len(rows), missing, nil
}

func (s *Service) tradingDaysBack(date time.Time, n int) time.Time {
	d := date
	for i := 0; i < n; i++ {
		d = s.cal.PreviousTradingDay(d)
	}
	return d
}

func returnFrom(last, base float64) *float64 {
	if base <= 0 {
		return nil
	}
	r := last/base - 1
	return &r
}

func positive(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}
