package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/riskbatch/internal/calendar"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/models"
)

// PriceQuote is a resolved close and the reference close used for daily P&L.
type PriceQuote struct {
	Price     float64
	PriceDate time.Time
	Prev      float64 // 0 when no previous close was found
}

// PortfolioInputs is everything one (portfolio, date) snapshot is computed from.
// It is built once inside the snapshot transaction and never re-fetched. Portfolio is
// the row read FOR UPDATE in that transaction; only the equity rollforward mutates it.
type PortfolioInputs struct {
	Portfolio *models.Portfolio
	Date      time.Time
	Positions []*models.Position
	Quotes    map[string]PriceQuote // by priced symbol
	Previous  *models.PortfolioSnapshot
	Betas     map[string]float64 // market beta by factor symbol
	Sectors   map[string]string  // sector by factor symbol
}

// InputSources are the run-level lookups shared by every portfolio on a date.
type InputSources struct {
	Prices   interfaces.PriceSource
	Calendar calendar.Calendar
	// Metrics are the symbol daily metrics for the date; their closes take precedence
	// over a price cache lookup.
	Metrics map[string]*models.SymbolDailyMetrics
	Betas   map[string]map[string]float64 // ols_market betas
	Sectors map[string]string
	// Lookback bounds the fallback to earlier closes, in trading days.
	Lookback int
}

// BuildInputs loads the portfolio row (locked), open positions and previous complete
// snapshot through tx, then resolves prices from the shared sources.
func BuildInputs(ctx context.Context, tx interfaces.Tx, portfolioID string, date time.Time, src InputSources) (*PortfolioInputs, error) {
	date = calendar.Normalize(date)

	portfolio, err := tx.Portfolios().GetPortfolioForUpdate(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock portfolio %s: %w", portfolioID, err)
	}

	positions, err := tx.Positions().ListOpenPositions(ctx, portfolioID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	previous, err := tx.Snapshots().GetPreviousComplete(ctx, portfolioID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous snapshot: %w", err)
	}

	in := &PortfolioInputs{
		Portfolio: portfolio,
		Date:      date,
		Positions: positions,
		Quotes:    make(map[string]PriceQuote),
		Previous:  previous,
		Betas:     make(map[string]float64),
		Sectors:   make(map[string]string),
	}

	var prevDay time.Time
	if src.Calendar != nil {
		prevDay = src.Calendar.PreviousTradingDay(date)
	}

	for _, p := range positions {
		if sym := p.PricedSymbol(); sym != "" {
			if _, done := in.Quotes[sym]; !done {
				if q, ok := resolveQuote(sym, date, prevDay, src); ok {
					in.Quotes[sym] = q
				}
			}
		}
		if sym := p.FactorSymbol(); sym != "" {
			if b, ok := src.Betas[sym][models.FactorMarket]; ok {
				in.Betas[sym] = b
			}
			if s, ok := src.Sectors[sym]; ok && s != "" {
				in.Sectors[sym] = s
			}
		}
	}

	return in, nil
}

func resolveQuote(symbol string, date, prevDay time.Time, src InputSources) (PriceQuote, bool) {
	if m := src.Metrics[symbol]; m != nil && m.Close > 0 {
		return PriceQuote{Price: m.Close, PriceDate: date, Prev: m.PrevClose}, true
	}
	if src.Prices == nil {
		return PriceQuote{}, false
	}

	price, used, ok := src.Prices.PriceOnOrBefore(symbol, date, src.Lookback)
	if !ok {
		return PriceQuote{}, false
	}
	q := PriceQuote{Price: price, PriceDate: used}
	if !prevDay.IsZero() {
		if prev, _, ok := src.Prices.PriceOnOrBefore(symbol, prevDay, src.Lookback); ok {
			q.Prev = prev
		}
	}
	return q, true
}
