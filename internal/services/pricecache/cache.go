// Package pricecache provides the run-scoped, read-only close price cache
package pricecache

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

// Cache holds closes for a fixed symbol set over a fixed window.
// It is never mutated after Build returns, so readers need no locking.
type Cache struct {
	cal    calendar.Calendar
	from   time.Time
	to     time.Time
	series map[string][]models.PricePoint // ascending
	index  map[string]map[time.Time]float64
}

// Build loads closes in [from, to] for symbols from the market store.
// Symbols with no stored document are simply absent.
func Build(ctx context.Context, store interfaces.MarketDataStorage, cal calendar.Calendar, symbols []string, from, to time.Time, logger *common.Logger) (*Cache, error) {
	from, to = calendar.Normalize(from), calendar.Normalize(to)
	symbols = common.DedupeSymbols(symbols)

	docs, err := store.GetMarketDataBatch(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to load market data for price cache: %w", err)
	}

	c := &Cache{
		cal:    cal,
		from:   from,
		to:     to,
		series: make(map[string][]models.PricePoint, len(docs)),
		index:  make(map[string]map[time.Time]float64, len(docs)),
	}

	points := 0
	for _, md := range docs {
		if md == nil {
			continue
		}
		c.add(md.Ticker, md.EOD)
		points += len(c.series[md.Ticker])
	}

	logger.Info().
		Int("requested", len(symbols)).
		Int("symbols", len(c.series)).
		Int("points", points).
		Str("from", from.Format("2006-01-02")).
		Str("to", to.Format("2006-01-02")).
		Msg("Price cache loaded")

	return c, nil
}

// FromBars builds a cache directly from bars keyed by symbol.
func FromBars(cal calendar.Calendar, bars map[string][]models.EODBar) *Cache {
	c := &Cache{
		cal:    cal,
		series: make(map[string][]models.PricePoint, len(bars)),
		index:  make(map[string]map[time.Time]float64, len(bars)),
	}
	for symbol, b := range bars {
		c.add(symbol, b)
	}
	return c
}

func (c *Cache) add(symbol string, bars []models.EODBar) {
	idx := make(map[time.Time]float64, len(bars))
	pts := make([]models.PricePoint, 0, len(bars))
	for _, b := range bars {
		d := calendar.Normalize(b.Date)
		if !c.from.IsZero() && d.Before(c.from) {
			continue
		}
		if !c.to.IsZero() && d.After(c.to) {
			continue
		}
		p := b.Price()
		if p <= 0 {
			continue
		}
		if _, dup := idx[d]; dup {
			continue
		}
		idx[d] = p
		pts = append(pts, models.PricePoint{Date: d, Value: p})
	}
	if len(pts) == 0 {
		return
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) })
	c.series[symbol] = pts
	c.index[symbol] = idx
}

// Symbols returns the cached symbols, sorted.
func (c *Cache) Symbols() []string {
	out := make([]string, 0, len(c.series))
	for s := range c.series {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Price returns the close for symbol on exactly date.
func (c *Cache) Price(symbol string, date time.Time) (float64, bool) {
	p, ok := c.index[symbol][calendar.Normalize(date)]
	return p, ok
}

// PriceOnOrBefore walks back from date over at most maxTradingDays prior trading days.
func (c *Cache) PriceOnOrBefore(symbol string, date time.Time, maxTradingDays int) (float64, time.Time, bool) {
	idx, ok := c.index[symbol]
	if !ok {
		return 0, time.Time{}, false
	}
	d := calendar.Normalize(date)
	if p, ok := idx[d]; ok {
		return p, d, true
	}
	for i := 0; i < maxTradingDays; i++ {
		d = c.cal.PreviousTradingDay(d)
		if p, ok := idx[d]; ok {
			return p, d, true
		}
	}
	return 0, time.Time{}, false
}

// Series returns closes in [from, to], ascending.
func (c *Cache) Series(symbol string, from, to time.Time) []models.PricePoint {
	pts := c.series[symbol]
	lo, hi := window(pts, calendar.Normalize(from), calendar.Normalize(to))
	out := make([]models.PricePoint, hi-lo)
	copy(out, pts[lo:hi])
	return out
}

// Returns returns simple returns dated in [from, to]. The first return may use a close
// from before from.
func (c *Cache) Returns(symbol string, from, to time.Time) []models.PricePoint {
	pts := c.series[symbol]
	lo, hi := window(pts, calendar.Normalize(from), calendar.Normalize(to))
	if lo == 0 {
		lo = 1
	}
	if lo >= hi {
		return nil
	}
	out := make([]models.PricePoint, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, models.PricePoint{
			Date:  pts[i].Date,
			Value: pts[i].Value/pts[i-1].Value - 1,
		})
	}
	return out
}

// AlignedReturns returns the dates on which every symbol has a return, and the
// returns on exactly those dates.
func (c *Cache) AlignedReturns(symbols []string, from, to time.Time) ([]time.Time, map[string][]float64) {
	if len(symbols) == 0 {
		return nil, map[string][]float64{}
	}

	perSymbol := make(map[string]map[time.Time]float64, len(symbols))
	counts := make(map[time.Time]int)
	for _, s := range symbols {
		if _, seen := perSymbol[s]; seen {
			continue
		}
		rets := c.Returns(s, from, to)
		m := make(map[time.Time]float64, len(rets))
		for _, r := range rets {
			m[r.Date] = r.Value
			counts[r.Date]++
		}
		perSymbol[s] = m
	}

	dates := make([]time.Time, 0, len(counts))
	for d, n := range counts {
		if n == len(perSymbol) {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	out := make(map[string][]float64, len(perSymbol))
	for s, m := range perSymbol {
		vals := make([]float64, len(dates))
		for i, d := range dates {
			vals[i] = m[d]
		}
		out[s] = vals
	}
	return dates, out
}

// window returns the half-open index range of pts dated in [from, to].
func window(pts []models.PricePoint, from, to time.Time) (int, int) {
	lo := sort.Search(len(pts), func(i int) bool { return !pts[i].Date.Before(from) })
	hi := sort.Search(len(pts), func(i int) bool { return pts[i].Date.After(to) })
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Ensure Cache implements PriceSource
var _ interfaces.PriceSource = (*Cache)(nil)
