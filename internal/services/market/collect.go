package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bobmcallan/riskbatch/internal/calendar"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/models"
)

// CollectMarketData ensures every symbol has a bar for every requested date.
// Symbols with no stored history get one ranged fetch; remaining gaps are filled from
// the exchange bulk endpoint once per date, then from per-symbol range fetches.
func (s *Service) CollectMarketData(ctx context.Context, req interfaces.CollectRequest) (*interfaces.CollectResult, error) {
	symbols := normalizeSymbols(req.Symbols)
	dates := normalizeDates(req.Dates)
	res := &interfaces.CollectResult{}
	if len(symbols) == 0 || len(dates) == 0 {
		return res, nil
	}
	if err := s.requireProvider(); err != nil {
		return nil, err
	}

	start := time.Now()
	docs, err := s.load(ctx, symbols)
	if err != nil {
		return nil, err
	}

	earliest, latest := dates[0], dates[len(dates)-1]
	changed := make(map[string]bool)
	failed := make(map[string]error)
	var mu sync.Mutex

	// History for symbols we know nothing about, or whose bars start after the range
	var needHistory []string
	for _, sym := range symbols {
		oldest, ok := docs[sym].OldestBar()
		if !ok || oldest.After(earliest) {
			needHistory = append(needHistory, sym)
		}
	}
	historyFrom := earliest.AddDate(0, 0, -s.historyDays)
	s.forEach(ctx, needHistory, func(sym string) {
		bars, err := s.fetchRange(ctx, sym, historyFrom, latest)
		mu.Lock()
		defer mu.Unlock()
		res.HistoryFetches++
		if err != nil {
			failed[sym] = err
			return
		}
		if len(bars) > 0 {
			docs[sym].EOD = models.MergeEODBars(bars, docs[sym].EOD)
			changed[sym] = true
		}
	})

	// Bulk endpoint, one call per date that still has gaps
	for _, d := range dates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		missing := missingOn(docs, symbols, d)
		if len(missing) == 0 {
			continue
		}
		bars, err := s.provider.GetBulkEOD(ctx, s.exchange, d)
		if err != nil {
			s.logger.Warn().Str("exchange", s.exchange).Str("date", d.Format("2006-01-02")).Err(err).Msg("Bulk EOD fetch failed")
			continue
		}
		res.BulkDates++
		for _, sym := range missing {
			if bar, ok := bars[sym]; ok {
				docs[sym].EOD = models.MergeEODBars([]models.EODBar{bar}, docs[sym].EOD)
				changed[sym] = true
			}
		}
	}

	// Per-symbol fallback from the first missing date
	var gaps []string
	firstGap := make(map[string]time.Time)
	for _, sym := range symbols {
		if _, bad := failed[sym]; bad {
			continue
		}
		for _, d := range dates {
			if !docs[sym].HasBar(d) {
				gaps = append(gaps, sym)
				firstGap[sym] = d
				break
			}
		}
	}
	s.forEach(ctx, gaps, func(sym string) {
		bars, err := s.fetchRange(ctx, sym, firstGap[sym], latest)
		mu.Lock()
		defer mu.Unlock()
		res.SymbolFetches++
		if err != nil {
			failed[sym] = err
			return
		}
		if len(bars) > 0 {
			docs[sym].EOD = models.MergeEODBars(bars, docs[sym].EOD)
			changed[sym] = true
		}
	})

	now := s.now()
	for _, sym := range symbols {
		if !changed[sym] {
			continue
		}
		md := docs[sym]
		md.EODUpdatedAt = now
		md.LastUpdated = now
		if err := s.store.SaveMarketData(ctx, md); err != nil {
			failed[sym] = fmt.Errorf("failed to save market data: %w", err)
		}
	}

	var errs []error
	for _, sym := range symbols {
		if err, ok := failed[sym]; ok {
			res.Failed = append(res.Failed, sym)
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
		}
	}

	s.logger.Info().
		Int("symbols", len(symbols)).
		Int("dates", len(dates)).
		Int("bulk_dates", res.BulkDates).
		Int("history_fetches", res.HistoryFetches).
		Int("symbol_fetches", res.SymbolFetches).
		Int("failed", len(res.Failed)).
		Dur("elapsed", time.Since(start)).
		Msg("Market data collected")

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if len(errs) == len(symbols) {
		return res, errors.Join(errs...)
	}
	return res, nil
}

func (s *Service) fetchRange(ctx context.Context, symbol string, from, to time.Time) ([]models.EODBar, error) {
	resp, err := s.provider.GetEOD(ctx, symbol, interfaces.WithDateRange(from, to))
	if err != nil {
		return nil, err
	}
	bars := make([]models.EODBar, 0, len(resp.Data))
	for _, b := range resp.Data {
		b.Date = calendar.Normalize(b.Date)
		bars = append(bars, b)
	}
	return bars, nil
}

// forEach runs fn for every symbol with bounded concurrency, stopping dispatch on cancellation.
func (s *Service) forEach(ctx context.Context, symbols []string, fn func(symbol string)) {
	sem := make(chan struct{}, defaultMaxConcurrent)
	var wg sync.WaitGroup

dispatch:
	for _, sym := range symbols {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(sym)
		}(sym)
	}

	wg.Wait()
}

func missingOn(docs map[string]*models.MarketData, symbols []string, date time.Time) []string {
	var out []string
	for _, sym := range symbols {
		if !docs[sym].HasBar(date) {
			out = append(out, sym)
		}
	}
	return out
}

func normalizeDates(dates []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(dates))
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		n := calendar.Normalize(d)
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
