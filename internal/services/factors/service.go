// Package factors provides the symbol factor engine and symbol-level derived metrics
package factors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/riskbatch/internal/calendar"
	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/models"
)

const (
	defaultBatchSize     = 50
	defaultMaxConcurrent = 8
	defaultRidgeAlpha    = 1.0
	defaultBetaCap       = 5.0
)

// Service implements FactorService
type Service struct {
	storage interfaces.StorageManager
	cal     calendar.Calendar
	methods []Method
	config  common.FactorConfig
	logger  *common.Logger
	now     func() time.Time
}

// NewService creates a new factor service
func NewService(storage interfaces.StorageManager, cal calendar.Calendar, config common.FactorConfig, logger *common.Logger) *Service {
	return &Service{
		storage: storage,
		cal:     cal,
		methods: DefaultMethods(config),
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// Methods returns the configured method table.
func (s *Service) Methods() []Method {
	return s.methods
}

func (s *Service) batchSize() int {
	if s.config.BatchSize > 0 {
		return s.config.BatchSize
	}
	return defaultBatchSize
}

// concurrency is the semaphore width: configured parallelism, never above the pool size.
func (s *Service) concurrency() int {
	n := s.config.MaxConcurrent
	if n <= 0 {
		n = defaultMaxConcurrent
	}
	if pool := s.storage.MaxConns(); pool > 0 && n > pool {
		n = pool
	}
	return n
}

func (s *Service) ridgeAlpha() float64 {
	if s.config.RidgeAlpha > 0 {
		return s.config.RidgeAlpha
	}
	return defaultRidgeAlpha
}

func (s *Service) betaCap() float64 {
	if s.config.BetaCap > 0 {
		return s.config.BetaCap
	}
	return defaultBetaCap
}

// windowStart returns the first return date of a window of n trading days ending at date.
func (s *Service) windowStart(date time.Time, n int) time.Time {
	d := calendar.Normalize(date)
	for i := 1; i < n; i++ {
		d = s.cal.PreviousTradingDay(d)
	}
	return d
}

type batchStats struct {
	computed int
	cached   int
	omitted  int
}

// ComputeSymbolFactors computes every requested method for every symbol on one date.
// Symbols whose stored row count already meets a method's expected count are skipped.
func (s *Service) ComputeSymbolFactors(ctx context.Context, req interfaces.FactorRequest) (*interfaces.FactorResult, error) {
	if req.Prices == nil {
		return nil, fmt.Errorf("factor computation requires a price source")
	}

	methods, err := selectMethods(s.methods, req.Methods)
	if err != nil {
		return nil, err
	}

	date := calendar.Normalize(req.Date)
	symbols := common.DedupeSymbols(req.Symbols)
	result := &interfaces.FactorResult{Symbols: len(symbols)}
	if len(symbols) == 0 {
		return result, nil
	}

	start := time.Now()

	var providerBetas map[string]*float64
	for _, m := range methods {
		if m.Kind == kindProvider {
			providerBetas = s.loadProviderBetas(ctx, symbols)
			break
		}
	}

	windows := make(map[string]time.Time, len(methods))
	for _, m := range methods {
		if m.Window > 0 {
			windows[m.Name] = s.windowStart(date, m.Window)
		}
	}

	batches := chunk(symbols, s.batchSize())
	sem := make(chan struct{}, s.concurrency())
	var wg sync.WaitGroup
	var mu sync.Mutex

	s.logger.Info().
		Str("date", date.Format("2006-01-02")).
		Int("symbols", len(symbols)).
		Int("batches", len(batches)).
		Int("concurrency", cap(sem)).
		Msg("Computing symbol factors")

dispatch:
	for i, batch := range batches {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}

		wg.Add(1)
		go func(idx int, batch []string) {
			defer wg.Done()
			defer func() { <-sem }()

			stats, err := s.runBatch(ctx, batch, date, methods, windows, req.Prices, providerBetas)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed += len(batch)
				result.Errors = append(result.Errors, fmt.Sprintf("batch %d (%s..%s): %v", idx, batch[0], batch[len(batch)-1], err))
				s.logger.Warn().Int("batch", idx).Int("symbols", len(batch)).Err(err).Msg("Factor batch failed")
				return
			}
			result.Computed += stats.computed
			result.Cached += stats.cached
			result.Omitted += stats.omitted
		}(i, batch)
	}

	wg.Wait()

	s.logger.Info().
		Str("date", date.Format("2006-01-02")).
		Int("computed", result.Computed).
		Int("cached", result.Cached).
		Int("omitted", result.Omitted).
		Int("failed", result.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("Symbol factors complete")

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// runBatch computes one batch inside its own transaction and commits once.
func (s *Service) runBatch(
	ctx context.Context,
	symbols []string,
	date time.Time,
	methods []Method,
	windows map[string]time.Time,
	prices interfaces.PriceSource,
	providerBetas map[string]*float64,
) (stats batchStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			stats = batchStats{}
			err = fmt.Errorf("factor batch panicked: %v", r)
		}
	}()

	now := s.now()
	err = s.storage.WithinTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		var local batchStats
		var rows []*models.SymbolFactorExposure

		for _, symbol := range symbols {
			for _, m := range methods {
				n, err := tx.Factors().CountForMethod(ctx, symbol, date, m.Name)
				if err != nil {
					return fmt.Errorf("cache check %s/%s: %w", symbol, m.Name, err)
				}
				if n >= m.Expected() {
					local.cached++
					continue
				}

				job := symbolJob{
					symbol:       symbol,
					date:         date,
					from:         windows[m.Name],
					method:       m,
					prices:       prices,
					providerBeta: providerBetas[symbol],
					ridgeAlpha:   s.ridgeAlpha(),
					betaCap:      s.betaCap(),
					now:          now,
				}
				out := job.compute()
				if len(out) == 0 {
					local.omitted++
					continue
				}
				rows = append(rows, out...)
				local.computed++
			}
		}

		if len(rows) > 0 {
			if err := tx.Factors().Upsert(ctx, rows); err != nil {
				return fmt.Errorf("failed to save factor rows: %w", err)
			}
		}
		stats = local
		return nil
	})
	if err != nil {
		return batchStats{}, err
	}
	return stats, nil
}

// loadProviderBetas reads provider betas from stored company profiles.
func (s *Service) loadProviderBetas(ctx context.Context, symbols []string) map[string]*float64 {
	out := make(map[string]*float64)
	docs, err := s.storage.MarketDataStorage().GetMarketDataBatch(ctx, symbols)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load profiles for provider betas")
		return out
	}
	for _, md := range docs {
		if md != nil && md.Profile != nil && md.Profile.Beta != nil {
			beta := *md.Profile.Beta
			out[md.Ticker] = &beta
		}
	}
	return out
}

// GetSymbolBetas returns symbol → factor → beta for one date. Empty method means ols_market.
func (s *Service) GetSymbolBetas(ctx context.Context, symbols []string, date time.Time, method string) (map[string]map[string]float64, error) {
	if method == "" {
		method = models.MethodOLSMarket
	}
	betas, err := s.storage.FactorStore().GetBetas(ctx, common.DedupeSymbols(symbols), calendar.Normalize(date), method)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s betas: %w", method, err)
	}
	return betas, nil
}

func chunk(symbols []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		out = append(out, symbols[start:end])
	}
	return out
}

// Ensure Service implements FactorService
var _ interfaces.FactorService = (*Service)(nil)
