// Package analytics provides position valuation, sector tagging and portfolio risk analytics
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/bobmcallan/riskbatch/internal/calendar"
	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/models"
)

// Service implements the post-snapshot phases
type Service struct {
	storage interfaces.LedgerStorage
	logger  *common.Logger
	now     func() time.Time
}

// NewService creates a new analytics service
func NewService(storage interfaces.LedgerStorage, logger *common.Logger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// ValuationRequest scopes a position market-value refresh
type ValuationRequest struct {
	PortfolioID string
	Date        time.Time
	Prices      interfaces.PriceSource
	// Lookback is how many prior trading days a missing close may fall back over.
	Lookback  int
	WarnRatio float64
}

// ValuationResult reports a refresh. Skipped counts priced positions with no close
// inside the lookback window.
type ValuationResult struct {
	Total          int
	Updated        int
	Skipped        int
	SkippedSymbols []string
}

// SkippedRatio is Skipped/Total, 0 when there are no positions.
func (r *ValuationResult) SkippedRatio() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Skipped) / float64(r.Total)
}

// RefreshValuations recomputes last price, market value and unrealized P&L of every
// open public position.
func (s *Service) RefreshValuations(ctx context.Context, req ValuationRequest) (*ValuationResult, error) {
	date := calendar.Normalize(req.Date)
	positions, err := s.storage.PositionStore().ListOpenPositions(ctx, req.PortfolioID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	res := &ValuationResult{}
	for _, p := range positions {
		sym := p.PricedSymbol()
		if sym == "" {
			continue
		}
		res.Total++

		price, _, ok := req.Prices.PriceOnOrBefore(sym, date, req.Lookback)
		if !ok {
			res.Skipped++
			res.SkippedSymbols = append(res.SkippedSymbols, sym)
			continue
		}

		value := p.SignedExposure(price)
		unrealized := value - p.SignedExposure(p.EntryPrice)
		if err := s.storage.PositionStore().UpdateValuation(ctx, p.ID, price, value, unrealized); err != nil {
			return res, fmt.Errorf("failed to update position %s: %w", p.ID, err)
		}
		res.Updated++
	}

	event := s.logger.Debug()
	if req.WarnRatio > 0 && res.SkippedRatio() > req.WarnRatio {
		event = s.logger.Warn()
	}
	event.
		Str("portfolio_id", req.PortfolioID).
		Str("date", date.Format("2006-01-02")).
		Int("total", res.Total).
		Int("skipped", res.Skipped).
		Float64("skipped_ratio", res.SkippedRatio()).
		Strs("skipped_symbols", res.SkippedSymbols).
		Msg("Position valuations refreshed")

	return res, nil
}

// RestoreSectorTags writes the profile sector onto positions whose tag is missing or
// differs. Returns the number of positions updated.
func (s *Service) RestoreSectorTags(ctx context.Context, portfolioID string, profiles map[string]*models.CompanyProfile) (int, error) {
	positions, err := s.storage.PositionStore().ListPositions(ctx, portfolioID)
	if err != nil {
		return 0, fmt.Errorf("failed to list positions: %w", err)
	}

	updated := 0
	for _, p := range positions {
		prof := profiles[p.FactorSymbol()]
		if prof == nil || prof.Sector == "" || prof.Sector == p.Sector {
			continue
		}
		if err := s.storage.PositionStore().UpdateSector(ctx, p.ID, prof.Sector); err != nil {
			return updated, fmt.Errorf("failed to tag position %s: %w", p.ID, err)
		}
		updated++
	}
	return updated, nil
}

// RiskRequest scopes one portfolio risk computation
type RiskRequest struct {
	PortfolioID string
	Date        time.Time
	// Betas holds stored factor betas by method: method → symbol → factor → beta.
	Betas map[string]map[string]map[string]float64
}

// minVolatilityObs is the fewest daily returns a volatility is reported from.
const minVolatilityObs = 5

// ComputeRiskMetrics aggregates position-level betas, snapshot return volatility and
// concentration into one PortfolioRiskMetrics row. It needs the date's complete
// snapshot and refreshed position values.
func (s *Service) ComputeRiskMetrics(ctx context.Context, req RiskRequest) (*models.PortfolioRiskMetrics, error) {
	date := calendar.Normalize(req.Date)

	snap, err := s.storage.SnapshotStore().Get(ctx, req.PortfolioID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if !snap.IsComplete {
		return nil, fmt.Errorf("snapshot for %s on %s is not complete", req.PortfolioID, date.Format("2006-01-02"))
	}

	positions, err := s.storage.PositionStore().ListOpenPositions(ctx, req.PortfolioID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	history, err := s.storage.SnapshotStore().List(ctx, req.PortfolioID, date.AddDate(0, 0, -100), date)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot history: %w", err)
	}
	var returns []float64
	for _, h := range history {
		if h.IsComplete {
			returns = append(returns, h.DailyReturn)
		}
	}

	m := &models.PortfolioRiskMetrics{
		PortfolioID:       req.PortfolioID,
		MetricDate:        date,
		HHI:               snap.HHI,
		TopPositionWeight: snap.TopPositionWeight,
		FactorExposures:   models.FloatMap{},
		Volatility21D:     annualizedVol(returns, 21),
		Volatility63D:     annualizedVol(returns, 63),
		UpdatedAt:         s.now(),
	}

	nav := snap.NetAssetValue
	if nav != 0 {
		m.MarketBeta = weightedBeta(positions, req.Betas[models.MethodOLSMarket], models.FactorMarket, nav)
		m.IRBeta = weightedBeta(positions, req.Betas[models.MethodOLSIR], models.FactorInterestRate, nav)
		for _, method := range []string{models.MethodRidge, models.MethodSpread, models.MethodProvider} {
			for factor, v := range aggregateFactors(positions, req.Betas[method], nav) {
				m.FactorExposures[factor] = v
			}
		}
	}

	if err := s.storage.RiskMetricsStore().Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save risk metrics: %w", err)
	}
	return m, nil
}

// weightedBeta is Σ(market value × beta) / NAV over positions with a beta; nil when none have one.
func weightedBeta(positions []*models.Position, betas map[string]map[string]float64, factor string, nav float64) *float64 {
	var sum float64
	found := false
	for _, p := range positions {
		b, ok := betas[p.FactorSymbol()][factor]
		if !ok {
			continue
		}
		sum += p.MarketValue * b
		found = true
	}
	if !found {
		return nil
	}
	v := sum / nav
	return &v
}

func aggregateFactors(positions []*models.Position, betas map[string]map[string]float64, nav float64) map[string]float64 {
	out := make(map[string]float64)
	for _, p := range positions {
		for factor, b := range betas[p.FactorSymbol()] {
			out[factor] += p.MarketValue * b / nav
		}
	}
	return out
}

// annualizedVol is the sample standard deviation of the last window returns scaled
// by √252, or nil with fewer than minVolatilityObs returns.
func annualizedVol(returns []float64, window int) *float64 {
	if len(returns) > window {
		returns = returns[len(returns)-window:]
	}
	if len(returns) < minVolatilityObs {
		return nil
	}
	v := stat.StdDev(returns, nil) * math.Sqrt(252)
	return &v
}
