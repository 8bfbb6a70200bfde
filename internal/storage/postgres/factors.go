package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/bobmcallan/riskbatch/internal/calendar"
	"github.com/bobmcallan/riskbatch/internal/models"
)

// FactorStore implements interfaces.FactorStore
type FactorStore struct {
	store
}

func (s *FactorStore) CountForMethod(ctx context.Context, symbol string, date time.Time, method string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	query := `SELECT COUNT(*) FROM symbol_factor_exposures
		WHERE symbol = $1 AND calculation_date = $2 AND calculation_method = $3`
	if err := sqlx.GetContext(ctx, s.q, &n, query, symbol, pgDate(date), method); err != nil {
		return 0, fmt.Errorf("failed to count factor rows: %w", err)
	}
	return n, nil
}

// Upsert writes rows one statement at a time; callers batch them inside a transaction.
func (s *FactorStore) Upsert(ctx context.Context, rows []*models.SymbolFactorExposure) error {
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := s.withBatchTimeout(ctx, len(rows))
	defer cancel()

	query := `
		INSERT INTO symbol_factor_exposures (symbol, factor_name, calculation_date, calculation_method,
			beta_value, r_squared, observation_count, quality_flag, significance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, factor_name, calculation_date, calculation_method) DO UPDATE SET
			beta_value = EXCLUDED.beta_value,
			r_squared = EXCLUDED.r_squared,
			observation_count = EXCLUDED.observation_count,
			quality_flag = EXCLUDED.quality_flag,
			significance = EXCLUDED.significance,
			updated_at = now()`

	for _, r := range rows {
		_, err := s.q.ExecContext(ctx, query,
			r.Symbol, r.FactorName, pgDate(r.CalculationDate), r.CalculationMethod,
			r.BetaValue, r.RSquared, r.ObservationCount, r.QualityFlag, r.Significance)
		if err != nil {
			return fmt.Errorf("failed to upsert factor %s/%s for %s: %w", r.CalculationMethod, r.FactorName, r.Symbol, err)
		}
	}
	return nil
}

func (s *FactorStore) GetBetas(ctx context.Context, symbols []string, date time.Time, method string) (map[string]map[string]float64, error) {
	out := make(map[string]map[string]float64)
	if len(symbols) == 0 {
		return out, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT symbol, factor_name, beta_value FROM symbol_factor_exposures
		WHERE symbol = ANY($1) AND calculation_date = $2 AND calculation_method = $3`

	var rows []struct {
		Symbol string  `db:"symbol"`
		Factor string  `db:"factor_name"`
		Beta   float64 `db:"beta_value"`
	}
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, pq.Array(symbols), pgDate(date), method); err != nil {
		return nil, fmt.Errorf("failed to get symbol betas: %w", err)
	}
	for _, r := range rows {
		if out[r.Symbol] == nil {
			out[r.Symbol] = make(map[string]float64)
		}
		out[r.Symbol][r.Factor] = r.Beta
	}
	return out, nil
}

func (s *FactorStore) List(ctx context.Context, symbol string, date time.Time) ([]*models.SymbolFactorExposure, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT symbol, factor_name, calculation_date, calculation_method, beta_value, r_squared,
			observation_count, quality_flag, significance, updated_at
		FROM symbol_factor_exposures
		WHERE symbol = $1 AND calculation_date = $2
		ORDER BY calculation_method, factor_name`

	var out []*models.SymbolFactorExposure
	if err := sqlx.SelectContext(ctx, s.q, &out, query, symbol, pgDate(date)); err != nil {
		return nil, fmt.Errorf("failed to list factor rows: %w", err)
	}
	for _, r := range out {
		r.CalculationDate = calendar.Normalize(r.CalculationDate)
	}
	return out, nil
}

// SymbolMetricsStore implements interfaces.SymbolMetricsStore
type SymbolMetricsStore struct {
	store
}

func (s *SymbolMetricsStore) Upsert(ctx context.Context, rows []*models.SymbolDailyMetrics) error {
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := s.withBatchTimeout(ctx, len(rows))
	defer cancel()

	query := `
		INSERT INTO symbol_daily_metrics (symbol, metric_date, close, prev_close, return_1d, return_5d,
			return_21d, return_ytd, pe_ratio, pb_ratio, market_cap, sector)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (symbol, metric_date) DO UPDATE SET
			close = EXCLUDED.close,
			prev_close = EXCLUDED.prev_close,
			return_1d = EXCLUDED.return_1d,
			return_5d = EXCLUDED.return_5d,
			return_21d = EXCLUDED.return_21d,
			return_ytd = EXCLUDED.return_ytd,
			pe_ratio = EXCLUDED.pe_ratio,
			pb_ratio = EXCLUDED.pb_ratio,
			market_cap = EXCLUDED.market_cap,
			sector = EXCLUDED.sector,
			updated_at = now()`

	for _, r := range rows {
		_, err := s.q.ExecContext(ctx, query,
			r.Symbol, pgDate(r.MetricDate), r.Close, r.PrevClose, r.Return1D, r.Return5D,
			r.Return21D, r.ReturnYTD, r.PERatio, r.PBRatio, r.MarketCap, r.Sector)
		if err != nil {
			return fmt.Errorf("failed to upsert metrics for %s: %w", r.Symbol, err)
		}
	}
	return nil
}

func (s *SymbolMetricsStore) GetForDate(ctx context.Context, symbols []string, date time.Time) (map[string]*models.SymbolDailyMetrics, error) {
	out := make(map[string]*models.SymbolDailyMetrics, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT symbol, metric_date, close, prev_close, return_1d, return_5d, return_21d, return_ytd,
			pe_ratio, pb_ratio, market_cap, sector, updated_at
		FROM symbol_daily_metrics
		WHERE symbol = ANY($1) AND metric_date = $2`

	var rows []*models.SymbolDailyMetrics
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, pq.Array(symbols), pgDate(date)); err != nil {
		return nil, fmt.Errorf("failed to get symbol metrics: %w", err)
	}
	for _, r := range rows {
		r.MetricDate = calendar.Normalize(r.MetricDate)
		out[r.Symbol] = r
	}
	return out, nil
}

// RiskMetricsStore implements interfaces.RiskMetricsStore
type RiskMetricsStore struct {
	store
}

func (s *RiskMetricsStore) Upsert(ctx context.Context, m *models.PortfolioRiskMetrics) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO portfolio_risk_metrics (portfolio_id, metric_date, market_beta, ir_beta,
			volatility_21d, volatility_63d, hhi, top_position_weight, factor_exposures)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (portfolio_id, metric_date) DO UPDATE SET
			market_beta = EXCLUDED.market_beta,
			ir_beta = EXCLUDED.ir_beta,
			volatility_21d = EXCLUDED.volatility_21d,
			volatility_63d = EXCLUDED.volatility_63d,
			hhi = EXCLUDED.hhi,
			top_position_weight = EXCLUDED.top_position_weight,
			factor_exposures = EXCLUDED.factor_exposures,
			updated_at = now()`

	_, err := s.q.ExecContext(ctx, query,
		m.PortfolioID, pgDate(m.MetricDate), m.MarketBeta, m.IRBeta,
		m.Volatility21D, m.Volatility63D, m.HHI, m.TopPositionWeight, m.FactorExposures)
	if err != nil {
		return fmt.Errorf("failed to upsert risk metrics: %w", err)
	}
	return nil
}

func (s *RiskMetricsStore) Get(ctx context.Context, portfolioID string, date time.Time) (*models.PortfolioRiskMetrics, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT portfolio_id, metric_date, market_beta, ir_beta, volatility_21d, volatility_63d,
			hhi, top_position_weight, factor_exposures, updated_at
		FROM portfolio_risk_metrics WHERE portfolio_id = $1 AND metric_date = $2`

	var m models.PortfolioRiskMetrics
	if err := sqlx.GetContext(ctx, s.q, &m, query, portfolioID, pgDate(date)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("risk metrics %s: %w", portfolioID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get risk metrics: %w", err)
	}
	m.MetricDate = calendar.Normalize(m.MetricDate)
	return &m, nil
}
