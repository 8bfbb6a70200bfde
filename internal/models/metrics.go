package models

import "time"

// SymbolDailyMetrics holds per-symbol derived values for one date, computed once and
// reused by every portfolio's P&L.
type SymbolDailyMetrics struct {
	Symbol     string    `json:"symbol" db:"symbol"`
	MetricDate time.Time `json:"metric_date" db:"metric_date"`
	Close      float64   `json:"close" db:"close"`
	PrevClose  float64   `json:"prev_close" db:"prev_close"`
	Return1D   *float64  `json:"return_1d,omitempty" db:"return_1d"`
	Return5D   *float64  `json:"return_5d,omitempty" db:"return_5d"`
	Return21D  *float64  `json:"return_21d,omitempty" db:"return_21d"`
	ReturnYTD  *float64  `json:"return_ytd,omitempty" db:"return_ytd"`
	PERatio    *float64  `json:"pe_ratio,omitempty" db:"pe_ratio"`
	PBRatio    *float64  `json:"pb_ratio,omitempty" db:"pb_ratio"`
	MarketCap  *float64  `json:"market_cap,omitempty" db:"market_cap"`
	Sector     string    `json:"sector,omitempty" db:"sector"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// PortfolioRiskMetrics is the portfolio-level analytics row written by the risk phase.
type PortfolioRiskMetrics struct {
	PortfolioID       string    `json:"portfolio_id" db:"portfolio_id"`
	MetricDate        time.Time `json:"metric_date" db:"metric_date"`
	MarketBeta        *float64  `json:"market_beta,omitempty" db:"market_beta"`
	IRBeta            *float64  `json:"ir_beta,omitempty" db:"ir_beta"`
	Volatility21D     *float64  `json:"volatility_21d,omitempty" db:"volatility_21d"`
	Volatility63D     *float64  `json:"volatility_63d,omitempty" db:"volatility_63d"`
	HHI               float64   `json:"hhi" db:"hhi"`
	TopPositionWeight float64   `json:"top_position_weight" db:"top_position_weight"`
	FactorExposures   FloatMap  `json:"factor_exposures" db:"factor_exposures"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }
