package models

import "time"

// Quality flags on factor rows.
const (
	QualityFullHistory    = "full_history"
	QualityLimitedHistory = "limited_history"
)

// Significance classes for single-factor betas.
const (
	Significant99  = "significant_99"
	Significant95  = "significant_95"
	Significant90  = "significant_90"
	NotSignificant = "not_significant"
)

// Calculation methods. A symbol's rows are unique per (factor, date, method).
const (
	MethodRidge     = "ridge"
	MethodSpread    = "spread"
	MethodOLSMarket = "ols_market"
	MethodOLSIR     = "ols_ir"
	MethodProvider  = "provider"
)

// Factor names.
const (
	FactorValue          = "value"
	FactorGrowth         = "growth"
	FactorMomentum       = "momentum"
	FactorQuality        = "quality"
	FactorSize           = "size"
	FactorLowVolatility  = "low_volatility"
	FactorGrowthValue    = "growth_value"
	FactorMomentumSpread = "momentum_spread"
	FactorSizeSpread     = "size_spread"
	FactorQualitySpread  = "quality_spread"
	FactorMarket         = "market"
	FactorInterestRate   = "interest_rate"
	FactorProviderBeta   = "provider_beta"
)

// SymbolFactorExposure is one regression-derived beta for a symbol on a date.
// Rows are symbol-intrinsic and shared by every portfolio holding the symbol.
type SymbolFactorExposure struct {
	Symbol            string    `json:"symbol" db:"symbol"`
	FactorName        string    `json:"factor_name" db:"factor_name"`
	CalculationDate   time.Time `json:"calculation_date" db:"calculation_date"`
	CalculationMethod string    `json:"calculation_method" db:"calculation_method"`
	BetaValue         float64   `json:"beta_value" db:"beta_value"`
	RSquared          float64   `json:"r_squared" db:"r_squared"`
	ObservationCount  int       `json:"observation_count" db:"observation_count"`
	QualityFlag       string    `json:"quality_flag" db:"quality_flag"`
	Significance      string    `json:"significance,omitempty" db:"significance"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// FactorKey identifies a factor row.
type FactorKey struct {
	Symbol string
	Factor string
	Date   time.Time
	Method string
}

// Key returns the row's natural key.
func (e *SymbolFactorExposure) Key() FactorKey {
	return FactorKey{Symbol: e.Symbol, Factor: e.FactorName, Date: e.CalculationDate, Method: e.CalculationMethod}
}
