// Package models defines data structures for riskbatch
package models

import (
	"fmt"
	"strings"
	"time"
)

// PositionType is the tagged variant describing a position's side and instrument.
type PositionType string

const (
	PositionLong      PositionType = "LONG"
	PositionShort     PositionType = "SHORT"
	PositionLongCall  PositionType = "LC"
	PositionLongPut   PositionType = "LP"
	PositionShortCall PositionType = "SC"
	PositionShortPut  PositionType = "SP"
	PositionPrivate   PositionType = "PRIVATE"
)

// OptionMultiplier is the contract multiplier for listed equity options.
const OptionMultiplier = 100.0

// ParsePositionType maps a stored code onto the variant.
func ParsePositionType(s string) (PositionType, error) {
	switch PositionType(strings.ToUpper(strings.TrimSpace(s))) {
	case PositionLong:
		return PositionLong, nil
	case PositionShort:
		return PositionShort, nil
	case PositionLongCall:
		return PositionLongCall, nil
	case PositionLongPut:
		return PositionLongPut, nil
	case PositionShortCall:
		return PositionShortCall, nil
	case PositionShortPut:
		return PositionShortPut, nil
	case PositionPrivate:
		return PositionPrivate, nil
	}
	return "", fmt.Errorf("unknown position type %q", s)
}

// Sign is +1 for the long side and -1 for the short side.
func (t PositionType) Sign() float64 {
	switch t {
	case PositionShort, PositionShortCall, PositionShortPut:
		return -1
	default:
		return 1
	}
}

// Multiplier is the per-unit notional multiplier (100 for options, 1 otherwise).
func (t PositionType) Multiplier() float64 {
	if t.IsOption() {
		return OptionMultiplier
	}
	return 1
}

// IsOption reports whether the variant is a listed option.
func (t PositionType) IsOption() bool {
	switch t {
	case PositionLongCall, PositionLongPut, PositionShortCall, PositionShortPut:
		return true
	}
	return false
}

// IsShort reports whether the variant sits on the short side.
func (t PositionType) IsShort() bool { return t.Sign() < 0 }

// IsPrivate reports whether the position has no public market price.
func (t PositionType) IsPrivate() bool { return t == PositionPrivate }

// InvestmentClass groups positions for reporting.
type InvestmentClass string

const (
	ClassPublic  InvestmentClass = "PUBLIC"
	ClassOptions InvestmentClass = "OPTIONS"
	ClassPrivate InvestmentClass = "PRIVATE"
)

// Portfolio is the read model of an investment portfolio.
// EquityBalance is advanced by the equity rollforward; the batch reads it inside the
// snapshot transaction.
type Portfolio struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	EquityBalance float64   `json:"equity_balance" db:"equity_balance"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Position is a single holding inside a portfolio.
type Position struct {
	ID               string          `json:"id" db:"id"`
	PortfolioID      string          `json:"portfolio_id" db:"portfolio_id"`
	Symbol           string          `json:"symbol" db:"symbol"`
	UnderlyingSymbol string          `json:"underlying_symbol,omitempty" db:"underlying_symbol"`
	Quantity         float64         `json:"quantity" db:"quantity"` // signed
	EntryPrice       float64         `json:"entry_price" db:"entry_price"`
	EntryDate        time.Time       `json:"entry_date" db:"entry_date"`
	ExitDate         *time.Time      `json:"exit_date,omitempty" db:"exit_date"`
	PositionType     PositionType    `json:"position_type" db:"position_type"`
	InvestmentClass  InvestmentClass `json:"investment_class" db:"investment_class"`
	Sector           string          `json:"sector,omitempty" db:"sector"`
	LastPrice        float64         `json:"last_price" db:"last_price"`
	MarketValue      float64         `json:"market_value" db:"market_value"`
	UnrealizedPnL    float64         `json:"unrealized_pnl" db:"unrealized_pnl"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// IsOpenOn reports whether the position was held at the close of date.
func (p *Position) IsOpenOn(date time.Time) bool {
	if p.EntryDate.After(date) {
		return false
	}
	if p.ExitDate != nil && !p.ExitDate.After(date) {
		return false
	}
	return true
}

// Units returns the absolute quantity; the side comes from the position type.
func (p *Position) Units() float64 {
	if p.Quantity < 0 {
		return -p.Quantity
	}
	return p.Quantity
}

// SignedExposure returns the signed market exposure at price.
func (p *Position) SignedExposure(price float64) float64 {
	return p.PositionType.Sign() * p.Units() * price * p.PositionType.Multiplier()
}

// PricedSymbol is the symbol looked up in the price cache. Private positions have none.
func (p *Position) PricedSymbol() string {
	if p.PositionType.IsPrivate() {
		return ""
	}
	return p.Symbol
}

// FactorSymbol is the symbol whose betas describe this position's risk:
// the underlying for options, the symbol itself for stock, none for private holdings.
func (p *Position) FactorSymbol() string {
	switch {
	case p.PositionType.IsPrivate():
		return ""
	case p.PositionType.IsOption() && p.UnderlyingSymbol != "":
		return p.UnderlyingSymbol
	case p.PositionType.IsOption():
		return ""
	default:
		return p.Symbol
	}
}
