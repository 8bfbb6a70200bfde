package models

import (
	"sort"
	"time"
)

// MarketData is the per-symbol market store document.
type MarketData struct {
	Ticker       string          `json:"ticker"`
	Exchange     string          `json:"exchange"`
	Name         string          `json:"name"`
	EOD          []EODBar        `json:"eod"` // sorted newest first
	Profile      *CompanyProfile `json:"profile,omitempty"`
	Fundamentals *Fundamentals   `json:"fundamentals,omitempty"`
	LastUpdated  time.Time       `json:"last_updated"`
	// Per-component freshness timestamps
	EODUpdatedAt          time.Time `json:"eod_updated_at"`
	ProfileUpdatedAt      time.Time `json:"profile_updated_at"`
	FundamentalsUpdatedAt time.Time `json:"fundamentals_updated_at"`
}

// EODBar represents a single day's price data
type EODBar struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adjusted_close"`
	Volume   int64     `json:"volume"`
}

// Price returns the adjusted close when present, else the raw close.
func (b EODBar) Price() float64 {
	if b.AdjClose > 0 {
		return b.AdjClose
	}
	return b.Close
}

// EODResponse wraps bars returned by a provider
type EODResponse struct {
	Data []EODBar `json:"data"`
}

// CompanyProfile carries the descriptive fields refreshed by the profile sync phase.
type CompanyProfile struct {
	Ticker   string    `json:"ticker"`
	Name     string    `json:"name"`
	Sector   string    `json:"sector"`
	Industry string    `json:"industry"`
	Country  string    `json:"country,omitempty"`
	Beta     *float64  `json:"beta,omitempty"` // provider trailing beta
	IsETF    bool      `json:"is_etf"`
	Updated  time.Time `json:"updated"`
}

// Fundamentals contains the valuation fields used by symbol metrics.
type Fundamentals struct {
	Ticker            string    `json:"ticker"`
	MarketCap         float64   `json:"market_cap"`
	PE                float64   `json:"pe_ratio"`
	PB                float64   `json:"pb_ratio"`
	EPS               float64   `json:"eps"`
	DividendYield     float64   `json:"dividend_yield"`
	SharesOutstanding int64     `json:"shares_outstanding"`
	LastUpdated       time.Time `json:"last_updated"`
}

// HasBar reports whether a bar exists for date.
func (m *MarketData) HasBar(date time.Time) bool {
	for _, b := range m.EOD {
		if b.Date.Equal(date) {
			return true
		}
		if b.Date.Before(date) {
			return false
		}
	}
	return false
}

// OldestBar returns the date of the earliest stored bar.
func (m *MarketData) OldestBar() (time.Time, bool) {
	if len(m.EOD) == 0 {
		return time.Time{}, false
	}
	return m.EOD[len(m.EOD)-1].Date, true
}

// MergeEODBars merges incoming bars into existing, newest first, preferring incoming on
// date collisions.
func MergeEODBars(incoming, existing []EODBar) []EODBar {
	byDate := make(map[time.Time]EODBar, len(incoming)+len(existing))
	for _, b := range existing {
		byDate[b.Date] = b
	}
	for _, b := range incoming {
		byDate[b.Date] = b
	}
	merged := make([]EODBar, 0, len(byDate))
	for _, b := range byDate {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date.After(merged[j].Date) })
	return merged
}

// PricePoint is a dated value from a price or return series.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}
