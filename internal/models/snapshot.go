package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PortfolioSnapshot is the point-in-time state of one portfolio on one trading day.
// Rows with IsComplete=false are placeholders that claim the (portfolio, date) slot.
type PortfolioSnapshot struct {
	ID                string    `json:"id" db:"id"`
	PortfolioID       string    `json:"portfolio_id" db:"portfolio_id"`
	SnapshotDate      time.Time `json:"snapshot_date" db:"snapshot_date"`
	NetAssetValue     float64   `json:"net_asset_value" db:"net_asset_value"`
	CashValue         float64   `json:"cash_value" db:"cash_value"`
	EquityBalance     float64   `json:"equity_balance" db:"equity_balance"`
	LongValue         float64   `json:"long_value" db:"long_value"`
	ShortValue        float64   `json:"short_value" db:"short_value"`
	GrossExposure     float64   `json:"gross_exposure" db:"gross_exposure"`
	NetExposure       float64   `json:"net_exposure" db:"net_exposure"`
	DailyPnL          float64   `json:"daily_pnl" db:"daily_pnl"`
	DailyReturn       float64   `json:"daily_return" db:"daily_return"`
	CumulativePnL     float64   `json:"cumulative_pnl" db:"cumulative_pnl"`
	NumPositions      int       `json:"num_positions" db:"num_positions"`
	NumLong           int       `json:"num_long" db:"num_long"`
	NumShort          int       `json:"num_short" db:"num_short"`
	NumOptions        int       `json:"num_options" db:"num_options"`
	NumPrivate        int       `json:"num_private" db:"num_private"`
	MarketBeta        *float64  `json:"market_beta,omitempty" db:"market_beta"`
	TopPositionWeight float64   `json:"top_position_weight" db:"top_position_weight"`
	HHI               float64   `json:"hhi" db:"hhi"`
	SectorExposure    FloatMap  `json:"sector_exposure" db:"sector_exposure"`
	IsComplete        bool      `json:"is_complete" db:"is_complete"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// FloatMap is a string→float64 map persisted as a JSON document column.
type FloatMap map[string]float64

// Value implements driver.Valuer.
func (m FloatMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *FloatMap) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = FloatMap{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into FloatMap", src)
	}
	out := FloatMap{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("failed to decode FloatMap: %w", err)
		}
	}
	*m = out
	return nil
}

// Clone returns a copy that does not share the map.
func (m FloatMap) Clone() FloatMap {
	if m == nil {
		return nil
	}
	out := make(FloatMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
