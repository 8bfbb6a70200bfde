package eodhd

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/models"
)

type eodBarResponse struct {
	Date          string      `json:"date"`
	Open          flexFloat64 `json:"open"`
	High          flexFloat64 `json:"high"`
	Low           flexFloat64 `json:"low"`
	Close         flexFloat64 `json:"close"`
	AdjustedClose flexFloat64 `json:"adjusted_close"`
	Volume        flexInt64   `json:"volume"`
}

// bulkEODResponse is one row of /eod-bulk-last-day
type bulkEODResponse struct {
	Code          string      `json:"code"`
	ExchangeShort string      `json:"exchange_short_name"`
	Date          string      `json:"date"`
	Open          flexFloat64 `json:"open"`
	High          flexFloat64 `json:"high"`
	Low           flexFloat64 `json:"low"`
	Close         flexFloat64 `json:"close"`
	AdjustedClose flexFloat64 `json:"adjusted_close"`
	Volume        flexInt64   `json:"volume"`
}

func (b eodBarResponse) toBar() (models.EODBar, error) {
	date, err := time.Parse("2006-01-02", b.Date)
	if err != nil {
		return models.EODBar{}, fmt.Errorf("invalid bar date %q: %w", b.Date, err)
	}
	return models.EODBar{
		Date:     date,
		Open:     float64(b.Open),
		High:     float64(b.High),
		Low:      float64(b.Low),
		Close:    float64(b.Close),
		AdjClose: float64(b.AdjustedClose),
		Volume:   int64(b.Volume),
	}, nil
}

// GetEOD retrieves end-of-day price data, newest first
func (c *Client) GetEOD(ctx context.Context, ticker string, opts ...interfaces.EODOption) (*models.EODResponse, error) {
	params := &interfaces.EODParams{
		Order: "d", // descending (most recent first)
	}

	for _, opt := range opts {
		opt(params)
	}

	urlParams := url.Values{}
	urlParams.Set("period", "d")
	urlParams.Set("order", params.Order)

	if !params.From.IsZero() {
		urlParams.Set("from", params.From.Format("2006-01-02"))
	}
	if !params.To.IsZero() {
		urlParams.Set("to", params.To.Format("2006-01-02"))
	}

	path := fmt.Sprintf("/eod/%s", c.providerTicker(ticker))

	var bars []eodBarResponse
	if err := c.get(ctx, path, urlParams, &bars); err != nil {
		return nil, err
	}

	result := &models.EODResponse{
		Data: make([]models.EODBar, 0, len(bars)),
	}

	for _, raw := range bars {
		bar, err := raw.toBar()
		if err != nil {
			c.logger.Debug().Str("ticker", ticker).Err(err).Msg("Skipping malformed bar")
			continue
		}
		result.Data = append(result.Data, bar)
	}

	if params.Limit > 0 && len(result.Data) > params.Limit {
		result.Data = result.Data[:params.Limit]
	}

	return result, nil
}

// GetBulkEOD retrieves every bar an exchange printed on date, keyed by bare code.
// Rows whose date differs from the requested one (stale listings) are dropped.
func (c *Client) GetBulkEOD(ctx context.Context, exchange string, date time.Time) (map[string]models.EODBar, error) {
	if exchange == "" {
		exchange = c.exchange
	}
	day := date.Format("2006-01-02")

	urlParams := url.Values{}
	urlParams.Set("date", day)

	path := fmt.Sprintf("/eod-bulk-last-day/%s", strings.ToUpper(exchange))

	var rows []bulkEODResponse
	if err := c.get(ctx, path, urlParams, &rows); err != nil {
		return nil, err
	}

	result := make(map[string]models.EODBar, len(rows))
	for _, r := range rows {
		if r.Code == "" || r.Date != day {
			continue
		}
		bar, err := eodBarResponse{
			Date:          r.Date,
			Open:          r.Open,
			High:          r.High,
			Low:           r.Low,
			Close:         r.Close,
			AdjustedClose: r.AdjustedClose,
			Volume:        r.Volume,
		}.toBar()
		if err != nil {
			continue
		}
		result[strings.ToUpper(r.Code)] = bar
	}

	c.logger.Debug().Str("exchange", exchange).Str("date", day).Int("bars", len(result)).Msg("Fetched bulk EOD")

	return result, nil
}
