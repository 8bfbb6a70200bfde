package eodhd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/riskbatch/internal/models"
)

type fundamentalsResponse struct {
	General struct {
		Code        string `json:"Code"`
		Name        string `json:"Name"`
		Type        string `json:"Type"` // "Common Stock", "ETF", etc.
		Sector      string `json:"Sector"`
		Industry    string `json:"Industry"`
		CountryName string `json:"CountryName"`
	} `json:"General"`
	Highlights struct {
		MarketCapitalization flexFloat64 `json:"MarketCapitalization"`
		PERatio              flexFloat64 `json:"PERatio"`
		EarningsShare        flexFloat64 `json:"EarningsShare"`
		DividendYield        flexFloat64 `json:"DividendYield"`
	} `json:"Highlights"`
	Valuation struct {
		PriceBookMRQ flexFloat64 `json:"PriceBookMRQ"`
	} `json:"Valuation"`
	SharesStats struct {
		SharesOutstanding flexFloat64 `json:"SharesOutstanding"`
	} `json:"SharesStats"`
	Technicals struct {
		Beta *flexFloat64 `json:"Beta"`
	} `json:"Technicals"`
	ETFData struct {
		SectorWeights map[string]struct {
			EquityPercent flexFloat64 `json:"Equity_%"`
		} `json:"Sector_Weights"`
	} `json:"ETF_Data"`
}

func (c *Client) fetchFundamentals(ctx context.Context, ticker string) (*fundamentalsResponse, error) {
	path := fmt.Sprintf("/fundamentals/%s", c.providerTicker(ticker))

	var resp fundamentalsResponse
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCompanyProfile retrieves sector, industry and the provider's trailing beta.
// ETFs without a General sector take their heaviest sector weight.
func (c *Client) GetCompanyProfile(ctx context.Context, ticker string) (*models.CompanyProfile, error) {
	resp, err := c.fetchFundamentals(ctx, ticker)
	if err != nil {
		return nil, err
	}

	profile := &models.CompanyProfile{
		Ticker:   ticker,
		Name:     resp.General.Name,
		Sector:   resp.General.Sector,
		Industry: resp.General.Industry,
		Country:  resp.General.CountryName,
		IsETF:    strings.EqualFold(resp.General.Type, "ETF"),
		Updated:  time.Now(),
	}

	if resp.Technicals.Beta != nil {
		beta := float64(*resp.Technicals.Beta)
		profile.Beta = &beta
	}

	if profile.IsETF && profile.Sector == "" {
		var best float64
		for name, w := range resp.ETFData.SectorWeights {
			if pct := float64(w.EquityPercent); pct > best {
				best = pct
				profile.Sector = name
			}
		}
	}

	return profile, nil
}

// GetFundamentals retrieves valuation fundamentals
func (c *Client) GetFundamentals(ctx context.Context, ticker string) (*models.Fundamentals, error) {
	resp, err := c.fetchFundamentals(ctx, ticker)
	if err != nil {
		return nil, err
	}

	return &models.Fundamentals{
		Ticker:            ticker,
		MarketCap:         float64(resp.Highlights.MarketCapitalization),
		PE:                float64(resp.Highlights.PERatio),
		PB:                float64(resp.Valuation.PriceBookMRQ),
		EPS:               float64(resp.Highlights.EarningsShare),
		DividendYield:     float64(resp.Highlights.DividendYield),
		SharesOutstanding: int64(resp.SharesStats.SharesOutstanding),
		LastUpdated:       time.Now(),
	}, nil
}
