package factors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/riskbatch/internal/models"
)

func TestComputeSymbolMetrics(t *testing.T) {
	svc, mgr := newTestService(t, defaultConfig())
	ctx := context.Background()

	require.NoError(t, mgr.MarketDataStorage().SaveMarketData(ctx, &models.MarketData{
		Ticker:       "AAA",
		Profile:      &models.CompanyProfile{Ticker: "AAA", Sector: "Technology"},
		Fundamentals: &models.Fundamentals{Ticker: "AAA", PE: 24.5, PB: 0, MarketCap: 2e9},
	}))

	prices := testPrices()
	n, missing, err := svc.ComputeSymbolMetrics(ctx, SymbolMetricsRequest{
		Date:    testDate,
		Symbols: []string{"AAA", "NOPE"},
		Prices:  prices,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"NOPE"}, missing)

	got, err := mgr.SymbolMetricsStore().GetForDate(ctx, []string{"AAA"}, testDate)
	require.NoError(t, err)
	m := got["AAA"]
	require.NotNil(t, m)

	last, _ := prices.Price("AAA", testDate)
	prev, _, _ := prices.PriceOnOrBefore("AAA", calendarPrev(testDate), 0)
	assert.Equal(t, last, m.Close)
	assert.Equal(t, prev, m.PrevClose)
	require.NotNil(t, m.Return1D)
	assert.InDelta(t, last/prev-1, *m.Return1D, 1e-12)
	assert.NotNil(t, m.Return5D)
	assert.NotNil(t, m.Return21D)
	assert.NotNil(t, m.ReturnYTD)
	require.NotNil(t, m.PERatio)
	assert.Equal(t, 24.5, *m.PERatio)
	assert.Nil(t, m.PBRatio, "zero ratios are stored as null")
	assert.Equal(t, "Technology", m.Sector)
}

func calendarPrev(d time.Time) time.Time { return testCal.PreviousTradingDay(d) }
