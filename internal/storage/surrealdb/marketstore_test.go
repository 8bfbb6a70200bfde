package surrealdb

import (
	"context"
	"testing"
	"time"

	"github.com/bobmcallan/riskbatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMarketData(ticker, exchange string) *models.MarketData {
	beta := 1.15
	return &models.MarketData{
		Ticker:      ticker,
		Exchange:    exchange,
		Name:        ticker + " Corp",
		LastUpdated: time.Now().Truncate(time.Second),
		EOD: []models.EODBar{
			{
				Date:     time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
				Open:     100.0,
				High:     105.0,
				Low:      99.0,
				Close:    103.0,
				AdjClose: 103.0,
				Volume:   1000000,
			},
		},
		Profile: &models.CompanyProfile{
			Ticker: ticker,
			Sector: "Technology",
			Beta:   &beta,
		},
	}
}

func TestGetMarketData(t *testing.T) {
	db := testDB(t)
	store := NewMarketStore(db, testLogger())
	ctx := context.Background()

	require.NoError(t, store.SaveMarketData(ctx, newTestMarketData("AAPL", "US")))

	got, err := store.GetMarketData(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got.Ticker)
	assert.Equal(t, "US", got.Exchange)
	assert.Len(t, got.EOD, 1)
	require.NotNil(t, got.Profile)
	require.NotNil(t, got.Profile.Beta)
	assert.InDelta(t, 1.15, *got.Profile.Beta, 1e-9)
}

func TestGetMarketDataNotFound(t *testing.T) {
	db := testDB(t)
	store := NewMarketStore(db, testLogger())

	_, err := store.GetMarketData(context.Background(), "NONEXIST")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSaveMarketDataOverwrite(t *testing.T) {
	db := testDB(t)
	store := NewMarketStore(db, testLogger())
	ctx := context.Background()

	data := newTestMarketData("SPY", "US")
	require.NoError(t, store.SaveMarketData(ctx, data))

	data.EOD = models.MergeEODBars([]models.EODBar{{
		Date:  time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC),
		Close: 105.0,
	}}, data.EOD)
	require.NoError(t, store.SaveMarketData(ctx, data))

	got, err := store.GetMarketData(ctx, "SPY")
	require.NoError(t, err)
	require.Len(t, got.EOD, 2)
	assert.True(t, got.EOD[0].Date.After(got.EOD[1].Date))
}

func TestGetMarketDataBatchAndListTickers(t *testing.T) {
	db := testDB(t)
	store := NewMarketStore(db, testLogger())
	ctx := context.Background()

	for _, ticker := range []string{"VTV", "VUG", "MTUM"} {
		require.NoError(t, store.SaveMarketData(ctx, newTestMarketData(ticker, "US")))
	}

	results, err := store.GetMarketDataBatch(ctx, []string{"VTV", "MTUM", "MISSING"})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	empty, err := store.GetMarketDataBatch(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, empty)

	tickers, err := store.ListTickers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"MTUM", "VTV", "VUG"}, tickers)
}
