package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/riskbatch/internal/calendar"
	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/models"
	"github.com/bobmcallan/riskbatch/internal/services/pricecache"
	"github.com/bobmcallan/riskbatch/internal/storage/memory"
)

var (
	cal     = calendar.NewNYSE()
	entry   = calendar.Date(2024, time.March, 1)
	valDate = calendar.Date(2024, time.April, 1) // Monday after Good Friday
)

func eod(d time.Time, px float64) models.EODBar { return models.EODBar{Date: d, Close: px, AdjClose: px} }

func seed(t *testing.T, positions ...*models.Position) *memory.Manager {
	t.Helper()
	mgr := memory.NewManager(common.NewSilentLogger())
	ctx := context.Background()
	require.NoError(t, mgr.PortfolioStore().SavePortfolio(ctx, &models.Portfolio{ID: "p1", EquityBalance: 10_000}))
	for _, p := range positions {
		p.PortfolioID = "p1"
		if p.EntryDate.IsZero() {
			p.EntryDate = entry
		}
		require.NoError(t, mgr.PositionStore().SavePosition(ctx, p))
	}
	return mgr
}

func TestRefreshValuations_SkippedMatchesUnpriced(t *testing.T) {
	mgr := seed(t,
		&models.Position{ID: "a", Symbol: "AAA", Quantity: 10, EntryPrice: 10, PositionType: models.PositionLong},
		&models.Position{ID: "b", Symbol: "BBB", Quantity: 5, EntryPrice: 20, PositionType: models.PositionShort},
		&models.Position{ID: "c", Symbol: "CCC", Quantity: 1, EntryPrice: 5, PositionType: models.PositionLong},
		&models.Position{ID: "d", Symbol: "STALE", Quantity: 1, EntryPrice: 5, PositionType: models.PositionLong},
		&models.Position{ID: "e", Symbol: "PRIV", Quantity: 1, EntryPrice: 500, PositionType: models.PositionPrivate},
	)
	svc := NewService(mgr, common.NewSilentLogger())

	prices := pricecache.FromBars(cal, map[string][]models.EODBar{
		"AAA": {eod(valDate, 12)},
		// Thursday before Good Friday: one trading day back from Apr 1
		"BBB": {eod(calendar.Date(2024, time.March, 28), 18)},
		// Far outside a 5-day window
		"STALE": {eod(calendar.Date(2024, time.March, 4), 7)},
	})

	res, err := svc.RefreshValuations(context.Background(), ValuationRequest{
		PortfolioID: "p1",
		Date:        valDate,
		Prices:      prices,
		Lookback:    5,
		WarnRatio:   0.05,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Total, "private holdings are not priced")
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 2, res.Skipped)
	assert.ElementsMatch(t, []string{"CCC", "STALE"}, res.SkippedSymbols)
	assert.Equal(t, 0.5, res.SkippedRatio())

	positions, err := mgr.PositionStore().ListPositions(context.Background(), "p1")
	require.NoError(t, err)
	byID := map[string]*models.Position{}
	for _, p := range positions {
		byID[p.ID] = p
	}
	assert.Equal(t, 12.0, byID["a"].LastPrice)
	assert.Equal(t, 120.0, byID["a"].MarketValue)
	assert.Equal(t, 20.0, byID["a"].UnrealizedPnL)
	// Short from 20 to 18 gains 10
	assert.Equal(t, -90.0, byID["b"].MarketValue)
	assert.Equal(t, 10.0, byID["b"].UnrealizedPnL)
}

func TestRestoreSectorTags(t *testing.T) {
	mgr := seed(t,
		&models.Position{ID: "a", Symbol: "AAA", Quantity: 1, PositionType: models.PositionLong},
		&models.Position{ID: "b", Symbol: "BBB", Quantity: 1, PositionType: models.PositionLong, Sector: "Energy"},
		&models.Position{ID: "c", Symbol: "AAA240621C00100000", UnderlyingSymbol: "AAA", Quantity: 1, PositionType: models.PositionLongCall},
	)
	svc := NewService(mgr, common.NewSilentLogger())

	n, err := svc.RestoreSectorTags(context.Background(), "p1", map[string]*models.CompanyProfile{
		"AAA": {Ticker: "AAA", Sector: "Technology"},
		"BBB": {Ticker: "BBB", Sector: "Energy"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "stock and option on AAA tagged; BBB unchanged")

	positions, _ := mgr.PositionStore().ListPositions(context.Background(), "p1")
	for _, p := range positions {
		if p.ID != "b" {
			assert.Equal(t, "Technology", p.Sector)
		}
	}
}

func TestComputeRiskMetrics(t *testing.T) {
	mgr := seed(t,
		&models.Position{ID: "a", Symbol: "AAA", Quantity: 10, PositionType: models.PositionLong, MarketValue: 2_000},
		&models.Position{ID: "b", Symbol: "BBB", Quantity: 5, PositionType: models.PositionShort, MarketValue: -1_000},
	)
	ctx := context.Background()
	svc := NewService(mgr, common.NewSilentLogger())

	// Complete snapshots with alternating returns for volatility
	days := cal.BusinessDays(calendar.Date(2024, time.March, 1), valDate)
	for i, d := range days {
		snap := &models.PortfolioSnapshot{ID: d.Format("20060102"), PortfolioID: "p1", SnapshotDate: d}
		require.NoError(t, mgr.SnapshotStore().InsertPlaceholder(ctx, snap))
		snap.IsComplete = true
		snap.NetAssetValue = 10_000
		snap.HHI = 0.55
		snap.TopPositionWeight = 0.67
		snap.DailyReturn = 0.01
		if i%2 == 1 {
			snap.DailyReturn = -0.01
		}
		require.NoError(t, mgr.SnapshotStore().Update(ctx, snap))
	}

	m, err := svc.ComputeRiskMetrics(ctx, RiskRequest{
		PortfolioID: "p1",
		Date:        valDate,
		Betas: map[string]map[string]map[string]float64{
			models.MethodOLSMarket: {"AAA": {models.FactorMarket: 1.5}, "BBB": {models.FactorMarket: 1.0}},
			models.MethodRidge:     {"AAA": {models.FactorValue: 0.4, models.FactorSize: 0.2}},
		},
	})
	require.NoError(t, err)

	// (2000*1.5 - 1000*1.0) / 10000
	require.NotNil(t, m.MarketBeta)
	assert.InDelta(t, 0.2, *m.MarketBeta, 1e-12)
	assert.Nil(t, m.IRBeta)
	assert.InDelta(t, 0.08, m.FactorExposures[models.FactorValue], 1e-12)
	assert.InDelta(t, 0.04, m.FactorExposures[models.FactorSize], 1e-12)
	require.NotNil(t, m.Volatility21D)
	assert.Greater(t, *m.Volatility21D, 0.15)
	assert.Equal(t, 0.55, m.HHI)

	stored, err := mgr.RiskMetricsStore().Get(ctx, "p1", valDate)
	require.NoError(t, err)
	assert.Equal(t, m.MarketBeta, stored.MarketBeta)
}

func TestComputeRiskMetrics_RequiresCompleteSnapshot(t *testing.T) {
	mgr := seed(t)
	ctx := context.Background()
	require.NoError(t, mgr.SnapshotStore().InsertPlaceholder(ctx, &models.PortfolioSnapshot{ID: "x", PortfolioID: "p1", SnapshotDate: valDate}))

	_, err := NewService(mgr, common.NewSilentLogger()).ComputeRiskMetrics(ctx, RiskRequest{PortfolioID: "p1", Date: valDate})
	assert.Error(t, err)
}
