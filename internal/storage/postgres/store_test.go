package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/models"
)

func seedPortfolio(t *testing.T, m *Manager, id string, equity float64) {
	t.Helper()
	require.NoError(t, m.PortfolioStore().SavePortfolio(context.Background(), &models.Portfolio{ID: id, Name: id, EquityBalance: equity}))
}

func TestMigrate_Idempotent(t *testing.T) {
	m := testManager(t)
	n, err := migrate(context.Background(), m.DB())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSnapshotStore_UniqueSlotMapsToDuplicateRun(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	seedPortfolio(t, m, "p1", 100000)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.SnapshotStore().InsertPlaceholder(ctx, &models.PortfolioSnapshot{
				ID: uuid.NewString(), PortfolioID: "p1", SnapshotDate: date(2024, 3, 6),
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, models.ErrDuplicateRun)
	}
	assert.Equal(t, 1, winners)
}

func TestSnapshotStore_UpdateAndQueries(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	seedPortfolio(t, m, "p1", 100000)
	store := m.SnapshotStore()

	snap := &models.PortfolioSnapshot{ID: uuid.NewString(), PortfolioID: "p1", SnapshotDate: date(2024, 3, 5)}
	require.NoError(t, store.InsertPlaceholder(ctx, snap))

	snap.NetAssetValue = 100000
	snap.LongValue = 5000
	snap.CashValue = 95000
	snap.MarketBeta = models.Float64Ptr(1.2)
	snap.SectorExposure = models.FloatMap{"Technology": 5000}
	snap.IsComplete = true
	require.NoError(t, store.Update(ctx, snap))

	got, err := store.Get(ctx, "p1", date(2024, 3, 5))
	require.NoError(t, err)
	assert.Equal(t, 95000.0, got.CashValue)
	assert.Equal(t, date(2024, 3, 5), got.SnapshotDate)
	require.NotNil(t, got.MarketBeta)
	assert.InDelta(t, 1.2, *got.MarketBeta, 1e-9)
	assert.Equal(t, 5000.0, got.SectorExposure["Technology"])

	latest, err := store.LatestCompleteDate(ctx, []string{"p1"})
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, date(2024, 3, 5), *latest)

	prev, err := store.GetPreviousComplete(ctx, "p1", date(2024, 3, 6))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, snap.ID, prev.ID)

	none, err := store.GetPreviousComplete(ctx, "p1", date(2024, 3, 5))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSnapshotStore_DeleteIncompleteBefore(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	seedPortfolio(t, m, "p1", 0)

	require.NoError(t, m.SnapshotStore().InsertPlaceholder(ctx, &models.PortfolioSnapshot{
		ID: uuid.NewString(), PortfolioID: "p1", SnapshotDate: date(2024, 3, 6),
	}))

	n, err := m.SnapshotStore().DeleteIncompleteBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = m.SnapshotStore().DeleteIncompleteBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWithinTx_ForUpdateAndRollback(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	seedPortfolio(t, m, "p1", 100)

	boom := errors.New("boom")
	err := m.WithinTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		p, err := tx.Portfolios().GetPortfolioForUpdate(ctx, "p1")
		if err != nil {
			return err
		}
		if err := tx.Portfolios().UpdateEquityBalance(ctx, p.ID, p.EquityBalance+50); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := m.PortfolioStore().GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, p.EquityBalance)

	err = m.WithinTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		return tx.Portfolios().UpdateEquityBalance(ctx, "p1", 150)
	})
	require.NoError(t, err)

	p, err = m.PortfolioStore().GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 150.0, p.EquityBalance)
}

func TestFactorStore_UpsertCountAndBetas(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	d := date(2024, 3, 6)

	row := &models.SymbolFactorExposure{
		Symbol: "AAPL", FactorName: models.FactorMarket, CalculationDate: d,
		CalculationMethod: models.MethodOLSMarket, BetaValue: 1.1, RSquared: 0.4,
		ObservationCount: 90, QualityFlag: models.QualityFullHistory, Significance: models.Significant99,
	}
	require.NoError(t, m.FactorStore().Upsert(ctx, []*models.SymbolFactorExposure{row}))

	row.BetaValue = 1.3
	require.NoError(t, m.FactorStore().Upsert(ctx, []*models.SymbolFactorExposure{row}))

	n, err := m.FactorStore().CountForMethod(ctx, "AAPL", d, models.MethodOLSMarket)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	betas, err := m.FactorStore().GetBetas(ctx, []string{"AAPL", "MSFT"}, d, models.MethodOLSMarket)
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]float64{"AAPL": {models.FactorMarket: 1.3}}, betas)
}

func TestPositionStore_OpenAndHeld(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	seedPortfolio(t, m, "p1", 0)
	exit := date(2024, 3, 5)

	positions := []*models.Position{
		{ID: "1", PortfolioID: "p1", Symbol: "AAPL", Quantity: 10, EntryPrice: 150, EntryDate: date(2024, 1, 2), PositionType: models.PositionLong, InvestmentClass: models.ClassPublic},
		{ID: "2", PortfolioID: "p1", Symbol: "MSFT240621C00400000", UnderlyingSymbol: "MSFT", Quantity: 1, EntryPrice: 5, EntryDate: date(2024, 2, 1), PositionType: models.PositionLongCall, InvestmentClass: models.ClassOptions},
		{ID: "3", PortfolioID: "p1", Symbol: "TSLA", Quantity: 5, EntryPrice: 200, EntryDate: date(2024, 1, 2), ExitDate: &exit, PositionType: models.PositionShort, InvestmentClass: models.ClassPublic},
	}
	for _, p := range positions {
		require.NoError(t, m.PositionStore().SavePosition(ctx, p))
	}

	held, err := m.PositionStore().HeldSymbols(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "MSFT240621C00400000"}, held)

	open, err := m.PositionStore().ListOpenPositions(ctx, "p1", date(2024, 3, 4))
	require.NoError(t, err)
	assert.Len(t, open, 3)

	open, err = m.PositionStore().ListOpenPositions(ctx, "p1", date(2024, 3, 5))
	require.NoError(t, err)
	assert.Len(t, open, 2)
	assert.Equal(t, models.PositionLongCall, open[1].PositionType)

	earliest, err := m.PositionStore().EarliestEntryDate(ctx, []string{"p1"})
	require.NoError(t, err)
	require.NotNil(t, earliest)
	assert.Equal(t, date(2024, 1, 2), *earliest)
}

func TestBatchRunStore_CreateUpdateList(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	rec := &models.BatchRunRecord{
		BatchRunID: uuid.NewString(),
		Status:     models.BatchStatusRunning,
		TotalJobs:  3,
		StartedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, m.BatchRunStore().Create(ctx, rec))

	done := time.Now().UTC()
	rec.Status = models.BatchStatusPartial
	rec.CompletedJobs = 2
	rec.FailedJobs = 1
	rec.PhaseDurations = models.FloatMap{models.PhasePnLSnapshot: 1.5}
	rec.ErrorSummary = "2024-03-06: boom"
	rec.CompletedAt = &done
	require.NoError(t, m.BatchRunStore().Update(ctx, rec))

	runs, err := m.BatchRunStore().ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.BatchStatusPartial, runs[0].Status)
	assert.Equal(t, 1.5, runs[0].PhaseDurations[models.PhasePnLSnapshot])
	assert.NotNil(t, runs[0].CompletedAt)
}
