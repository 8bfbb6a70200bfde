package factors

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/riskbatch/internal/calendar"
	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/models"
	"github.com/bobmcallan/riskbatch/internal/services/pricecache"
	"github.com/bobmcallan/riskbatch/internal/storage/memory"
)

var (
	testCal  = calendar.NewNYSE()
	testDate = calendar.Date(2024, time.June, 28)
)

// proxyReturn gives each proxy ETF a distinct deterministic return path.
func proxyReturn(symbol string, i int) float64 {
	x := float64(i)
	switch symbol {
	case "SPY":
		return 0.010*math.Sin(x*0.7) + 0.003*math.Cos(x*1.3)
	case "TLT":
		return 0.006 * math.Cos(x*0.9)
	case "VTV":
		return 0.008*math.Sin(x*0.5) + 0.002*math.Cos(x*2.3)
	case "VUG":
		return 0.009*math.Sin(x*1.1) + 0.003*math.Sin(x*0.3)
	case "MTUM":
		return 0.007*math.Cos(x*1.7) + 0.002*math.Sin(x*0.2)
	case "QUAL":
		return 0.006*math.Sin(x*2.9) + 0.004*math.Cos(x*0.4)
	case "IWM":
		return 0.011*math.Cos(x*0.6) + 0.001*math.Sin(x*3.1)
	case "USMV":
		return 0.004*math.Sin(x*1.9) + 0.002*math.Cos(x*2.7)
	}
	return 0
}

// series compounds returns into bars ending at testDate; the last n trading days are used.
func series(n int, ret func(i int) float64) []models.EODBar {
	days := testCal.BusinessDays(testDate.AddDate(-2, 0, 0), testDate)
	days = days[len(days)-n:]
	bars := make([]models.EODBar, len(days))
	price := 100.0
	for i, d := range days {
		if i > 0 {
			price *= 1 + ret(i)
		}
		bars[i] = models.EODBar{Date: d, Close: price, AdjClose: price}
	}
	return bars
}

func testPrices() *pricecache.Cache {
	bars := make(map[string][]models.EODBar)
	for _, s := range []string{"SPY", "TLT", "VTV", "VUG", "MTUM", "QUAL", "IWM", "USMV"} {
		sym := s
		bars[sym] = series(300, func(i int) float64 { return proxyReturn(sym, i) })
	}
	// 1.5x the market plus a small idiosyncratic wiggle
	bars["AAA"] = series(300, func(i int) float64 {
		return 1.5*proxyReturn("SPY", i) + 0.001*math.Sin(float64(i)*4.1)
	})
	// Leverage far beyond the cap
	bars["LEV"] = series(300, func(i int) float64 { return 8 * proxyReturn("SPY", i) })
	// Ten returns only
	bars["NEW"] = series(11, func(i int) float64 { return proxyReturn("SPY", i) })
	return pricecache.FromBars(testCal, bars)
}

func newTestService(t *testing.T, config common.FactorConfig, opts ...memory.Option) (*Service, *memory.Manager) {
	t.Helper()
	mgr := memory.NewManager(common.NewSilentLogger(), opts...)
	return NewService(mgr, testCal, config, common.NewSilentLogger()), mgr
}

func defaultConfig() common.FactorConfig {
	return common.NewDefaultConfig().Factors
}

func rowsByFactor(t *testing.T, mgr *memory.Manager, symbol string) map[string]*models.SymbolFactorExposure {
	t.Helper()
	rows, err := mgr.FactorStore().List(context.Background(), symbol, testDate)
	require.NoError(t, err)
	out := make(map[string]*models.SymbolFactorExposure, len(rows))
	for _, r := range rows {
		out[r.CalculationMethod+"/"+r.FactorName] = r
	}
	return out
}

func TestComputeSymbolFactors_SingleFactorBeta(t *testing.T) {
	svc, mgr := newTestService(t, defaultConfig())

	res, err := svc.ComputeSymbolFactors(context.Background(), interfaces.FactorRequest{
		Date:    testDate,
		Symbols: []string{"AAA"},
		Prices:  testPrices(),
		Methods: []string{models.MethodOLSMarket},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Computed)

	rows := rowsByFactor(t, mgr, "AAA")
	market := rows["ols_market/market"]
	require.NotNil(t, market)
	assert.InDelta(t, 1.5, market.BetaValue, 0.05)
	assert.Equal(t, 90, market.ObservationCount)
	assert.Equal(t, models.QualityFullHistory, market.QualityFlag)
	assert.Equal(t, models.Significant99, market.Significance)
	assert.Greater(t, market.RSquared, 0.9)
}

func TestComputeSymbolFactors_BetaCap(t *testing.T) {
	svc, mgr := newTestService(t, defaultConfig())

	_, err := svc.ComputeSymbolFactors(context.Background(), interfaces.FactorRequest{
		Date:    testDate,
		Symbols: []string{"LEV", "AAA"},
		Prices:  testPrices(),
		Methods: []string{models.MethodOLSMarket, models.MethodOLSIR},
	})
	require.NoError(t, err)

	for _, sym := range []string{"LEV", "AAA"} {
		for key, r := range rowsByFactor(t, mgr, sym) {
			assert.LessOrEqual(t, math.Abs(r.BetaValue), 5.0, "%s %s", sym, key)
		}
	}
	assert.Equal(t, 5.0, rowsByFactor(t, mgr, "LEV")["ols_market/market"].BetaValue)
}

func TestComputeSymbolFactors_LimitedHistoryZeroFill(t *testing.T) {
	svc, mgr := newTestService(t, defaultConfig())

	res, err := svc.ComputeSymbolFactors(context.Background(), interfaces.FactorRequest{
		Date:    testDate,
		Symbols: []string{"NEW"},
		Prices:  testPrices(),
	})
	require.NoError(t, err)

	rows := rowsByFactor(t, mgr, "NEW")
	for _, f := range []string{
		models.FactorValue, models.FactorGrowth, models.FactorMomentum,
		models.FactorQuality, models.FactorSize, models.FactorLowVolatility,
	} {
		r := rows["ridge/"+f]
		require.NotNil(t, r, "ridge factor %s must be stored", f)
		assert.Equal(t, 0.0, r.BetaValue)
		assert.Equal(t, models.QualityLimitedHistory, r.QualityFlag)
		assert.Equal(t, 10, r.ObservationCount)
	}
	for _, f := range []string{
		models.FactorGrowthValue, models.FactorMomentumSpread,
		models.FactorSizeSpread, models.FactorQualitySpread,
	} {
		r := rows["spread/"+f]
		require.NotNil(t, r, "spread factor %s must be stored", f)
		assert.Equal(t, models.QualityLimitedHistory, r.QualityFlag)
	}

	// Single-factor methods omit below the gate; no provider beta stored
	assert.Nil(t, rows["ols_market/market"])
	assert.Nil(t, rows["ols_ir/interest_rate"])
	assert.Equal(t, 3, res.Omitted)
	assert.Equal(t, 2, res.Computed)
}

func TestComputeSymbolFactors_RidgeFullHistory(t *testing.T) {
	svc, mgr := newTestService(t, defaultConfig())

	_, err := svc.ComputeSymbolFactors(context.Background(), interfaces.FactorRequest{
		Date:    testDate,
		Symbols: []string{"AAA"},
		Prices:  testPrices(),
		Methods: []string{models.MethodRidge},
	})
	require.NoError(t, err)

	rows := rowsByFactor(t, mgr, "AAA")
	require.Len(t, rows, 6)
	for _, r := range rows {
		assert.Equal(t, models.QualityFullHistory, r.QualityFlag)
		assert.Equal(t, 252, r.ObservationCount)
		assert.False(t, math.IsNaN(r.BetaValue))
	}
}

func TestComputeSymbolFactors_CacheSkipsSatisfiedSymbols(t *testing.T) {
	svc, mgr := newTestService(t, defaultConfig())
	ctx := context.Background()
	req := interfaces.FactorRequest{
		Date:    testDate,
		Symbols: []string{"AAA", "LEV"},
		Prices:  testPrices(),
		Methods: []string{models.MethodOLSMarket, models.MethodSpread},
	}

	first, err := svc.ComputeSymbolFactors(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 4, first.Computed)
	assert.Equal(t, 0, first.Cached)

	before := rowsByFactor(t, mgr, "AAA")

	// Tamper with a stored row; a satisfied cache must not overwrite it
	tampered := *before["ols_market/market"]
	tampered.BetaValue = 0.123
	require.NoError(t, mgr.FactorStore().Upsert(ctx, []*models.SymbolFactorExposure{&tampered}))

	second, err := svc.ComputeSymbolFactors(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Computed)
	assert.Equal(t, 4, second.Cached)

	after := rowsByFactor(t, mgr, "AAA")
	assert.Equal(t, 0.123, after["ols_market/market"].BetaValue)
	assert.Equal(t, before["spread/growth_value"].BetaValue, after["spread/growth_value"].BetaValue)
}

func TestComputeSymbolFactors_ProviderBeta(t *testing.T) {
	svc, mgr := newTestService(t, defaultConfig())
	ctx := context.Background()

	beta := 1.17
	require.NoError(t, mgr.MarketDataStorage().SaveMarketData(ctx, &models.MarketData{
		Ticker:  "AAA",
		Profile: &models.CompanyProfile{Ticker: "AAA", Beta: &beta},
	}))

	res, err := svc.ComputeSymbolFactors(ctx, interfaces.FactorRequest{
		Date:    testDate,
		Symbols: []string{"AAA", "LEV"},
		Prices:  testPrices(),
		Methods: []string{models.MethodProvider},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Computed)
	assert.Equal(t, 1, res.Omitted)

	betas, err := svc.GetSymbolBetas(ctx, []string{"AAA", "LEV"}, testDate, models.MethodProvider)
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]float64{"AAA": {models.FactorProviderBeta: 1.17}}, betas)
}

func TestGetSymbolBetas_DefaultsToMarket(t *testing.T) {
	svc, _ := newTestService(t, defaultConfig())
	ctx := context.Background()

	_, err := svc.ComputeSymbolFactors(ctx, interfaces.FactorRequest{
		Date:    testDate,
		Symbols: []string{"AAA"},
		Prices:  testPrices(),
	})
	require.NoError(t, err)

	betas, err := svc.GetSymbolBetas(ctx, []string{"AAA"}, testDate, "")
	require.NoError(t, err)
	require.Contains(t, betas, "AAA")
	assert.InDelta(t, 1.5, betas["AAA"][models.FactorMarket], 0.05)
	assert.Len(t, betas["AAA"], 1)
}

func TestComputeSymbolFactors_UnknownMethod(t *testing.T) {
	svc, _ := newTestService(t, defaultConfig())

	_, err := svc.ComputeSymbolFactors(context.Background(), interfaces.FactorRequest{
		Date:    testDate,
		Symbols: []string{"AAA"},
		Prices:  testPrices(),
		Methods: []string{"pca"},
	})
	assert.Error(t, err)
}

func TestConcurrency_CappedAtPoolSize(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxConcurrent = 8

	svc, _ := newTestService(t, cfg, memory.WithMaxConns(3))
	assert.Equal(t, 3, svc.concurrency())

	cfg.MaxConcurrent = 2
	svc, _ = newTestService(t, cfg, memory.WithMaxConns(10))
	assert.Equal(t, 2, svc.concurrency())
}

// failingStorage fails the cache check for one symbol so its batch aborts.
type failingStorage struct {
	interfaces.StorageManager
	failSymbol string
}

func (f *failingStorage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	return f.StorageManager.WithinTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		return fn(ctx, &failingTx{Tx: tx, failSymbol: f.failSymbol})
	})
}

type failingTx struct {
	interfaces.Tx
	failSymbol string
}

func (t *failingTx) Factors() interfaces.FactorStore {
	return &failingFactors{FactorStore: t.Tx.Factors(), failSymbol: t.failSymbol}
}

type failingFactors struct {
	interfaces.FactorStore
	failSymbol string
}

func (f *failingFactors) CountForMethod(ctx context.Context, symbol string, date time.Time, method string) (int, error) {
	if symbol == f.failSymbol {
		return 0, errors.New("connection reset")
	}
	return f.FactorStore.CountForMethod(ctx, symbol, date, method)
}

func TestComputeSymbolFactors_BatchIsolation(t *testing.T) {
	mgr := memory.NewManager(common.NewSilentLogger())
	cfg := defaultConfig()
	cfg.BatchSize = 1
	cfg.MaxConcurrent = 4

	svc := NewService(&failingStorage{StorageManager: mgr, failSymbol: "LEV"}, testCal, cfg, common.NewSilentLogger())

	res, err := svc.ComputeSymbolFactors(context.Background(), interfaces.FactorRequest{
		Date:    testDate,
		Symbols: []string{"AAA", "LEV", "SPY"},
		Prices:  testPrices(),
		Methods: []string{models.MethodOLSMarket},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Computed)
	assert.NotEmpty(t, rowsByFactor(t, mgr, "AAA"))
	assert.NotEmpty(t, rowsByFactor(t, mgr, "SPY"))
	assert.Empty(t, rowsByFactor(t, mgr, "LEV"))
}

func TestComputeSymbolFactors_CancelledContext(t *testing.T) {
	svc, _ := newTestService(t, defaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.ComputeSymbolFactors(ctx, interfaces.FactorRequest{
		Date:    testDate,
		Symbols: []string{"AAA"},
		Prices:  testPrices(),
	})
	assert.ErrorIs(t, err, context.Canceled)
}
