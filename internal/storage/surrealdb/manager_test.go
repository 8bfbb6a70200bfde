package surrealdb

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
	tcommon "github.com/bobmcallan/riskbatch/tests/common"
)

var _ interfaces.MarketDataStorage = (*MarketStore)(nil)

func testConfig(t *testing.T) common.SurrealDBConfig {
	t.Helper()
	sc := tcommon.StartSurrealDB(t)

	return common.SurrealDBConfig{
		Address:   sc.Address(),
		Namespace: "riskbatch_test",
		Database:  fmt.Sprintf("mgr_%s_%d", strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()), time.Now().UnixNano()%100000),
		Username:  "root",
		Password:  "root",
	}
}

func TestNewManager(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, testLogger(), testConfig(t))
	require.NoError(t, err)
	defer m.Close()

	// The market table exists before anything is written
	tickers, err := m.MarketDataStorage().ListTickers(ctx)
	require.NoError(t, err)
	assert.Empty(t, tickers)
}

func TestNewManager_Reopen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	m, err := NewManager(ctx, testLogger(), cfg)
	require.NoError(t, err)
	require.NoError(t, m.MarketDataStorage().SaveMarketData(ctx, newTestMarketData("MSFT", "US")))
	require.NoError(t, m.Close())

	m, err = NewManager(ctx, testLogger(), cfg)
	require.NoError(t, err)
	defer m.Close()

	got, err := m.MarketDataStorage().GetMarketData(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, "MSFT", got.Ticker)
}

func TestNewManager_BadCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Password = "wrong"

	_, err := NewManager(context.Background(), testLogger(), cfg)
	assert.Error(t, err)
}
