// Package storage provides the top-level StorageManager that coordinates
// the 2 storage areas: the transactional ledger and the market store.
package storage

import (
	"errors"

	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/storage/postgres"
	"github.com/bobmcallan/riskbatch/internal/storage/surrealdb"
)

// Manager implements interfaces.StorageManager over Postgres and SurrealDB.
type Manager struct {
	*postgres.Manager
	market *surrealdb.Manager
	logger *common.Logger
}

func (m *Manager) MarketDataStorage() interfaces.MarketDataStorage {
	return m.market.MarketDataStorage()
}

// Close closes both areas and reports every failure.
func (m *Manager) Close() error {
	return errors.Join(m.Manager.Close(), m.market.Close())
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
