// Package surrealdb implements the market store on SurrealDB.
package surrealdb

import (
	"context"
	"fmt"

	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/surrealdb/surrealdb.go"
)

// Manager owns the SurrealDB connection behind the market store.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	marketStore *MarketStore
}

// NewManager connects, signs in and ensures the market tables exist.
func NewManager(ctx context.Context, logger *common.Logger, config common.SurrealDBConfig) (*Manager, error) {
	db, err := surrealdb.New(config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Username,
		"pass": config.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Namespace, config.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	if err := defineTables(ctx, db); err != nil {
		return nil, err
	}

	m := &Manager{
		db:          db,
		logger:      logger,
		marketStore: NewMarketStore(db, logger),
	}

	logger.Info().
		Str("address", config.Address).
		Str("namespace", config.Namespace).
		Str("database", config.Database).
		Msg("SurrealDB market store initialized")

	return m, nil
}

// SurrealDB v3 errors on querying non-existent tables
func defineTables(ctx context.Context, db *surrealdb.DB) error {
	for _, table := range []string{"market_data"} {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}
	return nil
}

func (m *Manager) MarketDataStorage() interfaces.MarketDataStorage {
	return m.marketStore
}

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}
