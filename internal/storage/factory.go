package storage

import (
	"context"
	"fmt"

	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/storage/memory"
	"github.com/bobmcallan/riskbatch/internal/storage/postgres"
	"github.com/bobmcallan/riskbatch/internal/storage/surrealdb"
)

// NewStorageManager creates the storage manager for the configured backend.
// Supported backends: "postgres" (default, with SurrealDB market store), "memory".
func NewStorageManager(ctx context.Context, logger *common.Logger, config *common.Config) (interfaces.StorageManager, error) {
	backend := config.Storage.Backend
	if backend == "" {
		backend = common.BackendPostgres
	}

	switch backend {
	case common.BackendMemory:
		logger.Warn().Msg("Using in-memory storage; nothing will be persisted")
		return memory.NewManager(logger, memory.WithMaxConns(config.Storage.Postgres.MaxOpenConns)), nil

	case common.BackendPostgres:
		ledger, err := postgres.NewManager(ctx, logger, config.Storage.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to create ledger store: %w", err)
		}

		market, err := surrealdb.NewManager(ctx, logger, config.Storage.SurrealDB)
		if err != nil {
			ledger.Close()
			return nil, fmt.Errorf("failed to create market store: %w", err)
		}

		logger.Info().Msg("Storage manager initialized (2 areas)")
		return &Manager{Manager: ledger, market: market, logger: logger}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: postgres, memory)", backend)
	}
}
