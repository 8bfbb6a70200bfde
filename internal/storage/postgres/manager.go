// Package postgres implements the ledger stores on PostgreSQL using sqlx and lib/pq.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/bobmcallan/riskbatch/internal/calendar"
	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
)

// Manager implements interfaces.LedgerStorage on a PostgreSQL pool.
type Manager struct {
	db       *sqlx.DB
	logger   *common.Logger
	timeout  time.Duration
	maxConns int

	portfolioStore *PortfolioStore
	positionStore  *PositionStore
	snapshotStore  *SnapshotStore
	factorStore    *FactorStore
	metricsStore   *SymbolMetricsStore
	riskStore      *RiskMetricsStore
	batchRunStore  *BatchRunStore
}

// NewManager opens the pool, verifies the connection and applies pending migrations.
func NewManager(ctx context.Context, logger *common.Logger, config common.PostgresConfig) (*Manager, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := config.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.GetConnMaxLifetime())

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	applied, err := migrate(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	m := newManager(db, logger, config.GetQueryTimeout(), maxConns)

	logger.Info().
		Int("max_open_conns", maxConns).
		Int("migrations_applied", applied).
		Msg("Postgres ledger initialized")

	return m, nil
}

func newManager(db *sqlx.DB, logger *common.Logger, timeout time.Duration, maxConns int) *Manager {
	base := store{q: db, timeout: timeout}
	return &Manager{
		db:             db,
		logger:         logger,
		timeout:        timeout,
		maxConns:       maxConns,
		portfolioStore: &PortfolioStore{base},
		positionStore:  &PositionStore{base},
		snapshotStore:  &SnapshotStore{base},
		factorStore:    &FactorStore{base},
		metricsStore:   &SymbolMetricsStore{base},
		riskStore:      &RiskMetricsStore{base},
		batchRunStore:  &BatchRunStore{base},
	}
}

func (m *Manager) PortfolioStore() interfaces.PortfolioStore { return m.portfolioStore }

func (m *Manager) PositionStore() interfaces.PositionStore { return m.positionStore }

func (m *Manager) SnapshotStore() interfaces.SnapshotStore { return m.snapshotStore }

func (m *Manager) FactorStore() interfaces.FactorStore { return m.factorStore }

func (m *Manager) SymbolMetricsStore() interfaces.SymbolMetricsStore { return m.metricsStore }

func (m *Manager) RiskMetricsStore() interfaces.RiskMetricsStore { return m.riskStore }

func (m *Manager) BatchRunStore() interfaces.BatchRunStore { return m.batchRunStore }

// MaxConns returns the pool's open connection limit.
func (m *Manager) MaxConns() int { return m.maxConns }

// DB returns the underlying pool.
func (m *Manager) DB() *sqlx.DB { return m.db }

// Close closes the pool.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// WithinTx runs fn in a database transaction. fn's stores are bound to the
// transaction; it commits when fn returns nil and rolls back otherwise.
func (m *Manager) WithinTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) (err error) {
	sqlTx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, newTx(sqlTx, m.timeout)); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	portfolios  *PortfolioStore
	positions   *PositionStore
	snapshots   *SnapshotStore
	factors     *FactorStore
	riskMetrics *RiskMetricsStore
}

func newTx(tx *sqlx.Tx, timeout time.Duration) *pgTx {
	base := store{q: tx, timeout: timeout}
	return &pgTx{
		portfolios:  &PortfolioStore{base},
		positions:   &PositionStore{base},
		snapshots:   &SnapshotStore{base},
		factors:     &FactorStore{base},
		riskMetrics: &RiskMetricsStore{base},
	}
}

func (t *pgTx) Portfolios() interfaces.PortfolioStore { return t.portfolios }

func (t *pgTx) Positions() interfaces.PositionStore { return t.positions }

func (t *pgTx) Snapshots() interfaces.SnapshotStore { return t.snapshots }

func (t *pgTx) Factors() interfaces.FactorStore { return t.factors }

func (t *pgTx) RiskMetrics() interfaces.RiskMetricsStore { return t.riskMetrics }

// store carries the executor shared by every repository: the pool or an open transaction.
type store struct {
	q       sqlx.ExtContext
	timeout time.Duration
}

func (s store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// withBatchTimeout scales the statement timeout for multi-row writes.
func (s store) withBatchTimeout(ctx context.Context, rows int) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout*time.Duration(rows/100+1))
}

// isUniqueViolation reports a unique_violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// pgDate formats a calendar date for a DATE column, independent of the session time zone.
func pgDate(t time.Time) string {
	return calendar.Normalize(t).Format("2006-01-02")
}

func pgDatePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return pgDate(*t)
}
