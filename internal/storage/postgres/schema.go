package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migrations are applied in order; a version is never edited once released.
var migrations = []string{
	// 1: ledger tables
	`
	CREATE TABLE IF NOT EXISTS portfolios (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL DEFAULT '',
		equity_balance DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS positions (
		id                TEXT PRIMARY KEY,
		portfolio_id      TEXT NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
		symbol            TEXT NOT NULL,
		underlying_symbol TEXT NOT NULL DEFAULT '',
		quantity          DOUBLE PRECISION NOT NULL,
		entry_price       DOUBLE PRECISION NOT NULL DEFAULT 0,
		entry_date        DATE NOT NULL,
		exit_date         DATE,
		position_type     TEXT NOT NULL,
		investment_class  TEXT NOT NULL DEFAULT 'PUBLIC',
		sector            TEXT NOT NULL DEFAULT '',
		last_price        DOUBLE PRECISION NOT NULL DEFAULT 0,
		market_value      DOUBLE PRECISION NOT NULL DEFAULT 0,
		unrealized_pnl    DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS positions_portfolio_idx ON positions (portfolio_id);

	CREATE TABLE IF NOT EXISTS portfolio_snapshots (
		id                  TEXT PRIMARY KEY,
		portfolio_id        TEXT NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
		snapshot_date       DATE NOT NULL,
		net_asset_value     DOUBLE PRECISION NOT NULL DEFAULT 0,
		cash_value          DOUBLE PRECISION NOT NULL DEFAULT 0,
		equity_balance      DOUBLE PRECISION NOT NULL DEFAULT 0,
		long_value          DOUBLE PRECISION NOT NULL DEFAULT 0,
		short_value         DOUBLE PRECISION NOT NULL DEFAULT 0,
		gross_exposure      DOUBLE PRECISION NOT NULL DEFAULT 0,
		net_exposure        DOUBLE PRECISION NOT NULL DEFAULT 0,
		daily_pnl           DOUBLE PRECISION NOT NULL DEFAULT 0,
		daily_return        DOUBLE PRECISION NOT NULL DEFAULT 0,
		cumulative_pnl      DOUBLE PRECISION NOT NULL DEFAULT 0,
		num_positions       INTEGER NOT NULL DEFAULT 0,
		num_long            INTEGER NOT NULL DEFAULT 0,
		num_short           INTEGER NOT NULL DEFAULT 0,
		num_options         INTEGER NOT NULL DEFAULT 0,
		num_private         INTEGER NOT NULL DEFAULT 0,
		market_beta         DOUBLE PRECISION,
		top_position_weight DOUBLE PRECISION NOT NULL DEFAULT 0,
		hhi                 DOUBLE PRECISION NOT NULL DEFAULT 0,
		sector_exposure     JSONB NOT NULL DEFAULT '{}',
		is_complete         BOOLEAN NOT NULL DEFAULT FALSE,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT portfolio_snapshots_portfolio_date_key UNIQUE (portfolio_id, snapshot_date)
	);
	CREATE INDEX IF NOT EXISTS portfolio_snapshots_incomplete_idx
		ON portfolio_snapshots (created_at) WHERE NOT is_complete;

	CREATE TABLE IF NOT EXISTS batch_runs (
		batch_run_id    TEXT PRIMARY KEY,
		status          TEXT NOT NULL,
		portfolio_scope TEXT NOT NULL DEFAULT '',
		total_jobs      INTEGER NOT NULL DEFAULT 0,
		completed_jobs  INTEGER NOT NULL DEFAULT 0,
		failed_jobs     INTEGER NOT NULL DEFAULT 0,
		phase_durations JSONB NOT NULL DEFAULT '{}',
		error_summary   TEXT NOT NULL DEFAULT '',
		started_at      TIMESTAMPTZ NOT NULL,
		completed_at    TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS batch_runs_started_idx ON batch_runs (started_at DESC);
	`,
	// 2: symbol-level analytics
	`
	CREATE TABLE IF NOT EXISTS symbol_factor_exposures (
		symbol             TEXT NOT NULL,
		factor_name        TEXT NOT NULL,
		calculation_date   DATE NOT NULL,
		calculation_method TEXT NOT NULL,
		beta_value         DOUBLE PRECISION NOT NULL,
		r_squared          DOUBLE PRECISION NOT NULL DEFAULT 0,
		observation_count  INTEGER NOT NULL DEFAULT 0,
		quality_flag       TEXT NOT NULL,
		significance       TEXT NOT NULL DEFAULT '',
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (symbol, factor_name, calculation_date, calculation_method)
	);
	CREATE INDEX IF NOT EXISTS symbol_factor_exposures_lookup_idx
		ON symbol_factor_exposures (calculation_date, calculation_method, symbol);

	CREATE TABLE IF NOT EXISTS symbol_daily_metrics (
		symbol      TEXT NOT NULL,
		metric_date DATE NOT NULL,
		close       DOUBLE PRECISION NOT NULL DEFAULT 0,
		prev_close  DOUBLE PRECISION NOT NULL DEFAULT 0,
		return_1d   DOUBLE PRECISION,
		return_5d   DOUBLE PRECISION,
		return_21d  DOUBLE PRECISION,
		return_ytd  DOUBLE PRECISION,
		pe_ratio    DOUBLE PRECISION,
		pb_ratio    DOUBLE PRECISION,
		market_cap  DOUBLE PRECISION,
		sector      TEXT NOT NULL DEFAULT '',
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (symbol, metric_date)
	);

	CREATE TABLE IF NOT EXISTS portfolio_risk_metrics (
		portfolio_id        TEXT NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
		metric_date         DATE NOT NULL,
		market_beta         DOUBLE PRECISION,
		ir_beta             DOUBLE PRECISION,
		volatility_21d      DOUBLE PRECISION,
		volatility_63d      DOUBLE PRECISION,
		hhi                 DOUBLE PRECISION NOT NULL DEFAULT 0,
		top_position_weight DOUBLE PRECISION NOT NULL DEFAULT 0,
		factor_exposures    JSONB NOT NULL DEFAULT '{}',
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (portfolio_id, metric_date)
	);
	`,
}

// migrationLockKey serializes concurrent migrators across processes.
const migrationLockKey = 72_110_001

// migrate applies pending migrations and returns how many ran.
func migrate(ctx context.Context, db *sqlx.DB) (int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := 0
	for i, ddl := range migrations {
		version := i + 1
		ran, err := applyMigration(ctx, db, version, ddl)
		if err != nil {
			return applied, err
		}
		if ran {
			applied++
		}
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sqlx.DB, version int, ddl string) (bool, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return false, fmt.Errorf("failed to lock migrations: %w", err)
	}

	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version); err != nil {
		return false, fmt.Errorf("failed to check migration %d: %w", version, err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return false, fmt.Errorf("failed to apply migration %d: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return false, fmt.Errorf("failed to record migration %d: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit migration %d: %w", version, err)
	}
	return true, nil
}
