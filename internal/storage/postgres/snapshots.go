package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/bobmcallan/riskbatch/internal/calendar"
	"github.com/bobmcallan/riskbatch/internal/models"
)

const snapshotColumns = `id, portfolio_id, snapshot_date, net_asset_value, cash_value, equity_balance,
	long_value, short_value, gross_exposure, net_exposure, daily_pnl, daily_return, cumulative_pnl,
	num_positions, num_long, num_short, num_options, num_private, market_beta, top_position_weight,
	hhi, sector_exposure, is_complete, created_at, updated_at`

// SnapshotStore implements interfaces.SnapshotStore. The portfolio_snapshots
// unique constraint on (portfolio_id, snapshot_date) is the run lock.
type SnapshotStore struct {
	store
}

func (s *SnapshotStore) InsertPlaceholder(ctx context.Context, snap *models.PortfolioSnapshot) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO portfolio_snapshots (id, portfolio_id, snapshot_date, is_complete)
		VALUES ($1, $2, $3, FALSE)
		RETURNING created_at, updated_at`

	err := s.q.QueryRowxContext(ctx, query, snap.ID, snap.PortfolioID, pgDate(snap.SnapshotDate)).
		Scan(&snap.CreatedAt, &snap.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("portfolio %s on %s: %w", snap.PortfolioID, pgDate(snap.SnapshotDate), models.ErrDuplicateRun)
		}
		return fmt.Errorf("failed to insert snapshot placeholder: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Update(ctx context.Context, snap *models.PortfolioSnapshot) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE portfolio_snapshots SET
			net_asset_value = :net_asset_value,
			cash_value = :cash_value,
			equity_balance = :equity_balance,
			long_value = :long_value,
			short_value = :short_value,
			gross_exposure = :gross_exposure,
			net_exposure = :net_exposure,
			daily_pnl = :daily_pnl,
			daily_return = :daily_return,
			cumulative_pnl = :cumulative_pnl,
			num_positions = :num_positions,
			num_long = :num_long,
			num_short = :num_short,
			num_options = :num_options,
			num_private = :num_private,
			market_beta = :market_beta,
			top_position_weight = :top_position_weight,
			hhi = :hhi,
			sector_exposure = :sector_exposure,
			is_complete = :is_complete,
			updated_at = now()
		WHERE id = :id`

	res, err := sqlx.NamedExecContext(ctx, s.q, query, snap)
	if err != nil {
		return fmt.Errorf("failed to update snapshot: %w", err)
	}
	return expectRow(res, "snapshot", snap.ID)
}

func (s *SnapshotStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.q.ExecContext(ctx, `DELETE FROM portfolio_snapshots WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Get(ctx context.Context, portfolioID string, date time.Time) (*models.PortfolioSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM portfolio_snapshots WHERE portfolio_id = $1 AND snapshot_date = $2`
	snap, err := s.getOne(ctx, query, portfolioID, pgDate(date))
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshot %s %s: %w", portfolioID, pgDate(date), models.ErrNotFound)
	}
	return snap, nil
}

func (s *SnapshotStore) GetPreviousComplete(ctx context.Context, portfolioID string, date time.Time) (*models.PortfolioSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM portfolio_snapshots
		WHERE portfolio_id = $1 AND snapshot_date < $2 AND is_complete
		ORDER BY snapshot_date DESC LIMIT 1`
	return s.getOne(ctx, query, portfolioID, pgDate(date))
}

// getOne returns nil without error when no row matches.
func (s *SnapshotStore) getOne(ctx context.Context, query string, args ...any) (*models.PortfolioSnapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var snap models.PortfolioSnapshot
	if err := sqlx.GetContext(ctx, s.q, &snap, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	snap.SnapshotDate = calendar.Normalize(snap.SnapshotDate)
	return &snap, nil
}

func (s *SnapshotStore) LatestCompleteDate(ctx context.Context, portfolioIDs []string) (*time.Time, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT MAX(snapshot_date) FROM portfolio_snapshots WHERE is_complete`
	var args []any
	if len(portfolioIDs) > 0 {
		query += ` AND portfolio_id = ANY($1)`
		args = append(args, pq.Array(portfolioIDs))
	}

	var latest sql.NullTime
	if err := s.q.QueryRowxContext(ctx, query, args...).Scan(&latest); err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot date: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	d := calendar.Normalize(latest.Time)
	return &d, nil
}

func (s *SnapshotStore) List(ctx context.Context, portfolioID string, from, to time.Time) ([]*models.PortfolioSnapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + snapshotColumns + ` FROM portfolio_snapshots
		WHERE portfolio_id = $1 AND snapshot_date BETWEEN $2 AND $3
		ORDER BY snapshot_date`

	var out []*models.PortfolioSnapshot
	if err := sqlx.SelectContext(ctx, s.q, &out, query, portfolioID, pgDate(from), pgDate(to)); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	for _, snap := range out {
		snap.SnapshotDate = calendar.Normalize(snap.SnapshotDate)
	}
	return out, nil
}

func (s *SnapshotStore) DeleteIncompleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.q.ExecContext(ctx, `DELETE FROM portfolio_snapshots WHERE NOT is_complete AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale placeholders: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}
