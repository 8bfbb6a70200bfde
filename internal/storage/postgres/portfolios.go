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

const portfolioColumns = `id, name, equity_balance, created_at, updated_at`

// PortfolioStore implements interfaces.PortfolioStore
type PortfolioStore struct {
	store
}

func (s *PortfolioStore) GetPortfolio(ctx context.Context, id string) (*models.Portfolio, error) {
	return s.get(ctx, `SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1`, id)
}

// GetPortfolioForUpdate holds the row lock until the enclosing transaction ends.
func (s *PortfolioStore) GetPortfolioForUpdate(ctx context.Context, id string) (*models.Portfolio, error) {
	return s.get(ctx, `SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1 FOR UPDATE`, id)
}

func (s *PortfolioStore) get(ctx context.Context, query, id string) (*models.Portfolio, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var p models.Portfolio
	if err := sqlx.GetContext(ctx, s.q, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("portfolio %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	return &p, nil
}

func (s *PortfolioStore) ListPortfolios(ctx context.Context) ([]*models.Portfolio, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []*models.Portfolio
	if err := sqlx.SelectContext(ctx, s.q, &out, `SELECT `+portfolioColumns+` FROM portfolios ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	return out, nil
}

func (s *PortfolioStore) SavePortfolio(ctx context.Context, p *models.Portfolio) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO portfolios (id, name, equity_balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, equity_balance = EXCLUDED.equity_balance, updated_at = now()
		RETURNING created_at, updated_at`

	if err := s.q.QueryRowxContext(ctx, query, p.ID, p.Name, p.EquityBalance).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save portfolio: %w", err)
	}
	return nil
}

func (s *PortfolioStore) UpdateEquityBalance(ctx context.Context, id string, balance float64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.q.ExecContext(ctx, `UPDATE portfolios SET equity_balance = $2, updated_at = now() WHERE id = $1`, id, balance)
	if err != nil {
		return fmt.Errorf("failed to update equity balance: %w", err)
	}
	return expectRow(res, "portfolio", id)
}

const positionColumns = `id, portfolio_id, symbol, underlying_symbol, quantity, entry_price, entry_date,
	exit_date, position_type, investment_class, sector, last_price, market_value, unrealized_pnl, updated_at`

// PositionStore implements interfaces.PositionStore
type PositionStore struct {
	store
}

func (s *PositionStore) SavePosition(ctx context.Context, p *models.Position) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO positions (id, portfolio_id, symbol, underlying_symbol, quantity, entry_price,
			entry_date, exit_date, position_type, investment_class, sector)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			underlying_symbol = EXCLUDED.underlying_symbol,
			quantity = EXCLUDED.quantity,
			entry_price = EXCLUDED.entry_price,
			entry_date = EXCLUDED.entry_date,
			exit_date = EXCLUDED.exit_date,
			position_type = EXCLUDED.position_type,
			investment_class = EXCLUDED.investment_class,
			sector = EXCLUDED.sector,
			updated_at = now()
		RETURNING updated_at`

	err := s.q.QueryRowxContext(ctx, query,
		p.ID, p.PortfolioID, p.Symbol, p.UnderlyingSymbol, p.Quantity, p.EntryPrice,
		pgDate(p.EntryDate), pgDatePtr(p.ExitDate), string(p.PositionType), string(p.InvestmentClass), p.Sector).
		Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

func (s *PositionStore) ListPositions(ctx context.Context, portfolioID string) ([]*models.Position, error) {
	return s.selectPositions(ctx, `SELECT `+positionColumns+` FROM positions WHERE portfolio_id = $1 ORDER BY symbol, id`, portfolioID)
}

func (s *PositionStore) ListOpenPositions(ctx context.Context, portfolioID string, date time.Time) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
		WHERE portfolio_id = $1 AND entry_date <= $2 AND (exit_date IS NULL OR exit_date > $2)
		ORDER BY symbol, id`
	return s.selectPositions(ctx, query, portfolioID, pgDate(date))
}

func (s *PositionStore) selectPositions(ctx context.Context, query string, args ...any) ([]*models.Position, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []*models.Position
	if err := sqlx.SelectContext(ctx, s.q, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	for _, p := range out {
		p.EntryDate = calendar.Normalize(p.EntryDate)
		if p.ExitDate != nil {
			d := calendar.Normalize(*p.ExitDate)
			p.ExitDate = &d
		}
	}
	return out, nil
}

// HeldSymbols mirrors Position.PricedSymbol and Position.FactorSymbol in SQL.
func (s *PositionStore) HeldSymbols(ctx context.Context, portfolioID string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT DISTINCT sym FROM (
			SELECT symbol AS sym FROM positions
			WHERE exit_date IS NULL AND position_type <> 'PRIVATE' AND ($1 = '' OR portfolio_id = $1)
			UNION
			SELECT underlying_symbol FROM positions
			WHERE exit_date IS NULL AND underlying_symbol <> '' AND position_type IN ('LC', 'LP', 'SC', 'SP')
				AND ($1 = '' OR portfolio_id = $1)
		) held
		ORDER BY sym`

	var out []string
	if err := sqlx.SelectContext(ctx, s.q, &out, query, portfolioID); err != nil {
		return nil, fmt.Errorf("failed to list held symbols: %w", err)
	}
	return out, nil
}

func (s *PositionStore) EarliestEntryDate(ctx context.Context, portfolioIDs []string) (*time.Time, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT MIN(entry_date) FROM positions`
	var args []any
	if len(portfolioIDs) > 0 {
		query += ` WHERE portfolio_id = ANY($1)`
		args = append(args, pq.Array(portfolioIDs))
	}

	var earliest sql.NullTime
	if err := s.q.QueryRowxContext(ctx, query, args...).Scan(&earliest); err != nil {
		return nil, fmt.Errorf("failed to get earliest entry date: %w", err)
	}
	if !earliest.Valid {
		return nil, nil
	}
	d := calendar.Normalize(earliest.Time)
	return &d, nil
}

func (s *PositionStore) UpdateValuation(ctx context.Context, positionID string, lastPrice, marketValue, unrealizedPnL float64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.q.ExecContext(ctx, `
		UPDATE positions SET last_price = $2, market_value = $3, unrealized_pnl = $4, updated_at = now()
		WHERE id = $1`, positionID, lastPrice, marketValue, unrealizedPnL)
	if err != nil {
		return fmt.Errorf("failed to update position valuation: %w", err)
	}
	return expectRow(res, "position", positionID)
}

func (s *PositionStore) UpdateSector(ctx context.Context, positionID, sector string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.q.ExecContext(ctx, `UPDATE positions SET sector = $2, updated_at = now() WHERE id = $1`, positionID, sector)
	if err != nil {
		return fmt.Errorf("failed to update position sector: %w", err)
	}
	return expectRow(res, "position", positionID)
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
	}
	return nil
}
