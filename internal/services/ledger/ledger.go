// Package ledger provides the snapshot ledger: slot locking, population and finalization
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/riskbatch/internal/calendar"
	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/models"
)

// Service writes portfolio snapshots under the insert-first slot lock
type Service struct {
	storage     interfaces.LedgerStorage
	rollforward interfaces.EquityRollforward
	logger      *common.Logger
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock the stale-placeholder cutoff is measured against. It should
// match the clock the store stamps created_at with.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a ledger service. A nil rollforward uses PnLRollforward.
func NewService(storage interfaces.LedgerStorage, rollforward interfaces.EquityRollforward, logger *common.Logger, opts ...Option) *Service {
	if rollforward == nil {
		rollforward = PnLRollforward{}
	}
	s := &Service{
		storage:     storage,
		rollforward: rollforward,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lock claims the (portfolio, date) slot by inserting a zeroed placeholder in its own
// statement. Returns models.ErrDuplicateRun when another run holds the slot.
func (s *Service) Lock(ctx context.Context, portfolioID string, date time.Time) (*models.PortfolioSnapshot, error) {
	placeholder := &models.PortfolioSnapshot{
		ID:             uuid.New().String(),
		PortfolioID:    portfolioID,
		SnapshotDate:   calendar.Normalize(date),
		SectorExposure: models.FloatMap{},
		IsComplete:     false,
	}
	if err := s.storage.SnapshotStore().InsertPlaceholder(ctx, placeholder); err != nil {
		return nil, err
	}
	return placeholder, nil
}

// Populate computes every metric from inputs into the placeholder and writes it
// through tx. The equity rollforward must already have been applied to inputs.Portfolio.
func (s *Service) Populate(ctx context.Context, tx interfaces.Tx, placeholder *models.PortfolioSnapshot, in *PortfolioInputs) error {
	computeMetrics(placeholder, in)
	if err := tx.Snapshots().Update(ctx, placeholder); err != nil {
		return fmt.Errorf("failed to populate snapshot: %w", err)
	}
	return nil
}

// Finalize marks the snapshot authoritative. It commits with the enclosing transaction.
func (s *Service) Finalize(ctx context.Context, tx interfaces.Tx, snap *models.PortfolioSnapshot) error {
	snap.IsComplete = true
	if err := tx.Snapshots().Update(ctx, snap); err != nil {
		snap.IsComplete = false
		return fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	return nil
}

// Release deletes a placeholder after a failed populate so the slot can be retried.
// Failures are logged; the stale-placeholder sweep is the backstop.
func (s *Service) Release(ctx context.Context, placeholder *models.PortfolioSnapshot) {
	if placeholder == nil {
		return
	}
	if err := s.storage.SnapshotStore().Delete(context.WithoutCancel(ctx), placeholder.ID); err != nil {
		s.logger.Warn().
			Str("portfolio_id", placeholder.PortfolioID).
			Str("date", placeholder.SnapshotDate.Format("2006-01-02")).
			Err(err).
			Msg("Failed to release snapshot placeholder")
	}
}

// CleanupStale deletes placeholders created more than olderThan ago.
func (s *Service) CleanupStale(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := s.storage.SnapshotStore().DeleteIncompleteBefore(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale placeholders: %w", err)
	}
	if n > 0 {
		s.logger.Info().Int("deleted", n).Dur("older_than", olderThan).Msg("Stale snapshot placeholders removed")
	}
	return n, nil
}

// WriteResult reports one portfolio's snapshot write
type WriteResult struct {
	Snapshot  *models.PortfolioSnapshot
	Duplicate bool
	Unpriced  int
}

// WriteSnapshot runs the full protocol for one portfolio and date: lock, then one
// transaction that reads the portfolio FOR UPDATE, computes daily P&L, rolls equity
// forward, populates and finalizes. A lost slot is reported as Duplicate, not an error.
// The placeholder is released when the transaction fails or panics.
func (s *Service) WriteSnapshot(ctx context.Context, portfolioID string, date time.Time, src InputSources) (result *WriteResult, err error) {
	placeholder, err := s.Lock(ctx, portfolioID, date)
	if errors.Is(err, models.ErrDuplicateRun) {
		s.logger.Debug().Str("portfolio_id", portfolioID).Str("date", date.Format("2006-01-02")).Msg("Snapshot slot already claimed, skipping")
		return &WriteResult{Duplicate: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock snapshot slot: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			s.Release(ctx, placeholder)
			panic(r)
		}
	}()

	result = &WriteResult{}
	err = s.storage.WithinTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		in, err := BuildInputs(ctx, tx, portfolioID, date, src)
		if err != nil {
			return err
		}

		pnl, unpriced := DailyPnL(in)
		placeholder.DailyPnL = pnl
		result.Unpriced = unpriced

		if err := s.rollforward.Apply(ctx, tx, in.Portfolio, placeholder); err != nil {
			return err
		}
		if err := s.Populate(ctx, tx, placeholder, in); err != nil {
			return err
		}
		return s.Finalize(ctx, tx, placeholder)
	})
	if err != nil {
		s.Release(ctx, placeholder)
		return nil, err
	}

	result.Snapshot = placeholder
	s.logger.Debug().
		Str("portfolio_id", portfolioID).
		Str("date", placeholder.SnapshotDate.Format("2006-01-02")).
		Float64("nav", placeholder.NetAssetValue).
		Float64("daily_pnl", placeholder.DailyPnL).
		Msg("Snapshot written")

	return result, nil
}
