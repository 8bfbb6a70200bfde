package ledger

import (
	"context"
	"fmt"

	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/models"
)

// PnLRollforward adds the snapshot's daily P&L to the portfolio equity balance.
type PnLRollforward struct{}

// Apply updates portfolio in place and persists the new balance through tx.
func (PnLRollforward) Apply(ctx context.Context, tx interfaces.Tx, portfolio *models.Portfolio, snap *models.PortfolioSnapshot) error {
	if snap.DailyPnL == 0 {
		return nil
	}
	balance := portfolio.EquityBalance + snap.DailyPnL
	if err := tx.Portfolios().UpdateEquityBalance(ctx, portfolio.ID, balance); err != nil {
		return fmt.Errorf("failed to roll equity forward: %w", err)
	}
	portfolio.EquityBalance = balance
	return nil
}

var _ interfaces.EquityRollforward = PnLRollforward{}
