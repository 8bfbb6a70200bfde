package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/bobmcallan/riskbatch/internal/models"
	"github.com/bobmcallan/riskbatch/internal/services/analytics"
	"github.com/bobmcallan/riskbatch/internal/services/factors"
	"github.com/bobmcallan/riskbatch/internal/services/ledger"
)

// phases is the per-date sequence, in order. Company profiles (0), market data (1)
// and symbol factors (1.5) run once per batch before it.
func (o *Orchestrator) phases() []Phase {
	return []Phase{
		{Name: models.PhaseSymbolMetrics, Criticality: models.NonCritical, run: o.symbolMetrics},
		{Name: models.PhaseFundamentals, Criticality: models.NonCritical, FinalOnly: true, run: o.fundamentals},
		{Name: models.PhasePlaceholderCleanup, Criticality: models.NonCritical, run: o.cleanupPlaceholders},
		{Name: models.PhasePnLSnapshot, Criticality: models.Critical, run: o.pnlSnapshot},
		{Name: models.PhasePositionValues, Criticality: models.NonCritical, run: o.positionValues},
		{Name: models.PhaseSectorTags, Criticality: models.NonCritical, FinalOnly: true, run: o.sectorTags},
		{Name: models.PhaseRiskAnalytics, Criticality: models.NonCritical, run: o.riskAnalytics},
	}
}

// syncProfiles refreshes stale profiles and reloads the run's sector source.
func (o *Orchestrator) syncProfiles(ctx context.Context, rc *RunContext, res *models.PhaseResult) error {
	n, err := o.market.SyncCompanyProfiles(ctx, rc.Symbols)
	res.Processed = n

	profiles, perr := o.market.Profiles(ctx, rc.Symbols)
	if perr == nil {
		rc.Profiles = profiles
	}
	return errors.Join(err, perr)
}

// symbolMetrics writes the date's derived metrics, then keeps the held symbols' rows
// for the P&L phase.
func (o *Orchestrator) symbolMetrics(ctx context.Context, rc *RunContext, ds *dateState, res *models.PhaseResult) error {
	n, missing, err := o.factors.ComputeSymbolMetrics(ctx, factors.SymbolMetricsRequest{
		Date:              ds.date,
		Symbols:           rc.Symbols,
		Prices:            rc.Prices,
		PrevCloseLookback: o.config.PnLPriceLookbackDays,
	})
	res.Processed = n
	res.Skipped = len(missing)
	if err != nil {
		return err
	}

	rows, err := o.storage.SymbolMetricsStore().GetForDate(ctx, rc.Held, ds.date)
	if err != nil {
		return fmt.Errorf("failed to load symbol metrics: %w", err)
	}
	ds.metrics = rows
	return nil
}

func (o *Orchestrator) fundamentals(ctx context.Context, rc *RunContext, ds *dateState, res *models.PhaseResult) error {
	n, err := o.market.CollectFundamentals(ctx, rc.Symbols, rc.Force)
	res.Processed = n
	return err
}

func (o *Orchestrator) cleanupPlaceholders(ctx context.Context, rc *RunContext, ds *dateState, res *models.PhaseResult) error {
	n, err := o.ledger.CleanupStale(ctx, o.config.GetStalePlaceholderAge())
	res.Processed = n
	return err
}

// pnlSnapshot writes one snapshot per portfolio. A lost slot counts as skipped.
func (o *Orchestrator) pnlSnapshot(ctx context.Context, rc *RunContext, ds *dateState, res *models.PhaseResult) error {
	betas, err := o.factors.GetSymbolBetas(ctx, rc.Held, ds.date, models.MethodOLSMarket)
	if err != nil {
		o.logger.Warn().Str("date", ds.date.Format("2006-01-02")).Err(err).Msg("Market betas unavailable for snapshot")
		betas = nil
	}

	src := ledger.InputSources{
		Prices:   rc.Prices,
		Calendar: o.cal,
		Metrics:  ds.metrics,
		Betas:    betas,
		Sectors:  rc.Sectors(),
		Lookback: o.config.PnLPriceLookbackDays,
	}

	var errs []error
	for _, pid := range rc.PortfolioIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		wr, err := o.ledger.WriteSnapshot(ctx, pid, ds.date, src)
		switch {
		case err != nil:
			res.Failed++
			errs = append(errs, fmt.Errorf("portfolio %s: %w", pid, err))
			o.metrics.SnapshotOutcome("failed")
		case wr.Duplicate:
			res.Skipped++
			ds.duplicates++
			o.metrics.SnapshotOutcome("duplicate")
		default:
			res.Processed++
			ds.snapshots++
			o.metrics.SnapshotOutcome("written")
			if wr.Unpriced > 0 {
				o.logger.Warn().
					Str("portfolio_id", pid).
					Str("date", ds.date.Format("2006-01-02")).
					Int("unpriced", wr.Unpriced).
					Msg("Positions without a price excluded from daily P&L")
			}
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) positionValues(ctx context.Context, rc *RunContext, ds *dateState, res *models.PhaseResult) error {
	var errs []error
	for _, pid := range rc.PortfolioIDs {
		out, err := o.analytics.RefreshValuations(ctx, analytics.ValuationRequest{
			PortfolioID: pid,
			Date:        ds.date,
			Prices:      rc.Prices,
			Lookback:    o.config.ValuationPriceLookbackDays,
			WarnRatio:   o.config.SkippedWarnRatio,
		})
		if out != nil {
			res.Processed += out.Updated
			res.Skipped += out.Skipped
		}
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("portfolio %s: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) sectorTags(ctx context.Context, rc *RunContext, ds *dateState, res *models.PhaseResult) error {
	var errs []error
	for _, pid := range rc.PortfolioIDs {
		n, err := o.analytics.RestoreSectorTags(ctx, pid, rc.Profiles)
		res.Processed += n
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("portfolio %s: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// riskAnalytics aggregates every stored method's betas for the date.
func (o *Orchestrator) riskAnalytics(ctx context.Context, rc *RunContext, ds *dateState, res *models.PhaseResult) error {
	betas := make(map[string]map[string]map[string]float64)
	for _, m := range o.factors.Methods() {
		b, err := o.factors.GetSymbolBetas(ctx, rc.Held, ds.date, m.Name)
		if err != nil {
			return err
		}
		betas[m.Name] = b
	}

	var errs []error
	for _, pid := range rc.PortfolioIDs {
		_, err := o.analytics.ComputeRiskMetrics(ctx, analytics.RiskRequest{PortfolioID: pid, Date: ds.date, Betas: betas})
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("portfolio %s: %w", pid, err))
			continue
		}
		res.Processed++
	}
	return errors.Join(errs...)
}
