// Package batch runs the daily risk batch: it finds the trading days missing since the
// last complete snapshot and drives the phase sequence for each of them.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/riskbatch/internal/calendar"
	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/metrics"
	"github.com/bobmcallan/riskbatch/internal/models"
	"github.com/bobmcallan/riskbatch/internal/services/analytics"
	"github.com/bobmcallan/riskbatch/internal/services/factors"
	"github.com/bobmcallan/riskbatch/internal/services/ledger"
	"github.com/bobmcallan/riskbatch/internal/services/pricecache"
)

// ErrBatchRunning is returned when a backfill is requested while another is executing.
var ErrBatchRunning = errors.New("batch run already in progress")

// MarketData is the market-data surface the orchestrator drives (phases 0, 1 and 2).
type MarketData interface {
	interfaces.MarketService
	Universe(ctx context.Context) ([]string, error)
}

// FactorEngine computes symbol factors and derived metrics (phases 1.5 and 1.75).
type FactorEngine interface {
	interfaces.FactorService
	ComputeSymbolMetrics(ctx context.Context, req factors.SymbolMetricsRequest) (int, []string, error)
	Methods() []factors.Method
}

// Ledger writes snapshots (phases 2.5 and 3).
type Ledger interface {
	WriteSnapshot(ctx context.Context, portfolioID string, date time.Time, src ledger.InputSources) (*ledger.WriteResult, error)
	CleanupStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Analytics refreshes positions and risk metrics (phases 4, 5 and 6).
type Analytics interface {
	RefreshValuations(ctx context.Context, req analytics.ValuationRequest) (*analytics.ValuationResult, error)
	RestoreSectorTags(ctx context.Context, portfolioID string, profiles map[string]*models.CompanyProfile) (int, error)
	ComputeRiskMetrics(ctx context.Context, req analytics.RiskRequest) (*models.PortfolioRiskMetrics, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Storage   interfaces.StorageManager
	Market    MarketData
	Factors   FactorEngine
	Ledger    Ledger
	Analytics Analytics
	Calendar  calendar.Calendar
	Metrics   *metrics.Registry
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the wall clock used for the target date and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator implements BatchService.
type Orchestrator struct {
	storage   interfaces.StorageManager
	market    MarketData
	factors   FactorEngine
	ledger    Ledger
	analytics Analytics
	cal       calendar.Calendar
	metrics   *metrics.Registry
	config    common.BatchConfig
	loc       *time.Location
	logger    *common.Logger
	now       func() time.Time
	runner    *PhaseRunner

	mu       sync.Mutex
	progress models.BatchProgress
}

// NewOrchestrator creates the batch orchestrator.
func NewOrchestrator(deps Deps, config common.BatchConfig, logger *common.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		storage:   deps.Storage,
		market:    deps.Market,
		factors:   deps.Factors,
		ledger:    deps.Ledger,
		analytics: deps.Analytics,
		cal:       deps.Calendar,
		metrics:   deps.Metrics,
		config:    config,
		loc:       config.GetLocation(),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.runner = NewPhaseRunner(o.phases(), o.metrics, logger, o.setPhase)
	return o
}

// TargetDate is the last date a run should reach. Before the market-close cutoff it is
// the previous trading day; after it, today when today trades. An explicit end date
// overrides the clock and rolls back to a trading day.
func (o *Orchestrator) TargetDate(end *time.Time) time.Time {
	if end != nil {
		d := calendar.Normalize(*end)
		if !o.cal.IsTradingDay(d) {
			d = o.cal.PreviousTradingDay(d)
		}
		return d
	}

	local := o.now().In(o.loc)
	today := calendar.Normalize(local)
	h, m := o.config.GetCutoff()
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, o.loc)
	if local.Before(cutoff) || !o.cal.IsTradingDay(today) {
		return o.cal.PreviousTradingDay(today)
	}
	return today
}

// RunBackfill processes every trading day after the latest complete snapshot of the
// relevant portfolios up to the target date. When nothing is missing it returns
// UpToDate without writing a run record.
func (o *Orchestrator) RunBackfill(ctx context.Context, req interfaces.BackfillRequest) (*models.BackfillResult, error) {
	if !o.begin() {
		return nil, ErrBatchRunning
	}
	defer o.end()

	portfolioIDs, dates, err := o.plan(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		o.logger.Info().Str("portfolio_scope", req.PortfolioID).Msg("Batch already up to date")
		return &models.BackfillResult{Status: models.BatchStatusCompleted, UpToDate: true}, nil
	}

	rc := newRunContext(uuid.New().String(), portfolioIDs, req.PortfolioID != "", req.Force, dates)
	rec := &models.BatchRunRecord{
		BatchRunID:     rc.BatchRunID,
		Status:         models.BatchStatusRunning,
		PortfolioScope: req.PortfolioID,
		TotalJobs:      len(dates),
		PhaseDurations: models.FloatMap{},
		StartedAt:      o.now(),
	}
	if err := o.storage.BatchRunStore().Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create batch run record: %w", err)
	}

	o.startProgress(rc, rec.StartedAt)
	o.metrics.RunStarted()
	o.logger.Info().
		Str("batch_run_id", rc.BatchRunID).
		Str("portfolio_scope", req.PortfolioID).
		Int("portfolios", len(portfolioIDs)).
		Int("dates", len(dates)).
		Str("from", dates[0].Format("2006-01-02")).
		Str("to", rc.FinalDate.Format("2006-01-02")).
		Msg("Batch run started")

	return o.supervise(ctx, rc, rec)
}

// Progress returns a snapshot of the live run state.
func (o *Orchestrator) Progress() models.BatchProgress {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.progress
	if p.CurrentDate != nil {
		d := *p.CurrentDate
		p.CurrentDate = &d
	}
	if p.StartedAt != nil {
		s := *p.StartedAt
		p.StartedAt = &s
	}
	return p
}

// ListRuns returns the most recent batch run records, newest first.
func (o *Orchestrator) ListRuns(ctx context.Context, limit int) ([]*models.BatchRunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return o.storage.BatchRunStore().ListRecent(ctx, limit)
}

// plan resolves the portfolios in scope and the missing trading days.
func (o *Orchestrator) plan(ctx context.Context, req interfaces.BackfillRequest) ([]string, []time.Time, error) {
	var portfolioIDs []string
	if req.PortfolioID != "" {
		if _, err := o.storage.PortfolioStore().GetPortfolio(ctx, req.PortfolioID); err != nil {
			return nil, nil, fmt.Errorf("portfolio %s: %w", req.PortfolioID, err)
		}
		portfolioIDs = []string{req.PortfolioID}
	} else {
		portfolios, err := o.storage.PortfolioStore().ListPortfolios(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list portfolios: %w", err)
		}
		for _, p := range portfolios {
			portfolioIDs = append(portfolioIDs, p.ID)
		}
	}
	if len(portfolioIDs) == 0 {
		return nil, nil, nil
	}

	target := o.TargetDate(req.EndDate)

	last, err := o.storage.SnapshotStore().LatestCompleteDate(ctx, portfolioIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read latest snapshot date: %w", err)
	}
	if last == nil {
		first, err := o.storage.PositionStore().EarliestEntryDate(ctx, portfolioIDs)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read earliest entry date: %w", err)
		}
		if first == nil {
			return portfolioIDs, nil, nil
		}
		d := calendar.Normalize(*first).AddDate(0, 0, -1)
		last = &d
	}

	return portfolioIDs, o.cal.BusinessDays(calendar.Normalize(*last).AddDate(0, 0, 1), target), nil
}

// supervise runs the dates and always finalizes the run record, even when the run
// panics or its context is cancelled. Panics are re-raised after finalization.
func (o *Orchestrator) supervise(ctx context.Context, rc *RunContext, rec *models.BatchRunRecord) (result *models.BackfillResult, err error) {
	defer func() {
		r := recover()
		cause := err
		if r != nil {
			cause = fmt.Errorf("panic: %v", r)
			o.logger.Error().
				Str("batch_run_id", rc.BatchRunID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Batch run panicked")
		}
		result = o.finalize(context.WithoutCancel(ctx), rc, rec, cause)
		if r != nil {
			panic(r)
		}
	}()

	err = o.execute(ctx, rc, rec)
	return nil, err
}

// execute runs the cross-date pre-pass then every date in order.
func (o *Orchestrator) execute(ctx context.Context, rc *RunContext, rec *models.BatchRunRecord) error {
	if err := o.resolveScope(ctx, rc); err != nil {
		return err
	}

	// Phase 0 for the final date; provider betas read the refreshed profiles
	o.prePhase(ctx, rc, models.PhaseCompanyProfiles, func(res *models.PhaseResult) error {
		return o.syncProfiles(ctx, rc, res)
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	// Phase 1 for every date before any P&L
	o.prePhase(ctx, rc, models.PhaseMarketData, func(res *models.PhaseResult) error {
		out, err := o.market.CollectMarketData(ctx, interfaces.CollectRequest{Symbols: rc.Symbols, Dates: rc.Dates})
		if out != nil {
			res.Processed = len(rc.Symbols) - len(out.Failed)
			res.Failed = len(out.Failed)
		}
		return err
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	lookback := o.config.PriceCacheLookbackDays
	if lookback <= 0 {
		lookback = 366
	}
	cache, err := pricecache.Build(ctx, o.storage.MarketDataStorage(), o.cal, rc.Symbols,
		rc.Dates[0].AddDate(0, 0, -lookback), rc.FinalDate, o.logger)
	if err != nil {
		return fmt.Errorf("failed to build price cache: %w", err)
	}
	rc.Prices = cache

	// Factors once, for the final date
	o.prePhase(ctx, rc, models.PhaseSymbolFactors, func(res *models.PhaseResult) error {
		out, err := o.factors.ComputeSymbolFactors(ctx, interfaces.FactorRequest{
			Date:    rc.FinalDate,
			Symbols: rc.Symbols,
			Prices:  rc.Prices,
		})
		if out != nil {
			res.Processed = out.Computed
			res.Skipped = out.Cached + out.Omitted
			res.Failed = out.Failed
			o.metrics.FactorOutcomes(out.Computed, out.Cached, out.Omitted, out.Failed)
		}
		return err
	})

	for i, date := range rc.Dates {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.setDate(date, i)

		ds := &dateState{date: date, final: date.Equal(rc.FinalDate)}
		dr, err := o.runner.Run(ctx, rc, ds)
		rc.perDate = append(rc.perDate, dr)
		o.metrics.DateProcessed(dr.Success)
		o.checkpoint(ctx, rc, rec)
		if err != nil {
			return err
		}

		o.logger.Info().
			Str("batch_run_id", rc.BatchRunID).
			Str("date", date.Format("2006-01-02")).
			Bool("success", dr.Success).
			Int("snapshots", dr.Snapshots).
			Int("duplicate", dr.Duplicate).
			Msg("Date processed")
	}
	return nil
}

// resolveScope fills the symbol scope and loads stored company profiles.
func (o *Orchestrator) resolveScope(ctx context.Context, rc *RunContext) error {
	seen := make(map[string]bool)
	var held []string
	for _, pid := range rc.scopeIDs() {
		syms, err := o.storage.PositionStore().HeldSymbols(ctx, pid)
		if err != nil {
			return fmt.Errorf("failed to list held symbols: %w", err)
		}
		for _, s := range syms {
			if !seen[s] {
				seen[s] = true
				held = append(held, s)
			}
		}
	}
	sort.Strings(held)
	rc.Held = held

	symbols := append([]string(nil), held...)
	symbols = append(symbols, o.config.BenchmarkSymbols...)
	symbols = append(symbols, factors.ProxySymbols(o.factors.Methods())...)
	if !rc.Scoped {
		universe, err := o.market.Universe(ctx)
		if err != nil {
			o.logger.Warn().Err(err).Msg("Failed to list symbol universe, using held symbols")
		}
		symbols = append(symbols, universe...)
	}
	rc.Symbols = common.DedupeSymbols(symbols)
	sort.Strings(rc.Symbols)

	profiles, err := o.market.Profiles(ctx, rc.Symbols)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Failed to load company profiles")
	} else {
		rc.Profiles = profiles
	}
	return nil
}

// scopeIDs is the portfolio filter for held symbols: "" means every portfolio.
func (rc *RunContext) scopeIDs() []string {
	if rc.Scoped {
		return rc.PortfolioIDs
	}
	return []string{""}
}

// prePhase runs one cross-date phase. These are non-critical: a failure is recorded
// and the run continues with whatever data is stored.
func (o *Orchestrator) prePhase(ctx context.Context, rc *RunContext, name string, fn func(res *models.PhaseResult) error) {
	o.setPhase(name)
	res := models.PhaseResult{Phase: name, Criticality: models.NonCritical}
	start := time.Now()
	err := fn(&res)
	res.Duration = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		o.logger.Warn().Str("batch_run_id", rc.BatchRunID).Str("phase", name).Err(err).Msg("Phase failed")
	}
	rc.addDuration(name, res.Duration)
	rc.prePhases = append(rc.prePhases, res)
	o.metrics.ObservePhase(name, res.Duration, err != nil, res.Criticality.String())
}

// checkpoint persists partial progress after each date. Failures are logged only.
func (o *Orchestrator) checkpoint(ctx context.Context, rc *RunContext, rec *models.BatchRunRecord) {
	rec.CompletedJobs, rec.FailedJobs = rc.counts()
	rec.PhaseDurations = rc.durations.Clone()
	o.setDone(len(rc.perDate))
	if err := o.storage.BatchRunStore().Update(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn().Str("batch_run_id", rc.BatchRunID).Err(err).Msg("Failed to checkpoint batch run")
	}
}

// finalize writes the terminal run record and builds the result. Dates never reached
// are reported as failed so every requested date appears in both.
func (o *Orchestrator) finalize(ctx context.Context, rc *RunContext, rec *models.BatchRunRecord, cause error) *models.BackfillResult {
	result := &models.BackfillResult{
		BatchRunID:     rc.BatchRunID,
		DatesProcessed: len(rc.perDate),
		PrePhases:      rc.prePhases,
		PerDate:        append([]models.DateResult(nil), rc.perDate...),
	}

	notReached := "not processed"
	if cause != nil {
		notReached = "not processed: " + cause.Error()
	}
	for _, d := range rc.Dates[len(rc.perDate):] {
		result.PerDate = append(result.PerDate, models.DateResult{Date: d, Error: notReached})
	}

	completed := 0
	for _, dr := range result.PerDate {
		if dr.Success {
			completed++
			continue
		}
		result.Errors = append(result.Errors, dr.Date.Format("2006-01-02")+": "+dr.Error)
	}
	failed := len(result.PerDate) - completed
	if cause != nil {
		result.Errors = append(result.Errors, "batch: "+cause.Error())
	}

	switch {
	case cause != nil || completed == 0:
		result.Status = models.BatchStatusFailed
	case failed == 0:
		result.Status = models.BatchStatusCompleted
	default:
		result.Status = models.BatchStatusPartial
	}

	finished := o.now()
	rec.Status = result.Status
	rec.CompletedJobs = completed
	rec.FailedJobs = failed
	rec.PhaseDurations = rc.durations.Clone()
	rec.ErrorSummary = strings.Join(result.Errors, "\n")
	rec.CompletedAt = &finished
	if err := o.storage.BatchRunStore().Update(ctx, rec); err != nil {
		o.logger.Error().Str("batch_run_id", rc.BatchRunID).Err(err).Msg("Failed to finalize batch run record")
	}

	o.metrics.RunFinished(result.Status)
	o.logger.Info().
		Str("batch_run_id", rc.BatchRunID).
		Str("status", result.Status).
		Int("completed", completed).
		Int("failed", failed).
		Dur("elapsed", finished.Sub(rec.StartedAt)).
		Msg("Batch run finished")

	return result
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.progress.Running {
		return false
	}
	o.progress = models.BatchProgress{Running: true}
	return true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress.Running = false
	o.progress.CurrentPhase = ""
}

func (o *Orchestrator) startProgress(rc *RunContext, started time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress.BatchRunID = rc.BatchRunID
	o.progress.DatesTotal = len(rc.Dates)
	o.progress.StartedAt = &started
}

func (o *Orchestrator) setDate(date time.Time, done int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress.CurrentDate = &date
	o.progress.DatesDone = done
}

func (o *Orchestrator) setDone(done int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress.DatesDone = done
}

func (o *Orchestrator) setPhase(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress.CurrentPhase = name
}

// Ensure Orchestrator implements BatchService
var _ interfaces.BatchService = (*Orchestrator)(nil)
