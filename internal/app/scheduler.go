package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/services/batch"
)

// Scheduler runs the daily backfill on a cron schedule (with a seconds field) in the
// market timezone.
type Scheduler struct {
	cron    *cron.Cron
	batch   interfaces.BatchService
	logger  *common.Logger
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewScheduler validates the schedule and registers the backfill job.
func NewScheduler(config common.BatchConfig, svc interfaces.BatchService, logger *common.Logger) (*Scheduler, error) {
	spec := config.Schedule
	if spec == "" {
		spec = common.NewDefaultConfig().Batch.Schedule
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(config.GetLocation())),
		batch:   svc,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}

	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid batch schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing scheduled runs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("Batch scheduler started")
}

// Stop cancels any in-flight run and waits for it to finalize.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	s.cancel()
	<-ctx.Done()
	s.logger.Info().Msg("Batch scheduler stopped")
}

// Next reports when the job fires next.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// tick runs one backfill. Panics are logged and contained; the orchestrator has
// already finalized its run record by the time one reaches here.
func (s *Scheduler) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in scheduled batch run")
		}
	}()

	start := time.Now()
	res, err := s.batch.RunBackfill(s.baseCtx, interfaces.BackfillRequest{})
	switch {
	case errors.Is(err, batch.ErrBatchRunning):
		s.logger.Info().Msg("Scheduled batch skipped, a run is already in progress")
	case err != nil:
		s.logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Scheduled batch failed")
	case res.UpToDate:
		s.logger.Info().Msg("Scheduled batch: already up to date")
	default:
		s.logger.Info().
			Str("batch_run_id", res.BatchRunID).
			Str("status", res.Status).
			Int("dates", res.DatesProcessed).
			Dur("elapsed", time.Since(start)).
			Msg("Scheduled batch complete")
	}
}
