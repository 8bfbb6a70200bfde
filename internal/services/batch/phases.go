package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/metrics"
	"github.com/bobmcallan/riskbatch/internal/models"
)

// PhaseError wraps a phase failure with the phase's criticality.
type PhaseError struct {
	Phase       string
	Criticality models.PhaseCriticality
	Err         error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s (%s): %v", e.Phase, e.Criticality, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Critical reports whether the failure fails its date.
func (e *PhaseError) Critical() bool { return e.Criticality == models.Critical }

// phaseFunc executes one phase for one date, filling in the result counts.
type phaseFunc func(ctx context.Context, rc *RunContext, ds *dateState, res *models.PhaseResult) error

// Phase is one step of the per-date sequence.
type Phase struct {
	Name        string
	Criticality models.PhaseCriticality

	// FinalOnly phases are not applicable to historical dates of a backfill.
	FinalOnly bool
	run       phaseFunc
}

// PhaseRunner executes the per-date phase sequence in strict order.
type PhaseRunner struct {
	phases  []Phase
	metrics *metrics.Registry
	logger  *common.Logger
	onPhase func(name string)
}

// NewPhaseRunner creates a runner over phases. onPhase, if set, is called before each
// phase starts.
func NewPhaseRunner(phases []Phase, reg *metrics.Registry, logger *common.Logger, onPhase func(string)) *PhaseRunner {
	return &PhaseRunner{phases: phases, metrics: reg, logger: logger, onPhase: onPhase}
}

// Names lists the phases in execution order.
func (r *PhaseRunner) Names() []string {
	out := make([]string, len(r.phases))
	for i, p := range r.phases {
		out[i] = p.Name
	}
	return out
}

// Run executes every phase for ds.date. A critical failure marks the date failed but
// the remaining phases still run. Cancellation stops the sequence and is returned.
func (r *PhaseRunner) Run(ctx context.Context, rc *RunContext, ds *dateState) (models.DateResult, error) {
	dr := models.DateResult{Date: ds.date, Success: true}

	for _, p := range r.phases {
		if err := ctx.Err(); err != nil {
			dr.Success = false
			dr.Error = joinMsg(dr.Error, err.Error())
			return dr, err
		}

		if p.FinalOnly && !ds.final {
			dr.Phases = append(dr.Phases, models.PhaseResult{Phase: p.Name, Criticality: p.Criticality, NotApplicable: true})
			continue
		}

		if r.onPhase != nil {
			r.onPhase(p.Name)
		}

		res, perr := r.runOne(ctx, rc, ds, p)
		dr.Phases = append(dr.Phases, res)
		if perr == nil {
			continue
		}

		if perr.Critical() {
			dr.Success = false
			dr.Error = joinMsg(dr.Error, perr.Error())
			r.logger.Error().Str("date", ds.date.Format("2006-01-02")).Str("phase", p.Name).Err(perr.Err).Msg("Critical phase failed")
		} else {
			r.logger.Warn().Str("date", ds.date.Format("2006-01-02")).Str("phase", p.Name).Err(perr.Err).Msg("Phase failed")
		}
	}

	dr.Snapshots = ds.snapshots
	dr.Duplicate = ds.duplicates
	if err := ctx.Err(); err != nil {
		dr.Success = false
		dr.Error = joinMsg(dr.Error, err.Error())
		return dr, err
	}
	return dr, nil
}

// runOne times a single phase. Panics are left to the batch supervisor.
func (r *PhaseRunner) runOne(ctx context.Context, rc *RunContext, ds *dateState, p Phase) (models.PhaseResult, *PhaseError) {
	res := models.PhaseResult{Phase: p.Name, Criticality: p.Criticality}
	start := time.Now()

	var perr *PhaseError
	if err := p.run(ctx, rc, ds, &res); err != nil {
		perr = &PhaseError{Phase: p.Name, Criticality: p.Criticality, Err: err}
		res.Error = err.Error()
	}

	res.Duration = time.Since(start)
	rc.addDuration(p.Name, res.Duration)
	r.metrics.ObservePhase(p.Name, res.Duration, perr != nil, p.Criticality.String())
	return res, perr
}

func joinMsg(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
