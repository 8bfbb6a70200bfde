package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/models"
)

func phaseOf(name string, crit models.PhaseCriticality, finalOnly bool, fn phaseFunc) Phase {
	return Phase{Name: name, Criticality: crit, FinalOnly: finalOnly, run: fn}
}

func succeed(processed int) phaseFunc {
	return func(ctx context.Context, rc *RunContext, ds *dateState, res *models.PhaseResult) error {
		res.Processed = processed
		return nil
	}
}

func fail(msg string) phaseFunc {
	return func(ctx context.Context, rc *RunContext, ds *dateState, res *models.PhaseResult) error {
		return errors.New(msg)
	}
}

func testRunContext() *RunContext {
	return newRunContext("run-1", []string{"p1"}, false, false, backfillDays)
}

func TestPhaseRunner_NonCriticalFailureKeepsDate(t *testing.T) {
	var seen []string
	r := NewPhaseRunner([]Phase{
		phaseOf("a", models.NonCritical, false, fail("boom")),
		phaseOf("b", models.Critical, false, succeed(3)),
	}, nil, common.NewSilentLogger(), func(name string) { seen = append(seen, name) })

	rc := testRunContext()
	dr, err := r.Run(context.Background(), rc, &dateState{date: backfillDays[0]})
	require.NoError(t, err)

	assert.True(t, dr.Success)
	assert.Empty(t, dr.Error)
	require.Len(t, dr.Phases, 2)
	assert.Equal(t, "boom", dr.Phases[0].Error)
	assert.Equal(t, 3, dr.Phases[1].Processed)
	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Contains(t, rc.durations, "a")
}

func TestPhaseRunner_CriticalFailureFailsDateButContinues(t *testing.T) {
	r := NewPhaseRunner([]Phase{
		phaseOf("snap", models.Critical, false, fail("lock lost")),
		phaseOf("after", models.NonCritical, false, succeed(1)),
	}, nil, common.NewSilentLogger(), nil)

	dr, err := r.Run(context.Background(), testRunContext(), &dateState{date: backfillDays[0]})
	require.NoError(t, err)

	assert.False(t, dr.Success)
	assert.Contains(t, dr.Error, "phase snap (critical): lock lost")
	require.Len(t, dr.Phases, 2)
	assert.Equal(t, 1, dr.Phases[1].Processed)
}

func TestPhaseRunner_FinalOnlySkippedOnHistoricalDates(t *testing.T) {
	called := 0
	r := NewPhaseRunner([]Phase{
		phaseOf("profiles", models.NonCritical, true, func(ctx context.Context, rc *RunContext, ds *dateState, res *models.PhaseResult) error {
			called++
			return nil
		}),
	}, nil, common.NewSilentLogger(), nil)
	rc := testRunContext()

	dr, err := r.Run(context.Background(), rc, &dateState{date: backfillDays[0]})
	require.NoError(t, err)
	assert.True(t, dr.Phases[0].NotApplicable)
	assert.Equal(t, 0, called)

	dr, err = r.Run(context.Background(), rc, &dateState{date: endDate, final: true})
	require.NoError(t, err)
	assert.False(t, dr.Phases[0].NotApplicable)
	assert.Equal(t, 1, called)
}

func TestPhaseRunner_StopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewPhaseRunner([]Phase{
		phaseOf("first", models.NonCritical, false, func(ctx context.Context, rc *RunContext, ds *dateState, res *models.PhaseResult) error {
			cancel()
			return nil
		}),
		phaseOf("second", models.NonCritical, false, succeed(1)),
	}, nil, common.NewSilentLogger(), nil)

	dr, err := r.Run(ctx, testRunContext(), &dateState{date: backfillDays[0]})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, dr.Success)
	assert.Len(t, dr.Phases, 1)
}

func TestPhaseError_Unwrap(t *testing.T) {
	base := models.ErrDuplicateRun
	err := error(&PhaseError{Phase: models.PhasePnLSnapshot, Criticality: models.Critical, Err: base})

	assert.ErrorIs(t, err, models.ErrDuplicateRun)
	var perr *PhaseError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Critical())
}
