package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Records(t *testing.T) {
	r := NewRegistry()

	r.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BatchRunning))

	r.ObservePhase("pnl_snapshot", 2*time.Second, true, "critical")
	r.ObservePhase("pnl_snapshot", time.Second, false, "critical")
	r.FactorOutcomes(10, 4, 2, 0)
	r.SnapshotOutcome("written")
	r.SnapshotOutcome("duplicate")
	r.DateProcessed(true)
	r.RunFinished("partial")

	assert.Equal(t, 0.0, testutil.ToFloat64(r.BatchRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BatchRuns.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PhaseFailures.WithLabelValues("pnl_snapshot", "critical")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.FactorResults.WithLabelValues("computed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.FactorResults.WithLabelValues("cached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Snapshots.WithLabelValues("duplicate")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.PhaseDuration))
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.RunStarted()
		r.ObservePhase("x", time.Second, true, "critical")
		r.FactorOutcomes(1, 1, 1, 1)
		r.SnapshotOutcome("written")
		r.DateProcessed(false)
		r.RunFinished("failed")
	})
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.RunFinished("completed")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `riskbatch_batch_runs_total{status="completed"} 1`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
