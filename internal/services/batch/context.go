package batch

import (
	"time"

	"github.com/bobmcallan/riskbatch/internal/models"
	"github.com/bobmcallan/riskbatch/internal/services/pricecache"
)

// RunContext carries the state of one orchestrator run. A fresh one is built per run;
// nothing in it outlives the run.
type RunContext struct {
	BatchRunID   string
	PortfolioIDs []string
	Scoped       bool
	Force        bool
	Dates        []time.Time // ascending
	FinalDate    time.Time

	// Symbols is the collection and factor scope. Held is the subset in open positions.
	Symbols []string
	Held    []string

	Prices   *pricecache.Cache
	Profiles map[string]*models.CompanyProfile

	prePhases []models.PhaseResult
	perDate   []models.DateResult
	durations models.FloatMap
}

func newRunContext(id string, portfolioIDs []string, scoped, force bool, dates []time.Time) *RunContext {
	return &RunContext{
		BatchRunID:   id,
		PortfolioIDs: portfolioIDs,
		Scoped:       scoped,
		Force:        force,
		Dates:        dates,
		FinalDate:    dates[len(dates)-1],
		Profiles:     make(map[string]*models.CompanyProfile),
		durations:    make(models.FloatMap),
	}
}

func (rc *RunContext) addDuration(phase string, d time.Duration) {
	rc.durations[phase] += d.Seconds()
}

// Sectors maps symbol to profile sector for every known profile.
func (rc *RunContext) Sectors() map[string]string {
	out := make(map[string]string, len(rc.Profiles))
	for sym, p := range rc.Profiles {
		if p != nil && p.Sector != "" {
			out[sym] = p.Sector
		}
	}
	return out
}

// counts returns the dates that succeeded and failed so far.
func (rc *RunContext) counts() (completed, failed int) {
	for _, dr := range rc.perDate {
		if dr.Success {
			completed++
		} else {
			failed++
		}
	}
	return completed, failed
}

// dateState is the per-date scratch space shared by the phases of one date.
type dateState struct {
	date  time.Time
	final bool

	metrics map[string]*models.SymbolDailyMetrics

	snapshots  int
	duplicates int
}
