package models

import "time"

// Batch run statuses. A run is never left in BatchStatusRunning once the orchestrator returns.
const (
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
	BatchStatusPartial   = "partial"
	BatchStatusFailed    = "failed"
)

// BatchRunRecord is the persisted history entry for one orchestrator run.
type BatchRunRecord struct {
	BatchRunID     string     `json:"batch_run_id" db:"batch_run_id"`
	Status         string     `json:"status" db:"status"`
	PortfolioScope string     `json:"portfolio_scope,omitempty" db:"portfolio_scope"`
	TotalJobs      int        `json:"total_jobs" db:"total_jobs"`
	CompletedJobs  int        `json:"completed_jobs" db:"completed_jobs"`
	FailedJobs     int        `json:"failed_jobs" db:"failed_jobs"`
	PhaseDurations FloatMap   `json:"phase_durations" db:"phase_durations"` // phase → seconds
	ErrorSummary   string     `json:"error_summary,omitempty" db:"error_summary"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// IsTerminal reports whether the run reached a final status.
func (r *BatchRunRecord) IsTerminal() bool {
	return r.Status != BatchStatusRunning
}

// Phase names, in execution order.
const (
	PhaseCompanyProfiles    = "company_profiles"
	PhaseMarketData         = "market_data"
	PhaseSymbolFactors      = "symbol_factors"
	PhaseSymbolMetrics      = "symbol_metrics"
	PhaseFundamentals       = "fundamentals"
	PhasePlaceholderCleanup = "placeholder_cleanup"
	PhasePnLSnapshot        = "pnl_snapshot"
	PhasePositionValues     = "position_values"
	PhaseSectorTags         = "sector_tags"
	PhaseRiskAnalytics      = "risk_analytics"
)

// PhaseCriticality decides whether a phase failure fails its date.
type PhaseCriticality int

const (
	NonCritical PhaseCriticality = iota
	Critical
)

func (c PhaseCriticality) String() string {
	if c == Critical {
		return "critical"
	}
	return "non_critical"
}

// PhaseResult records one phase execution for one date.
type PhaseResult struct {
	Phase         string           `json:"phase"`
	Criticality   PhaseCriticality `json:"criticality"`
	Duration      time.Duration    `json:"duration"`
	Processed     int              `json:"processed"`
	Skipped       int              `json:"skipped"`
	Failed        int              `json:"failed"`
	NotApplicable bool             `json:"not_applicable,omitempty"` // skipped for historical dates
	Error         string           `json:"error,omitempty"`
}

// DateResult is the outcome of one calculation date.
type DateResult struct {
	Date      time.Time     `json:"date"`
	Success   bool          `json:"success"`
	Phases    []PhaseResult `json:"phases"`
	Snapshots int           `json:"snapshots"`
	Duplicate int           `json:"duplicate"` // portfolios whose slot was already claimed
	Error     string        `json:"error,omitempty"`
}

// BackfillResult summarizes an orchestrator run.
type BackfillResult struct {
	BatchRunID     string `json:"batch_run_id,omitempty"`
	Status         string `json:"status"`
	UpToDate       bool   `json:"up_to_date"`
	DatesProcessed int    `json:"dates_processed"`

	// PrePhases are the cross-date phases run once before the per-date sequence.
	PrePhases []PhaseResult `json:"pre_phases,omitempty"`
	PerDate   []DateResult  `json:"per_date"`
	Errors    []string      `json:"errors,omitempty"`
}

// BatchProgress is the live view of a running backfill.
type BatchProgress struct {
	BatchRunID   string     `json:"batch_run_id,omitempty"`
	Running      bool       `json:"running"`
	CurrentDate  *time.Time `json:"current_date,omitempty"`
	CurrentPhase string     `json:"current_phase,omitempty"`
	DatesDone    int        `json:"dates_done"`
	DatesTotal   int        `json:"dates_total"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
}
