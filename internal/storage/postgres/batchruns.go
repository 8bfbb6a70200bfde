package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/bobmcallan/riskbatch/internal/models"
)

const batchRunColumns = `batch_run_id, status, portfolio_scope, total_jobs, completed_jobs, failed_jobs,
	phase_durations, error_summary, started_at, completed_at`

// BatchRunStore implements interfaces.BatchRunStore
type BatchRunStore struct {
	store
}

func (s *BatchRunStore) Create(ctx context.Context, rec *models.BatchRunRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `INSERT INTO batch_runs (` + batchRunColumns + `)
		VALUES (:batch_run_id, :status, :portfolio_scope, :total_jobs, :completed_jobs, :failed_jobs,
			:phase_durations, :error_summary, :started_at, :completed_at)`

	if _, err := sqlx.NamedExecContext(ctx, s.q, query, rec); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("batch run %s already exists: %w", rec.BatchRunID, err)
		}
		return fmt.Errorf("failed to create batch run: %w", err)
	}
	return nil
}

func (s *BatchRunStore) Update(ctx context.Context, rec *models.BatchRunRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE batch_runs SET
			status = :status,
			total_jobs = :total_jobs,
			completed_jobs = :completed_jobs,
			failed_jobs = :failed_jobs,
			phase_durations = :phase_durations,
			error_summary = :error_summary,
			completed_at = :completed_at
		WHERE batch_run_id = :batch_run_id`

	res, err := sqlx.NamedExecContext(ctx, s.q, query, rec)
	if err != nil {
		return fmt.Errorf("failed to update batch run: %w", err)
	}
	return expectRow(res, "batch run", rec.BatchRunID)
}

func (s *BatchRunStore) Get(ctx context.Context, batchRunID string) (*models.BatchRunRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rec models.BatchRunRecord
	err := sqlx.GetContext(ctx, s.q, &rec, `SELECT `+batchRunColumns+` FROM batch_runs WHERE batch_run_id = $1`, batchRunID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("batch run %s: %w", batchRunID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get batch run: %w", err)
	}
	return &rec, nil
}

// ListRecent returns runs newest first.
func (s *BatchRunStore) ListRecent(ctx context.Context, limit int) ([]*models.BatchRunRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	var out []*models.BatchRunRecord
	query := `SELECT ` + batchRunColumns + ` FROM batch_runs ORDER BY started_at DESC LIMIT $1`
	if err := sqlx.SelectContext(ctx, s.q, &out, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list batch runs: %w", err)
	}
	return out, nil
}
