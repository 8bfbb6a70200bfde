package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/bobmcallan/riskbatch/internal/models"
)

// BatchRunStore implements interfaces.BatchRunStore.
type BatchRunStore struct {
	st *state
}

func (s *BatchRunStore) Create(ctx context.Context, rec *models.BatchRunRecord) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if _, exists := s.st.batchRuns[rec.BatchRunID]; exists {
		return fmt.Errorf("batch run %s already exists", rec.BatchRunID)
	}
	s.st.batchRuns[rec.BatchRunID] = cloneRun(rec)
	return nil
}

func (s *BatchRunStore) Update(ctx context.Context, rec *models.BatchRunRecord) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if _, exists := s.st.batchRuns[rec.BatchRunID]; !exists {
		return fmt.Errorf("batch run %s: %w", rec.BatchRunID, models.ErrNotFound)
	}
	s.st.batchRuns[rec.BatchRunID] = cloneRun(rec)
	return nil
}

func (s *BatchRunStore) Get(ctx context.Context, batchRunID string) (*models.BatchRunRecord, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	rec, ok := s.st.batchRuns[batchRunID]
	if !ok {
		return nil, fmt.Errorf("batch run %s: %w", batchRunID, models.ErrNotFound)
	}
	return cloneRun(rec), nil
}

// ListRecent returns runs newest first.
func (s *BatchRunStore) ListRecent(ctx context.Context, limit int) ([]*models.BatchRunRecord, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	out := make([]*models.BatchRunRecord, 0, len(s.st.batchRuns))
	for _, rec := range s.st.batchRuns {
		out = append(out, cloneRun(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRun(rec *models.BatchRunRecord) *models.BatchRunRecord {
	cp := *rec
	cp.PhaseDurations = rec.PhaseDurations.Clone()
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
