package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bobmcallan/riskbatch/internal/models"
)

// FactorStore implements interfaces.FactorStore.
type FactorStore struct {
	st *state
	tx *txLog
}

func (s *FactorStore) CountForMethod(ctx context.Context, symbol string, date time.Time, method string) (int, error) {
	d := day(date)
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	n := 0
	for k := range s.st.factors {
		if k.Symbol == symbol && k.Date.Equal(d) && k.Method == method {
			n++
		}
	}
	return n, nil
}

func (s *FactorStore) Upsert(ctx context.Context, rows []*models.SymbolFactorExposure) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	now := s.st.now()
	for _, r := range rows {
		cp := *r
		cp.CalculationDate = day(r.CalculationDate)
		cp.UpdatedAt = now
		key := cp.Key()
		s.tx.record(restoreEntry(s.st.factors, key))
		s.st.factors[key] = &cp
	}
	return nil
}

func (s *FactorStore) GetBetas(ctx context.Context, symbols []string, date time.Time, method string) (map[string]map[string]float64, error) {
	d := day(date)
	want := toSet(symbols)
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	out := make(map[string]map[string]float64)
	for k, row := range s.st.factors {
		if !want[k.Symbol] || !k.Date.Equal(d) || k.Method != method {
			continue
		}
		if out[k.Symbol] == nil {
			out[k.Symbol] = make(map[string]float64)
		}
		out[k.Symbol][k.Factor] = row.BetaValue
	}
	return out, nil
}

func (s *FactorStore) List(ctx context.Context, symbol string, date time.Time) ([]*models.SymbolFactorExposure, error) {
	d := day(date)
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []*models.SymbolFactorExposure
	for k, row := range s.st.factors {
		if k.Symbol == symbol && k.Date.Equal(d) {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CalculationMethod != out[j].CalculationMethod {
			return out[i].CalculationMethod < out[j].CalculationMethod
		}
		return out[i].FactorName < out[j].FactorName
	})
	return out, nil
}

// SymbolMetricsStore implements interfaces.SymbolMetricsStore.
type SymbolMetricsStore struct {
	st *state
}

func (s *SymbolMetricsStore) Upsert(ctx context.Context, rows []*models.SymbolDailyMetrics) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	now := s.st.now()
	for _, r := range rows {
		cp := *r
		cp.MetricDate = day(r.MetricDate)
		cp.UpdatedAt = now
		s.st.symbolMetrics[symbolDateKey{cp.Symbol, cp.MetricDate}] = &cp
	}
	return nil
}

func (s *SymbolMetricsStore) GetForDate(ctx context.Context, symbols []string, date time.Time) (map[string]*models.SymbolDailyMetrics, error) {
	d := day(date)
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	out := make(map[string]*models.SymbolDailyMetrics, len(symbols))
	for _, sym := range symbols {
		if m, ok := s.st.symbolMetrics[symbolDateKey{sym, d}]; ok {
			cp := *m
			out[sym] = &cp
		}
	}
	return out, nil
}

// RiskMetricsStore implements interfaces.RiskMetricsStore.
type RiskMetricsStore struct {
	st *state
	tx *txLog
}

func (s *RiskMetricsStore) Upsert(ctx context.Context, m *models.PortfolioRiskMetrics) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	cp := *m
	cp.MetricDate = day(m.MetricDate)
	cp.FactorExposures = m.FactorExposures.Clone()
	cp.UpdatedAt = s.st.now()
	key := slotKey{cp.PortfolioID, cp.MetricDate}
	s.tx.record(restoreEntry(s.st.riskMetrics, key))
	s.st.riskMetrics[key] = &cp
	return nil
}

func (s *RiskMetricsStore) Get(ctx context.Context, portfolioID string, date time.Time) (*models.PortfolioRiskMetrics, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	m, ok := s.st.riskMetrics[slotKey{portfolioID, day(date)}]
	if !ok {
		return nil, fmt.Errorf("risk metrics %s: %w", portfolioID, models.ErrNotFound)
	}
	cp := *m
	cp.FactorExposures = m.FactorExposures.Clone()
	return &cp, nil
}
