package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bobmcallan/riskbatch/internal/models"
)

// PortfolioStore implements interfaces.PortfolioStore.
type PortfolioStore struct {
	st *state
	tx *txLog
}

func (s *PortfolioStore) GetPortfolio(ctx context.Context, id string) (*models.Portfolio, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	p, ok := s.st.portfolios[id]
	if !ok {
		return nil, fmt.Errorf("portfolio %s: %w", id, models.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// GetPortfolioForUpdate relies on transactions being serialized by the manager.
func (s *PortfolioStore) GetPortfolioForUpdate(ctx context.Context, id string) (*models.Portfolio, error) {
	return s.GetPortfolio(ctx, id)
}

func (s *PortfolioStore) ListPortfolios(ctx context.Context) ([]*models.Portfolio, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	out := make([]*models.Portfolio, 0, len(s.st.portfolios))
	for _, p := range s.st.portfolios {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *PortfolioStore) SavePortfolio(ctx context.Context, p *models.Portfolio) error {
	if p.ID == "" {
		return fmt.Errorf("portfolio id is required")
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	now := s.st.now()
	cp := *p
	if existing, ok := s.st.portfolios[p.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.tx.record(restoreEntry(s.st.portfolios, p.ID))
	s.st.portfolios[p.ID] = &cp
	return nil
}

func (s *PortfolioStore) UpdateEquityBalance(ctx context.Context, id string, balance float64) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	p, ok := s.st.portfolios[id]
	if !ok {
		return fmt.Errorf("portfolio %s: %w", id, models.ErrNotFound)
	}
	cp := *p
	cp.EquityBalance = balance
	cp.UpdatedAt = s.st.now()
	s.tx.record(restoreEntry(s.st.portfolios, id))
	s.st.portfolios[id] = &cp
	return nil
}

// PositionStore implements interfaces.PositionStore.
type PositionStore struct {
	st *state
	tx *txLog
}

func (s *PositionStore) SavePosition(ctx context.Context, p *models.Position) error {
	if p.ID == "" || p.PortfolioID == "" {
		return fmt.Errorf("position id and portfolio id are required")
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	cp := *p
	cp.EntryDate = day(p.EntryDate)
	if p.ExitDate != nil {
		d := day(*p.ExitDate)
		cp.ExitDate = &d
	}
	cp.UpdatedAt = s.st.now()
	s.tx.record(restoreEntry(s.st.positions, p.ID))
	s.st.positions[p.ID] = &cp
	return nil
}

func (s *PositionStore) ListPositions(ctx context.Context, portfolioID string) ([]*models.Position, error) {
	return s.list(func(p *models.Position) bool { return p.PortfolioID == portfolioID }), nil
}

func (s *PositionStore) ListOpenPositions(ctx context.Context, portfolioID string, date time.Time) ([]*models.Position, error) {
	d := day(date)
	return s.list(func(p *models.Position) bool {
		return p.PortfolioID == portfolioID && p.IsOpenOn(d)
	}), nil
}

func (s *PositionStore) list(keep func(*models.Position) bool) []*models.Position {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []*models.Position
	for _, p := range s.st.positions {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *PositionStore) HeldSymbols(ctx context.Context, portfolioID string) ([]string, error) {
	held := s.list(func(p *models.Position) bool {
		return (portfolioID == "" || p.PortfolioID == portfolioID) && p.ExitDate == nil
	})
	seen := make(map[string]bool)
	var out []string
	for _, p := range held {
		for _, sym := range []string{p.PricedSymbol(), p.FactorSymbol()} {
			if sym != "" && !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *PositionStore) EarliestEntryDate(ctx context.Context, portfolioIDs []string) (*time.Time, error) {
	want := toSet(portfolioIDs)
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var earliest *time.Time
	for _, p := range s.st.positions {
		if len(want) > 0 && !want[p.PortfolioID] {
			continue
		}
		if earliest == nil || p.EntryDate.Before(*earliest) {
			d := p.EntryDate
			earliest = &d
		}
	}
	return earliest, nil
}

func (s *PositionStore) UpdateValuation(ctx context.Context, positionID string, lastPrice, marketValue, unrealizedPnL float64) error {
	return s.update(positionID, func(p *models.Position) {
		p.LastPrice = lastPrice
		p.MarketValue = marketValue
		p.UnrealizedPnL = unrealizedPnL
	})
}

func (s *PositionStore) UpdateSector(ctx context.Context, positionID, sector string) error {
	return s.update(positionID, func(p *models.Position) { p.Sector = sector })
}

func (s *PositionStore) update(id string, mutate func(*models.Position)) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	p, ok := s.st.positions[id]
	if !ok {
		return fmt.Errorf("position %s: %w", id, models.ErrNotFound)
	}
	cp := *p
	mutate(&cp)
	cp.UpdatedAt = s.st.now()
	s.tx.record(restoreEntry(s.st.positions, id))
	s.st.positions[id] = &cp
	return nil
}

// SnapshotStore implements interfaces.SnapshotStore. The slots index plays the
// role of the (portfolio_id, snapshot_date) unique constraint.
type SnapshotStore struct {
	st *state
	tx *txLog
}

func (s *SnapshotStore) InsertPlaceholder(ctx context.Context, snap *models.PortfolioSnapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("snapshot id is required")
	}
	key := slotKey{snap.PortfolioID, day(snap.SnapshotDate)}

	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if _, taken := s.st.slots[key]; taken {
		return fmt.Errorf("portfolio %s on %s: %w", snap.PortfolioID, key.date.Format("2006-01-02"), models.ErrDuplicateRun)
	}
	now := s.st.now()
	cp := cloneSnapshot(snap)
	cp.SnapshotDate = key.date
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.tx.record(restoreEntry(s.st.slots, key))
	s.tx.record(restoreEntry(s.st.snapshots, snap.ID))
	s.st.slots[key] = snap.ID
	s.st.snapshots[snap.ID] = cp
	snap.CreatedAt, snap.UpdatedAt = now, now
	return nil
}

func (s *SnapshotStore) Update(ctx context.Context, snap *models.PortfolioSnapshot) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	existing, ok := s.st.snapshots[snap.ID]
	if !ok {
		return fmt.Errorf("snapshot %s: %w", snap.ID, models.ErrNotFound)
	}
	cp := cloneSnapshot(snap)
	cp.PortfolioID = existing.PortfolioID
	cp.SnapshotDate = existing.SnapshotDate
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = s.st.now()
	s.tx.record(restoreEntry(s.st.snapshots, snap.ID))
	s.st.snapshots[snap.ID] = cp
	snap.UpdatedAt = cp.UpdatedAt
	return nil
}

func (s *SnapshotStore) Delete(ctx context.Context, id string) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.deleteLocked(id)
	return nil
}

func (s *SnapshotStore) deleteLocked(id string) {
	existing, ok := s.st.snapshots[id]
	if !ok {
		return
	}
	key := slotKey{existing.PortfolioID, existing.SnapshotDate}
	s.tx.record(restoreEntry(s.st.slots, key))
	s.tx.record(restoreEntry(s.st.snapshots, id))
	delete(s.st.slots, key)
	delete(s.st.snapshots, id)
}

func (s *SnapshotStore) Get(ctx context.Context, portfolioID string, date time.Time) (*models.PortfolioSnapshot, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	id, ok := s.st.slots[slotKey{portfolioID, day(date)}]
	if !ok {
		return nil, fmt.Errorf("snapshot %s %s: %w", portfolioID, day(date).Format("2006-01-02"), models.ErrNotFound)
	}
	return cloneSnapshot(s.st.snapshots[id]), nil
}

func (s *SnapshotStore) GetPreviousComplete(ctx context.Context, portfolioID string, date time.Time) (*models.PortfolioSnapshot, error) {
	d := day(date)
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var best *models.PortfolioSnapshot
	for _, snap := range s.st.snapshots {
		if snap.PortfolioID != portfolioID || !snap.IsComplete || !snap.SnapshotDate.Before(d) {
			continue
		}
		if best == nil || snap.SnapshotDate.After(best.SnapshotDate) {
			best = snap
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneSnapshot(best), nil
}

func (s *SnapshotStore) LatestCompleteDate(ctx context.Context, portfolioIDs []string) (*time.Time, error) {
	want := toSet(portfolioIDs)
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var latest *time.Time
	for _, snap := range s.st.snapshots {
		if !snap.IsComplete || (len(want) > 0 && !want[snap.PortfolioID]) {
			continue
		}
		if latest == nil || snap.SnapshotDate.After(*latest) {
			d := snap.SnapshotDate
			latest = &d
		}
	}
	return latest, nil
}

func (s *SnapshotStore) List(ctx context.Context, portfolioID string, from, to time.Time) ([]*models.PortfolioSnapshot, error) {
	f, t := day(from), day(to)
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []*models.PortfolioSnapshot
	for _, snap := range s.st.snapshots {
		if snap.PortfolioID != portfolioID || snap.SnapshotDate.Before(f) || snap.SnapshotDate.After(t) {
			continue
		}
		out = append(out, cloneSnapshot(snap))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotDate.Before(out[j].SnapshotDate) })
	return out, nil
}

func (s *SnapshotStore) DeleteIncompleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var stale []string
	for id, snap := range s.st.snapshots {
		if !snap.IsComplete && snap.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		s.deleteLocked(id)
	}
	return len(stale), nil
}

func cloneSnapshot(snap *models.PortfolioSnapshot) *models.PortfolioSnapshot {
	cp := *snap
	cp.SectorExposure = snap.SectorExposure.Clone()
	if snap.MarketBeta != nil {
		cp.MarketBeta = models.Float64Ptr(*snap.MarketBeta)
	}
	return &cp
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
