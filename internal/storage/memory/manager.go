// Package memory implements the storage contracts in process memory.
// It backs dry runs and service tests; nothing survives the process.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/riskbatch/internal/calendar"
	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/models"
)

const defaultMaxConns = 8

type slotKey struct {
	portfolioID string
	date        time.Time
}

type symbolDateKey struct {
	symbol string
	date   time.Time
}

// state is the shared data behind every store. All access holds mu.
type state struct {
	mu sync.Mutex

	portfolios    map[string]*models.Portfolio
	positions     map[string]*models.Position
	snapshots     map[string]*models.PortfolioSnapshot
	slots         map[slotKey]string
	factors       map[models.FactorKey]*models.SymbolFactorExposure
	symbolMetrics map[symbolDateKey]*models.SymbolDailyMetrics
	riskMetrics   map[slotKey]*models.PortfolioRiskMetrics
	batchRuns     map[string]*models.BatchRunRecord
	market        map[string]*models.MarketData

	now func() time.Time
}

// txLog collects undo steps for an open transaction. A nil log means autocommit.
type txLog struct {
	undo []func()
}

// record registers an undo step. Callers hold s.mu.
func (l *txLog) record(fn func()) {
	if l != nil {
		l.undo = append(l.undo, fn)
	}
}

// restoreEntry captures the current value of m[k] and returns a step that puts it back.
func restoreEntry[K comparable, V any](m map[K]V, k K) func() {
	old, had := m[k]
	return func() {
		if had {
			m[k] = old
		} else {
			delete(m, k)
		}
	}
}

// Manager implements interfaces.StorageManager in memory.
type Manager struct {
	st       *state
	txMu     sync.Mutex
	maxConns int
	logger   *common.Logger

	portfolioStore *PortfolioStore
	positionStore  *PositionStore
	snapshotStore  *SnapshotStore
	factorStore    *FactorStore
	metricsStore   *SymbolMetricsStore
	riskStore      *RiskMetricsStore
	batchRunStore  *BatchRunStore
	marketStore    *MarketStore
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxConns sets the simulated pool size reported by MaxConns.
func WithMaxConns(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxConns = n
		}
	}
}

// WithClock overrides the time source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.st.now = now
	}
}

// NewManager creates an empty in-memory storage manager.
func NewManager(logger *common.Logger, opts ...Option) *Manager {
	st := &state{
		portfolios:    make(map[string]*models.Portfolio),
		positions:     make(map[string]*models.Position),
		snapshots:     make(map[string]*models.PortfolioSnapshot),
		slots:         make(map[slotKey]string),
		factors:       make(map[models.FactorKey]*models.SymbolFactorExposure),
		symbolMetrics: make(map[symbolDateKey]*models.SymbolDailyMetrics),
		riskMetrics:   make(map[slotKey]*models.PortfolioRiskMetrics),
		batchRuns:     make(map[string]*models.BatchRunRecord),
		market:        make(map[string]*models.MarketData),
		now:           time.Now,
	}
	m := &Manager{st: st, maxConns: defaultMaxConns, logger: logger}
	for _, opt := range opts {
		opt(m)
	}

	m.portfolioStore = &PortfolioStore{st: st}
	m.positionStore = &PositionStore{st: st}
	m.snapshotStore = &SnapshotStore{st: st}
	m.factorStore = &FactorStore{st: st}
	m.metricsStore = &SymbolMetricsStore{st: st}
	m.riskStore = &RiskMetricsStore{st: st}
	m.batchRunStore = &BatchRunStore{st: st}
	m.marketStore = &MarketStore{st: st}

	logger.Debug().Int("max_conns", m.maxConns).Msg("Memory storage manager initialized")
	return m
}

func (m *Manager) PortfolioStore() interfaces.PortfolioStore { return m.portfolioStore }
func (m *Manager) PositionStore() interfaces.PositionStore { return m.positionStore }
func (m *Manager) SnapshotStore() interfaces.SnapshotStore { return m.snapshotStore }
func (m *Manager) FactorStore() interfaces.FactorStore { return m.factorStore }
func (m *Manager) SymbolMetricsStore() interfaces.SymbolMetricsStore { return m.metricsStore }
func (m *Manager) RiskMetricsStore() interfaces.RiskMetricsStore { return m.riskStore }
func (m *Manager) BatchRunStore() interfaces.BatchRunStore { return m.batchRunStore }
func (m *Manager) MarketDataStorage() interfaces.MarketDataStorage { return m.marketStore }

// MaxConns reports the simulated pool size.
func (m *Manager) MaxConns() int { return m.maxConns }

// Close is a no-op.
func (m *Manager) Close() error { return nil }

// WithinTx runs fn with stores that journal their writes. Transactions are
// serialized; on error or panic the journal is replayed backwards.
func (m *Manager) WithinTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) (err error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	log := &txLog{}
	tx := &memTx{
		portfolios:  &PortfolioStore{st: m.st, tx: log},
		positions:   &PositionStore{st: m.st, tx: log},
		snapshots:   &SnapshotStore{st: m.st, tx: log},
		factors:     &FactorStore{st: m.st, tx: log},
		riskMetrics: &RiskMetricsStore{st: m.st, tx: log},
	}

	defer func() {
		if r := recover(); r != nil {
			m.rollback(log)
			panic(r)
		}
		if err != nil {
			m.rollback(log)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}
	return nil
}

func (m *Manager) rollback(log *txLog) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for i := len(log.undo) - 1; i >= 0; i-- {
		log.undo[i]()
	}
	log.undo = nil
}

type memTx struct {
	portfolios  *PortfolioStore
	positions   *PositionStore
	snapshots   *SnapshotStore
	factors     *FactorStore
	riskMetrics *RiskMetricsStore
}

func (t *memTx) Portfolios() interfaces.PortfolioStore { return t.portfolios }
func (t *memTx) Positions() interfaces.PositionStore { return t.positions }
func (t *memTx) Snapshots() interfaces.SnapshotStore { return t.snapshots }
func (t *memTx) Factors() interfaces.FactorStore { return t.factors }
func (t *memTx) RiskMetrics() interfaces.RiskMetricsStore { return t.riskMetrics }

func day(t time.Time) time.Time { return calendar.Normalize(t) }
