package storage

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/planet-auction/internal/core/domain"
	"github.com/rl1809/planet-auction/internal/port"
)

// MemoryAdapter keeps the three tables in maps. Transactions are serialised
// by a single mutex and applied only when fn succeeds.
type MemoryAdapter struct {
	mu           sync.Mutex
	planets      map[int64]domain.Planet
	players      map[string]domain.Player
	transactions []domain.Transaction
	rng          func() float64
	now          func() time.Time
	lastCommit   time.Time
}

type MemoryOption func(*MemoryAdapter)

// WithRand replaces the source used for Bernoulli sampling.
func WithRand(rng func() float64) MemoryOption {
	return func(m *MemoryAdapter) { m.rng = rng }
}

func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryAdapter) { m.now = now }
}

func NewMemoryAdapter(opts ...MemoryOption) *MemoryAdapter {
	m := &MemoryAdapter{
		planets: make(map[int64]domain.Planet),
		players: make(map[string]domain.Player),
		rng:     rand.Float64,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryAdapter) CreateSchema(ctx context.Context) error {
	return nil
}

func (m *MemoryAdapter) InsertPlanets(ctx context.Context, planets []domain.Planet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range planets {
		if _, ok := m.planets[p.ID]; ok {
			return domain.NewStoreError("insert planets", domain.KindAlreadyExists,
				fmt.Errorf("planet %d already exists", p.ID))
		}
	}
	for _, p := range planets {
		m.planets[p.ID] = p
	}
	return nil
}

func (m *MemoryAdapter) InsertPlayers(ctx context.Context, players []domain.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range players {
		if _, ok := m.players[p.ID]; ok {
			return domain.NewStoreError("insert players", domain.KindAlreadyExists,
				fmt.Errorf("player %s already exists", p.ID))
		}
	}
	for _, p := range players {
		m.players[p.ID] = p
	}
	return nil
}

func (m *MemoryAdapter) SamplePlanet(ctx context.Context, percent float64) (*domain.Planet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.planets))
	for id := range m.planets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		p := m.planets[id]
		if p.SharesAvailable > 0 && m.sampled(percent) {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *MemoryAdapter) SamplePlayer(ctx context.Context, percent float64, minBalance int64) (*domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.players))
	for id := range m.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := m.players[id]
		if p.PlanetDollars >= minBalance && m.sampled(percent) {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *MemoryAdapter) sampled(percent float64) bool {
	return percent >= 100 || m.rng()*100 < percent
}

func (m *MemoryAdapter) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[playerID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Planet reads a planet outside any transaction.
func (m *MemoryAdapter) Planet(planetID int64) (domain.Planet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.planets[planetID]
	return p, ok
}

// Transactions returns a copy of the ledger in commit order.
func (m *MemoryAdapter) Transactions() []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Transaction(nil), m.transactions...)
}

func (m *MemoryAdapter) Totals(ctx context.Context) (domain.Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var t domain.Totals
	for _, tr := range m.transactions {
		t.LedgerRows++
		t.LedgerAmount += tr.Amount
	}
	for _, p := range m.planets {
		t.SharesAvailable += p.SharesAvailable
		if p.SharesAvailable < 0 {
			t.NegativeShares++
		}
	}
	for _, p := range m.players {
		t.PlanetDollars += p.PlanetDollars
		if p.PlanetDollars < 0 {
			t.NegativeBalances++
		}
	}
	return t, nil
}

func (m *MemoryAdapter) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx port.SettlementTx) error) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return time.Time{}, domain.NewStoreError("begin transaction", domain.KindFatal, err)
	}

	tx := &memoryTx{
		store:   m,
		planets: make(map[int64]domain.Planet),
		players: make(map[string]domain.Player),
	}
	if err := fn(ctx, tx); err != nil {
		return time.Time{}, err
	}

	// Commit timestamps are strictly increasing, like a real store's.
	commitAt := m.now()
	if !commitAt.After(m.lastCommit) {
		commitAt = m.lastCommit.Add(time.Microsecond)
	}
	m.lastCommit = commitAt

	for id, p := range tx.planets {
		m.planets[id] = p
	}
	for id, p := range tx.players {
		m.players[id] = p
	}
	for _, tr := range tx.appended {
		tr.Timestamp = commitAt
		m.transactions = append(m.transactions, tr)
	}
	return commitAt, nil
}

func (m *MemoryAdapter) Close() error {
	return nil
}

// memoryTx stages writes until the enclosing RunInTransaction commits. The
// store mutex is held for its whole life.
type memoryTx struct {
	store    *MemoryAdapter
	planets  map[int64]domain.Planet
	players  map[string]domain.Player
	appended []domain.Transaction
}

func (t *memoryTx) GetPlanet(ctx context.Context, planetID int64) (*domain.Planet, error) {
	if p, ok := t.planets[planetID]; ok {
		return &p, nil
	}
	if p, ok := t.store.planets[planetID]; ok {
		return &p, nil
	}
	return nil, nil
}

func (t *memoryTx) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	if p, ok := t.players[playerID]; ok {
		return &p, nil
	}
	if p, ok := t.store.players[playerID]; ok {
		return &p, nil
	}
	return nil, nil
}

func (t *memoryTx) DecrementShares(ctx context.Context, planetID int64) (bool, error) {
	p, _ := t.GetPlanet(ctx, planetID)
	if p == nil || p.SharesAvailable <= 0 {
		return false, nil
	}
	p.SharesAvailable--
	t.planets[planetID] = *p
	return true, nil
}

func (t *memoryTx) DebitPlayer(ctx context.Context, playerID string, amount int64) (bool, error) {
	p, _ := t.GetPlayer(ctx, playerID)
	if p == nil || p.PlanetDollars < amount {
		return false, nil
	}
	p.PlanetDollars -= amount
	t.players[playerID] = *p
	return true, nil
}

func (t *memoryTx) AppendTransaction(ctx context.Context, record domain.Transaction) error {
	t.appended = append(t.appended, record)
	return nil
}
