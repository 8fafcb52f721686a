package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/planet-auction/internal/core/domain"
	"github.com/rl1809/planet-auction/internal/core/retry"
	"github.com/rl1809/planet-auction/internal/port"
)

const (
	DefaultPlayerBatches   = 100
	DefaultPlayersPerBatch = 2499
)

var ErrInvalidPlanetRecord = errors.New("invalid planet record")

// SeedService creates the schema and the initial planets and players.
type SeedService struct {
	store port.AuctionStore
	retry retry.Policy
}

func NewSeedService(store port.AuctionStore, policy retry.Policy) *SeedService {
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = domain.IsTransient
	}
	return &SeedService{store: store, retry: policy}
}

// CreateDatabase is idempotent: an existing database or table is not an error.
func (s *SeedService) CreateDatabase(ctx context.Context) error {
	if err := s.store.CreateSchema(ctx); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SeedService) InsertPlanet(ctx context.Context, name string, value int64) (domain.Planet, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Planet{}, fmt.Errorf("%w: empty name", ErrInvalidPlanetRecord)
	}
	if value < 0 {
		return domain.Planet{}, fmt.Errorf("%w: negative value %d", ErrInvalidPlanetRecord, value)
	}

	planet := domain.Planet{
		ID:              newPlanetID(),
		Name:            name,
		Value:           value,
		SharesAvailable: domain.StartingSharesAvailable,
	}
	_, err := retry.Do(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.InsertPlanets(ctx, []domain.Planet{planet})
	})
	if err != nil {
		return domain.Planet{}, fmt.Errorf("insert planet %q: %w", name, err)
	}
	return planet, nil
}

// BatchInsertPlanets reads "name,value" lines and inserts each planet in its
// own transaction. It returns the number of planets inserted before any error.
func (s *SeedService) BatchInsertPlanets(ctx context.Context, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	inserted := 0
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return inserted, nil
		}
		if err != nil {
			return inserted, fmt.Errorf("read line %d: %w", line, err)
		}
		if len(record) < 2 {
			return inserted, fmt.Errorf("%w: line %d has %d fields", ErrInvalidPlanetRecord, line, len(record))
		}

		value, err := strconv.ParseInt(strings.TrimSpace(record[1]), 10, 64)
		if err != nil {
			return inserted, fmt.Errorf("%w: line %d: %v", ErrInvalidPlanetRecord, line, err)
		}
		if _, err := s.InsertPlanet(ctx, strings.TrimSpace(record[0]), value); err != nil {
			return inserted, err
		}
		inserted++
	}
}

// BatchInsertPlayers inserts batches*perBatch players, one transaction per
// batch, each starting with domain.StartingPlanetDollars.
func (s *SeedService) BatchInsertPlayers(ctx context.Context, batches, perBatch int) (int, error) {
	inserted := 0
	for b := 0; b < batches; b++ {
		players := make([]domain.Player, 0, perBatch)
		for i := 0; i < perBatch; i++ {
			players = append(players, newPlayer(""))
		}

		_, err := retry.Do(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.store.InsertPlayers(ctx, players)
		})
		if err != nil {
			return inserted, fmt.Errorf("insert player batch %d: %w", b, err)
		}
		inserted += len(players)
		log.WithFields(log.Fields{"batch": b + 1, "inserted": inserted}).Debug("inserted player batch")
	}
	return inserted, nil
}

// RegisterPlayer creates a single player, as the web flow does on a first visit.
func (s *SeedService) RegisterPlayer(ctx context.Context, name string) (domain.Player, error) {
	player := newPlayer(strings.TrimSpace(name))
	_, err := retry.Do(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.InsertPlayers(ctx, []domain.Player{player})
	})
	if err != nil {
		return domain.Player{}, fmt.Errorf("register player: %w", err)
	}
	return player, nil
}

// newPlanetID derives a positive 31-bit id from a random UUID.
func newPlanetID() int64 {
	for {
		if id := int64(uuid.New().ID() & 0x7fffffff); id != 0 {
			return id
		}
	}
}

func newPlayer(name string) domain.Player {
	if name == "" {
		name = "Player-" + uuid.NewString()[:8]
	}
	return domain.Player{
		ID:            strings.ReplaceAll(uuid.NewString(), "-", ""),
		Name:          name,
		PlanetDollars: domain.StartingPlanetDollars,
	}
}
