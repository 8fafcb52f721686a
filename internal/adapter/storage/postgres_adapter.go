package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rl1809/planet-auction/internal/core/domain"
	"github.com/rl1809/planet-auction/internal/port"
)

// PostgreSQL SQLSTATE codes the adapter classifies.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgTooManyConnections   = "53300"
	pgDuplicateDatabase    = "42P04"
	pgDuplicateTable       = "42P07"
	pgUniqueViolation      = "23505"
)

type PostgresAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

func OpenPostgres(ctx context.Context, dsn string) (*PostgresAdapter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, classifyPostgres("connect", err)
	}
	return &PostgresAdapter{pool: pool}, nil
}

// CreateSchema creates the tables in the database named by the DSN. Creating
// the database itself is left to the operator.
func (p *PostgresAdapter) CreateSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			if err := classifyPostgres("create table", err); !domain.IsAlreadyExists(err) {
				return err
			}
		}
	}
	return nil
}

func (p *PostgresAdapter) InsertPlanets(ctx context.Context, planets []domain.Planet) error {
	rows := make([][]any, 0, len(planets))
	for _, pl := range planets {
		rows = append(rows, []any{pl.ID, pl.Name, pl.Value, pl.SharesAvailable})
	}
	_, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{"planets"},
		[]string{"planet_id", "planet_name", "planet_value", "shares_available"},
		pgx.CopyFromRows(rows),
	)
	return classifyPostgres("insert planets", err)
}

func (p *PostgresAdapter) InsertPlayers(ctx context.Context, players []domain.Player) error {
	rows := make([][]any, 0, len(players))
	for _, pl := range players {
		rows = append(rows, []any{pl.ID, pl.Name, pl.PlanetDollars})
	}
	_, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{"players"},
		[]string{"player_id", "player_name", "planet_dollars"},
		pgx.CopyFromRows(rows),
	)
	return classifyPostgres("insert players", err)
}

func (p *PostgresAdapter) SamplePlanet(ctx context.Context, percent float64) (*domain.Planet, error) {
	var pl domain.Planet
	var name *string
	var value *int64
	err := p.pool.QueryRow(ctx, `
		SELECT planet_id, planet_name, planet_value, shares_available
		FROM planets TABLESAMPLE BERNOULLI ($1)
		WHERE shares_available > 0 LIMIT 1`, percent,
	).Scan(&pl.ID, &name, &value, &pl.SharesAvailable)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyPostgres("sample planet", err)
	}

	pl.Name, pl.Value = deref(name), deref(value)
	return &pl, nil
}

func (p *PostgresAdapter) SamplePlayer(ctx context.Context, percent float64, minBalance int64) (*domain.Player, error) {
	var pl domain.Player
	var name *string
	err := p.pool.QueryRow(ctx, `
		SELECT player_id, player_name, planet_dollars
		FROM players TABLESAMPLE BERNOULLI ($1)
		WHERE planet_dollars >= $2 LIMIT 1`, percent, minBalance,
	).Scan(&pl.ID, &name, &pl.PlanetDollars)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyPostgres("sample player", err)
	}

	pl.Name = deref(name)
	return &pl, nil
}

func (p *PostgresAdapter) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	return pgGetPlayer(ctx, p.pool, playerID)
}

func (p *PostgresAdapter) Totals(ctx context.Context) (domain.Totals, error) {
	var t domain.Totals
	err := p.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM transactions),
			(SELECT COALESCE(SUM(amount), 0) FROM transactions),
			(SELECT COALESCE(SUM(shares_available), 0) FROM planets),
			(SELECT COUNT(*) FROM planets WHERE shares_available < 0),
			(SELECT COALESCE(SUM(planet_dollars), 0) FROM players),
			(SELECT COUNT(*) FROM players WHERE planet_dollars < 0)`,
	).Scan(&t.LedgerRows, &t.LedgerAmount, &t.SharesAvailable, &t.NegativeShares,
		&t.PlanetDollars, &t.NegativeBalances)
	if err != nil {
		return t, classifyPostgres("totals", err)
	}
	return t, nil
}

// RunInTransaction uses serializable isolation; a conflict surfaces as
// SQLSTATE 40001 and is classified transient.
func (p *PostgresAdapter) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx port.SettlementTx) error) (time.Time, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return time.Time{}, classifyPostgres("begin tx", err)
	}
	defer tx.Rollback(ctx)

	ptx := &postgresTx{tx: tx}
	if err := fn(ctx, ptx); err != nil {
		return time.Time{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, classifyPostgres("commit", err)
	}

	if ptx.stamp.IsZero() {
		return time.Now(), nil
	}
	return ptx.stamp, nil
}

func (p *PostgresAdapter) Close() error {
	p.pool.Close()
	return nil
}

type postgresTx struct {
	tx    pgx.Tx
	stamp time.Time
}

func (t *postgresTx) GetPlanet(ctx context.Context, planetID int64) (*domain.Planet, error) {
	var pl domain.Planet
	var name *string
	var value *int64
	err := t.tx.QueryRow(ctx, `
		SELECT planet_id, planet_name, planet_value, shares_available
		FROM planets WHERE planet_id = $1`, planetID,
	).Scan(&pl.ID, &name, &value, &pl.SharesAvailable)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyPostgres("read planet", err)
	}

	pl.Name, pl.Value = deref(name), deref(value)
	return &pl, nil
}

func (t *postgresTx) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	return pgGetPlayer(ctx, t.tx, playerID)
}

func (t *postgresTx) DecrementShares(ctx context.Context, planetID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE planets SET shares_available = shares_available - 1
		WHERE planet_id = $1 AND shares_available > 0`, planetID)
	if err != nil {
		return false, classifyPostgres("decrement shares", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *postgresTx) DebitPlayer(ctx context.Context, playerID string, amount int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE players SET planet_dollars = planet_dollars - $2
		WHERE player_id = $1 AND planet_dollars >= $2`, playerID, amount)
	if err != nil {
		return false, classifyPostgres("debit player", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AppendTransaction stamps the row with clock_timestamp(), the time of the
// insert itself.
func (t *postgresTx) AppendTransaction(ctx context.Context, record domain.Transaction) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO transactions (planet_id, player_id, amount, time_stamp)
		VALUES ($1, $2, $3, clock_timestamp())
		RETURNING time_stamp`,
		record.PlanetID, record.PlayerID, record.Amount,
	).Scan(&t.stamp)
	return classifyLedgerInsert(err)
}

// classifyLedgerInsert treats a key collision on the ledger as transient: two
// sales of the same planet to the same player stamped in the same
// microsecond. The retried unit gets a fresh timestamp.
func classifyLedgerInsert(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return domain.NewStoreError("insert transaction", domain.KindTransient, fmt.Errorf("postgres: %w", err))
	}
	return classifyPostgres("insert transaction", err)
}

type pgQueryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgGetPlayer(ctx context.Context, q pgQueryRower, playerID string) (*domain.Player, error) {
	var pl domain.Player
	var name *string
	err := q.QueryRow(ctx, `
		SELECT player_id, player_name, planet_dollars
		FROM players WHERE player_id = $1`, playerID,
	).Scan(&pl.ID, &name, &pl.PlanetDollars)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyPostgres("read player", err)
	}

	pl.Name = deref(name)
	return &pl, nil
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}

func classifyPostgres(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *domain.StoreError
	if errors.As(err, &se) {
		return err
	}

	kind := domain.KindFatal
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgTooManyConnections:
			kind = domain.KindTransient
		case pgDuplicateDatabase, pgDuplicateTable:
			kind = domain.KindAlreadyExists
		}
	}
	return domain.NewStoreError(op, kind, fmt.Errorf("postgres: %w", err))
}
