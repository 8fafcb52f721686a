package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/planet-auction/internal/core/domain"
	"github.com/rl1809/planet-auction/internal/port"
)

// MySQL error numbers the adapter classifies.
const (
	mysqlErrDBCreateExists  = 1007
	mysqlErrTableExists     = 1050
	mysqlErrLockWaitTimeout = 1205
	mysqlErrLockDeadlock    = 1213
	mysqlErrTooManyConns    = 1040
	mysqlErrDupEntry        = 1062
)

type MySQLAdapter struct {
	db  *sql.DB
	cfg *mysql.Config
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// OpenMySQL connects with found-rows semantics so a conditional UPDATE that
// matches a row counts as affected even when it changes nothing.
func OpenMySQL(dsn string) (*MySQLAdapter, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	return &MySQLAdapter{db: sql.OpenDB(connector), cfg: cfg}, nil
}

func (m *MySQLAdapter) CreateSchema(ctx context.Context) error {
	if m.cfg != nil && m.cfg.DBName != "" {
		if err := m.createDatabase(ctx); err != nil {
			return err
		}
	}

	for _, stmt := range mysqlSchema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			if err := classifyMySQL("create table", err); !domain.IsAlreadyExists(err) {
				return err
			}
		}
	}
	return nil
}

func (m *MySQLAdapter) createDatabase(ctx context.Context) error {
	serverCfg := m.cfg.Clone()
	serverCfg.DBName = ""
	connector, err := mysql.NewConnector(serverCfg)
	if err != nil {
		return classifyMySQL("create database", err)
	}
	server := sql.OpenDB(connector)
	defer server.Close()

	_, err = server.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE `%s`", m.cfg.DBName))
	if err := classifyMySQL("create database", err); err != nil && !domain.IsAlreadyExists(err) {
		return err
	}
	return nil
}

func (m *MySQLAdapter) InsertPlanets(ctx context.Context, planets []domain.Planet) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyMySQL("begin tx", err)
	}
	defer tx.Rollback()

	for _, p := range planets {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO planets (planet_id, planet_name, planet_value, shares_available)
			VALUES (?, ?, ?, ?)`,
			p.ID, p.Name, p.Value, p.SharesAvailable,
		)
		if err != nil {
			return classifyMySQL("insert planet", err)
		}
	}

	return classifyMySQL("commit", tx.Commit())
}

func (m *MySQLAdapter) InsertPlayers(ctx context.Context, players []domain.Player) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyMySQL("begin tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO players (player_id, player_name, planet_dollars) VALUES (?, ?, ?)`)
	if err != nil {
		return classifyMySQL("prepare insert player", err)
	}
	defer stmt.Close()

	for _, p := range players {
		if _, err := stmt.ExecContext(ctx, p.ID, p.Name, p.PlanetDollars); err != nil {
			return classifyMySQL("insert player", err)
		}
	}

	return classifyMySQL("commit", tx.Commit())
}

func (m *MySQLAdapter) SamplePlanet(ctx context.Context, percent float64) (*domain.Planet, error) {
	var p domain.Planet
	var name sql.NullString
	var value sql.NullInt64
	err := m.db.QueryRowContext(ctx, `
		SELECT planet_id, planet_name, planet_value, shares_available
		FROM planets WHERE shares_available > 0 AND RAND() * 100 < ? LIMIT 1`, percent,
	).Scan(&p.ID, &name, &value, &p.SharesAvailable)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyMySQL("sample planet", err)
	}

	p.Name, p.Value = name.String, value.Int64
	return &p, nil
}

func (m *MySQLAdapter) SamplePlayer(ctx context.Context, percent float64, minBalance int64) (*domain.Player, error) {
	var p domain.Player
	var name sql.NullString
	err := m.db.QueryRowContext(ctx, `
		SELECT player_id, player_name, planet_dollars
		FROM players WHERE planet_dollars >= ? AND RAND() * 100 < ? LIMIT 1`, minBalance, percent,
	).Scan(&p.ID, &name, &p.PlanetDollars)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyMySQL("sample player", err)
	}

	p.Name = name.String
	return &p, nil
}

func (m *MySQLAdapter) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	return mysqlGetPlayer(ctx, m.db, playerID)
}

func (m *MySQLAdapter) Totals(ctx context.Context) (domain.Totals, error) {
	var t domain.Totals
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM transactions`,
	).Scan(&t.LedgerRows, &t.LedgerAmount)
	if err != nil {
		return t, classifyMySQL("ledger totals", err)
	}

	err = m.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(shares_available), 0),
			COALESCE(SUM(CASE WHEN shares_available < 0 THEN 1 ELSE 0 END), 0)
		FROM planets`,
	).Scan(&t.SharesAvailable, &t.NegativeShares)
	if err != nil {
		return t, classifyMySQL("planet totals", err)
	}

	err = m.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(planet_dollars), 0),
			COALESCE(SUM(CASE WHEN planet_dollars < 0 THEN 1 ELSE 0 END), 0)
		FROM players`,
	).Scan(&t.PlanetDollars, &t.NegativeBalances)
	if err != nil {
		return t, classifyMySQL("player totals", err)
	}
	return t, nil
}

func (m *MySQLAdapter) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx port.SettlementTx) error) (time.Time, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, classifyMySQL("begin tx", err)
	}
	defer tx.Rollback()

	mtx := &mysqlTx{tx: tx}
	if err := fn(ctx, mtx); err != nil {
		return time.Time{}, err
	}
	if err := tx.Commit(); err != nil {
		return time.Time{}, classifyMySQL("commit", err)
	}

	if mtx.stamp.IsZero() {
		return time.Now(), nil
	}
	return mtx.stamp, nil
}

func (m *MySQLAdapter) Close() error {
	return m.db.Close()
}

type mysqlTx struct {
	tx    *sql.Tx
	stamp time.Time
}

func (t *mysqlTx) GetPlanet(ctx context.Context, planetID int64) (*domain.Planet, error) {
	var p domain.Planet
	var name sql.NullString
	var value sql.NullInt64
	err := t.tx.QueryRowContext(ctx, `
		SELECT planet_id, planet_name, planet_value, shares_available
		FROM planets WHERE planet_id = ? FOR UPDATE`, planetID,
	).Scan(&p.ID, &name, &value, &p.SharesAvailable)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyMySQL("read planet", err)
	}

	p.Name, p.Value = name.String, value.Int64
	return &p, nil
}

func (t *mysqlTx) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	return mysqlGetPlayer(ctx, t.tx, playerID)
}

func (t *mysqlTx) DecrementShares(ctx context.Context, planetID int64) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE planets
		SET shares_available = shares_available - 1
		WHERE planet_id = ? AND shares_available > 0`,
		planetID,
	)
	if err != nil {
		return false, classifyMySQL("decrement shares", err)
	}

	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (t *mysqlTx) DebitPlayer(ctx context.Context, playerID string, amount int64) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE players
		SET planet_dollars = planet_dollars - ?
		WHERE player_id = ? AND planet_dollars >= ?`,
		amount, playerID, amount,
	)
	if err != nil {
		return false, classifyMySQL("debit player", err)
	}

	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (t *mysqlTx) AppendTransaction(ctx context.Context, record domain.Transaction) error {
	if t.stamp.IsZero() {
		if err := t.tx.QueryRowContext(ctx, `SELECT NOW(6)`).Scan(&t.stamp); err != nil {
			return classifyMySQL("read server time", err)
		}
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (planet_id, player_id, amount, time_stamp)
		VALUES (?, ?, ?, ?)`,
		record.PlanetID, record.PlayerID, record.Amount, t.stamp,
	)
	return classifyMySQLLedgerInsert(err)
}

// classifyMySQLLedgerInsert treats a ledger key collision as transient, so
// the unit is retried with a new timestamp.
func classifyMySQLLedgerInsert(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlErrDupEntry {
		return domain.NewStoreError("insert transaction", domain.KindTransient, err)
	}
	return classifyMySQL("insert transaction", err)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func mysqlGetPlayer(ctx context.Context, q queryRower, playerID string) (*domain.Player, error) {
	var p domain.Player
	var name sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT player_id, player_name, planet_dollars
		FROM players WHERE player_id = ?`, playerID,
	).Scan(&p.ID, &name, &p.PlanetDollars)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyMySQL("read player", err)
	}

	p.Name = name.String
	return &p, nil
}

func classifyMySQL(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *domain.StoreError
	if errors.As(err, &se) {
		return err
	}

	kind := domain.KindFatal
	var myErr *mysql.MySQLError
	switch {
	case errors.As(err, &myErr):
		switch myErr.Number {
		case mysqlErrLockDeadlock, mysqlErrLockWaitTimeout, mysqlErrTooManyConns:
			kind = domain.KindTransient
		case mysqlErrDBCreateExists, mysqlErrTableExists:
			kind = domain.KindAlreadyExists
		}
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, mysql.ErrInvalidConn):
		kind = domain.KindTransient
	}
	return domain.NewStoreError(op, kind, err)
}
