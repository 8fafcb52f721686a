package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	database "cloud.google.com/go/spanner/admin/database/apiv1"
	"cloud.google.com/go/spanner/admin/database/apiv1/databasepb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/planet-auction/internal/core/domain"
	"github.com/rl1809/planet-auction/internal/port"
)

// SpannerDatabase names a Cloud Spanner database.
type SpannerDatabase struct {
	Project  string
	Instance string
	Database string
}

func (d SpannerDatabase) InstancePath() string {
	return fmt.Sprintf("projects/%s/instances/%s", d.Project, d.Instance)
}

func (d SpannerDatabase) Path() string {
	return d.InstancePath() + "/databases/" + d.Database
}

// SpannerAdapter is the reference store. The emulator is used when
// SPANNER_EMULATOR_HOST is set.
type SpannerAdapter struct {
	client *spanner.Client
	admin  *database.DatabaseAdminClient
	db     SpannerDatabase
}

func OpenSpanner(ctx context.Context, db SpannerDatabase, opts ...option.ClientOption) (*SpannerAdapter, error) {
	admin, err := database.NewDatabaseAdminClient(ctx, opts...)
	if err != nil {
		return nil, classifySpanner("admin client", err)
	}
	client, err := spanner.NewClient(ctx, db.Path(), opts...)
	if err != nil {
		admin.Close()
		return nil, classifySpanner("spanner client", err)
	}
	return &SpannerAdapter{client: client, admin: admin, db: db}, nil
}

// CreateSchema creates the database and then any of the three tables that are
// missing.
func (s *SpannerAdapter) CreateSchema(ctx context.Context) error {
	op, err := s.admin.CreateDatabase(ctx, &databasepb.CreateDatabaseRequest{
		Parent:          s.db.InstancePath(),
		CreateStatement: "CREATE DATABASE `" + s.db.Database + "`",
	})
	if err == nil {
		_, err = op.Wait(ctx)
	}
	if err := classifySpanner("create database", err); err != nil && !domain.IsAlreadyExists(err) {
		return err
	}

	existing, err := s.tableNames(ctx)
	if err != nil {
		return err
	}

	var ddl []string
	for _, name := range spannerTableOrder {
		if !existing[name] {
			ddl = append(ddl, spannerTables[name])
		}
	}
	if len(ddl) == 0 {
		return nil
	}

	ddlOp, err := s.admin.UpdateDatabaseDdl(ctx, &databasepb.UpdateDatabaseDdlRequest{
		Database:   s.db.Path(),
		Statements: ddl,
	})
	if err == nil {
		err = ddlOp.Wait(ctx)
	}
	if err := classifySpanner("create tables", err); err != nil && !domain.IsAlreadyExists(err) {
		return err
	}
	return nil
}

func (s *SpannerAdapter) tableNames(ctx context.Context) (map[string]bool, error) {
	names := make(map[string]bool)
	iter := s.client.Single().Query(ctx, spanner.Statement{
		SQL: `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = ''`,
	})
	err := iter.Do(func(row *spanner.Row) error {
		var name string
		if err := row.Columns(&name); err != nil {
			return err
		}
		names[name] = true
		return nil
	})
	if err != nil {
		return nil, classifySpanner("list tables", err)
	}
	return names, nil
}

func (s *SpannerAdapter) InsertPlanets(ctx context.Context, planets []domain.Planet) error {
	ms := make([]*spanner.Mutation, 0, len(planets))
	for _, p := range planets {
		ms = append(ms, spanner.Insert("Planets",
			[]string{"PlanetId", "PlanetName", "PlanetValue", "SharesAvailable"},
			[]interface{}{p.ID, p.Name, p.Value, p.SharesAvailable},
		))
	}
	_, err := s.client.Apply(ctx, ms)
	return classifySpanner("insert planets", err)
}

func (s *SpannerAdapter) InsertPlayers(ctx context.Context, players []domain.Player) error {
	ms := make([]*spanner.Mutation, 0, len(players))
	for _, p := range players {
		ms = append(ms, spanner.Insert("Players",
			[]string{"PlayerId", "PlayerName", "PlanetDollars"},
			[]interface{}{p.ID, p.Name, p.PlanetDollars},
		))
	}
	_, err := s.client.Apply(ctx, ms)
	return classifySpanner("insert players", err)
}

func (s *SpannerAdapter) SamplePlanet(ctx context.Context, percent float64) (*domain.Planet, error) {
	iter := s.client.Single().Query(ctx, spanner.Statement{
		SQL: `SELECT PlanetId, PlanetName, PlanetValue, SharesAvailable
			FROM Planets TABLESAMPLE BERNOULLI (@percent PERCENT)
			WHERE SharesAvailable > 0 LIMIT 1`,
		Params: map[string]interface{}{"percent": percent},
	})
	defer iter.Stop()

	row, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, classifySpanner("sample planet", err)
	}
	return planetFromRow(row)
}

func (s *SpannerAdapter) SamplePlayer(ctx context.Context, percent float64, minBalance int64) (*domain.Player, error) {
	iter := s.client.Single().Query(ctx, spanner.Statement{
		SQL: `SELECT PlayerId, PlayerName, PlanetDollars
			FROM Players TABLESAMPLE BERNOULLI (@percent PERCENT)
			WHERE PlanetDollars >= @minBalance LIMIT 1`,
		Params: map[string]interface{}{"percent": percent, "minBalance": minBalance},
	})
	defer iter.Stop()

	row, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, classifySpanner("sample player", err)
	}
	return playerFromRow(row)
}

func (s *SpannerAdapter) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	row, err := s.client.Single().ReadRow(ctx, "Players", spanner.Key{playerID}, playerColumns)
	if spanner.ErrCode(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, classifySpanner("read player", err)
	}
	return playerFromRow(row)
}

func (s *SpannerAdapter) Totals(ctx context.Context) (domain.Totals, error) {
	var t domain.Totals
	iter := s.client.Single().Query(ctx, spanner.Statement{SQL: `SELECT
		(SELECT COUNT(*) FROM Transactions),
		(SELECT IFNULL(SUM(Amount), 0) FROM Transactions),
		(SELECT IFNULL(SUM(SharesAvailable), 0) FROM Planets),
		(SELECT COUNTIF(SharesAvailable < 0) FROM Planets),
		(SELECT IFNULL(SUM(PlanetDollars), 0) FROM Players),
		(SELECT COUNTIF(PlanetDollars < 0) FROM Players)`})
	defer iter.Stop()

	row, err := iter.Next()
	if err != nil {
		return t, classifySpanner("totals", err)
	}
	err = row.Columns(&t.LedgerRows, &t.LedgerAmount, &t.SharesAvailable, &t.NegativeShares,
		&t.PlanetDollars, &t.NegativeBalances)
	if err != nil {
		return t, classifySpanner("totals", err)
	}
	return t, nil
}

// RunInTransaction uses a statement-based read-write transaction, which the
// client does not retry on abort. Aborts come back as transient errors.
func (s *SpannerAdapter) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx port.SettlementTx) error) (time.Time, error) {
	tx, err := spanner.NewReadWriteStmtBasedTransaction(ctx, s.client)
	if err != nil {
		return time.Time{}, classifySpanner("begin transaction", err)
	}

	if err := fn(ctx, &spannerTx{tx: tx}); err != nil {
		tx.Rollback(ctx)
		return time.Time{}, err
	}

	commitTS, err := tx.Commit(ctx)
	if err != nil {
		return time.Time{}, classifySpanner("commit", err)
	}
	return commitTS, nil
}

func (s *SpannerAdapter) Close() error {
	s.client.Close()
	return s.admin.Close()
}

type spannerTx struct {
	tx *spanner.ReadWriteStmtBasedTransaction
}

var (
	planetColumns = []string{"PlanetId", "PlanetName", "PlanetValue", "SharesAvailable"}
	playerColumns = []string{"PlayerId", "PlayerName", "PlanetDollars"}
)

func (t *spannerTx) GetPlanet(ctx context.Context, planetID int64) (*domain.Planet, error) {
	row, err := t.tx.ReadRow(ctx, "Planets", spanner.Key{planetID}, planetColumns)
	if spanner.ErrCode(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, classifySpanner("read planet", err)
	}
	return planetFromRow(row)
}

func (t *spannerTx) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	row, err := t.tx.ReadRow(ctx, "Players", spanner.Key{playerID}, playerColumns)
	if spanner.ErrCode(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, classifySpanner("read player", err)
	}
	return playerFromRow(row)
}

func (t *spannerTx) DecrementShares(ctx context.Context, planetID int64) (bool, error) {
	n, err := t.tx.Update(ctx, spanner.Statement{
		SQL: `UPDATE Planets SET SharesAvailable = SharesAvailable - 1
			WHERE PlanetId = @planetId AND SharesAvailable > 0`,
		Params: map[string]interface{}{"planetId": planetID},
	})
	if err != nil {
		return false, classifySpanner("decrement shares", err)
	}
	return n == 1, nil
}

func (t *spannerTx) DebitPlayer(ctx context.Context, playerID string, amount int64) (bool, error) {
	n, err := t.tx.Update(ctx, spanner.Statement{
		SQL: `UPDATE Players SET PlanetDollars = PlanetDollars - @amount
			WHERE PlayerId = @playerId AND PlanetDollars >= @amount`,
		Params: map[string]interface{}{"playerId": playerID, "amount": amount},
	})
	if err != nil {
		return false, classifySpanner("debit player", err)
	}
	return n == 1, nil
}

// AppendTransaction buffers the ledger row; its TimeStamp is filled with the
// commit timestamp.
func (t *spannerTx) AppendTransaction(ctx context.Context, record domain.Transaction) error {
	err := t.tx.BufferWrite([]*spanner.Mutation{
		spanner.Insert("Transactions",
			[]string{"PlanetId", "PlayerId", "Amount", "TimeStamp"},
			[]interface{}{record.PlanetID, record.PlayerID, record.Amount, spanner.CommitTimestamp},
		),
	})
	return classifySpanner("insert transaction", err)
}

func planetFromRow(row *spanner.Row) (*domain.Planet, error) {
	var id int64
	var name spanner.NullString
	var value, shares spanner.NullInt64
	if err := row.Columns(&id, &name, &value, &shares); err != nil {
		return nil, classifySpanner("decode planet", err)
	}
	return &domain.Planet{
		ID:              id,
		Name:            name.StringVal,
		Value:           value.Int64,
		SharesAvailable: shares.Int64,
	}, nil
}

func playerFromRow(row *spanner.Row) (*domain.Player, error) {
	var id string
	var name spanner.NullString
	var dollars spanner.NullInt64
	if err := row.Columns(&id, &name, &dollars); err != nil {
		return nil, classifySpanner("decode player", err)
	}
	return &domain.Player{ID: id, Name: name.StringVal, PlanetDollars: dollars.Int64}, nil
}

func classifySpanner(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *domain.StoreError
	if errors.As(err, &se) {
		return err
	}

	code := spanner.ErrCode(err)
	if code == codes.Unknown {
		code = status.Code(err)
	}

	kind := domain.KindFatal
	switch code {
	case codes.Aborted, codes.ResourceExhausted, codes.Unavailable:
		kind = domain.KindTransient
	case codes.AlreadyExists:
		kind = domain.KindAlreadyExists
	case codes.NotFound:
		kind = domain.KindNotFound
	}
	return domain.NewStoreError(op, kind, err)
}
