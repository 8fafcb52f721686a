package storage

// Table DDL per dialect, in creation order.

var spannerTables = map[string]string{
	"Planets": `CREATE TABLE Planets (
	PlanetId INT64 NOT NULL,
	PlanetName STRING(1024),
	PlanetValue INT64,
	SharesAvailable INT64
) PRIMARY KEY (PlanetId)`,
	"Players": `CREATE TABLE Players (
	PlayerId STRING(MAX) NOT NULL,
	PlayerName STRING(1024),
	PlanetDollars INT64
) PRIMARY KEY (PlayerId)`,
	"Transactions": `CREATE TABLE Transactions (
	PlanetId INT64 NOT NULL,
	PlayerId STRING(MAX) NOT NULL,
	Amount INT64,
	TimeStamp TIMESTAMP NOT NULL OPTIONS (allow_commit_timestamp=true)
) PRIMARY KEY (PlanetId, PlayerId, TimeStamp)`,
}

var spannerTableOrder = []string{"Planets", "Players", "Transactions"}

var postgresSchema = []string{
	`CREATE TABLE planets (
	planet_id BIGINT PRIMARY KEY,
	planet_name VARCHAR(1024),
	planet_value BIGINT,
	shares_available BIGINT
)`,
	`CREATE TABLE players (
	player_id TEXT PRIMARY KEY,
	player_name VARCHAR(1024),
	planet_dollars BIGINT
)`,
	`CREATE TABLE transactions (
	planet_id BIGINT NOT NULL,
	player_id TEXT NOT NULL,
	amount BIGINT,
	time_stamp TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (planet_id, player_id, time_stamp)
)`,
}

var mysqlSchema = []string{
	`CREATE TABLE planets (
	planet_id BIGINT NOT NULL PRIMARY KEY,
	planet_name VARCHAR(1024),
	planet_value BIGINT,
	shares_available BIGINT
)`,
	`CREATE TABLE players (
	player_id VARCHAR(64) NOT NULL PRIMARY KEY,
	player_name VARCHAR(1024),
	planet_dollars BIGINT
)`,
	`CREATE TABLE transactions (
	planet_id BIGINT NOT NULL,
	player_id VARCHAR(64) NOT NULL,
	amount BIGINT,
	time_stamp DATETIME(6) NOT NULL,
	PRIMARY KEY (planet_id, player_id, time_stamp)
)`,
}
