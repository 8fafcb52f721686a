package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/maruel/subcommands"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/planet-auction/internal/adapter/storage"
	"github.com/rl1809/planet-auction/internal/config"
	"github.com/rl1809/planet-auction/internal/core/service"
	"github.com/rl1809/planet-auction/internal/port"
)

// cmdBase carries the store coordinates every verb accepts.
type cmdBase struct {
	subcommands.CommandRunBase

	cfg *config.Config
	out io.Writer

	project  string
	instance string
	database string
}

func (c *cmdBase) initFlags(cfg *config.Config, out io.Writer) {
	c.cfg = cfg
	c.out = out
	c.Flags.StringVar(&c.project, "project", cfg.SpannerProject, "Spanner project ID.")
	c.Flags.StringVar(&c.instance, "instance", cfg.SpannerInstance, "Spanner instance ID.")
	c.Flags.StringVar(&c.database, "database", cfg.SpannerDatabase, "Spanner database ID.")
}

func (c *cmdBase) openStore(ctx context.Context) (port.AuctionStore, error) {
	cfg := *c.cfg
	cfg.SpannerProject = c.project
	cfg.SpannerInstance = c.instance
	cfg.SpannerDatabase = c.database
	return storage.Open(ctx, &cfg)
}

// location names the database and instance in console output.
func (c *cmdBase) location() (database, instance string) {
	if c.cfg.Store == config.StoreSpanner {
		return c.database, c.instance
	}
	return c.cfg.Store, "local"
}

// execute opens the store, runs fn and maps its error to an exit code.
func (c *cmdBase) execute(fn func(ctx context.Context, store port.AuctionStore) error) int {
	ctx := context.Background()
	store, err := c.openStore(ctx)
	if err != nil {
		log.WithError(err).Error("failed to open store")
		return exitFailure
	}
	defer store.Close()

	if err := fn(ctx, store); err != nil {
		log.WithError(err).Error("command failed")
		return exitFailure
	}
	return exitOK
}

func (c *cmdBase) usageError(a subcommands.Application, format string, args ...interface{}) int {
	fmt.Fprintf(a.GetErr(), "%s: %s\n", a.GetName(), fmt.Sprintf(format, args...))
	return exitUsage
}

func (c *cmdBase) retrySeeds(store port.AuctionStore) *service.SeedService {
	return service.NewSeedService(store, c.cfg.RetryPolicy())
}

////////////////////////////////////////////////////////////////////////////////

func cmdCreatePlanetsDatabase(cfg *config.Config, out io.Writer) *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "createPlanetsDatabase",
		ShortDesc: "create the planets database and its tables",
		LongDesc:  "Creates the database with the Planets, Players and Transactions tables. Existing tables are kept.",
		CommandRun: func() subcommands.CommandRun {
			c := &createPlanetsDatabaseRun{}
			c.initFlags(cfg, out)
			return c
		},
	}
}

type createPlanetsDatabaseRun struct {
	cmdBase
}

func (c *createPlanetsDatabaseRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	if len(args) != 0 {
		return c.usageError(a, "createPlanetsDatabase takes no arguments")
	}
	return c.execute(func(ctx context.Context, store port.AuctionStore) error {
		if err := c.retrySeeds(store).CreateDatabase(ctx); err != nil {
			return err
		}
		database, instance := c.location()
		fmt.Fprintf(c.out, "Created sample database %s on instance %s\n", database, instance)
		return nil
	})
}

////////////////////////////////////////////////////////////////////////////////

func cmdInsertPlanet(cfg *config.Config, out io.Writer) *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "insertPlanet <planetName> <planetValue>",
		ShortDesc: "insert one planet",
		CommandRun: func() subcommands.CommandRun {
			c := &insertPlanetRun{}
			c.initFlags(cfg, out)
			return c
		},
	}
}

type insertPlanetRun struct {
	cmdBase
}

func (c *insertPlanetRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	if len(args) != 2 {
		return c.usageError(a, "insertPlanet requires <planetName> <planetValue>")
	}
	name := args[0]
	value, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return c.usageError(a, "bad <planetValue> %q: %v", args[1], err)
	}

	return c.execute(func(ctx context.Context, store port.AuctionStore) error {
		planet, err := c.retrySeeds(store).InsertPlanet(ctx, name, value)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{"planet_id": planet.ID, "planet": planet.Name}).Debug("inserted planet")
		database, instance := c.location()
		fmt.Fprintf(c.out, "Inserted planet into %s on instance %s\n", database, instance)
		return nil
	})
}

////////////////////////////////////////////////////////////////////////////////

func cmdBatchInsertPlanets(cfg *config.Config, out io.Writer) *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "batchInsertPlanets <csvFile>",
		ShortDesc: "insert planets from a CSV file",
		LongDesc:  "Inserts one planet per line of the CSV file. Each line holds a planet name and its value.",
		CommandRun: func() subcommands.CommandRun {
			c := &batchInsertPlanetsRun{}
			c.initFlags(cfg, out)
			return c
		},
	}
}

type batchInsertPlanetsRun struct {
	cmdBase
}

func (c *batchInsertPlanetsRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	if len(args) != 1 {
		return c.usageError(a, "batchInsertPlanets requires <csvFile>")
	}

	return c.execute(func(ctx context.Context, store port.AuctionStore) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		n, err := c.retrySeeds(store).BatchInsertPlanets(ctx, f)
		if err != nil {
			return err
		}
		log.WithField("planets", n).Debug("inserted planets")
		database, instance := c.location()
		fmt.Fprintf(c.out, "Inserted planets into %s on instance %s\n", database, instance)
		return nil
	})
}

////////////////////////////////////////////////////////////////////////////////

func cmdBatchInsertPlayers(cfg *config.Config, out io.Writer) *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "batchInsertPlayers [-batches N] [-per-batch N]",
		ShortDesc: "insert generated players",
		CommandRun: func() subcommands.CommandRun {
			c := &batchInsertPlayersRun{}
			c.initFlags(cfg, out)
			c.Flags.IntVar(&c.batches, "batches", service.DefaultPlayerBatches, "Number of insert batches.")
			c.Flags.IntVar(&c.perBatch, "per-batch", service.DefaultPlayersPerBatch, "Players per batch.")
			return c
		},
	}
}

type batchInsertPlayersRun struct {
	cmdBase

	batches  int
	perBatch int
}

func (c *batchInsertPlayersRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	if len(args) != 0 {
		return c.usageError(a, "batchInsertPlayers takes no arguments")
	}
	if c.batches < 0 || c.perBatch < 0 {
		return c.usageError(a, "-batches and -per-batch must not be negative")
	}

	return c.execute(func(ctx context.Context, store port.AuctionStore) error {
		n, err := c.retrySeeds(store).BatchInsertPlayers(ctx, c.batches, c.perBatch)
		if err != nil {
			return err
		}
		log.WithField("players", humanize.Comma(int64(n))).Debug("inserted players")
		database, instance := c.location()
		fmt.Fprintf(c.out, "Inserted players into %s on instance %s\n", database, instance)
		return nil
	})
}

////////////////////////////////////////////////////////////////////////////////

func cmdRunPlanetAuction(cfg *config.Config, out io.Writer) *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "runPlanetAuction <numberOfShares> [showConsoleOutput]",
		ShortDesc: "run an automated auction of planet shares",
		LongDesc: `Runs numberOfShares concurrent purchases, each between a sampled planet
and a sampled player. showConsoleOutput (true|false, default false) prints
every sale.`,
		CommandRun: func() subcommands.CommandRun {
			c := &runPlanetAuctionRun{}
			c.initFlags(cfg, out)
			return c
		},
	}
}

type runPlanetAuctionRun struct {
	cmdBase
}

func (c *runPlanetAuctionRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	if len(args) < 1 || len(args) > 2 {
		return c.usageError(a, "runPlanetAuction requires <numberOfShares> [showConsoleOutput]")
	}
	shares, err := strconv.Atoi(args[0])
	if err != nil || shares < 0 {
		return c.usageError(a, "bad <numberOfShares> %q", args[0])
	}
	if c.cfg.MaxShares > 0 && shares > c.cfg.MaxShares {
		return c.usageError(a, "<numberOfShares> %d is above AUCTION_MAX_SHARES=%d", shares, c.cfg.MaxShares)
	}
	verbose := false
	if len(args) == 2 {
		if verbose, err = strconv.ParseBool(args[1]); err != nil {
			return c.usageError(a, "bad [showConsoleOutput] %q", args[1])
		}
	}

	return c.execute(func(ctx context.Context, store port.AuctionStore) error {
		auctions := service.NewAuctionService(store, service.Options{
			SamplePercent: c.cfg.SamplePercent,
			PricePolicy:   c.cfg.Policy(),
			Retry:         c.cfg.RetryPolicy(),
			MaxInFlight:   c.cfg.MaxInFlight,
			MaxShares:     c.cfg.MaxShares,
		})
		report, err := auctions.RunAuction(ctx, shares, verbose)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"no_match":    report.NoMatch,
			"stale_match": report.StaleMatch,
			"transient":   report.Transient,
			"fatal":       report.Fatal,
			"elapsed":     report.Elapsed,
		}).Info("auction finished")

		database, instance := c.location()
		fmt.Fprintf(c.out, "Players purchased %d planet shares in %s on instance %s\n", report.Purchased, database, instance)
		return nil
	})
}
