// Command auction administers a planet auction database: schema creation,
// seeding, and auction runs.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/maruel/subcommands"

	"github.com/rl1809/planet-auction/internal/config"
)

const (
	exitOK      = 0
	exitUsage   = 1
	exitFailure = 3

	// subcommands.Run returns this when a verb's flags do not parse.
	subcommandsFlagError = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "auction: %v\n", err)
		return exitFailure
	}
	config.SetupLogging(cfg.LogLevel)
	return runApp(newApplication(cfg, stdout), args, stderr)
}

func runApp(app *subcommands.DefaultApplication, args []string, stderr io.Writer) int {
	if len(args) == 0 {
		subcommands.Usage(stderr, app, false)
		return exitUsage
	}
	if subcommands.FindCommand(app, args[0]) == nil {
		fmt.Fprintf(stderr, "auction: unknown command %q\n\n", args[0])
		subcommands.Usage(stderr, app, false)
		return exitUsage
	}
	if code := subcommands.Run(app, args); code != subcommandsFlagError {
		return code
	}
	return exitUsage
}

func newApplication(cfg *config.Config, out io.Writer) *subcommands.DefaultApplication {
	return &subcommands.DefaultApplication{
		Name:  "auction",
		Title: "Planet auction admin console.",
		Commands: []*subcommands.Command{
			subcommands.CmdHelp,
			cmdCreatePlanetsDatabase(cfg, out),
			cmdInsertPlanet(cfg, out),
			cmdBatchInsertPlanets(cfg, out),
			cmdBatchInsertPlayers(cfg, out),
			cmdRunPlanetAuction(cfg, out),
		},
	}
}
