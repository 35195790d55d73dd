// Command evotectl administers elections directly against the configured
// storage, without going through the HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli"

	"evoting-core/config"
	"evoting-core/encryption"
)

// Version specifies the version of this binary
var Version = "0.1"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "evotectl: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "evotectl"
	app.Usage = "manage encrypted elections"
	app.Version = Version

	// Global options
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "storage",
			Value:  config.DriverJSON,
			EnvVar: config.EnvStorage,
			Usage:  "storage driver: memory, json or postgres",
		},
		cli.StringFlag{
			Name:   "storage-dir",
			Value:  "data",
			EnvVar: config.EnvStorageDir,
		},
		cli.StringFlag{
			Name:   "database-url",
			EnvVar: config.EnvDatabaseURL,
		},
		cli.IntFlag{
			Name:   "key-bits",
			Value:  encryption.DefaultKeySize,
			EnvVar: config.EnvKeyBits,
		},
		cli.StringFlag{
			Name:   "log-level",
			Value:  "info",
			EnvVar: config.EnvLogLevel,
		},
	}

	// Commands
	app.Commands = []cli.Command{
		{
			Name:  "master-key",
			Usage: "manage the key-encryption secret",
			Subcommands: []cli.Command{
				{
					Name:   "gen",
					Usage:  "print a new random master key for " + config.EnvMasterKey,
					Action: actionMasterKeyGen,
				},
			},
		},
		{
			Name:  "election",
			Usage: "perform election administrative operations",
			Subcommands: []cli.Command{
				{
					Name:      "create",
					Usage:     "create a new election",
					ArgsUsage: "[electionfile]",
					Action:    actionElectionCreate,
				},
				{
					Name:      "status",
					Usage:     "show the phase and candidates of an election",
					ArgsUsage: "[election-id]",
					Action:    actionElectionStatus,
				},
				{
					Name:      "tally",
					Usage:     "decrypt and count a closed election",
					ArgsUsage: "[election-id]",
					Flags: []cli.Flag{
						cli.BoolFlag{
							Name:  "aggregate",
							Usage: "sum under encryption and decrypt only the totals",
						},
					},
					Action: actionElectionTally,
				},
			},
		},
	}

	app.Before = func(c *cli.Context) error {
		level, err := zerolog.ParseLevel(c.GlobalString("log-level"))
		if err != nil {
			return errors.Wrap(err, "log-level")
		}
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
		return nil
	}
	return app
}

// loadConfig validates the global options through the same rules the server
// uses. The master key always comes from the environment.
func loadConfig(c *cli.Context) (*config.Config, error) {
	args := []string{
		"-storage", c.GlobalString("storage"),
		"-storage-dir", c.GlobalString("storage-dir"),
		"-database-url", c.GlobalString("database-url"),
		"-key-bits", fmt.Sprint(c.GlobalInt("key-bits")),
		"-log-level", c.GlobalString("log-level"),
	}
	return config.Load(args, os.Getenv)
}
