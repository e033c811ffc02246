// submodule cmd contains command definitions
package main

import (
	"github.com/desertthunder/wsx/internal/formatter"
	"github.com/urfave/cli/v3"
)

// serverFlags override the [source] or [destination] table for one invocation.
func serverFlags(tokenEnv string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "server",
			Usage: "Plex server URL",
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Plex owner token",
			Sources: cli.EnvVars(tokenEnv),
		},
	}
}

func destinationFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "destination",
		Usage: "Use the [destination] server instead of [source]",
	}
}

// syncFlags override the [sync] table for one invocation.
func syncFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "snapshot",
			Aliases: []string{"s"},
			Usage:   "Path to the snapshot file",
		},
		&cli.StringSliceFlag{
			Name:    "user",
			Aliases: []string{"u"},
			Usage:   "Only process this username, email or title (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:  "section",
			Usage: "Only walk this library section (repeatable)",
		},
		&cli.IntFlag{
			Name:    "workers",
			Aliases: []string{"w"},
			Usage:   "Number of users processed in parallel",
		},
		&cli.BoolFlag{
			Name:  "use-cache",
			Usage: "Walk the whole library once up front instead of looking items up one by one",
		},
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Report format (text, markdown, csv)",
			Value:   formatter.FormatText,
		},
	}
}

// exportCommand captures watch state from the source server
func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "export",
		Usage:  "Export per-user watch state from the source server to a snapshot",
		Flags:  append(serverFlags("WSX_SOURCE_TOKEN"), syncFlags()...),
		Action: r.Export,
	}
}

// importCommand applies a snapshot to the destination server
func importCommand(r *Runner) *cli.Command {
	flags := append(serverFlags("WSX_DESTINATION_TOKEN"), syncFlags()...)
	flags = append(flags, &cli.BoolFlag{
		Name:  "dry-run",
		Usage: "Log the changes an import would make without sending them",
	})

	return &cli.Command{
		Name:   "import",
		Usage:  "Import a snapshot into the destination server",
		Flags:  flags,
		Action: r.Import,
	}
}

// usersCommand lists the accounts a run would process
func usersCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "List the owner and shared users of a server",
		Flags: append(serverFlags("WSX_SOURCE_TOKEN"),
			destinationFlag(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		),
		Action: r.Users,
	}
}

// runsCommand browses the run ledger
func runsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Browse past exports and imports",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recent runs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "kind",
						Usage: "Only show export or import runs",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only show runs with this status",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of runs to show",
						Value: 20,
					},
				},
				Action: r.RunsList,
			},
			{
				Name:  "show",
				Usage: "Show one run with its per-user outcomes",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "id",
					},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Report format (text, markdown, csv)",
						Value:   formatter.FormatText,
					},
				},
				Action: r.RunsShow,
			},
			{
				Name:  "delete",
				Usage: "Remove a run from the ledger",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "id",
					},
				},
				Action: r.RunsDelete,
			},
		},
	}
}

// cacheCommand manages the catalog cache
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage the identity and rating key cache",
		Commands: []*cli.Command{
			{
				Name:   "warm",
				Usage:  "Walk every library section once and cache its rating keys",
				Flags:  []cli.Flag{destinationFlag()},
				Action: r.CacheWarm,
			},
			{
				Name:  "clear",
				Usage: "Drop cached entries for a server",
				Flags: []cli.Flag{
					destinationFlag(),
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Also drop legacy agent translations and metadata trees",
					},
				},
				Action: r.CacheClear,
			},
		},
	}
}

// setupCommand handles setup operations for configuration and the run ledger.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a config.toml template",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize the run ledger and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// apiCommand handles direct Plex API calls
func apiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Direct API calls to a Plex server",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Direct GET to the server, prints raw JSON",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					destinationFlag(),
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
						Value: true,
					},
				},
				Action: r.APIGet,
			},
			{
				Name:  "dump",
				Usage: "Server identity and library sections in one document",
				Flags: []cli.Flag{
					destinationFlag(),
					&cli.BoolFlag{
						Name:  "save",
						Usage: "Save dump to api_dump.json",
					},
				},
				Action: r.APIDump,
			},
		},
	}
}

// tuiCommand returns the top-level TUI command for an interactive export or import.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Run an export or import with a live progress view",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:  "operation",
				Value: "export",
			},
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Log the changes an import would make without sending them",
			},
		},
		Action: r.TUI,
	}
}
