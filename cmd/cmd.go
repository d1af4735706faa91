// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func rootFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			Value:   "config.toml",
		},
		&cli.StringSliceFlag{
			Name:  "env",
			Usage: "Dotenv files to load (default: .env)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn or error (overrides config)",
		},
	}
}

func playlistFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     "playlist",
		Aliases:  []string{"p"},
		Usage:    "Playlist ID, spotify: URI or share URL",
		Required: required,
	}
}

func dirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "dir",
		Aliases: []string{"d"},
		Usage:   "Target directory (default: download.directory)",
	}
}

func jsonFlag(usage string) cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: usage,
	}
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create the config file and initialize the history database",
		Action: r.Setup,
	}
}

func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Spotify authorization",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Authorize plsync with Spotify using OAuth2",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the browser callback",
						Value: defaultAuthTimeout,
					},
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the authorization URL instead of opening a browser",
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "status",
				Usage:  "Show stored Spotify credentials",
				Action: r.AuthStatus,
			},
		},
	}
}

func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Download the songs of a playlist that are missing locally",
		Flags: []cli.Flag{
			playlistFlag(true),
			dirFlag(),
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Only consider the first N playlist entries (default: download.limit)",
			},
			&cli.BoolFlag{
				Name:  "normalize",
				Usage: "Normalize loudness after a complete run (default: download.normalize)",
			},
			jsonFlag("Print events as JSON lines"),
		},
		Action: r.Sync,
	}
}

func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Sync a playlist with the interactive terminal UI",
		Flags: []cli.Flag{
			playlistFlag(false),
			dirFlag(),
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Only consider the first N playlist entries",
			},
			&cli.BoolFlag{
				Name:  "normalize",
				Usage: "Normalize loudness after a complete run",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Log file while the TUI owns the terminal (default: XDG state directory)",
			},
		},
		Action: r.TUI,
	}
}

func planCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Show what a sync would download without downloading",
		Flags: []cli.Flag{
			playlistFlag(true),
			dirFlag(),
			jsonFlag("Output the plan as JSON"),
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print JSON output",
			},
		},
		Action: r.Plan,
	}
}

func normalizeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "normalize",
		Usage: "Normalize the loudness of every MP3 in a directory",
		Flags: []cli.Flag{
			dirFlag(),
			&cli.FloatFlag{
				Name:  "target",
				Usage: "Target mean volume in dBFS (default: download.target_dbfs)",
			},
		},
		Action: r.Normalize,
	}
}

func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect past sync runs",
		Commands: []*cli.Command{
			{
				Name:  "runs",
				Usage: "List recent runs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of runs to list (0 lists all)",
						Value: 20,
					},
					jsonFlag("Output raw JSON"),
				},
				Action: r.HistoryRuns,
			},
			{
				Name:  "show",
				Usage: "Show the songs of one run",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "run",
						Usage:    "Run ID, or #N for the run with sequence N",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Report format: text, csv, md or json",
						Value:   "text",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the report to a file (\"-\" picks run_N.ext)",
					},
				},
				Action: r.HistoryShow,
			},
			{
				Name:  "delete",
				Usage: "Delete a run and its songs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "run",
						Usage:    "Run ID, or #N for the run with sequence N",
						Required: true,
					},
				},
				Action: r.HistoryDelete,
			},
		},
	}
}
