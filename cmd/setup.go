package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/plsync/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup writes config.toml from the template when it is missing, then opens the history database,
// which applies pending migrations.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	if _, err := os.Stat(r.configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", r.configPath)
		if err := shared.CreateConfigFile(r.configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		r.writePlain("✓ Created %s\n", r.configPath)
	} else {
		r.writePlain("✓ Using %s\n", r.configPath)
	}

	path := r.config.Database.Path
	if path == "" {
		p, err := shared.DefaultDatabasePath()
		if err != nil {
			return fmt.Errorf("failed to resolve database path: %w", err)
		}
		path = p
	}

	r.logger.Info("initializing database", "path", path)
	db, err := r.historyDB()
	if err != nil {
		return err
	}

	applied, pending, err := shared.MigrationStatus(db)
	if err != nil {
		return err
	}

	r.writePlain("✓ History database ready: %s\n", path)
	r.writePlain("Migrations applied: %d, pending: %d\n", applied, pending)

	if path, err := r.findYTDLP(ctx); err != nil {
		r.writePlain("✗ yt-dlp not found, install it before running 'plsync sync'\n")
		r.logger.Debug("yt-dlp lookup failed", "err", err)
	} else {
		r.writePlain("✓ yt-dlp: %s\n", path)
	}

	if r.config.Credentials.Spotify.ClientID == "" {
		r.writePlainln("Next steps:")
		r.writePlain("1. Add your Spotify client_id and client_secret to %s\n", r.configPath)
		r.writePlain("2. Run 'plsync auth login' to authorize private playlists\n")
	}
	return nil
}
