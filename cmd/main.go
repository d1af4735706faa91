package main

import (
	"context"
	"errors"
	"os"

	"github.com/desertthunder/plsync/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)
	runner := NewRunner(RunnerOpts{Logger: logger})

	app := &cli.Command{
		Name:     "plsync",
		Usage:    "Mirror Spotify playlists into local folders of tagged MP3s",
		Version:  "0.1.0",
		Flags:    rootFlags(),
		Before:   runner.loadConfig,
		After:    runner.close,
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		switch {
		case errors.Is(err, shared.ErrNotImplemented):
			logger.Warn("not implemented")
			os.Exit(0)
		case errors.Is(err, context.Canceled):
			logger.Warn("interrupted")
			os.Exit(130)
		default:
			logger.Fatalf("application error: %v", err)
		}
	}
}
