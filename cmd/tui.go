package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/plsync/internal/services"
	"github.com/desertthunder/plsync/internal/shared"
	"github.com/desertthunder/plsync/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive terminal UI. Without --playlist the user picks one of their playlists.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	req := r.syncRequest(cmd)
	if req.Directory == "" {
		return fmt.Errorf("%w: --dir or download.directory", shared.ErrMissingArgument)
	}

	// Redirect logs to file to avoid interfering with TUI rendering
	logPath := cmd.String("log-file")
	if logPath == "" {
		p, err := shared.DefaultLogPath()
		if err != nil {
			return fmt.Errorf("failed to resolve log path: %w", err)
		}
		logPath = p
	}
	fileLogger, err := shared.NewFileLogger(logPath)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	fileLogger.SetLevel(r.logger.GetLevel())
	r.SetLogger(fileLogger)

	engine, err := r.syncEngine(ctx)
	if err != nil {
		return err
	}

	var browser services.PlaylistBrowser
	if req.PlaylistID == "" {
		if browser, err = r.spotifyClient(ctx); err != nil {
			return err
		}
	}

	model := ui.NewModel(ctx, engine, browser, req)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	result, err := model.Result()
	if err != nil {
		return err
	}
	if result != nil {
		r.printSummary(result)
	}
	return nil
}
