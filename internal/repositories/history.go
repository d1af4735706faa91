package repositories

import (
	"context"
	"fmt"

	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/tasks"
)

// HistoryAdapter implements [tasks.HistoryRecorder] on top of the run and download repositories.
//
// Runs are created at the start of a sync and finished with the final counts,
// so an interrupted process leaves a run in the "running" state.
type HistoryAdapter struct {
	runs      *RunRepository
	downloads *DownloadRepository
}

var _ tasks.HistoryRecorder = (*HistoryAdapter)(nil)

// NewHistoryAdapter creates a new HistoryAdapter with the given repositories
func NewHistoryAdapter(runs *RunRepository, downloads *DownloadRepository) *HistoryAdapter {
	return &HistoryAdapter{runs: runs, downloads: downloads}
}

// StartRun records the beginning of a run and returns its ID.
func (a *HistoryAdapter) StartRun(ctx context.Context, playlistID, dir string, total int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	run := models.NewRun(playlistID, dir, total)
	if err := a.runs.Create(run); err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return run.ID(), nil
}

// RecordSong stores one song outcome under runID.
func (a *HistoryAdapter) RecordSong(ctx context.Context, runID string, rec tasks.SongRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	download := models.NewDownload(runID, rec.Song, rec.FileName, rec.Link, rec.Err)
	if err := a.downloads.Create(download); err != nil {
		return fmt.Errorf("failed to record song: %w", err)
	}
	return nil
}

// FinishRun writes the final counts for runID.
func (a *HistoryAdapter) FinishRun(ctx context.Context, runID string, success, failure int, cancelled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	run, err := a.runs.Get(runID)
	if err != nil {
		return err
	}

	run.Finish(success, failure, cancelled)
	if err := a.runs.Update(run); err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}
