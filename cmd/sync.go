package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/desertthunder/plsync/internal/shared"
	"github.com/desertthunder/plsync/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Sync runs one synchronization, printing events as they arrive.
//
// The first interrupt asks the engine to stop after the current song; a second one cancels the run.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	req := r.syncRequest(cmd)
	if req.Directory == "" {
		return fmt.Errorf("%w: --dir or download.directory", shared.ErrMissingArgument)
	}

	engine, err := r.syncEngine(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := tasks.NewStopToken()
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	go func() {
		select {
		case <-signals:
			stop.Exit()
			r.logger.Warn("stopping after current song, interrupt again to abort")
		case <-ctx.Done():
			return
		}
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	asJSON := cmd.Bool("json")
	result, err := engine.Run(ctx, req, r.eventPrinter(asJSON), stop)
	if err != nil {
		if errors.Is(err, shared.ErrNotAuthenticated) || errors.Is(err, shared.ErrTokenExpired) {
			return fmt.Errorf("%w (run 'plsync auth login')", err)
		}
		return err
	}

	if asJSON {
		return r.writeJSON(resultJSON(result), false)
	}
	r.printSummary(result)
	return nil
}

// eventPrinter renders engine events as text lines, or as one JSON object per line.
func (r *Runner) eventPrinter(asJSON bool) tasks.EventSink {
	return tasks.SinkFunc(func(e tasks.Event) {
		var err error
		switch {
		case asJSON:
			err = r.writeJSON(e, false)
		case e.Type == tasks.EventSongTitle:
			err = r.writePlain("→ %s\n", e.Title)
		case e.Type == tasks.EventETA:
			r.logger.Debug("eta", "elapsed", e.ETA.Elapsed, "remaining", e.ETA.Remaining)
		default:
			err = r.writePlain("  %s\n", e)
		}
		if err != nil {
			r.logger.Debug("failed to print event", "err", err)
		}
	})
}

func (r *Runner) printSummary(result *tasks.SyncResult) {
	switch {
	case result.Cancelled:
		r.writePlainln("Sync stopped: %d of %d songs processed", result.Success+result.Failed, result.Total)
	case result.Total == 0:
		r.writePlainln("✓ Already up to date (%d songs)", result.Fetched)
		return
	default:
		r.writePlainln("✓ Sync complete")
	}

	r.writePlain("Fetched: %d  Skipped: %d  Processed: %d\n", result.Fetched, result.Skipped, result.Total)
	r.writePlain("Succeeded: %d  Failed: %d  Elapsed: %s\n", result.Success, result.Failed, result.Elapsed.Round(time.Second))

	if len(result.Failures) > 0 {
		r.writePlainln("Failed songs (%d):", len(result.Failures))
		for _, f := range result.Failures {
			r.writePlain("  • %s: %v\n", f.Name, f.Err)
		}
	}
	if result.RunID != "" {
		r.writePlain("\nRun ID: %s\n", result.RunID)
	}
}

type failureJSON struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

type syncResultJSON struct {
	Type       string        `json:"type"`
	RunID      string        `json:"run_id,omitempty"`
	PlaylistID string        `json:"playlist_id"`
	Fetched    int           `json:"fetched"`
	Skipped    int           `json:"skipped"`
	Total      int           `json:"total"`
	Success    int           `json:"success"`
	Failed     int           `json:"failed"`
	Cancelled  bool          `json:"cancelled"`
	Elapsed    float64       `json:"elapsed"`
	Failures   []failureJSON `json:"failures"`
}

func resultJSON(result *tasks.SyncResult) syncResultJSON {
	out := syncResultJSON{
		Type:       "summary",
		RunID:      result.RunID,
		PlaylistID: result.PlaylistID,
		Fetched:    result.Fetched,
		Skipped:    result.Skipped,
		Total:      result.Total,
		Success:    result.Success,
		Failed:     result.Failed,
		Cancelled:  result.Cancelled,
		Elapsed:    result.Elapsed.Seconds(),
		Failures:   make([]failureJSON, 0, len(result.Failures)),
	}
	for _, f := range result.Failures {
		out.Failures = append(out.Failures, failureJSON{Name: f.Name, Error: f.Err.Error()})
	}
	return out
}
