package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/plsync/internal/formatter"
	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/repositories"
	"github.com/desertthunder/plsync/internal/shared"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
)

type runJSON struct {
	ID         string     `json:"id"`
	Sequence   int        `json:"sequence"`
	PlaylistID string     `json:"playlist_id"`
	Directory  string     `json:"directory"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Total      int        `json:"total"`
	Success    int        `json:"success"`
	Failure    int        `json:"failure"`
}

func toRunJSON(run *models.Run) runJSON {
	return runJSON{
		ID:         run.ID(),
		Sequence:   run.Sequence(),
		PlaylistID: run.PlaylistID(),
		Directory:  run.Directory(),
		Status:     run.Status(),
		StartedAt:  run.StartedAt(),
		FinishedAt: run.FinishedAt(),
		Total:      run.Total(),
		Success:    run.Success(),
		Failure:    run.Failure(),
	}
}

// HistoryRuns lists recent runs, newest first.
func (r *Runner) HistoryRuns(ctx context.Context, cmd *cli.Command) error {
	db, err := r.historyDB()
	if err != nil {
		return err
	}

	runs, err := repositories.NewRunRepository(db).List(cmd.Int("limit"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(lo.Map(runs, func(run *models.Run, _ int) runJSON { return toRunJSON(run) }), true)
	}

	if len(runs) == 0 {
		return r.writePlain("No runs recorded yet\n")
	}

	r.writePlainHeader(fmt.Sprintf("Runs (%d)", len(runs)))
	for _, run := range runs {
		r.writePlain("#%-4d %s  %-9s %3d/%-3d ok  %s → %s\n",
			run.Sequence(), run.StartedAt().Local().Format("2006-01-02 15:04"), run.Status(),
			run.Success(), run.Total(), run.PlaylistID(), run.Directory())
		r.writePlain("      %s\n", run.ID())
	}
	return nil
}

// HistoryShow renders the report of one run to stdout or to a file.
func (r *Runner) HistoryShow(ctx context.Context, cmd *cli.Command) error {
	db, err := r.historyDB()
	if err != nil {
		return err
	}

	run, err := findRun(repositories.NewRunRepository(db), cmd.String("run"))
	if err != nil {
		return err
	}

	downloads, err := repositories.NewDownloadRepository(db).ListByRun(run.ID())
	if err != nil {
		return err
	}

	report := formatter.RunReport{Run: run, Downloads: downloads}
	format := cmd.String("format")

	if !cmd.IsSet("output") {
		return formatter.WriteReport(r.output, report, format)
	}

	path := cmd.String("output")
	if path == "-" {
		path = ""
	}
	written, err := formatter.WriteReportFile(report, format, path)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Report written to %s\n", written)
}

// HistoryDelete removes a run and its recorded songs.
func (r *Runner) HistoryDelete(ctx context.Context, cmd *cli.Command) error {
	db, err := r.historyDB()
	if err != nil {
		return err
	}

	runs := repositories.NewRunRepository(db)
	run, err := findRun(runs, cmd.String("run"))
	if err != nil {
		return err
	}

	if err := runs.Delete(run.ID()); err != nil {
		return err
	}
	return r.writePlain("✓ Deleted run #%d (%s)\n", run.Sequence(), run.ID())
}

// findRun resolves ref, either a run ID or "#N" for the run with sequence N.
func findRun(runs *repositories.RunRepository, ref string) (*models.Run, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: run", shared.ErrMissingArgument)
	}

	digits, isSequence := strings.CutPrefix(ref, "#")
	if !isSequence {
		return runs.Get(ref)
	}

	seq, err := strconv.Atoi(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid run sequence %q", shared.ErrInvalidArgument, ref)
	}

	all, err := runs.List(0)
	if err != nil {
		return nil, err
	}
	run, ok := lo.Find(all, func(run *models.Run) bool { return run.Sequence() == seq })
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrRunNotFound, ref)
	}
	return run, nil
}
