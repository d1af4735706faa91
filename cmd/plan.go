package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/agnivade/levenshtein"
	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
	"github.com/desertthunder/plsync/internal/tasks"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
)

// maxNearDistance is the largest edit distance at which a local file is reported as a likely match.
const maxNearDistance = 2

type plannedSong struct {
	Name          string `json:"name"`
	Artist        string `json:"artist"`
	FileName      string `json:"file_name"`
	NearDuplicate string `json:"near_duplicate,omitempty"`
}

type malformedEntry struct {
	Position int    `json:"position"`
	Name     string `json:"name,omitempty"`
	Error    string `json:"error"`
}

// syncPlan is what a sync of the same playlist into the same directory would do.
type syncPlan struct {
	PlaylistID string           `json:"playlist_id"`
	Directory  string           `json:"directory"`
	Fetched    int              `json:"fetched"`
	Skipped    []string         `json:"skipped"`
	Pending    []plannedSong    `json:"pending"`
	Malformed  []malformedEntry `json:"malformed"`
}

// buildPlan splits entries into those already present in existing and those a sync would process.
//
// Pending songs whose normalized name is within [maxNearDistance] edits of a local file carry that
// file as a near duplicate, which usually means a renamed or differently punctuated download.
func buildPlan(entries []models.PlaylistEntry, existing map[string]struct{}) syncPlan {
	plan := syncPlan{
		Fetched:   len(entries),
		Skipped:   []string{},
		Pending:   []plannedSong{},
		Malformed: []malformedEntry{},
	}

	pending := tasks.FilterPending(entries, existing)
	pendingSet := lo.SliceToMap(pending, func(e models.PlaylistEntry) (*models.Track, struct{}) {
		return e.Track, struct{}{}
	})
	plan.Skipped = lo.FilterMap(entries, func(e models.PlaylistEntry, _ int) (string, bool) {
		if e.Track == nil {
			return "", false
		}
		_, isPending := pendingSet[e.Track]
		return e.Track.Name, !isPending
	})

	local := lo.Keys(existing)
	for i, entry := range entries {
		if _, isPending := pendingSet[entry.Track]; entry.Track != nil && !isPending {
			continue
		}
		song, err := models.FormatSongData(entry)
		if err != nil {
			plan.Malformed = append(plan.Malformed, malformedEntry{Position: i + 1, Name: entry.Name(), Error: err.Error()})
			continue
		}
		plan.Pending = append(plan.Pending, plannedSong{
			Name:          song.Name,
			Artist:        song.Artist,
			FileName:      models.SanitizeFilename(song.Name) + ".mp3",
			NearDuplicate: nearest(models.NormalizeName(song.Name), local),
		})
	}
	return plan
}

// nearest returns the candidate closest to name, or "" when none is within [maxNearDistance].
func nearest(name string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	best := lo.MinBy(candidates, func(a, b string) bool {
		da, db := levenshtein.ComputeDistance(name, a), levenshtein.ComputeDistance(name, b)
		if da != db {
			return da < db
		}
		return a < b
	})
	if levenshtein.ComputeDistance(name, best) > maxNearDistance {
		return ""
	}
	return best
}

// Plan prints what `sync` would do for a playlist and directory, without downloading anything.
func (r *Runner) Plan(ctx context.Context, cmd *cli.Command) error {
	req := r.syncRequest(cmd)
	if req.Directory == "" {
		return fmt.Errorf("%w: --dir or download.directory", shared.ErrMissingArgument)
	}

	provider, err := r.spotifyClient(ctx)
	if err != nil {
		return err
	}

	entries, err := tasks.FetchEntries(ctx, provider, req.PlaylistID)
	if err != nil {
		return err
	}

	existing, err := tasks.LocalLibrary(req.Directory)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		existing = map[string]struct{}{}
	case err != nil:
		return err
	}

	plan := buildPlan(entries, existing)
	plan.PlaylistID = req.PlaylistID
	plan.Directory = req.Directory

	if cmd.Bool("json") {
		return r.writeJSON(plan, cmd.Bool("pretty"))
	}
	r.printPlan(plan)
	return nil
}

func (r *Runner) printPlan(plan syncPlan) {
	r.writePlainHeader(fmt.Sprintf("Plan for %s → %s", plan.PlaylistID, plan.Directory))
	r.writePlain("Fetched: %d  Already present: %d  To download: %d  Malformed: %d\n",
		plan.Fetched, len(plan.Skipped), len(plan.Pending), len(plan.Malformed))

	if len(plan.Pending) > 0 {
		r.writePlainln("To download:")
		for i, song := range plan.Pending {
			r.writePlain("%3d. %s by %s\n", i+1, song.Name, song.Artist)
			if song.NearDuplicate != "" {
				r.writePlain("     ~ similar local file: %s\n", song.NearDuplicate)
			}
		}
	}

	if len(plan.Malformed) > 0 {
		r.writePlainln("Malformed entries (will fail):")
		for _, m := range plan.Malformed {
			r.writePlain("  • #%d %s: %s\n", m.Position, m.Name, m.Error)
		}
	}

	if len(plan.Pending) == 0 && len(plan.Malformed) == 0 {
		r.writePlainln("✓ Already up to date")
	}
}
