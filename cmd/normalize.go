package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/plsync/internal/shared"
	"github.com/desertthunder/plsync/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Normalize brings every MP3 in a directory to the target mean volume.
func (r *Runner) Normalize(ctx context.Context, cmd *cli.Command) error {
	dl := r.config.Download

	dir := dl.Directory
	if cmd.IsSet("dir") {
		dir = cmd.String("dir")
	}
	if dir == "" {
		return fmt.Errorf("%w: --dir or download.directory", shared.ErrMissingArgument)
	}

	target := dl.TargetDBFS
	if cmd.IsSet("target") {
		target = cmd.Float("target")
	}

	r.logger.Info("normalizing loudness", "dir", dir, "target", target)
	normalizer := tasks.NewNormalizer(target, dl.FFmpegLocation, dl.Bitrate, r.logger)
	if err := normalizer.NormalizeDirectory(ctx, dir); err != nil {
		return err
	}

	return r.writePlain("✓ Normalized %s to %.1f dBFS\n", dir, target)
}
