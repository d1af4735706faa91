package tasks

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/plsync/internal/shared"
)

// DefaultTargetDBFS is the mean volume every file is adjusted to.
const DefaultTargetDBFS = -14.0

var meanVolumePattern = regexp.MustCompile(`mean_volume:\s*(-?[0-9]+(?:\.[0-9]+)?|-inf) dB`)

// LoudnessNormalizer adjusts the loudness of every MP3 in a directory.
type LoudnessNormalizer interface {
	NormalizeDirectory(ctx context.Context, dir string) error
}

// Transcoder measures and applies gain to audio files.
type Transcoder interface {
	// MeanVolume returns the mean volume of path in dBFS.
	MeanVolume(ctx context.Context, path string) (float64, error)

	// ApplyGain writes src amplified by gainDB to dst, keeping tags and cover art.
	ApplyGain(ctx context.Context, src, dst string, gainDB float64) error
}

// FFmpeg implements [Transcoder] with the ffmpeg binary.
type FFmpeg struct {
	Path    string
	Bitrate int // kbps used when re-encoding (default: 192)
}

// FindFFmpeg locates ffmpeg at location (a binary or its directory), or on PATH when location is empty.
func FindFFmpeg(location string, bitrate int) (*FFmpeg, error) {
	name := "ffmpeg"
	if location != "" {
		name = location
		if info, err := os.Stat(location); err == nil && info.IsDir() {
			name = filepath.Join(location, "ffmpeg")
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return nil, err
	}
	return &FFmpeg{Path: path, Bitrate: bitrate}, nil
}

func (f *FFmpeg) MeanVolume(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, f.Path, "-hide_banner", "-nostats", "-i", path, "-af", "volumedetect", "-vn", "-f", "null", "-")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("volumedetect failed: %w: %s", err, lastLine(out))
	}
	return parseMeanVolume(string(out))
}

func (f *FFmpeg) ApplyGain(ctx context.Context, src, dst string, gainDB float64) error {
	bitrate := f.Bitrate
	if bitrate <= 0 {
		bitrate = 192
	}

	cmd := exec.CommandContext(ctx, f.Path,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-map", "0", "-map_metadata", "0",
		"-c:v", "copy",
		"-af", fmt.Sprintf("volume=%.2fdB", gainDB),
		"-c:a", "libmp3lame", "-b:a", fmt.Sprintf("%dk", bitrate),
		"-id3v2_version", "3",
		dst,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("volume filter failed: %w: %s", err, lastLine(out))
	}
	return nil
}

func parseMeanVolume(output string) (float64, error) {
	m := meanVolumePattern.FindStringSubmatch(output)
	if m == nil {
		return 0, fmt.Errorf("%w: no mean_volume in ffmpeg output", shared.ErrInvalidInput)
	}
	if m[1] == "-inf" {
		return 0, fmt.Errorf("%w: file is silent", shared.ErrInvalidInput)
	}
	return strconv.ParseFloat(m[1], 64)
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return lines[len(lines)-1]
}

// Normalizer implements [LoudnessNormalizer] over a [Transcoder].
type Normalizer struct {
	target float64
	locate func() (Transcoder, error)
	logger *log.Logger
}

// NewNormalizer creates a normalizer that looks for ffmpeg when a directory is processed.
func NewNormalizer(target float64, ffmpegLocation string, bitrate int, logger *log.Logger) *Normalizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Normalizer{
		target: target,
		logger: logger,
		locate: func() (Transcoder, error) {
			return FindFFmpeg(ffmpegLocation, bitrate)
		},
	}
}

// NormalizeDirectory brings every .mp3 in dir to the target mean volume.
//
// A missing ffmpeg only logs a warning. Failures on individual files are logged and skipped.
func (n *Normalizer) NormalizeDirectory(ctx context.Context, dir string) error {
	tc, err := n.locate()
	if err != nil {
		n.logger.Warn("ffmpeg not found, skipping loudness normalization", "err", err)
		return nil
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", shared.ErrInvalidArgument, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}

	normalized := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), audioExt) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(dir, entry.Name())
		if err := n.normalizeFile(ctx, tc, path); err != nil {
			n.logger.Error("failed to normalize", "file", entry.Name(), "err", err)
			continue
		}
		normalized++
	}

	n.logger.Info("loudness normalization finished", "dir", dir, "files", normalized, "target_dbfs", n.target)
	return nil
}

func (n *Normalizer) normalizeFile(ctx context.Context, tc Transcoder, path string) error {
	mean, err := tc.MeanVolume(ctx, path)
	if err != nil {
		return err
	}

	// ffmpeg rewrites lyrics as TXXX frames, so the original tag is put back afterwards.
	source, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		n.logger.Debug("unreadable tag, keeping transcoder metadata", "file", filepath.Base(path), "err", err)
		if source != nil {
			source.Close()
		}
		source = nil
	}
	closeSource := func() {
		if source != nil {
			source.Close()
			source = nil
		}
	}
	defer closeSource()

	gain := n.target - mean
	temp := filepath.Join(filepath.Dir(path), "."+strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+".normalizing"+audioExt)
	if err := tc.ApplyGain(ctx, path, temp, gain); err != nil {
		os.Remove(temp)
		return err
	}
	if source != nil && source.HasFrames() {
		if err := restoreTag(temp, source); err != nil {
			os.Remove(temp)
			return err
		}
	}
	closeSource()

	if err := os.Rename(temp, path); err != nil {
		os.Remove(temp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	n.logger.Debug("normalized", "file", filepath.Base(path), "mean_dbfs", mean, "gain_db", gain)
	return nil
}

// restoreTag replaces the tag of path with every frame of source, in source's ID3 version.
func restoreTag(path string, source *id3v2.Tag) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", shared.ErrTagWrite, path, err)
	}
	defer tag.Close()

	tag.DeleteAllFrames()
	tag.SetVersion(source.Version())
	for id, frames := range source.AllFrames() {
		for _, frame := range frames {
			tag.AddFrame(id, frame)
		}
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("%w: save %s: %v", shared.ErrTagWrite, path, err)
	}
	return nil
}
