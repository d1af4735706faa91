package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bogem/id3v2/v2"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/plsync/internal/shared"
	tu "github.com/desertthunder/plsync/internal/testing"
)

// fakeTranscoder reports a fixed mean volume and writes "gain=<dB>" into the output file.
type fakeTranscoder struct {
	mean    float64
	failOn  string
	applied map[string]float64
}

func (f *fakeTranscoder) MeanVolume(ctx context.Context, path string) (float64, error) {
	if filepath.Base(path) == f.failOn {
		return 0, errors.New("volumedetect failed")
	}
	return f.mean, nil
}

func (f *fakeTranscoder) ApplyGain(ctx context.Context, src, dst string, gainDB float64) error {
	f.applied[filepath.Base(src)] = gainDB
	return os.WriteFile(dst, []byte(fmt.Sprintf("gain=%.1f", gainDB)), 0644)
}

// ffmpegLikeTranscoder writes a v2.3 tag holding the lyrics as a TXXX frame, the way ffmpeg's muxer does.
type ffmpegLikeTranscoder struct{}

func (ffmpegLikeTranscoder) MeanVolume(ctx context.Context, path string) (float64, error) {
	return -20, nil
}

func (ffmpegLikeTranscoder) ApplyGain(ctx context.Context, src, dst string, gainDB float64) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	tag := id3v2.NewEmptyTag()
	tag.SetVersion(3)
	tag.AddUserDefinedTextFrame(id3v2.UserDefinedTextFrame{
		Encoding:    id3v2.EncodingUTF8,
		Description: "lyrics-eng",
		Value:       "la la la",
	})
	if _, err := tag.WriteTo(f); err != nil {
		return err
	}
	_, err = f.WriteString("normalized audio")
	return err
}

func TestNormalizer(t *testing.T) {
	ctx := context.Background()
	logger := log.New(io.Discard)

	newNormalizer := func(tc Transcoder) *Normalizer {
		return &Normalizer{
			target: DefaultTargetDBFS,
			logger: logger,
			locate: func() (Transcoder, error) { return tc, nil },
		}
	}

	t.Run("adjusts every mp3 to the target", func(t *testing.T) {
		dir := t.TempDir()
		tu.MustWriteFile(t, filepath.Join(dir, "a.mp3"), "a")
		tu.MustWriteFile(t, filepath.Join(dir, "b.MP3"), "b")
		tu.MustWriteFile(t, filepath.Join(dir, "notes.txt"), "keep")
		if err := os.Mkdir(filepath.Join(dir, "nested.mp3"), 0755); err != nil {
			t.Fatal(err)
		}

		tc := &fakeTranscoder{mean: -20, applied: map[string]float64{}}
		if err := newNormalizer(tc).NormalizeDirectory(ctx, dir); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if len(tc.applied) != 2 {
			t.Fatalf("expected 2 files normalized, got %v", tc.applied)
		}
		if gain := tc.applied["a.mp3"]; math.Abs(gain-6) > 1e-9 {
			t.Errorf("expected +6 dB gain, got %v", gain)
		}
		if got := tu.MustReadFile(t, filepath.Join(dir, "a.mp3")); got != "gain=6.0" {
			t.Errorf("expected normalized file to replace the original, got %q", got)
		}
		if got := tu.MustReadFile(t, filepath.Join(dir, "notes.txt")); got != "keep" {
			t.Error("non-mp3 files should be untouched")
		}

		entries, _ := os.ReadDir(dir)
		if len(entries) != 4 {
			t.Errorf("expected no temp files left behind, got %d entries", len(entries))
		}
	})

	t.Run("keeps the original tag frames", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "Song.mp3")
		tu.MustWriteFile(t, path, "original audio bytes")

		tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
		if err != nil {
			t.Fatal(err)
		}
		tag.SetTitle("Song")
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    "image/jpeg",
			PictureType: id3v2.PTFrontCover,
			Picture:     []byte("jpeg bytes"),
		})
		tag.AddUnsynchronisedLyricsFrame(id3v2.UnsynchronisedLyricsFrame{
			Encoding: id3v2.EncodingUTF8,
			Language: "eng",
			Lyrics:   "la la la",
		})
		if err := tag.Save(); err != nil {
			t.Fatal(err)
		}
		tag.Close()

		if err := newNormalizer(ffmpegLikeTranscoder{}).NormalizeDirectory(ctx, dir); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		got, err := id3v2.Open(path, id3v2.Options{Parse: true})
		if err != nil {
			t.Fatalf("failed to reopen tag: %v", err)
		}
		defer got.Close()

		if got.Version() != 4 {
			t.Errorf("expected ID3v2.4, got v2.%d", got.Version())
		}
		if got.Title() != "Song" {
			t.Errorf("expected title Song, got %q", got.Title())
		}
		uslt := got.GetFrames(got.CommonID("Unsynchronised lyrics/text transcription"))
		if len(uslt) != 1 || uslt[0].(id3v2.UnsynchronisedLyricsFrame).Lyrics != "la la la" {
			t.Errorf("expected lyrics frame to survive, got %v", uslt)
		}
		if pics := got.GetFrames(got.CommonID("Attached picture")); len(pics) != 1 {
			t.Errorf("expected cover to survive, got %d pictures", len(pics))
		}
		if txxx := got.GetFrames(got.CommonID("User defined text information frame")); len(txxx) != 0 {
			t.Errorf("expected no TXXX frames, got %v", txxx)
		}
		if body := tu.MustReadFile(t, path); !strings.HasSuffix(body, "normalized audio") {
			t.Error("expected normalized audio to replace the original")
		}
	})

	t.Run("per-file failures do not stop the run", func(t *testing.T) {
		dir := t.TempDir()
		tu.MustWriteFile(t, filepath.Join(dir, "bad.mp3"), "bad")
		tu.MustWriteFile(t, filepath.Join(dir, "good.mp3"), "good")

		tc := &fakeTranscoder{mean: -10, failOn: "bad.mp3", applied: map[string]float64{}}
		if err := newNormalizer(tc).NormalizeDirectory(ctx, dir); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if _, ok := tc.applied["good.mp3"]; !ok {
			t.Error("expected good.mp3 to be normalized")
		}
		if got := tu.MustReadFile(t, filepath.Join(dir, "bad.mp3")); got != "bad" {
			t.Errorf("failed file should be left as-is, got %q", got)
		}
	})

	t.Run("missing ffmpeg is a warning", func(t *testing.T) {
		n := &Normalizer{target: DefaultTargetDBFS, logger: logger, locate: func() (Transcoder, error) {
			return nil, errors.New("executable file not found in $PATH")
		}}
		if err := n.NormalizeDirectory(ctx, "/definitely/not/here"); err != nil {
			t.Errorf("expected nil without ffmpeg, got %v", err)
		}
	})

	t.Run("not a directory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "song.mp3")
		tu.MustWriteFile(t, file, "x")

		tc := &fakeTranscoder{applied: map[string]float64{}}
		if err := newNormalizer(tc).NormalizeDirectory(ctx, file); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestParseMeanVolume(t *testing.T) {
	output := `[Parsed_volumedetect_0 @ 0x5581] n_samples: 21012480
[Parsed_volumedetect_0 @ 0x5581] mean_volume: -18.3 dB
[Parsed_volumedetect_0 @ 0x5581] max_volume: -1.2 dB`

	got, err := parseMeanVolume(output)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != -18.3 {
		t.Errorf("expected -18.3, got %v", got)
	}

	if _, err := parseMeanVolume("mean_volume: -inf dB"); !errors.Is(err, shared.ErrInvalidInput) {
		t.Errorf("expected silent file error, got %v", err)
	}
	if _, err := parseMeanVolume("no stats"); !errors.Is(err, shared.ErrInvalidInput) {
		t.Errorf("expected missing stats error, got %v", err)
	}
}

func TestFindFFmpeg(t *testing.T) {
	if _, err := FindFFmpeg(filepath.Join(t.TempDir(), "nope"), 192); err == nil {
		t.Error("expected error for missing ffmpeg location")
	}
}
