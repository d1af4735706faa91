package tasks

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2/v2"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
	tu "github.com/desertthunder/plsync/internal/testing"
)

func TestID3Tagger(t *testing.T) {
	ctx := context.Background()
	logger := log.New(io.Discard)
	song := models.Song{
		Name:   "Song (feat. Guest)",
		Artist: "Artist A, Artist B",
		Album:  "Album",
		Year:   "2021",
	}

	readTag := func(t *testing.T, path string) *id3v2.Tag {
		t.Helper()
		tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
		if err != nil {
			t.Fatalf("failed to reopen tag: %v", err)
		}
		t.Cleanup(func() { tag.Close() })
		return tag
	}

	t.Run("writes fields, cover and lyrics", func(t *testing.T) {
		dir := t.TempDir()
		tu.MustWriteFile(t, filepath.Join(dir, "Song.mp3"), "not really audio")
		tu.MustWriteFile(t, filepath.Join(dir, CoverFileName), "jpeg bytes")
		lyrics := &tu.MockLyrics{Lyrics: "la la la"}

		if err := NewID3Tagger(lyrics, logger).Apply(ctx, song, dir, "Song"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		tag := readTag(t, filepath.Join(dir, "Song.mp3"))
		if tag.Artist() != "Artist A; Artist B" {
			t.Errorf("expected artists separated by ';', got %q", tag.Artist())
		}
		if tag.Title() != song.Name || tag.Album() != "Album" || tag.Year() != "2021" {
			t.Errorf("unexpected fields: %q %q %q", tag.Title(), tag.Album(), tag.Year())
		}

		pictures := tag.GetFrames(tag.CommonID("Attached picture"))
		if len(pictures) != 1 {
			t.Fatalf("expected one picture, got %d", len(pictures))
		}
		pic, ok := pictures[0].(id3v2.PictureFrame)
		if !ok {
			t.Fatalf("unexpected frame type %T", pictures[0])
		}
		if pic.MimeType != "image/jpeg" || pic.PictureType != id3v2.PTFrontCover || string(pic.Picture) != "jpeg bytes" {
			t.Errorf("unexpected picture frame %+v", pic)
		}

		uslt := tag.GetFrames(tag.CommonID("Unsynchronised lyrics/text transcription"))
		if len(uslt) != 1 {
			t.Fatalf("expected one lyrics frame, got %d", len(uslt))
		}
		if frame := uslt[0].(id3v2.UnsynchronisedLyricsFrame); frame.Lyrics != "la la la" {
			t.Errorf("unexpected lyrics %q", frame.Lyrics)
		}

		if lyrics.Title != "Song" || lyrics.Artist != "Artist A, Artist B" {
			t.Errorf("expected lookup with featured artists stripped, got %q / %q", lyrics.Title, lyrics.Artist)
		}
		tu.AssertFileNotExists(t, filepath.Join(dir, CoverFileName))
	})

	t.Run("lyrics failures are ignored", func(t *testing.T) {
		dir := t.TempDir()
		tu.MustWriteFile(t, filepath.Join(dir, "Song.mp3"), "audio")

		err := NewID3Tagger(&tu.MockLyrics{Err: shared.ErrAPIRequest}, logger).Apply(ctx, song, dir, "Song")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		tag := readTag(t, filepath.Join(dir, "Song.mp3"))
		if n := len(tag.GetFrames(tag.CommonID("Unsynchronised lyrics/text transcription"))); n != 0 {
			t.Errorf("expected no lyrics frame, got %d", n)
		}
		if n := len(tag.GetFrames(tag.CommonID("Attached picture"))); n != 0 {
			t.Errorf("expected no picture without a staged cover, got %d", n)
		}
	})

	t.Run("missing audio file", func(t *testing.T) {
		dir := t.TempDir()
		tu.MustWriteFile(t, filepath.Join(dir, CoverFileName), "jpeg bytes")

		err := NewID3Tagger(nil, logger).Apply(ctx, song, dir, "Missing")
		if !errors.Is(err, shared.ErrTagWrite) {
			t.Errorf("expected ErrTagWrite, got %v", err)
		}
		tu.AssertFileNotExists(t, filepath.Join(dir, CoverFileName))
	})
}
