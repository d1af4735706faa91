package tasks

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/services"
	"github.com/desertthunder/plsync/internal/shared"
)

// CoverFileName is where the album art for the current song is staged.
const CoverFileName = "cover_photo.jpg"

// Tagger writes song metadata into the downloaded file {dir}/{name}.mp3.
type Tagger interface {
	Apply(ctx context.Context, song models.Song, dir, name string) error
}

// ID3Tagger writes ID3v2.4 frames: artist, title, album, year, front cover and lyrics.
type ID3Tagger struct {
	lyrics services.LyricsProvider
	logger *log.Logger
}

// NewID3Tagger creates a tagger. lyrics may be nil to skip lyrics lookups.
func NewID3Tagger(lyrics services.LyricsProvider, logger *log.Logger) *ID3Tagger {
	if logger == nil {
		logger = log.Default()
	}
	return &ID3Tagger{lyrics: lyrics, logger: logger}
}

// Apply tags the file and deletes the staged cover, whether or not tagging succeeds.
func (t *ID3Tagger) Apply(ctx context.Context, song models.Song, dir, name string) error {
	cover := filepath.Join(dir, CoverFileName)
	defer os.Remove(cover)

	path := filepath.Join(dir, name+audioExt)
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", shared.ErrTagWrite, path, err)
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	if picture, err := os.ReadFile(cover); err == nil {
		mimeType := mime.TypeByExtension(filepath.Ext(cover))
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    mimeType,
			PictureType: id3v2.PTFrontCover,
			Description: "Front cover",
			Picture:     picture,
		})
	}

	tag.SetArtist(strings.ReplaceAll(song.Artist, ",", ";"))
	tag.SetTitle(song.Name)
	tag.SetAlbum(song.Album)
	tag.SetYear(song.Year)

	if lyrics := t.findLyrics(ctx, song); lyrics != "" {
		tag.AddUnsynchronisedLyricsFrame(id3v2.UnsynchronisedLyricsFrame{
			Encoding: id3v2.EncodingUTF8,
			Language: "eng",
			Lyrics:   lyrics,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("%w: save %s: %v", shared.ErrTagWrite, path, err)
	}
	return nil
}

// findLyrics never fails: lookup errors only mean the song is tagged without lyrics.
func (t *ID3Tagger) findLyrics(ctx context.Context, song models.Song) string {
	if t.lyrics == nil {
		return ""
	}
	lyrics, err := t.lyrics.SearchSong(ctx, models.StripFeatured(song.Name), song.Artist)
	if err != nil {
		t.logger.Debug("lyrics lookup failed", "song", song.Name, "err", err)
		return ""
	}
	return lyrics
}
