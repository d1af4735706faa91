package models

import (
	"fmt"
	"strings"

	"github.com/desertthunder/plsync/internal/shared"
)

// Image is an album artwork reference.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// Artist is a credited artist on a track.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Album is the album a track belongs to.
type Album struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	ReleaseDate string  `json:"release_date"`
	Images      []Image `json:"images"`
}

// Track is the provider's track object nested in a playlist entry.
type Track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	DurationMS int      `json:"duration_ms"`
	Artists    []Artist `json:"artists"`
	Album      Album    `json:"album"`
}

// PlaylistEntry is one raw item of a playlist page.
//
// Track is nil for removed or unavailable items.
type PlaylistEntry struct {
	AddedAt string `json:"added_at"`
	Track   *Track `json:"track"`
}

// Name returns the entry's track name, or "" when the track is absent.
func (e PlaylistEntry) Name() string {
	if e.Track == nil {
		return ""
	}
	return e.Track.Name
}

// Song is the canonical descriptor of a playlist entry.
type Song struct {
	Name        string
	Artist      string // comma-joined, see FormatArtists
	Album       string
	Year        string
	DurationMS  int
	CoverArtURL string
}

// Title returns the display line sent to the UI: "{name} by {first artist}".
func (s Song) Title() string {
	first, _, _ := strings.Cut(s.Artist, ",")
	return fmt.Sprintf("%s by %s", s.Name, first)
}

// Query returns the video search query for the song.
func (s Song) Query() string {
	return s.Name + " " + s.Artist
}

// MalformedEntryError reports a playlist entry missing a field required to build a [Song].
type MalformedEntryError struct {
	Field string
	Entry string
}

func (e *MalformedEntryError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("%v: missing %s", shared.ErrMalformedEntry, e.Field)
	}
	return fmt.Sprintf("%v: %q missing %s", shared.ErrMalformedEntry, e.Entry, e.Field)
}

func (e *MalformedEntryError) Unwrap() error {
	return shared.ErrMalformedEntry
}

// FormatSongData converts a raw entry into a [Song].
//
// Cover art is the first album image and the year is the part of the release date before the first '-'.
func FormatSongData(entry PlaylistEntry) (Song, error) {
	tr := entry.Track
	if tr == nil {
		return Song{}, &MalformedEntryError{Field: "track"}
	}
	if len(tr.Album.Images) == 0 {
		return Song{}, &MalformedEntryError{Field: "album.images", Entry: tr.Name}
	}

	year, _, _ := strings.Cut(strings.TrimSpace(tr.Album.ReleaseDate), "-")
	if year == "" {
		return Song{}, &MalformedEntryError{Field: "album.release_date", Entry: tr.Name}
	}

	return Song{
		Name:        tr.Name,
		Artist:      FormatArtists(tr.Artists),
		Album:       tr.Album.Name,
		Year:        year,
		DurationMS:  tr.DurationMS,
		CoverArtURL: tr.Album.Images[0].URL,
	}, nil
}

// FormatArtists joins artist names with ", ".
func FormatArtists(artists []Artist) string {
	names := make([]string, 0, len(artists))
	for _, a := range artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

var normalizer = strings.NewReplacer(" ", "", "-", "", "_", "")

// NormalizeName lowercases name and strips spaces, hyphens and underscores.
//
// The result is only used to compare titles against local file names.
func NormalizeName(name string) string {
	return normalizer.Replace(strings.ToLower(name))
}

var sanitizer = strings.NewReplacer(
	"<", "", ">", "", ":", "", `"`, "", "/", "", `\`, "", "|", "", "?", "", "*", "",
)

// SanitizeFilename removes characters that are invalid in common filesystems. Collisions are not prevented.
func SanitizeFilename(name string) string {
	return sanitizer.Replace(name)
}

var featuredSeparators = []string{"ft.", "feat", "(feat", "(ft.", "(feat."}

// StripFeatured drops featured-artist suffixes from a title before a lyrics lookup.
func StripFeatured(name string) string {
	for _, sep := range featuredSeparators {
		name, _, _ = strings.Cut(name, sep)
	}
	return strings.TrimRight(name, " (")
}
