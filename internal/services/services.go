// package services implements the external collaborators of the sync pipeline: the playlist metadata provider,
// video search and lyrics lookup.
package services

import (
	"context"

	"github.com/desertthunder/plsync/internal/models"
)

// PlaylistProvider pages through the entries of a playlist.
type PlaylistProvider interface {
	// PlaylistItems returns the first page of entries for playlistID.
	PlaylistItems(ctx context.Context, playlistID string) (*PlaylistPage, error)

	// NextPage follows page's cursor. It returns nil, nil once the cursor is exhausted.
	NextPage(ctx context.Context, page *PlaylistPage) (*PlaylistPage, error)
}

// PlaylistBrowser lists the playlists available to the authenticated user.
type PlaylistBrowser interface {
	GetPlaylists(ctx context.Context) ([]Playlist, error)
	GetPlaylist(ctx context.Context, playlistID string) (*Playlist, error)
}

// VideoSearcher finds candidate audio sources for a text query.
type VideoSearcher interface {
	// Search returns at most limit results in ranking order.
	Search(ctx context.Context, query string, limit int) ([]Video, error)
}

// LyricsProvider looks up song lyrics. An empty string with a nil error means no lyrics were found.
type LyricsProvider interface {
	SearchSong(ctx context.Context, title, artist string) (string, error)
}

// PlaylistPage is one page of playlist entries.
type PlaylistPage struct {
	Items  []models.PlaylistEntry `json:"items"`
	Total  int                    `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
	Next   *string                `json:"next"`
}

// Playlist represents playlist metadata.
type Playlist struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	TrackCount  int    `json:"track_count"`
	Public      bool   `json:"public"`
}

// Video is a video search result.
type Video struct {
	Link            string
	Title           string
	DurationDisplay string // m:ss or h:mm:ss, empty for live streams
}
