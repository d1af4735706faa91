// Package services implements the collaborators the sync pipeline talks to over the network.
//
// # Metadata Provider
//
// [SpotifyService] implements [PlaylistProvider] and [PlaylistBrowser] on the Spotify Web API using [oauth2].
// Without a stored user token it falls back to the client credentials flow, which can read public playlists.
// A user token (from `plsync auth`) is refreshed automatically by the oauth2 transport.
//
// # Video Search
//
// [YouTubeSearcher] implements [VideoSearcher] by running yt-dlp against a "ytsearchN:" target with flat
// extraction and parsing the JSON document with gjson.
//
// # Lyrics
//
// [GeniusClient] searches the Genius API and scrapes the lyrics containers of the song page with goquery.
// [LRCLibClient] queries the public LRCLIB API. Both implement [LyricsProvider].
//
// # Error Handling
//
// Services use typed errors from shared package:
//   - [shared.ErrNotAuthenticated] : Authenticate() not called
//   - [shared.ErrTokenExpired] : the provider rejected the token (HTTP 401)
//   - [shared.ErrPlaylistNotFound] : the playlist does not exist or is private (HTTP 404)
//   - [shared.ErrAPIRequest] : any other failed request
//   - [shared.ErrMissingCredentials] : a client was built without the credentials it needs
package services
