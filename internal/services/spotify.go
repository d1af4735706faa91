// Spotify Web API implementation of [PlaylistProvider] and [PlaylistBrowser]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	// playlistPageSize is the largest page the tracks endpoint serves.
	playlistPageSize = 100
)

var playlistIDPattern = regexp.MustCompile(`(?:open\.spotify\.com/(?:[a-z-]+/)?playlist/|spotify:playlist:)([A-Za-z0-9]+)`)
var bareIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

type owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type trackCount struct {
	Total int `json:"total"`
}

// SpotifyPlaylist is the playlist object without its track listing.
type SpotifyPlaylist struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Owner       owner          `json:"owner"`
	Public      bool           `json:"public"`
	Tracks      trackCount     `json:"tracks"`
	Images      []models.Image `json:"images"`
	URI         string         `json:"uri"`
}

// SpotifyPaginatedPlaylists represents a paginated response of playlists.
type SpotifyPaginatedPlaylists struct {
	Items  []SpotifyPlaylist `json:"items"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
	Next   *string           `json:"next"`
}

// SpotifyService talks to the Spotify Web API.
// Uses [oauth2] for authentication, with the client credentials flow as fallback.
type SpotifyService struct {
	config        *oauth2.Config
	tokenSource   oauth2.TokenSource
	httpClient    *http.Client
	credentials   map[string]string
	authenticated bool
	baseURL       string
	timeout       time.Duration

	onTokenRefresh func(*oauth2.Token)
}

// refreshableTokenSource reports every new token issued by source to callback.
type refreshableTokenSource struct {
	mu       sync.Mutex
	source   oauth2.TokenSource
	callback func(*oauth2.Token)
	last     string
}

func (r *refreshableTokenSource) Token() (*oauth2.Token, error) {
	token, err := r.source.Token()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.callback != nil && token.AccessToken != r.last {
		r.last = token.AccessToken
		r.callback(token)
	}
	return token, nil
}

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials.
func NewSpotifyService(credentials map[string]string) (*SpotifyService, error) {
	clientID, ok := credentials["client_id"]
	if !ok || clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}

	clientSecret, ok := credentials["client_secret"]
	if !ok || clientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}

	redirectURI, ok := credentials["redirect_uri"]
	if !ok || redirectURI == "" {
		redirectURI = "http://127.0.0.1:8888/callback"
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			"user-read-private",
			"playlist-read-private",
			"playlist-read-collaborative",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	return &SpotifyService{
		config:      config,
		httpClient:  http.DefaultClient,
		credentials: credentials,
		baseURL:     spotifyBaseURL,
		timeout:     30 * time.Second,
	}, nil
}

// SetTimeout bounds every request made after authentication.
func (s *SpotifyService) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Authenticate prepares the authenticated HTTP client.
//
// Credentials are tried in order: a stored user token ("access_token" and/or "refresh_token", with an optional
// RFC3339 "token_expiry"), then an "auth_code" to exchange, then the client credentials flow.
func (s *SpotifyService) Authenticate(ctx context.Context, credentials map[string]string) error {
	accessToken := credentials["access_token"]
	refreshToken := credentials["refresh_token"]

	switch {
	case accessToken != "" || refreshToken != "":
		token := &oauth2.Token{AccessToken: accessToken, RefreshToken: refreshToken, TokenType: "Bearer"}
		if expiry, err := time.Parse(time.RFC3339, credentials["token_expiry"]); err == nil {
			token.Expiry = expiry
		}
		s.useTokenSource(ctx, s.config.TokenSource(ctx, token), true)
	case credentials["auth_code"] != "":
		token, err := s.config.Exchange(ctx, credentials["auth_code"])
		if err != nil {
			return fmt.Errorf("%w: failed to exchange auth code: %v", shared.ErrAuthFailed, err)
		}
		s.useTokenSource(ctx, s.config.TokenSource(ctx, token), true)
	default:
		cc := &clientcredentials.Config{
			ClientID:     s.config.ClientID,
			ClientSecret: s.config.ClientSecret,
			TokenURL:     s.config.Endpoint.TokenURL,
		}
		s.useTokenSource(ctx, cc.TokenSource(ctx), false)
	}
	return nil
}

// useTokenSource installs ts. Only user tokens are reported to the refresh callback.
func (s *SpotifyService) useTokenSource(ctx context.Context, ts oauth2.TokenSource, user bool) {
	ts = oauth2.ReuseTokenSource(nil, ts)
	if user {
		ts = &refreshableTokenSource{source: ts, callback: s.onTokenRefresh}
	}
	s.tokenSource = ts
	s.httpClient = oauth2.NewClient(ctx, s.tokenSource)
	s.httpClient.Timeout = s.timeout
	s.authenticated = true
}

// SetTokenRefreshCallback registers fn to receive user tokens as they are issued or refreshed.
// It must be called before Authenticate.
func (s *SpotifyService) SetTokenRefreshCallback(fn func(*oauth2.Token)) {
	s.onTokenRefresh = fn
}

// Token returns the current token, refreshing it if it has expired.
func (s *SpotifyService) Token() (*oauth2.Token, error) {
	if !s.authenticated {
		return nil, shared.ErrNotAuthenticated
	}
	return s.tokenSource.Token()
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// GetOAuthConfig returns the OAuth2 configuration used by the callback server.
func (s *SpotifyService) GetOAuthConfig() *oauth2.Config {
	return s.config
}

// doRequest performs an authenticated GET against the Spotify API.
// Endpoints that are absolute URLs (pagination cursors) are used as-is.
func (s *SpotifyService) doRequest(ctx context.Context, endpoint string, result any) error {
	if !s.authenticated {
		return fmt.Errorf("%w: call Authenticate first", shared.ErrNotAuthenticated)
	}

	apiURL := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		apiURL = s.baseURL + endpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return shared.ErrTokenExpired
	case resp.StatusCode == http.StatusNotFound:
		return shared.ErrPlaylistNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status 429, retry after %ss", shared.ErrAPIRequest, resp.Header.Get("Retry-After"))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", shared.ErrAPIRequest, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// PlaylistItems fetches the first page of entries of a playlist.
// playlistID may be a bare ID, a spotify: URI or an open.spotify.com URL.
func (s *SpotifyService) PlaylistItems(ctx context.Context, playlistID string) (*PlaylistPage, error) {
	id, err := ParsePlaylistID(playlistID)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("/playlists/%s/tracks?limit=%d&additional_types=track", url.PathEscape(id), playlistPageSize)

	var page PlaylistPage
	if err := s.doRequest(ctx, endpoint, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// NextPage follows the cursor of page, returning nil when there is none.
func (s *SpotifyService) NextPage(ctx context.Context, page *PlaylistPage) (*PlaylistPage, error) {
	if page == nil || page.Next == nil || *page.Next == "" {
		return nil, nil
	}

	var next PlaylistPage
	if err := s.doRequest(ctx, *page.Next, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// UserPlaylists retrieves the current user's playlists with pagination.
func (s *SpotifyService) UserPlaylists(ctx context.Context, limit, offset int) (*SpotifyPaginatedPlaylists, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}

	endpoint := fmt.Sprintf("/me/playlists?limit=%d&offset=%d", limit, offset)

	var response SpotifyPaginatedPlaylists
	if err := s.doRequest(ctx, endpoint, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Playlist retrieves a playlist's metadata by ID.
func (s *SpotifyService) Playlist(ctx context.Context, playlistID string) (*SpotifyPlaylist, error) {
	id, err := ParsePlaylistID(playlistID)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("/playlists/%s?fields=id,name,description,owner,public,tracks.total,images,uri", url.PathEscape(id))

	var playlist SpotifyPlaylist
	if err := s.doRequest(ctx, endpoint, &playlist); err != nil {
		return nil, err
	}
	return &playlist, nil
}

// GetPlaylists retrieves all playlists for the authenticated user.
func (s *SpotifyService) GetPlaylists(ctx context.Context) ([]Playlist, error) {
	var allPlaylists []Playlist
	limit := 50
	offset := 0

	for {
		response, err := s.UserPlaylists(ctx, limit, offset)
		if err != nil {
			return nil, err
		}

		for _, sp := range response.Items {
			allPlaylists = append(allPlaylists, toPlaylist(sp))
		}

		if response.Next == nil || len(response.Items) == 0 {
			break
		}
		offset += limit
	}

	return allPlaylists, nil
}

// GetPlaylist retrieves a specific playlist by ID.
func (s *SpotifyService) GetPlaylist(ctx context.Context, playlistID string) (*Playlist, error) {
	sp, err := s.Playlist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	p := toPlaylist(*sp)
	return &p, nil
}

func toPlaylist(sp SpotifyPlaylist) Playlist {
	return Playlist{
		ID:          sp.ID,
		Name:        sp.Name,
		Description: sp.Description,
		TrackCount:  sp.Tracks.Total,
		Public:      sp.Public,
	}
}

// ParsePlaylistID extracts the playlist ID from a bare ID, a spotify:playlist: URI or a share URL.
func ParsePlaylistID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: playlist", shared.ErrMissingArgument)
	}
	if m := playlistIDPattern.FindStringSubmatch(s); m != nil {
		return m[1], nil
	}
	if bareIDPattern.MatchString(s) {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q is not a playlist ID or URL", shared.ErrInvalidArgument, s)
}
