package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/desertthunder/plsync/internal/shared"
)

type lrclibRecord struct {
	ID           int     `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

// LRCLibClient looks up plain lyrics from the public LRCLIB database.
type LRCLibClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewLRCLibClient creates an LRCLIB client. No credentials are needed.
func NewLRCLibClient(httpClient *http.Client) *LRCLibClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &LRCLibClient{baseURL: lrclibBaseURL, httpClient: httpClient}
}

// SearchSong returns the plain lyrics of the first matching record.
func (l *LRCLibClient) SearchSong(ctx context.Context, title, artist string) (string, error) {
	query := url.Values{}
	query.Set("track_name", title)
	query.Set("artist_name", artist)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/api/search?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: LRCLIB status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	var records []lrclibRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	for _, r := range records {
		if !r.Instrumental && strings.TrimSpace(r.PlainLyrics) != "" {
			return strings.TrimSpace(r.PlainLyrics), nil
		}
	}
	return "", nil
}
